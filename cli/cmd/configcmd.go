package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/render"
)

// ConfigCommand returns the config command.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the effective configuration (file, defaults, and overrides)",
				Flags:  append(configFlags(), FormatFlag),
				Action: configShowAction,
			},
		},
	}
}

func configShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	format, err := render.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	if format == "" || format == render.FormatTable {
		format = render.FormatYAML
	}
	return render.NewRendererWithWriter(format, true, c.App.Writer).Render(cfg)
}
