package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/reader"
	"github.com/pithecene-io/de1gate/cli/render"
	"github.com/pithecene-io/de1gate/resource"
)

// ResourcesCommand returns the resources command. It lists the built-in
// registry and never contacts a gateway.
func ResourcesCommand() *cli.Command {
	return &cli.Command{
		Name:   "resources",
		Usage:  "List resources with their verbs and preconditions",
		Flags:  ReadOnlyFlags(),
		Action: resourcesAction,
	}
}

func resourcesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	rows := reader.Resources(resource.NewRegistry())
	if c.Bool("tui") {
		return r.RenderTUI("inspect_registry", rows)
	}
	return r.Render(rows)
}
