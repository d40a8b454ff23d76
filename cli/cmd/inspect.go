package cmd

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/reader"
	"github.com/pithecene-io/de1gate/cli/render"
	"github.com/pithecene-io/de1gate/cli/tui"
)

// InspectCommand returns the inspect command.
// Inspect returns a deep view of a single resource.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Inspect a resource on a running gateway",
		ArgsUsage: "<resource>",
		Flags:     ClientFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("resource required", exitConfigError)
	}
	name := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	client := reader.NewClient(c.String("server"), 0)
	view, err := client.Inspect(c.Context, name)
	if err != nil {
		var se *reader.StatusError
		if errors.As(err, &se) {
			return cli.Exit(se.Error(), exitConfigError)
		}
		return cli.Exit(err.Error(), exitConfigError)
	}

	if c.Bool("tui") {
		ctx := c.Context
		return tui.RunInspectTUIWithFetcher("inspect_resource", view, func() (any, error) {
			return refetch(ctx, client, name)
		})
	}
	return r.Render(view)
}

func refetch(ctx context.Context, client *reader.Client, name string) (any, error) {
	return client.Inspect(ctx, name)
}
