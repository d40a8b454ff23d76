package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/config"
	"github.com/pithecene-io/de1gate/cli/reader"
	"github.com/pithecene-io/de1gate/cli/render"
	"github.com/pithecene-io/de1gate/lode"
)

// DefaultHistoryLimit bounds history output when --limit is not given.
const DefaultHistoryLimit = 50

// HistoryCommand returns the history command. It reads the telemetry
// archive directly, so it works whether or not serve is running.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show archived telemetry",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Only records of this kind (state, connectivity, shot_sample, log)",
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only records from this UTC day (YYYY-MM-DD)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records",
				Value: DefaultHistoryLimit,
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
	}

	ac := config.ArchiveConfig{}
	if cfg.Publisher.Archive != nil {
		ac = *cfg.Publisher.Archive
	}
	src, dataset, err := openHistory(c.Context, ac)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open archive: %v", err), exitConfigError)
	}

	view, err := reader.History(c.Context, src, dataset, lode.Query{
		Kind:  c.String("kind"),
		Day:   c.String("day"),
		Limit: c.Int("limit"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	if c.Bool("tui") {
		return r.RenderTUI("history_telemetry", view)
	}
	return r.Render(view)
}

// openHistory opens a reader on the archive the outbound worker writes.
func openHistory(ctx context.Context, ac config.ArchiveConfig) (*lode.Reader, string, error) {
	dataset := ac.Dataset
	if dataset == "" {
		dataset = lode.DefaultDataset
	}

	switch ac.Backend {
	case "", "fs":
		path := ac.Path
		if path == "" {
			path = DefaultArchivePath
		}
		rd, err := lode.NewFSReader(dataset, path)
		return rd, dataset, err
	case "s3":
		s3cfg := s3Config(ac)
		if err := s3cfg.Validate(); err != nil {
			return nil, "", err
		}
		factory, err := lode.NewS3Factory(ctx, s3cfg)
		if err != nil {
			return nil, "", err
		}
		rd, err := lode.NewReader(dataset, factory)
		return rd, dataset, err
	}
	return nil, "", fmt.Errorf("unknown archive backend %q", ac.Backend)
}
