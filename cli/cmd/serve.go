package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/logagg"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/supervisor"
)

// Exit codes for serve.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitSpawnFailure   = 2
	exitShutdownForced = 3
)

// supervisorRole labels the supervisor's own log lines and metrics.
const supervisorRole = "supervisor"

// ServeCommand returns the serve command.
// Serve is the only command that starts processes.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the supervisor with the controller, inbound, and outbound workers",
		Flags:  configFlags(),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}
	level, _ := log.ParseLevel(cfg.Logging.Level)
	pid := os.Getpid()

	agg, err := logagg.New(logagg.Config{
		Path:      cfg.Logging.File,
		QueueSize: cfg.Logging.QueueSize,
		Logger:    log.NewLogger(log.Identity{Role: "logagg", PID: pid}, level),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log config: %v", err), exitConfigError)
	}

	// The supervisor's own lines go to the terminal and the combined log.
	logger := log.NewLoggerWithWriter(log.Identity{Role: supervisorRole, PID: pid}, level, io.MultiWriter(os.Stderr, agg))
	defer iox.DiscardErr(logger.Sync)

	env, err := workerEnv(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	sup := supervisor.New(supervisor.Config{
		PollInterval:    cfg.Supervisor.PollInterval.Duration,
		ShutdownTimeout: cfg.Supervisor.ShutdownTimeout.Duration,
		RotateSchedule:  cfg.Logging.RotateSchedule,
		WatchLogFile:    cfg.Logging.WatchFile,
	}, &supervisor.ExecSpawner{Env: env}, agg, logger, metrics.NewCollector(supervisorRole))
	defer iox.DiscardErr(sup.Close)

	ctx := c.Context
	if err := sup.Start(ctx); err != nil {
		if supervisor.IsSpawnError(err) {
			return cli.Exit(fmt.Sprintf("failed to start workers: %v", err), exitSpawnFailure)
		}
		return cli.Exit(fmt.Sprintf("failed to start: %v", err), exitConfigError)
	}

	logger.Info("de1gate serving", map[string]any{
		"addr":     cfg.Gateway.Addr(),
		"log_file": agg.Path(),
		"workers":  len(sup.Processes()),
	})

	result := sup.Run(ctx)
	if result.Forced() {
		return cli.Exit(fmt.Sprintf("shutdown forced after %s: killed %v", result.Duration.Round(time.Millisecond), result.Killed), exitShutdownForced)
	}
	return nil
}
