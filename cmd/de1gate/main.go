// Package main provides the de1gate CLI entrypoint.
//
// Usage:
//
//	de1gate <command> [options] [args]
//
// Exit codes for `serve`:
//   - 0: clean shutdown
//   - 1: usage or config error
//   - 2: a worker could not be spawned
//   - 3: shutdown forced (a worker was killed at the deadline)
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/cmd"
	"github.com/pithecene-io/de1gate/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "de1gate",
		Usage:          "HTTP control plane for a DE1 espresso machine",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.GetCommand(),
			cmd.PatchCommand(),
			cmd.PutCommand(),
			cmd.InspectCommand(),
			cmd.ResourcesCommand(),
			cmd.HistoryCommand(),
			cmd.ConfigCommand(),
			cmd.VersionCommand(commit),
			cmd.WorkerCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	code, msg := exitStatus(err)
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}

// exitStatus returns the exit code for err and the message worth printing.
func exitStatus(err error) (int, string) {
	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg == fmt.Sprintf("exit status %d", code) {
			msg = ""
		}
		return code, msg
	}

	return 1, fmt.Sprintf("Error: %v", err)
}
