// Package cmd provides CLI commands for the de1gate binary.
package cmd

import "github.com/urfave/cli/v2"

// DefaultServerURL is the gateway address used by client commands.
const DefaultServerURL = "http://localhost:1234"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect only)",
	}

	// ServerFlag points client commands at a running gateway.
	ServerFlag = &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Gateway base URL",
		EnvVars: []string{"DE1GATE_SERVER"},
		Value:   DefaultServerURL,
	}

	// ConfigFlag names the de1gate.yaml or de1gate.toml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (YAML or TOML)",
		EnvVars: []string{"DE1GATE_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ClientFlags returns the flags for commands that talk to a gateway.
func ClientFlags() []cli.Flag {
	return append(ReadOnlyFlags(), ServerFlag)
}
