package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/config"
	"github.com/pithecene-io/de1gate/log"
)

// Override flags shared by serve and worker. serve re-exports the values
// it resolved through these environment variables, so every worker sees
// the same settings as the supervisor.
var overrides = []struct {
	flag string
	env  string
}{
	{"config", "DE1GATE_CONFIG"},
	{"port", "DE1GATE_PORT"},
	{"log-level", "DE1GATE_LOG_LEVEL"},
	{"log-file", "DE1GATE_LOG_FILE"},
}

// configFlags returns the flags that select and override the config.
func configFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Gateway listen port (overrides gateway.port)",
			EnvVars: []string{"DE1GATE_PORT"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level: debug, info, warn, error (overrides logging.level)",
			EnvVars: []string{"DE1GATE_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Combined log file (overrides logging.file)",
			EnvVars: []string{"DE1GATE_LOG_FILE"},
		},
	}
}

// loadConfig reads the config named by --config (defaults when empty)
// and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("port") {
		cfg.Gateway.Port = c.Int("port")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-file") {
		cfg.Logging.File = c.String("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := log.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workerEnv returns the environment handed to workers: the supervisor's
// own plus every override that was set, with the config path made
// absolute.
func workerEnv(c *cli.Context) ([]string, error) {
	env := os.Environ()
	for _, o := range overrides {
		if !c.IsSet(o.flag) {
			continue
		}
		value := fmt.Sprint(c.Value(o.flag))
		if o.flag == "config" {
			abs, err := filepath.Abs(value)
			if err != nil {
				return nil, fmt.Errorf("resolve config path: %w", err)
			}
			value = abs
		}
		env = append(env, o.env+"="+value)
	}
	return env, nil
}
