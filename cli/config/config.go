package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config represents a de1gate.yaml (or .toml) configuration file.
// All values are optional; Default fills in the rest. CLI flags always
// override config values.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway" toml:"gateway"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Controller ControllerConfig `yaml:"controller" toml:"controller"`
	Publisher  PublisherConfig  `yaml:"publisher" toml:"publisher"`
	Supervisor SupervisorConfig `yaml:"supervisor" toml:"supervisor"`
}

// GatewayConfig configures the inbound HTTP gateway.
type GatewayConfig struct {
	Host              string   `yaml:"host" toml:"host"`
	Port              int      `yaml:"port" toml:"port"`
	Root              string   `yaml:"root" toml:"root"`
	RPCTimeout        Duration `yaml:"rpc_timeout" toml:"rpc_timeout"`
	MaxBodySize       int64    `yaml:"max_body_size" toml:"max_body_size"`
	RequestsPerMinute float64  `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int      `yaml:"burst" toml:"burst"`
	Heartbeat         Duration `yaml:"heartbeat" toml:"heartbeat"`
}

// Addr returns the listen address.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// LoggingConfig configures worker logging and the combined log file.
type LoggingConfig struct {
	Level          string `yaml:"level" toml:"level"`
	File           string `yaml:"file" toml:"file"`
	QueueSize      int    `yaml:"queue_size" toml:"queue_size"`
	RotateSchedule string `yaml:"rotate_schedule" toml:"rotate_schedule"`
	WatchFile      bool   `yaml:"watch_file" toml:"watch_file"`
}

// ControllerConfig configures the simulated appliance controller.
type ControllerConfig struct {
	Firmware       int      `yaml:"firmware" toml:"firmware"`
	StartMode      string   `yaml:"start_mode" toml:"start_mode"`
	DE1Connected   *bool    `yaml:"de1_connected,omitempty" toml:"de1_connected,omitempty"`
	ScaleConnected *bool    `yaml:"scale_connected,omitempty" toml:"scale_connected,omitempty"`
	SampleInterval Duration `yaml:"sample_interval" toml:"sample_interval"`
	StateInterval  Duration `yaml:"state_interval" toml:"state_interval"`
}

// PublisherConfig configures the outbound publisher and its sinks.
// A nil sink section disables that sink.
type PublisherConfig struct {
	QueueSize      int            `yaml:"queue_size" toml:"queue_size"`
	PublishTimeout Duration       `yaml:"publish_timeout" toml:"publish_timeout"`
	FlushInterval  Duration       `yaml:"flush_interval" toml:"flush_interval"`
	Breaker        BreakerConfig  `yaml:"breaker" toml:"breaker"`
	Redis          *RedisConfig   `yaml:"redis,omitempty" toml:"redis,omitempty"`
	Webhook        *WebhookConfig `yaml:"webhook,omitempty" toml:"webhook,omitempty"`
	Archive        *ArchiveConfig `yaml:"archive,omitempty" toml:"archive,omitempty"`
}

// BreakerConfig configures the circuit breaker around each sink.
type BreakerConfig struct {
	MaxFailures uint32   `yaml:"max_failures" toml:"max_failures"`
	OpenTimeout Duration `yaml:"open_timeout" toml:"open_timeout"`
	Interval    Duration `yaml:"interval" toml:"interval"`
}

// RedisConfig configures the Redis pub/sub sink.
type RedisConfig struct {
	URL     string   `yaml:"url" toml:"url"`
	Channel string   `yaml:"channel,omitempty" toml:"channel,omitempty"`
	PerKind bool     `yaml:"per_kind,omitempty" toml:"per_kind,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty" toml:"retries,omitempty"`
}

// WebhookConfig configures the HTTP POST sink.
type WebhookConfig struct {
	URL     string            `yaml:"url" toml:"url"`
	Headers map[string]string `yaml:"headers,omitempty" toml:"headers,omitempty"`
	Kinds   []string          `yaml:"kinds,omitempty" toml:"kinds,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty" toml:"retries,omitempty"`
}

// ArchiveConfig configures the Lode telemetry archive.
type ArchiveConfig struct {
	Dataset     string `yaml:"dataset" toml:"dataset"`
	Backend     string `yaml:"backend" toml:"backend"`
	Path        string `yaml:"path" toml:"path"`
	Region      string `yaml:"region" toml:"region"`
	Endpoint    string `yaml:"endpoint" toml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style" toml:"s3_path_style"`
	BatchSize   int    `yaml:"batch_size" toml:"batch_size"`
}

// SupervisorConfig configures worker teardown.
type SupervisorConfig struct {
	PollInterval    Duration `yaml:"poll_interval" toml:"poll_interval"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:        1234,
			Root:        "/",
			RPCTimeout:  Duration{10 * time.Second},
			MaxBodySize: 4096,
			Heartbeat:   Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "/tmp/log/de1gate/combined.log",
		},
		Controller: ControllerConfig{
			SampleInterval: Duration{100 * time.Millisecond},
			StateInterval:  Duration{10 * time.Second},
		},
		Supervisor: SupervisorConfig{
			PollInterval:    Duration{100 * time.Millisecond},
			ShutdownTimeout: Duration{5 * time.Second},
		},
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	if c.Gateway.MaxBodySize < 0 {
		return fmt.Errorf("gateway.max_body_size must be >= 0, got %d", c.Gateway.MaxBodySize)
	}
	if c.Logging.File == "" {
		return fmt.Errorf("logging.file is required")
	}
	if a := c.Publisher.Archive; a != nil {
		switch a.Backend {
		case "", "fs", "s3":
		default:
			return fmt.Errorf("publisher.archive.backend must be fs or s3, got %q", a.Backend)
		}
	}
	return nil
}

// Duration wraps time.Duration for string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText parses a duration string; TOML decoding uses it.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration for `config show` output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
