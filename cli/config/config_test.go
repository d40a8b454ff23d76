package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `gateway:
  host: 127.0.0.1
  port: 8080
  root: /api/v1
  rpc_timeout: 3s
  requests_per_minute: 120
  burst: 5

logging:
  level: debug
  file: /var/log/de1gate/combined.log
  rotate_schedule: "0 3 * * *"
  watch_file: true

controller:
  firmware: 1293
  start_mode: idle
  scale_connected: false

publisher:
  breaker:
    max_failures: 3
    open_timeout: 1m
  redis:
    url: redis://localhost:6379/0
    per_kind: true
  webhook:
    url: https://hooks.example.com/de1
    headers:
      Authorization: Bearer token123
    kinds: [shot_sample]
    timeout: 10s
    retries: 3
  archive:
    backend: s3
    path: my-bucket/telemetry
    region: us-east-1
    s3_path_style: true

supervisor:
  shutdown_timeout: 2s
`
	path := writeTemp(t, "de1gate.yaml", yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "gateway.addr", cfg.Gateway.Addr(), "127.0.0.1:8080")
	assertEqual(t, "gateway.root", cfg.Gateway.Root, "/api/v1")
	if cfg.Gateway.RPCTimeout.Duration != 3*time.Second {
		t.Errorf("rpc_timeout = %v", cfg.Gateway.RPCTimeout)
	}
	if cfg.Gateway.RequestsPerMinute != 120 || cfg.Gateway.Burst != 5 {
		t.Errorf("throttle = %v/%d", cfg.Gateway.RequestsPerMinute, cfg.Gateway.Burst)
	}
	// Unset keys keep their defaults.
	if cfg.Gateway.MaxBodySize != 4096 {
		t.Errorf("max_body_size = %d, want default 4096", cfg.Gateway.MaxBodySize)
	}

	assertEqual(t, "logging.level", cfg.Logging.Level, "debug")
	assertEqual(t, "logging.rotate_schedule", cfg.Logging.RotateSchedule, "0 3 * * *")
	if !cfg.Logging.WatchFile {
		t.Error("watch_file should be true")
	}

	if cfg.Controller.Firmware != 1293 {
		t.Errorf("firmware = %d", cfg.Controller.Firmware)
	}
	if cfg.Controller.ScaleConnected == nil || *cfg.Controller.ScaleConnected {
		t.Error("scale_connected should be explicitly false")
	}
	if cfg.Controller.DE1Connected != nil {
		t.Error("de1_connected should be unset")
	}

	p := cfg.Publisher
	if p.Breaker.MaxFailures != 3 || p.Breaker.OpenTimeout.Duration != time.Minute {
		t.Errorf("breaker = %+v", p.Breaker)
	}
	if p.Redis == nil || !p.Redis.PerKind {
		t.Fatalf("redis = %+v", p.Redis)
	}
	if p.Webhook == nil || p.Webhook.Retries == nil || *p.Webhook.Retries != 3 {
		t.Fatalf("webhook = %+v", p.Webhook)
	}
	assertEqual(t, "webhook.auth", p.Webhook.Headers["Authorization"], "Bearer token123")
	if p.Archive == nil || p.Archive.Backend != "s3" || !p.Archive.S3PathStyle {
		t.Fatalf("archive = %+v", p.Archive)
	}

	if cfg.Supervisor.ShutdownTimeout.Duration != 2*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Supervisor.ShutdownTimeout)
	}
	if cfg.Supervisor.PollInterval.Duration != 100*time.Millisecond {
		t.Errorf("poll_interval = %v, want default", cfg.Supervisor.PollInterval)
	}
}

func TestLoad_TOML(t *testing.T) {
	doc := `[gateway]
port = 9000
rpc_timeout = "750ms"

[logging]
level = "warn"

[publisher.redis]
url = "redis://${REDIS_HOST:-localhost}:6379"
`
	path := writeTemp(t, "de1gate.toml", doc)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.Port != 9000 || cfg.Gateway.RPCTimeout.Duration != 750*time.Millisecond {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	assertEqual(t, "logging.level", cfg.Logging.Level, "warn")
	if cfg.Publisher.Redis == nil {
		t.Fatal("redis section missing")
	}
	assertEqual(t, "redis.url", cfg.Publisher.Redis.URL, "redis://localhost:6379")
}

func TestLoad_TOMLUnknownKeyRejected(t *testing.T) {
	path := writeTemp(t, "de1gate.toml", "[gateway]\nbogus_key = 1\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	for name, content := range map[string]string{
		"empty":      "",
		"whitespace": "   \n  \n",
		"comments":   "# This is a comment\n# Another comment\n",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, "de1gate.yaml", content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Gateway.Port != Default().Gateway.Port {
				t.Errorf("port = %d, want default", cfg.Gateway.Port)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/de1gate.yaml")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeTemp(t, "de1gate.yaml", "{{invalid yaml"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("DE1GATE_TEST_HOOK", "https://hooks.example.com/x")
	path := writeTemp(t, "de1gate.yaml", "publisher:\n  webhook:\n    url: ${DE1GATE_TEST_HOOK}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "webhook.url", cfg.Publisher.Webhook.URL, "https://hooks.example.com/x")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `gateway:
  port: 1234
bogus_key: should_fail
`
	_, err := Load(writeTemp(t, "de1gate.yaml", yaml))
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `publisher:
  archive:
    backend: fs
    unknown_field: bad
`
	_, err := Load(writeTemp(t, "de1gate.yaml", yaml))
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_RetriesZeroDistinctFromNil(t *testing.T) {
	cfg, err := Load(writeTemp(t, "de1gate.yaml", "publisher:\n  redis:\n    url: redis://x\n    retries: 0\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Publisher.Redis.Retries == nil || *cfg.Publisher.Redis.Retries != 0 {
		t.Errorf("retries = %v, want explicit 0", cfg.Publisher.Redis.Retries)
	}

	cfg, err = Load(writeTemp(t, "de1gate.yaml", "publisher:\n  redis:\n    url: redis://x\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Publisher.Redis.Retries != nil {
		t.Error("omitted retries should be nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"port", func(c *Config) { c.Gateway.Port = 70000 }, "gateway.port"},
		{"body size", func(c *Config) { c.Gateway.MaxBodySize = -1 }, "max_body_size"},
		{"log file", func(c *Config) { c.Logging.File = "" }, "logging.file"},
		{"archive backend", func(c *Config) { c.Publisher.Archive = &ArchiveConfig{Backend: "gcs"} }, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestDuration_InvalidFormat(t *testing.T) {
	_, err := Load(writeTemp(t, "de1gate.yaml", "gateway:\n  rpc_timeout: not-a-duration\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDuration_EmptyKeepsDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, "de1gate.yaml", "gateway:\n  rpc_timeout: \"\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.RPCTimeout.Duration != 10*time.Second {
		t.Errorf("rpc_timeout = %v, want default", cfg.Gateway.RPCTimeout)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
