// Package redis implements a Redis pub/sub telemetry sink.
//
// Publishes telemetry records as JSON to a configurable Redis channel.
// Records of each kind can optionally go to their own channel
// ("<channel>:<kind>"). Retries with exponential backoff on errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/types"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "de1gate:telemetry"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the Redis pub/sub adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: de1gate:telemetry).
	Channel string
	// PerKind publishes each record kind to "<Channel>:<kind>".
	PerKind bool
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// BackoffMin and BackoffMax bound retry delays.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Adapter publishes telemetry via Redis PUBLISH.
type Adapter struct {
	config Config
	client *goredis.Client
	retry  adapter.RetryPolicy
}

// New creates a Redis pub/sub adapter from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
		retry: adapter.RetryPolicy{
			Retries: cfg.Retries,
			Min:     cfg.BackoffMin,
			Max:     cfg.BackoffMax,
		},
	}, nil
}

// Name returns "redis".
func (a *Adapter) Name() string { return "redis" }

// Channel returns the channel rec is published on.
func (a *Adapter) Channel(rec *types.TelemetryRecord) string {
	if a.config.PerKind {
		return a.config.Channel + ":" + string(rec.Kind)
	}
	return a.config.Channel
}

// Publish sends the record as a JSON PUBLISH.
func (a *Adapter) Publish(ctx context.Context, rec *types.TelemetryRecord) error {
	body, err := json.Marshal(adapter.NewTelemetryEvent(rec))
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	channel := a.Channel(rec)

	return a.retry.Do(ctx, "redis", func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.client.Publish(publishCtx, channel, body).Err()
	})
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
