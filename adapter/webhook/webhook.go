// Package webhook implements an HTTP POST telemetry sink.
//
// Publishes telemetry records as JSON to a configurable URL.
// Retries with exponential backoff on transient failures.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Kinds restricts publishing to these record kinds. Empty means all.
	Kinds []string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// BackoffMin and BackoffMax bound retry delays.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Adapter publishes telemetry via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
	kinds  map[string]bool
	retry  adapter.RetryPolicy
}

// New creates a webhook adapter from the given config.
// Returns an error if the URL is empty.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	var kinds map[string]bool
	if len(cfg.Kinds) > 0 {
		kinds = make(map[string]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			kinds[k] = true
		}
	}

	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		kinds:  kinds,
		retry: adapter.RetryPolicy{
			Retries: cfg.Retries,
			Min:     cfg.BackoffMin,
			Max:     cfg.BackoffMax,
			// 4xx errors are non-retriable
			Permanent: func(err error) bool {
				var statusErr *StatusError
				return errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500
			},
		},
	}, nil
}

// Name returns "webhook".
func (a *Adapter) Name() string { return "webhook" }

// Publish sends the record as a JSON POST request. Records whose kind is
// filtered out succeed without a request.
// Retries on 5xx responses and network errors; 4xx fails immediately.
func (a *Adapter) Publish(ctx context.Context, rec *types.TelemetryRecord) error {
	if a.kinds != nil && !a.kinds[string(rec.Kind)] {
		return nil
	}

	body, err := json.Marshal(adapter.NewTelemetryEvent(rec))
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	return a.retry.Do(ctx, "webhook", func(ctx context.Context) error {
		return a.doRequest(ctx, body)
	})
}

// StatusError is returned for non-2xx HTTP responses.
// Wrapping the status code allows callers to distinguish retriable (5xx)
// from non-retriable (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (a *Adapter) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

// Verify Adapter implements the adapter interface.
var _ adapter.Adapter = (*Adapter)(nil)
