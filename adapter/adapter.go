// Package adapter defines the telemetry sink boundary used by the
// outbound publisher.
//
// Each sink receives every telemetry record the controller emits. The
// publisher owns sink lifecycle and wraps each one in a circuit breaker;
// sinks themselves only retry transient failures.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/pithecene-io/de1gate/types"
)

// TelemetryEvent is the JSON body sinks publish for one record.
type TelemetryEvent struct {
	ContractVersion string         `json:"contract_version"`
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	Resource        string         `json:"resource,omitempty"`
	Timestamp       string         `json:"timestamp"` // RFC 3339
	Payload         map[string]any `json:"payload"`
}

// NewTelemetryEvent converts a record to its published shape.
func NewTelemetryEvent(rec *types.TelemetryRecord) *TelemetryEvent {
	return &TelemetryEvent{
		ContractVersion: types.ContractVersion,
		ID:              rec.ID,
		Kind:            string(rec.Kind),
		Resource:        rec.Resource,
		Timestamp:       rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:         rec.Payload,
	}
}

// Adapter publishes telemetry records to a downstream system.
type Adapter interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Publish sends one record downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, rec *types.TelemetryRecord) error

	// Close releases adapter resources.
	Close() error
}

// Default retry backoff bounds.
const (
	DefaultBackoffMin = 500 * time.Millisecond
	DefaultBackoffMax = 5 * time.Second
)

// RetryPolicy controls how a sink retries a failed publish.
type RetryPolicy struct {
	// Retries is the number of attempts after the first.
	Retries int
	// Min and Max bound the exponential backoff between attempts.
	Min time.Duration
	Max time.Duration
	// Permanent reports errors that must not be retried. Optional.
	Permanent func(error) bool
}

// Do runs fn until it succeeds, returns a permanent error, exhausts the
// policy, or ctx ends. name prefixes returned errors.
func (p RetryPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	minDelay, maxDelay := p.Min, p.Max
	if minDelay <= 0 {
		minDelay = DefaultBackoffMin
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	b := &backoff.Backoff{Min: minDelay, Max: maxDelay, Factor: 2}

	attempts := 1 + p.Retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(b.Duration()):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
