package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/types"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
	defaultInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around each sink.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before half-open.
	OpenTimeout time.Duration
	// Interval is the cyclic period of the closed state for clearing
	// failure counts.
	Interval time.Duration
}

// ErrSinkOpen is returned by a guarded sink whose circuit is open.
var ErrSinkOpen = errors.New("sink circuit open")

// guardedSink routes publishes through a circuit breaker so a sink that
// keeps failing is skipped until its open timeout elapses.
type guardedSink struct {
	inner   adapter.Adapter
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newGuardedSink(inner adapter.Adapter, cfg BreakerConfig, logger *log.Logger) *guardedSink {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "sink:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &guardedSink{inner: inner, breaker: cb}
}

func (g *guardedSink) Name() string { return g.inner.Name() }

// Publish returns an error wrapping ErrSinkOpen when the breaker rejects
// the call without reaching the sink.
func (g *guardedSink) Publish(ctx context.Context, rec *types.TelemetryRecord) error {
	_, err := g.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, g.inner.Publish(ctx, rec)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrSinkOpen, g.inner.Name(), err)
	}
	return err
}

func (g *guardedSink) Close() error { return g.inner.Close() }

// State returns the breaker state for monitoring.
func (g *guardedSink) State() gobreaker.State {
	return g.breaker.State()
}
