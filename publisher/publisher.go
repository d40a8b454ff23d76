// Package publisher implements the outbound worker: it reads telemetry
// frames written by the controller and fans each record out to every
// configured sink.
//
// Every sink has its own bounded queue and goroutine, so a slow or
// failing sink never delays the others or the pipe reader. A record that
// does not fit a sink's queue, or reaches a sink whose circuit is open,
// is dropped and counted.
package publisher

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/ipc"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/types"
)

// Defaults for Config zero values.
const (
	DefaultQueueSize      = 256
	DefaultPublishTimeout = 10 * time.Second
	DefaultFlushInterval  = 5 * time.Second
)

// Flusher is implemented by sinks that buffer records.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Config configures a Publisher.
type Config struct {
	// QueueSize bounds each sink's pending records.
	QueueSize int
	// PublishTimeout bounds one publish call, retries included.
	PublishTimeout time.Duration
	// FlushInterval is how often buffering sinks are flushed.
	FlushInterval time.Duration
	// Breaker configures the circuit breaker around every sink.
	Breaker BreakerConfig
}

// Publisher fans telemetry out to sinks.
type Publisher struct {
	config  Config
	sinks   []*sinkWorker
	logger  *log.Logger
	metrics *metrics.Collector
}

type sinkWorker struct {
	sink  *guardedSink
	queue chan *types.TelemetryRecord
}

// New creates a publisher over sinks. The publisher owns the sinks and
// closes them when Run returns.
func New(cfg Config, sinks []adapter.Adapter, logger *log.Logger, collector *metrics.Collector) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Publisher{config: cfg, logger: logger, metrics: collector}
	for _, s := range sinks {
		p.sinks = append(p.sinks, &sinkWorker{
			sink:  newGuardedSink(s, cfg.Breaker, logger),
			queue: make(chan *types.TelemetryRecord, cfg.QueueSize),
		})
	}
	return p
}

// Run reads telemetry frames from r until EOF, a fatal frame error, or
// ctx cancellation. Queued records are still delivered after the reader
// stops; then every sink is flushed and closed. A clean EOF or
// cancellation returns nil.
func (p *Publisher) Run(ctx context.Context, r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	var wg sync.WaitGroup
	for _, w := range p.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.drain(w)
		}()
	}

	flushDone := make(chan struct{})
	flushCtx, stopFlush := context.WithCancel(context.Background())
	go func() {
		defer close(flushDone)
		p.flushLoop(flushCtx)
	}()

	readErr := p.read(ctx, r)

	for _, w := range p.sinks {
		close(w.queue)
	}
	wg.Wait()
	stopFlush()
	<-flushDone

	closers := make([]io.Closer, 0, len(p.sinks))
	for _, w := range p.sinks {
		closers = append(closers, w.sink)
	}
	closeErr := iox.CloseAll(closers...)

	p.logger.Info("publisher stopped", p.metrics.Snapshot().Fields())
	return errors.Join(readErr, closeErr)
}

func (p *Publisher) read(ctx context.Context, r io.Reader) error {
	dec := ipc.NewFrameDecoder(r)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		rec, err := ipc.DecodeTelemetry(payload)
		if err != nil {
			p.metrics.IncTelemetryDecodeErr()
			p.logger.Warn("dropping undecodable telemetry frame", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		p.metrics.IncTelemetryReceived()
		p.dispatch(rec)
	}
}

// dispatch enqueues rec on every sink without blocking.
func (p *Publisher) dispatch(rec *types.TelemetryRecord) {
	for _, w := range p.sinks {
		select {
		case w.queue <- rec:
		default:
			p.metrics.IncSinkDroppedFull(w.sink.Name())
			p.logger.Debug("sink queue full, dropping record", map[string]any{
				"sink": w.sink.Name(),
				"id":   rec.ID,
			})
		}
	}
}

func (p *Publisher) drain(w *sinkWorker) {
	name := w.sink.Name()
	for rec := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
		err := w.sink.Publish(ctx, rec)
		cancel()

		switch {
		case err == nil:
			p.metrics.IncSinkPublished(name)
		case errors.Is(err, ErrSinkOpen):
			p.metrics.IncSinkDroppedOpen(name)
		default:
			p.metrics.IncSinkFailed(name)
			p.logger.Warn("sink publish failed", map[string]any{
				"sink":  name,
				"id":    rec.ID,
				"error": err.Error(),
			})
		}
	}
}

func (p *Publisher) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range p.sinks {
				f, ok := w.sink.inner.(Flusher)
				if !ok {
					continue
				}
				fctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
				if err := f.Flush(fctx); err != nil {
					p.logger.Warn("sink flush failed", map[string]any{
						"sink":  w.sink.Name(),
						"error": err.Error(),
					})
				}
				cancel()
			}
		}
	}
}
