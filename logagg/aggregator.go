// Package logagg drains log lines from many producers into a single
// rotatable file.
//
// One goroutine owns the file. Producers enqueue lines on a bounded
// channel and never block: when the queue is full the line is dropped and
// counted. Rotation is a command on the same channel, so it is ordered
// with respect to the lines around it.
package logagg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/de1gate/log"
)

// RotationNotice is written as the last line of a file before rotation.
const RotationNotice = "Rotating log file"

// DefaultQueueSize is the queue capacity used when Config.QueueSize is zero.
const DefaultQueueSize = 1024

// Config configures an Aggregator.
type Config struct {
	// Path is the combined log file.
	Path string
	// QueueSize bounds the number of pending commands.
	QueueSize int
	// Logger receives the aggregator's own diagnostics. Optional.
	Logger *log.Logger
}

type commandKind int

const (
	commandLine commandKind = iota
	commandRotate
)

type command struct {
	kind commandKind
	line string
}

// Stats is a point-in-time view of aggregator counters.
type Stats struct {
	Written   int64
	Dropped   int64
	Rotations int64
	OpenFails int64
}

// Aggregator is a single-consumer log drain.
type Aggregator struct {
	path   string
	queue  chan command
	logger *log.Logger

	// file and w are owned by the Run goroutine.
	file *os.File
	w    *bufio.Writer

	written   atomic.Int64
	dropped   atomic.Int64
	rotations atomic.Int64
	openFails atomic.Int64

	done     chan struct{}
	running  atomic.Bool
	doneOnce sync.Once
}

// New creates an aggregator. Call Run to start draining.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Path == "" {
		return nil, errors.New("log path is required")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Aggregator{
		path:   cfg.Path,
		queue:  make(chan command, size),
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Path returns the configured log file path.
func (a *Aggregator) Path() string {
	return a.path
}

// Submit enqueues one line. It never blocks; it reports false if the line
// was dropped because the queue is full or the aggregator has stopped.
func (a *Aggregator) Submit(line string) bool {
	select {
	case <-a.done:
		a.dropped.Add(1)
		return false
	default:
	}
	select {
	case a.queue <- command{kind: commandLine, line: line}:
		return true
	default:
		a.dropped.Add(1)
		return false
	}
}

// Write implements io.Writer. Each newline-terminated line in p is
// submitted separately, which lets a zap core write straight into the
// aggregator.
func (a *Aggregator) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		a.Submit(line)
	}
	return len(p), nil
}

// Rotate enqueues a rotation command. Unlike Submit it waits for queue
// space, since a lost rotation is not observable by the requester. It
// returns false if the aggregator stopped or ctx ended first.
func (a *Aggregator) Rotate(ctx context.Context) bool {
	select {
	case <-a.done:
		return false
	default:
	}
	select {
	case a.queue <- command{kind: commandRotate}:
		return true
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done is closed after Run returns.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Stats returns the current counters.
func (a *Aggregator) Stats() Stats {
	return Stats{
		Written:   a.written.Load(),
		Dropped:   a.dropped.Load(),
		Rotations: a.rotations.Load(),
		OpenFails: a.openFails.Load(),
	}
}

// Run drains the queue until ctx is canceled. On cancellation it consumes
// whatever is already queued, then closes the file.
func (a *Aggregator) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("aggregator already running")
	}
	defer a.doneOnce.Do(func() { close(a.done) })

	for {
		select {
		case cmd := <-a.queue:
			a.handle(cmd)
		case <-ctx.Done():
			a.drain()
			err := a.closeFile()
			stats := a.Stats()
			a.logger.Info("log aggregator stopped", map[string]any{
				"written":   stats.Written,
				"dropped":   stats.Dropped,
				"rotations": stats.Rotations,
			})
			return err
		}
	}
}

func (a *Aggregator) drain() {
	for {
		select {
		case cmd := <-a.queue:
			a.handle(cmd)
		default:
			return
		}
	}
}

func (a *Aggregator) handle(cmd command) {
	switch cmd.kind {
	case commandLine:
		a.writeLine(cmd.line)
	case commandRotate:
		a.rotate()
	}
}

func (a *Aggregator) writeLine(line string) {
	if a.w == nil {
		if err := a.openFile(); err != nil {
			a.openFails.Add(1)
			a.dropped.Add(1)
			a.logger.Error("failed to open log file", map[string]any{
				"path":  a.path,
				"error": err.Error(),
			})
			return
		}
	}
	if _, err := a.w.WriteString(line + "\n"); err != nil {
		a.dropped.Add(1)
		return
	}
	if err := a.w.Flush(); err != nil {
		a.dropped.Add(1)
		return
	}
	a.written.Add(1)
}

// rotate closes the current file. The next line reopens the path, so an
// idle aggregator creates no new file until something is logged.
func (a *Aggregator) rotate() {
	a.rotations.Add(1)
	if a.w == nil {
		return
	}
	a.writeLine(RotationNotice)
	if err := a.closeFile(); err != nil {
		a.logger.Warn("failed to close log file on rotation", map[string]any{
			"error": err.Error(),
		})
	}
}

func (a *Aggregator) openFile() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.file = f
	a.w = bufio.NewWriter(f)
	return nil
}

func (a *Aggregator) closeFile() error {
	if a.file == nil {
		return nil
	}
	flushErr := a.w.Flush()
	closeErr := a.file.Close()
	a.file = nil
	a.w = nil
	return errors.Join(flushErr, closeErr)
}
