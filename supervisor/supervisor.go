// Package supervisor spawns the three worker processes, wires the pipes
// between them, funnels their stderr into the log aggregator, and tears
// everything down within a bounded time.
//
// Shutdown walks Running → Draining → Terminating → Closed. Draining
// sends SIGTERM to every worker and polls until they have all exited or
// the deadline passes; Terminating kills the stragglers. Only once every
// worker is confirmed dead is the aggregator stopped, so the last lines a
// worker writes still reach the log file.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/logagg"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/types"
)

// Defaults for Config zero values.
const (
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultShutdownTimeout = 5 * time.Second

	// reapGrace bounds the wait for a killed worker to be reaped.
	reapGrace = 2 * time.Second
)

// State is the supervisor lifecycle state.
type State int

// Supervisor states.
const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateTerminating
	StateClosed
)

var stateNames = [...]string{"idle", "running", "draining", "terminating", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config configures a Supervisor.
type Config struct {
	// PollInterval is the liveness poll period while draining.
	PollInterval time.Duration
	// ShutdownTimeout bounds draining before stragglers are killed.
	ShutdownTimeout time.Duration
	// RotateSchedule is an optional cron expression or Go duration.
	RotateSchedule string
	// WatchLogFile rotates when the log file is moved externally.
	WatchLogFile bool
}

// SpawnError reports a worker that could not be started.
type SpawnError struct {
	Role types.Role
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s worker: %v", e.Role, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// ShutdownResult summarizes a completed teardown.
type ShutdownResult struct {
	Reason   string
	Duration time.Duration
	// Killed lists workers that outlived the deadline.
	Killed []types.Role
}

// Forced reports whether any worker had to be killed.
func (r ShutdownResult) Forced() bool { return len(r.Killed) > 0 }

type worker struct {
	role   types.Role
	proc   Process
	record types.ProcessRecord
	exited chan struct{}
}

// Supervisor owns the worker processes.
type Supervisor struct {
	config  Config
	spawner Spawner
	agg     *logagg.Aggregator
	logger  *log.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	state   State
	workers []*worker
	pipes   *pipes

	aggCancel context.CancelFunc
	aggErr    chan error
	scheduler *logagg.Scheduler
	scanners  sync.WaitGroup

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	result       ShutdownResult
}

// New creates a supervisor. agg receives every worker's stderr lines.
func New(cfg Config, spawner Spawner, agg *logagg.Aggregator, logger *log.Logger, collector *metrics.Collector) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Supervisor{
		config:       cfg,
		spawner:      spawner,
		agg:          agg,
		logger:       logger,
		metrics:      collector,
		shutdownDone: make(chan struct{}),
	}
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs the aggregator, then spawns the workers in types.Roles order.
// If a worker fails to spawn, the ones already running are shut down and
// a *SpawnError is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already %s", s.state)
	}
	s.state = StateRunning
	s.mu.Unlock()

	// The aggregator outlives ctx: it stops only after the workers are gone.
	aggCtx, aggCancel := context.WithCancel(context.WithoutCancel(ctx))
	s.aggCancel = aggCancel
	s.aggErr = make(chan error, 1)
	go func() { s.aggErr <- s.agg.Run(aggCtx) }()

	if s.config.RotateSchedule != "" {
		sched, err := logagg.NewScheduler(aggCtx, s.agg, s.config.RotateSchedule, s.logger)
		if err != nil {
			s.Shutdown("invalid configuration")
			return err
		}
		s.scheduler = sched
		sched.Start()
	}
	if s.config.WatchLogFile {
		if err := logagg.WatchExternalRotation(aggCtx, s.agg, s.logger); err != nil {
			s.logger.Warn("log file watcher disabled", map[string]any{"error": err.Error()})
		}
	}

	p, err := newPipes()
	if err != nil {
		s.Shutdown("pipe setup failed")
		return err
	}
	s.mu.Lock()
	s.pipes = p
	s.mu.Unlock()

	for _, role := range types.Roles() {
		if err := s.spawn(ctx, role, p.filesFor(role)); err != nil {
			s.metrics.IncWorkerSpawnFail()
			s.logger.Error("worker spawn failed", map[string]any{
				"role":  string(role),
				"error": err.Error(),
			})
			s.Shutdown("spawn failure")
			return &SpawnError{Role: role, Err: err}
		}
	}

	// Every worker holds its own ends now.
	s.mu.Lock()
	closeErr := s.pipes.Close()
	s.pipes = nil
	s.mu.Unlock()
	if closeErr != nil {
		s.logger.Warn("failed to release pipe ends", map[string]any{"error": closeErr.Error()})
	}

	s.logger.Info("workers started", map[string]any{"workers": s.describeLive()})
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, role types.Role, files []*os.File) error {
	proc, err := s.spawner.Spawn(ctx, WorkerSpec{Role: role, ExtraFiles: files})
	if err != nil {
		return err
	}
	s.metrics.IncWorkerSpawned()

	w := &worker{
		role:   role,
		proc:   proc,
		exited: make(chan struct{}),
		record: types.ProcessRecord{
			Role:      role,
			PID:       proc.PID(),
			Alive:     true,
			StartedAt: time.Now(),
		},
	}
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()

	if stderr := proc.Stderr(); stderr != nil {
		s.scanners.Add(1)
		go func() {
			defer s.scanners.Done()
			if c, ok := stderr.(io.Closer); ok {
				defer iox.DiscardClose(c)
			}
			err := forwardLines(stderr, func(line string) { s.agg.Submit(line) })
			if err != nil {
				s.logger.Warn("worker log stream failed", map[string]any{
					"role":  string(role),
					"error": err.Error(),
				})
			}
		}()
	}

	go s.reap(w)

	s.logger.Debug("worker spawned", map[string]any{
		"role": string(role),
		"pid":  w.record.PID,
	})
	return nil
}

// reap waits for w to exit and records its exit code. An exit while
// Running is unexpected; workers are not restarted.
func (s *Supervisor) reap(w *worker) {
	code, err := w.proc.Wait()

	s.mu.Lock()
	w.record.Alive = false
	w.record.ExitCode = &code
	state := s.state
	s.mu.Unlock()
	close(w.exited)
	s.metrics.IncWorkerExited()

	fields := map[string]any{
		"role":      string(w.role),
		"pid":       w.record.PID,
		"exit_code": code,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if state == StateRunning {
		s.logger.Warn("worker exited", fields)
		return
	}
	s.logger.Debug("worker reaped", fields)
}

// Processes returns the current process records in spawn order.
func (s *Supervisor) Processes() []types.ProcessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ProcessRecord, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.record)
	}
	return out
}

func (s *Supervisor) describeLive() []string {
	var live []string
	for _, r := range s.Processes() {
		if r.Alive {
			live = append(live, fmt.Sprintf("%s[%d]", r.Role, r.PID))
		}
	}
	return live
}

// RotateLogs asks the aggregator to rotate. The request is queued behind
// lines already submitted.
func (s *Supervisor) RotateLogs(ctx context.Context) bool {
	return s.agg.Rotate(ctx)
}

// Shutdown tears everything down. It is idempotent: concurrent and later
// callers block until the first teardown finishes and get its result.
func (s *Supervisor) Shutdown(reason string) ShutdownResult {
	s.shutdownOnce.Do(func() {
		s.result = s.shutdown(reason)
		close(s.shutdownDone)
	})
	<-s.shutdownDone
	return s.result
}

func (s *Supervisor) shutdown(reason string) ShutdownResult {
	start := time.Now()
	s.setState(StateDraining)
	s.logger.Info("shutting down", map[string]any{
		"reason":  reason,
		"workers": s.describeLive(),
	})

	for _, w := range s.liveWorkers() {
		if err := w.proc.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("failed to signal worker", map[string]any{
				"role":  string(w.role),
				"error": err.Error(),
			})
		}
	}

	s.pollUntilExited(start.Add(s.config.ShutdownTimeout))

	var killed []types.Role
	if stragglers := s.liveWorkers(); len(stragglers) > 0 {
		s.setState(StateTerminating)
		for _, w := range stragglers {
			s.logger.Warn("killing worker after shutdown deadline", map[string]any{
				"role": string(w.role),
				"pid":  w.record.PID,
			})
			if err := w.proc.Kill(); err != nil {
				s.logger.Error("failed to kill worker", map[string]any{
					"role":  string(w.role),
					"error": err.Error(),
				})
			}
			s.metrics.IncWorkerKilled()
			killed = append(killed, w.role)
		}
		s.waitReaped(stragglers, reapGrace)
	}

	s.mu.Lock()
	p := s.pipes
	s.pipes = nil
	s.mu.Unlock()
	_ = p.Close()

	// Stderr pipes hit EOF once their writers are gone.
	s.waitScanners(reapGrace)

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.aggCancel != nil {
		s.aggCancel()
		if err := <-s.aggErr; err != nil {
			s.logger.Warn("log aggregator closed with error", map[string]any{"error": err.Error()})
		}
		stats := s.agg.Stats()
		s.metrics.AbsorbLogStats(stats.Written, stats.Dropped, stats.Rotations)
	}

	duration := time.Since(start)
	s.metrics.SetShutdownDuration(duration)
	s.setState(StateClosed)
	s.logger.Info("supervisor closed", s.metrics.Snapshot().Fields())

	return ShutdownResult{Reason: reason, Duration: duration, Killed: killed}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Supervisor) liveWorkers() []*worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*worker
	for _, w := range s.workers {
		if w.record.Alive {
			live = append(live, w)
		}
	}
	return live
}

func (s *Supervisor) pollUntilExited(deadline time.Time) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for len(s.liveWorkers()) > 0 {
		if !time.Now().Before(deadline) {
			return
		}
		<-ticker.C
	}
}

func (s *Supervisor) waitReaped(ws []*worker, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for _, w := range ws {
		select {
		case <-w.exited:
		case <-timer.C:
			s.logger.Error("worker not reaped after kill", map[string]any{"role": string(w.role)})
			return
		}
	}
}

func (s *Supervisor) waitScanners(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.scanners.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("worker log streams still open", nil)
	}
}

// Close kills any worker still running, whether or not Shutdown ran to
// completion, and releases the pipes. Deferred by the serve command.
func (s *Supervisor) Close() error {
	var errs []error
	for _, w := range s.liveWorkers() {
		if err := w.proc.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("kill %s: %w", w.role, err))
		}
	}
	s.mu.Lock()
	p := s.pipes
	s.pipes = nil
	s.mu.Unlock()
	if err := p.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
