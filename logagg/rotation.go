package logagg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/pithecene-io/de1gate/log"
)

// ParseSchedule parses a rotation schedule. It accepts a standard 5-field
// cron expression or descriptor ("@daily"), falling back to a Go duration
// ("6h").
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, errors.New("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return cron.Every(dur), nil
}

// Scheduler requests rotation on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers a rotation job on agg. Call Start to run it.
func NewScheduler(ctx context.Context, agg *Aggregator, schedule string, logger *log.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid rotate schedule: %w", err)
	}
	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		if agg.Rotate(ctx) {
			logger.Info("scheduled log rotation requested", map[string]any{"schedule": schedule})
		}
	}))
	return &Scheduler{cron: c}, nil
}

// Start begins running the schedule in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// debounceDelay lets a burst of rename/create events settle.
const debounceDelay = 250 * time.Millisecond

// WatchExternalRotation requests a rotation whenever the log file is
// renamed or removed by something other than the aggregator, such as
// logrotate. It watches the parent directory so it keeps working across
// file replacement. The watcher stops when ctx is canceled.
func WatchExternalRotation(ctx context.Context, agg *Aggregator, logger *log.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create log watcher: %w", err)
	}

	dir := filepath.Dir(agg.Path())
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	target := filepath.Clean(agg.Path())
	go func() {
		defer func() { _ = w.Close() }()

		var debounce *time.Timer
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if agg.Rotate(ctx) {
						logger.Info("log file moved externally, rotating", map[string]any{"path": target})
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("log watcher error", map[string]any{"error": err.Error()})
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
