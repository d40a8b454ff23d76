package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Signals handled by Run.
var (
	shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM}
	rotateSignal    = syscall.SIGHUP
	childSignal     = syscall.SIGCHLD
)

// Run blocks handling signals until a terminating signal arrives or ctx
// ends, then shuts down and returns the result.
func (s *Supervisor) Run(ctx context.Context) ShutdownResult {
	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, append([]os.Signal{rotateSignal, childSignal}, shutdownSignals...)...)
	defer signal.Stop(sigCh)

	return s.loop(ctx, sigCh)
}

func (s *Supervisor) loop(ctx context.Context, sigCh <-chan os.Signal) ShutdownResult {
	for {
		select {
		case <-ctx.Done():
			return s.Shutdown("context canceled")
		case sig := <-sigCh:
			if s.handleSignal(ctx, sig) {
				return s.Shutdown(sig.String())
			}
		}
	}
}

// handleSignal reacts to one signal and reports whether it requests
// shutdown.
func (s *Supervisor) handleSignal(ctx context.Context, sig os.Signal) bool {
	switch sig {
	case childSignal:
		// Reaping happens in the per-worker goroutines.
		s.logger.Info("child process state changed", map[string]any{"workers": s.describeLive()})
		return false
	case rotateSignal:
		if !s.RotateLogs(ctx) {
			s.logger.Warn("log rotation request not queued", nil)
		}
		return false
	}
	for _, t := range shutdownSignals {
		if sig == t {
			return true
		}
	}
	s.logger.Debug("ignoring signal", map[string]any{"signal": sig.String()})
	return false
}
