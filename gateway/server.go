package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"
)

// shutdownGrace bounds how long an in-flight reply may take after the
// worker context is canceled.
const shutdownGrace = 2 * time.Second

// Serve accepts connections on ln until ctx is canceled. At most one
// connection is handled at a time and each is closed after its reply.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv.SetKeepAlivesEnabled(false)

	limited := netutil.LimitListener(ln, 1)
	g.logger.Info("gateway listening", map[string]any{"addr": ln.Addr().String(), "root": g.root})

	if g.heartbeat > 0 {
		go g.runHeartbeat(ctx)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(limited) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		<-errCh
		g.logger.Info("gateway stopped", map[string]any{"served": g.served.Load()})
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return g.Serve(ctx, ln)
}

func (g *Gateway) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.logger.Info("gateway heartbeat", map[string]any{"served": g.served.Load()})
		case <-ctx.Done():
			return
		}
	}
}
