package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bebsworthy/greeter/internal/errors"
)

const shutdownTimeout = 5 * time.Second

// Serve exposes /metrics on addr until ctx is cancelled. It returns nil on a
// clean shutdown.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.MetricsError(errors.CodeMetricsServe, "failed to listen on "+addr, err)
	}
	return m.serve(ctx, ln)
}

func (m *Monitor) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	if m.logger != nil {
		m.logger.Info("Metrics endpoint listening", "address", ln.Addr().String())
	}

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.MetricsError(errors.CodeMetricsServe, "metrics server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.MetricsError(errors.CodeMetricsServe, "metrics server shutdown failed", err)
	}
	return nil
}
