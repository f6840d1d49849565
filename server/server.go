// Package server exposes the optional HTTP status surface: liveness, the
// watched roster, and Prometheus metrics. Every request gets a correlation ID
// and a tracing span.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures NewMux.
type Options struct {
	TwitterUsers []string
	TwitchUsers  []string
	// Now overrides the clock used for last_checked.
	Now func() time.Time
	// LastCycle reports when the scheduler last finished a clean cycle.
	LastCycle func() time.Time
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	h := NewHandlers(opts)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("/status", rateLimitMiddleware(http.HandlerFunc(h.HandleStatus), limiter))
	mux.Handle("/", rateLimitMiddleware(http.HandlerFunc(h.HandleRoot), limiter))

	return correlationMiddleware(mux)
}

// Start serves handler on addr and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values while giving shutdown its own deadline
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("status server listening", slog.String("addr", ln.Addr().String()), slog.String("component", "http"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
