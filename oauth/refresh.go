// Package oauth provides a periodic token refresh loop. It wakes on a fixed
// interval and calls a provider-specific refresh function; failures are logged
// and the provider keeps serving its previous token until the next attempt.
package oauth

import (
	"context"
	"log/slog"
	"time"
)

// RefreshFunc performs a provider-specific refresh.
type RefreshFunc func(ctx context.Context) error

// DefaultInterval refreshes a 60-minute token with five minutes of margin.
const DefaultInterval = 55 * time.Minute

// refreshTimeout bounds a single refresh attempt.
const refreshTimeout = 15 * time.Second

// StartRefresher launches a goroutine that calls fn every interval until ctx
// is cancelled. The first call happens one interval after start; callers
// acquire the initial token synchronously. The returned channel is closed
// when the goroutine exits.
func StartRefresher(ctx context.Context, provider string, interval time.Duration, fn RefreshFunc) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		slog.Info("token refresher started", slog.String("provider", provider), slog.Duration("interval", interval))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ctx2, cancel := context.WithTimeout(ctx, refreshTimeout)
			err := fn(ctx2)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			slog.Debug("token refresh tick ok", slog.String("provider", provider))
		}
	}()
	return done
}
