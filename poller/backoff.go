// Package poller runs the two per-cycle checks: Twitch live announcements and
// reposting fresh tweets from clan members, plus the shared rate-limit backoff.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/telemetry"
)

// DefaultRateLimitFallback is the wait used when a 429 carries no reset header.
const DefaultRateLimitFallback = 60 * time.Second

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production SleepFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff turns rate-limit errors into a wait until the platform's window resets.
type Backoff struct {
	// Fallback applies when the 429 had no usable reset header. Zero means no wait.
	Fallback time.Duration
	Sleep    SleepFunc
	Now      func() time.Time
}

// NewBackoff returns a Backoff with production clock and sleep.
func NewBackoff(fallback time.Duration) *Backoff {
	return &Backoff{Fallback: fallback, Sleep: SleepContext, Now: time.Now}
}

// WaitDuration reports how long to wait for err. ok is false when err is not a rate-limit error.
func (b *Backoff) WaitDuration(err error, now time.Time) (wait time.Duration, ok bool) {
	var rl *apierr.RateLimitError
	if !errors.As(err, &rl) {
		return 0, false
	}
	if !rl.HasReset {
		if b.Fallback < 0 {
			return 0, true
		}
		return b.Fallback, true
	}
	wait = rl.Reset.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// Handle sleeps out a rate-limit error and reports whether err was one.
// Other errors return false immediately.
func (b *Backoff) Handle(ctx context.Context, err error) bool {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	wait, ok := b.WaitDuration(err, now())
	if !ok {
		return false
	}
	platform := "unknown"
	var rl *apierr.RateLimitError
	if errors.As(err, &rl) && rl.Platform != "" {
		platform = rl.Platform
	}
	telemetry.RecordRateLimitWait(platform, wait)
	telemetry.LoggerWithCorr(ctx).Warn("rate limit exceeded, sleeping",
		slog.String("platform", platform),
		slog.Duration("wait", wait),
		slog.String("component", "backoff"))
	sleep := b.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	_ = sleep(ctx, wait)
	return true
}
