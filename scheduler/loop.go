// Package scheduler drives the poll cycle: live check, then repost pass, then
// a cooldown that widens every time a cycle fails.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/poller"
	"github.com/onnwee/clanwatch/telemetry"
)

const (
	DefaultCooldown     = 5 * time.Minute
	DefaultCooldownStep = 5 * time.Minute
)

// LiveCheck is satisfied by *poller.LiveChecker.
type LiveCheck interface {
	CheckLiveStatus(ctx context.Context) error
}

// RepostCheck is satisfied by *poller.Reposter.
type RepostCheck interface {
	CheckAndRepost(ctx context.Context) ([]poller.AccountResult, error)
}

// Loop runs cycles until its context is cancelled.
type Loop struct {
	Live    LiveCheck
	Repost  RepostCheck
	Backoff *poller.Backoff
	Step    time.Duration
	Sleep   poller.SleepFunc

	mu          sync.RWMutex
	cooldown    time.Duration
	lastChecked time.Time
}

// New returns a Loop starting at cooldown and widening by step on failure.
func New(live LiveCheck, repost RepostCheck, backoff *poller.Backoff, cooldown, step time.Duration) *Loop {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if step < 0 {
		step = DefaultCooldownStep
	}
	return &Loop{Live: live, Repost: repost, Backoff: backoff, Step: step, Sleep: poller.SleepContext, cooldown: cooldown}
}

// Cooldown is the current pause between cycles.
func (l *Loop) Cooldown() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cooldown
}

// LastChecked is when the most recent successful cycle finished.
func (l *Loop) LastChecked() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastChecked
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("scheduler started", slog.Duration("cooldown", l.Cooldown()), slog.String("component", "scheduler"))
	telemetry.SetCooldown(l.Cooldown())
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("scheduler stopping", slog.String("component", "scheduler"))
			return err
		}
		if err := l.step(ctx); err != nil {
			return err
		}
	}
}

// step runs one cycle plus its pause. It returns non-nil only when ctx ends.
func (l *Loop) step(ctx context.Context) error {
	cctx := telemetry.WithCorrelation(ctx, uuid.NewString())
	logger := telemetry.LoggerWithCorr(cctx).With(slog.String("component", "scheduler"))

	var err error
	elapsed := telemetry.TimeFunc(telemetry.CycleDuration, func() { err = l.RunOnce(cctx) })
	if ctx.Err() != nil {
		return ctx.Err()
	}

	switch {
	case err == nil:
		telemetry.RecordCycle("")
		l.mu.Lock()
		l.lastChecked = time.Now().UTC()
		l.mu.Unlock()
		cd := l.Cooldown()
		logger.Info("checked all clan members", slog.Duration("took", elapsed), slog.Float64("wait_minutes", cd.Minutes()))
		return l.sleep(ctx, cd)
	case l.Backoff != nil && apierr.IsRateLimit(err):
		telemetry.RecordCycle(apierr.ClassRateLimit.String())
		l.Backoff.Handle(ctx, err)
		return ctx.Err()
	default:
		class := apierr.Classify(err)
		telemetry.RecordCycle(class.String())
		cd := l.widen()
		logger.Error("bot error", slog.Any("err", err), slog.String("class", class.String()), slog.Duration("cooldown", cd))
		return l.sleep(ctx, cd)
	}
}

// RunOnce performs one live check followed by one repost pass.
func (l *Loop) RunOnce(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "cycle")
	defer span.End()
	if err := l.Live.CheckLiveStatus(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	if _, err := l.Repost.CheckAndRepost(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (l *Loop) widen() time.Duration {
	l.mu.Lock()
	l.cooldown += l.Step
	cd := l.cooldown
	l.mu.Unlock()
	telemetry.SetCooldown(cd)
	return cd
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	sleep := l.Sleep
	if sleep == nil {
		sleep = poller.SleepContext
	}
	if err := sleep(ctx, d); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
