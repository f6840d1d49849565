// Package telemetry holds the Prometheus metrics, OpenTelemetry tracing and
// correlation-id logging shared by the scheduler, pollers and status server.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CyclesTotal        prometheus.Counter
	CycleFailures      *prometheus.CounterVec // label: class
	AnnouncementsTotal prometheus.Counter
	RepostOutcomes     *prometheus.CounterVec // label: outcome
	RateLimitWaits     *prometheus.CounterVec // label: platform
	TokenRefreshes     *prometheus.CounterVec // label: result

	// Histograms (seconds)
	CycleDuration    prometheus.Observer
	RateLimitWaitDur prometheus.Observer

	// Gauges
	CooldownGauge  prometheus.Gauge
	SeenPostsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "clanwatch_cycles_total", Help: "Number of completed scheduler cycles"})
		CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clanwatch_cycle_failures_total", Help: "Scheduler cycles that ended in an error, by error class"}, []string{"class"})
		AnnouncementsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "clanwatch_live_announcements_total", Help: "Live announcements posted"})
		RepostOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clanwatch_repost_outcomes_total", Help: "Repost check outcomes per account"}, []string{"outcome"})
		RateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clanwatch_rate_limit_waits_total", Help: "Rate-limit backoffs by platform"}, []string{"platform"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clanwatch_token_refreshes_total", Help: "Twitch token refresh attempts by result"}, []string{"result"})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clanwatch_cycle_duration_seconds", Help: "Scheduler cycle duration seconds", Buckets: prometheus.DefBuckets})
		RateLimitWaitDur = promauto.NewHistogram(prometheus.HistogramOpts{Name: "clanwatch_rate_limit_wait_seconds", Help: "Rate-limit backoff duration seconds", Buckets: []float64{1, 5, 15, 60, 300, 900}})
		CooldownGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clanwatch_cooldown_seconds", Help: "Current scheduler cooldown"})
		SeenPostsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "clanwatch_seen_posts", Help: "Number of post ids in the seen set"})
	})
}

// RecordCycle counts a finished cycle and, if class is non-empty, a failure of that class.
// Duration is observed separately through TimeFunc(CycleDuration, ...).
func RecordCycle(failureClass string) {
	if CyclesTotal == nil {
		return
	}
	CyclesTotal.Inc()
	if failureClass != "" {
		CycleFailures.WithLabelValues(failureClass).Inc()
	}
}

// IncAnnouncements counts one posted live announcement.
func IncAnnouncements() {
	if AnnouncementsTotal != nil {
		AnnouncementsTotal.Inc()
	}
}

// RecordRepostOutcome counts one per-account repost outcome.
func RecordRepostOutcome(outcome string) {
	if RepostOutcomes != nil {
		RepostOutcomes.WithLabelValues(outcome).Inc()
	}
}

// RecordRateLimitWait counts a backoff and its duration.
func RecordRateLimitWait(platform string, d time.Duration) {
	if RateLimitWaits == nil {
		return
	}
	RateLimitWaits.WithLabelValues(platform).Inc()
	RateLimitWaitDur.Observe(d.Seconds())
}

// RecordTokenRefresh counts a refresh attempt.
func RecordTokenRefresh(ok bool) {
	if TokenRefreshes == nil {
		return
	}
	if ok {
		TokenRefreshes.WithLabelValues("ok").Inc()
	} else {
		TokenRefreshes.WithLabelValues("error").Inc()
	}
}

// SetCooldown records the current scheduler cooldown.
func SetCooldown(d time.Duration) {
	if CooldownGauge != nil {
		CooldownGauge.Set(d.Seconds())
	}
}

// SetSeenPosts records the seen-set size.
func SetSeenPosts(n int) {
	if SeenPostsGauge != nil {
		SeenPostsGauge.Set(float64(n))
	}
}

// TimeFunc runs fn and records its duration in obs when obs is non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
