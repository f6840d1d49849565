package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/telemetry"
	"github.com/onnwee/clanwatch/twitterapi"
)

const (
	// FreshnessWindow bounds how old a tweet may be and still get reposted.
	FreshnessWindow = time.Hour
	// RepostPause follows every successful retweet.
	RepostPause = 5 * time.Second
	// AccountPause separates accounts to stay under Twitter limits.
	AccountPause = 10 * time.Second
)

// Timeline is the read/retweet surface of the Twitter client.
type Timeline interface {
	LookupUser(ctx context.Context, handle string) (*twitterapi.User, error)
	LatestTweet(ctx context.Context, userID string) (*twitterapi.Tweet, error)
	Retweet(ctx context.Context, id string) error
}

// SeenSet records reposted tweet ids.
type SeenSet interface {
	Contains(id string) bool
	Add(ctx context.Context, id string) error
}

// Outcome is what happened to one account in a repost pass.
type Outcome int

const (
	OutcomeReposted Outcome = iota + 1
	OutcomeAlreadySeen
	OutcomeStale
	OutcomeNoPosts
	OutcomeNotFound
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReposted:
		return "reposted"
	case OutcomeAlreadySeen:
		return "already_seen"
	case OutcomeStale:
		return "stale"
	case OutcomeNoPosts:
		return "no_posts"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AccountResult is the per-handle outcome of CheckAndRepost.
type AccountResult struct {
	Handle  string
	Outcome Outcome
	TweetID string
	Err     error
}

// Reposter retweets each member's latest tweet once, if it is fresh.
type Reposter struct {
	Timeline Timeline
	Seen     SeenSet
	Handles  []string
	Backoff  *Backoff

	Now          func() time.Time
	Sleep        SleepFunc
	Window       time.Duration
	RepostPause  time.Duration
	AccountPause time.Duration
}

// NewReposter wires production clock, sleeps and window.
func NewReposter(tl Timeline, seen SeenSet, handles []string, backoff *Backoff) *Reposter {
	return &Reposter{
		Timeline:     tl,
		Seen:         seen,
		Handles:      handles,
		Backoff:      backoff,
		Now:          time.Now,
		Sleep:        SleepContext,
		Window:       FreshnessWindow,
		RepostPause:  RepostPause,
		AccountPause: AccountPause,
	}
}

// CheckAndRepost walks Handles in order. A rate limit sleeps out the window and
// ends the pass early with a nil error; a *apierr.PersistenceError is returned
// so the caller can widen its cooldown. Other per-account errors are logged.
func (r *Reposter) CheckAndRepost(ctx context.Context) ([]AccountResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "poller", "check_and_repost", telemetry.PlatformAttr("twitter"))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "repost"))

	now := r.now()
	cutoff := now.Add(-r.window())
	results := make([]AccountResult, 0, len(r.Handles))

	for _, handle := range r.Handles {
		res, err := r.checkAccount(ctx, handle, cutoff, logger)
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			results = append(results, res)
			telemetry.RecordRepostOutcome(res.Outcome.String())
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			var pe *apierr.PersistenceError
			if errors.As(err, &pe) {
				telemetry.RecordError(span, err)
				return results, err
			}
			if r.backoff().Handle(ctx, err) {
				logger.Warn("aborting repost pass after rate limit", slog.String("handle", handle))
				return results, ctx.Err()
			}
			logger.Error("unexpected error", slog.String("handle", handle), slog.Any("err", err), slog.String("class", apierr.Classify(err).String()))
			continue
		}
		results = append(results, res)
		telemetry.RecordRepostOutcome(res.Outcome.String())
		if res.Outcome == OutcomeNotFound {
			continue
		}
		if res.Outcome == OutcomeReposted {
			if err := r.sleep(ctx, r.RepostPause); err != nil {
				return results, err
			}
		}
		if err := r.sleep(ctx, r.AccountPause); err != nil {
			return results, err
		}
	}
	telemetry.SetSpanSuccess(span)
	return results, nil
}

func (r *Reposter) checkAccount(ctx context.Context, handle string, cutoff time.Time, logger *slog.Logger) (AccountResult, error) {
	res := AccountResult{Handle: handle}
	user, err := r.Timeline.LookupUser(ctx, handle)
	if err != nil {
		if apierr.IsNotFound(err) {
			logger.Warn("user not found", slog.String("handle", handle))
			res.Outcome = OutcomeNotFound
			return res, nil
		}
		return res, err
	}
	tweet, err := r.Timeline.LatestTweet(ctx, user.ID)
	if err != nil {
		return res, err
	}
	if tweet == nil {
		res.Outcome = OutcomeNoPosts
		logger.Debug("no posts", slog.String("handle", handle))
		return res, nil
	}
	res.TweetID = tweet.ID

	isNew := !r.Seen.Contains(tweet.ID)
	isFresh := tweet.CreatedAt.After(cutoff)
	switch {
	case !isNew:
		res.Outcome = OutcomeAlreadySeen
		logger.Info("skipped already reposted tweet", slog.String("handle", handle), slog.String("tweet_id", tweet.ID))
		return res, nil
	case !isFresh:
		res.Outcome = OutcomeStale
		logger.Info("skipped old tweet", slog.String("handle", handle), slog.String("tweet_id", tweet.ID), slog.Time("created_at", tweet.CreatedAt))
		return res, nil
	}

	if err := r.Timeline.Retweet(ctx, tweet.ID); err != nil {
		return res, err
	}
	if err := r.Seen.Add(ctx, tweet.ID); err != nil {
		return res, err
	}
	res.Outcome = OutcomeReposted
	logger.Info("retweeted", slog.String("handle", handle), slog.String("tweet_id", tweet.ID), slog.String("text", tweet.Text))
	return res, nil
}

func (r *Reposter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reposter) window() time.Duration {
	if r.Window > 0 {
		return r.Window
	}
	return FreshnessWindow
}

func (r *Reposter) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

func (r *Reposter) backoff() *Backoff {
	if r.Backoff == nil {
		r.Backoff = NewBackoff(DefaultRateLimitFallback)
	}
	return r.Backoff
}
