package poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/telemetry"
	"github.com/onnwee/clanwatch/twitchapi"
	"github.com/onnwee/clanwatch/twitterapi"
)

// StreamSource lists which of the given channels are live.
type StreamSource interface {
	GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error)
}

// TokenRefresher replaces the Twitch app token out of band.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// Publisher posts a status on the bot's account.
type Publisher interface {
	PostStatus(ctx context.Context, text string) (*twitterapi.Tweet, error)
}

// LiveChecker announces every live clan channel on Twitter.
type LiveChecker struct {
	Streams   StreamSource
	Tokens    TokenRefresher // optional
	Publisher Publisher
	Channels  []string
	Backoff   *Backoff
}

// Announcement renders the go-live tweet for s.
func Announcement(s twitchapi.Stream) string {
	return fmt.Sprintf("🚀 %s is now LIVE! Playing %s \nWatch: https://twitch.tv/%s", s.UserName, s.GameName, s.UserName)
}

// CheckLiveStatus polls Twitch once and tweets an announcement per live channel.
// Failures are logged and absorbed; only context cancellation is returned.
func (lc *LiveChecker) CheckLiveStatus(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "poller", "check_live_status", telemetry.PlatformAttr("twitch"))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "live"))

	streams, err := lc.Streams.GetStreams(ctx, lc.Channels...)
	if err != nil {
		telemetry.RecordError(span, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("twitch streams request failed", slog.Any("err", err), slog.String("class", apierr.Classify(err).String()))
		if lc.backoff().Handle(ctx, err) {
			return ctx.Err()
		}
		if lc.Tokens != nil {
			if rerr := lc.Tokens.Refresh(ctx); rerr != nil {
				logger.Warn("out-of-band token refresh failed", slog.Any("err", rerr))
			}
		}
		return nil
	}

	for _, s := range streams {
		msg := Announcement(s)
		if _, err := lc.Publisher.PostStatus(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if lc.backoff().Handle(ctx, err) {
				logger.Warn("dropping remaining announcements after rate limit", slog.String("channel", s.UserLogin))
				return ctx.Err()
			}
			logger.Error("announcement failed", slog.String("channel", s.UserLogin), slog.Any("err", err))
			continue
		}
		telemetry.IncAnnouncements()
		logger.Info("tweeted", slog.String("channel", s.UserLogin), slog.String("message", msg))
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (lc *LiveChecker) backoff() *Backoff {
	if lc.Backoff == nil {
		lc.Backoff = NewBackoff(DefaultRateLimitFallback)
	}
	return lc.Backoff
}
