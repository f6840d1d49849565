package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/clanwatch/config"
	"github.com/onnwee/clanwatch/oauth"
	"github.com/onnwee/clanwatch/poller"
	"github.com/onnwee/clanwatch/scheduler"
	"github.com/onnwee/clanwatch/seen"
	"github.com/onnwee/clanwatch/server"
	"github.com/onnwee/clanwatch/telemetry"
	"github.com/onnwee/clanwatch/twitchapi"
	"github.com/onnwee/clanwatch/twitterapi"
)

func runAction(cmd *cobra.Command, _ []string) error {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(runFlags.envFile)

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if cmd.Flags().Changed("status-server") {
		cfg.StatusServer = runFlags.statusServer
	}
	if cmd.Flags().Changed("port") {
		if runFlags.port <= 0 || runFlags.port > 65535 {
			return fmt.Errorf("invalid --port %d", runFlags.port)
		}
		cfg.Port = runFlags.port
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("clanwatch", Version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The bot cannot poll Twitch without an app token, so the first exchange is fatal.
	ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	tok, err := ts.Acquire(tctx)
	cancel()
	if err != nil {
		return fmt.Errorf("twitch app token fetch failed: %w", err)
	}
	slog.Info("twitch app token acquired", slog.String("tail", twitchapi.Masked(tok)), slog.Time("expires_at", ts.ExpiresAt()))

	backend, err := seen.NewBackend(ctx, cfg.SeenStore, cfg.SeenCacheFile, cfg.SeenStoreDSN)
	if err != nil {
		return fmt.Errorf("seen store init failed: %w", err)
	}
	cache, err := seen.Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("seen cache load failed: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Error("failed to close seen store", slog.Any("err", err))
		}
	}()

	refresherDone := oauth.StartRefresher(ctx, "twitch", cfg.TokenRefreshInterval, ts.Refresh)

	twitter := twitterapi.New(ctx, twitterapi.Credentials{
		APIKey:       cfg.TwitterAPIKey,
		APISecret:    cfg.TwitterAPISecret,
		AccessToken:  cfg.TwitterAccessToken,
		AccessSecret: cfg.TwitterAccessSecret,
	})
	helix := &twitchapi.HelixClient{AppTokenSource: ts, ClientID: cfg.TwitchClientID}
	backoff := poller.NewBackoff(cfg.RateLimitFallback)

	live := &poller.LiveChecker{
		Streams:   helix,
		Tokens:    ts,
		Publisher: twitter,
		Channels:  cfg.TwitchChannels(),
		Backoff:   backoff,
	}
	repost := poller.NewReposter(twitter, cache, cfg.TwitterHandles(), backoff)
	loop := scheduler.New(live, repost, backoff, cfg.Cooldown, cfg.CooldownStep)

	serverDone := make(chan struct{})
	if cfg.StatusServer {
		addr := ":" + strconv.Itoa(cfg.Port)
		handler := server.NewMux(ctx, server.Options{
			TwitterUsers: cfg.TwitterHandles(),
			TwitchUsers:  cfg.TwitchChannels(),
			LastCycle:    loop.LastChecked,
		})
		go func() {
			defer close(serverDone)
			if err := server.Start(ctx, addr, handler); err != nil {
				slog.Error("http server exited with error", slog.Any("err", err))
			}
		}()
	} else {
		close(serverDone)
	}

	slog.Info("starting bot",
		slog.Any("twitch_channels", cfg.TwitchChannels()),
		slog.Any("twitter_handles", cfg.TwitterHandles()),
		slog.String("seen_store", cfg.SeenStore),
		slog.Int("seen_posts", cache.Len()))

	err = loop.Run(ctx)
	<-refresherDone
	<-serverDone
	slog.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
