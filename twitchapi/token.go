package twitchapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/telemetry"
)

// TokenURL is the Twitch OAuth token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and holds a Twitch app access (client credentials) token.
// It is the single owner of the bearer token; readers call Current or Get on
// every request instead of keeping their own copy.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides the token endpoint; empty means TokenURL.
	TokenURL string

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.Acquire(ctx)
}

// Current returns the last acquired token without touching the network.
// It may be stale; that is intentional between refreshes.
func (ts *TokenSource) Current() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token
}

// ExpiresAt returns the expiry of the current token.
func (ts *TokenSource) ExpiresAt() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.expiresAt
}

// SetToken replaces the current token. Used by tests and by Acquire.
func (ts *TokenSource) SetToken(token string, expiresAt time.Time) {
	ts.mu.Lock()
	ts.token = token
	ts.expiresAt = expiresAt
	ts.mu.Unlock()
}

// Acquire performs a client-credentials exchange and replaces the current
// token. Every failure is an *apierr.AuthError; on failure the previous token
// is left untouched.
func (ts *TokenSource) Acquire(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", &apierr.AuthError{Op: "twitch token", Err: errors.New("missing client id/secret for twitch app token")}
	}
	tokenURL := ts.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := cc.Token(ctx)
	if err != nil {
		ae := &apierr.AuthError{Op: "twitch token", Err: err}
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			ae.StatusCode = re.Response.StatusCode
		}
		return "", ae
	}
	if tok.AccessToken == "" {
		return "", &apierr.AuthError{Op: "twitch token", Err: errors.New("empty access_token in twitch response")}
	}
	exp := tok.Expiry
	if exp.IsZero() {
		exp = ComputeExpiry(0)
	}
	ts.SetToken(tok.AccessToken, exp)
	return tok.AccessToken, nil
}

// Refresh re-acquires the token and records the outcome. A failed refresh
// keeps the stale token in use until the next attempt.
func (ts *TokenSource) Refresh(ctx context.Context) error {
	_, err := ts.Acquire(ctx)
	telemetry.RecordTokenRefresh(err == nil)
	if err != nil {
		slog.Warn("twitch token refresh failed; keeping previous token", slog.Any("err", err), slog.String("component", "twitch_token"))
		return err
	}
	slog.Info("twitch token refreshed", slog.Time("expires_at", ts.ExpiresAt()), slog.String("component", "twitch_token"))
	return nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// Masked returns the last six characters of tok for logging.
func Masked(tok string) string {
	if len(tok) <= 6 {
		return "***"
	}
	return "***" + tok[len(tok)-6:]
}
