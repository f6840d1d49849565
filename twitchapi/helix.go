// Package twitchapi contains minimal helpers to interact with the Twitch Helix
// API for live-status checks, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/clanwatch/apierr"
)

// StreamsURL is the Helix streams resource.
const StreamsURL = "https://api.twitch.tv/helix/streams"

// helixMaxLogins is the Helix cap on user_login values per request.
const helixMaxLogins = 100

// HelixClient provides the Helix calls needed for live-status polling.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// Endpoint overrides the streams URL; empty means StreamsURL.
	Endpoint string
}

// Stream is a live stream record. Helix only returns records for channels
// that are currently live.
type Stream struct {
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	GameName  string    `json:"game_name"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetStreams returns the live streams among logins in a single request.
// The bearer token is read from the token source on every call.
func (hc *HelixClient) GetStreams(ctx context.Context, logins ...string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	if len(logins) > helixMaxLogins {
		return nil, fmt.Errorf("too many logins: %d > %d", len(logins), helixMaxLogins)
	}
	if hc.AppTokenSource == nil {
		return nil, &apierr.AuthError{Op: "helix streams", Err: errors.New("no token source")}
	}
	tok := hc.AppTokenSource.Current()
	if tok == "" {
		var err error
		if tok, err = hc.AppTokenSource.Get(ctx); err != nil {
			return nil, err
		}
	}
	endpoint := hc.Endpoint
	if endpoint == "" {
		endpoint = StreamsURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for _, l := range logins {
		q.Add("user_login", l)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, &apierr.NetworkError{Op: "helix streams", Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apierr.NewRateLimitError("twitch", resp.Header, "Ratelimit-Reset")
	case resp.StatusCode == http.StatusUnauthorized:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apierr.AuthError{Op: "helix streams", StatusCode: resp.StatusCode, Err: errors.New(string(b))}
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apierr.NetworkError{Op: "helix streams", StatusCode: resp.StatusCode, Err: errors.New(string(b))}
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &apierr.NetworkError{Op: "helix streams", Err: fmt.Errorf("decode: %w", err)}
	}
	return body.Data, nil
}
