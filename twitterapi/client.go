// Package twitterapi is a small OAuth1 user-context client for the Twitter
// REST v1.1 endpoints the bot needs: resolve a handle, read the latest tweet,
// retweet, and post a status.
package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/onnwee/clanwatch/apierr"
)

// DefaultBaseURL is the REST v1.1 root.
const DefaultBaseURL = "https://api.twitter.com/1.1"

// rateLimitResetHeader carries the epoch second at which the window resets.
const rateLimitResetHeader = "x-rate-limit-reset"

// Credentials are the four OAuth1 values for one account.
type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Client talks to the Twitter API on behalf of one account.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// User is a resolved account.
type User struct {
	ID         string
	ScreenName string
	Name       string
}

// Tweet is a single post.
type Tweet struct {
	ID        string
	AuthorID  string
	Author    string
	Text      string
	CreatedAt time.Time
}

// New returns a client that signs every request with creds. ctx only
// supplies an optional base *http.Client through oauth1.HTTPClient.
func New(ctx context.Context, creds Credentials) *Client {
	cfg := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	tok := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)
	return &Client{BaseURL: DefaultBaseURL, HTTPClient: cfg.Client(ctx, tok)}
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) endpoint(path string) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + path
}

// wire formats ----------------------------------------------------------------

type apiUser struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

type apiTweet struct {
	IDStr     string  `json:"id_str"`
	FullText  string  `json:"full_text"`
	Text      string  `json:"text"`
	CreatedAt string  `json:"created_at"`
	User      apiUser `json:"user"`
}

func (t apiTweet) toTweet() (*Tweet, error) {
	created, err := time.Parse(time.RubyDate, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", t.CreatedAt, err)
	}
	text := t.FullText
	if text == "" {
		text = t.Text
	}
	return &Tweet{
		ID:        t.IDStr,
		AuthorID:  t.User.IDStr,
		Author:    t.User.ScreenName,
		Text:      text,
		CreatedAt: created.UTC(),
	}, nil
}

// LookupUser resolves handle to an account. Unknown handles return *apierr.NotFoundError.
func (c *Client) LookupUser(ctx context.Context, handle string) (*User, error) {
	if handle == "" {
		return nil, errors.New("handle empty")
	}
	q := url.Values{}
	q.Set("screen_name", handle)
	var u apiUser
	if err := c.do(ctx, "users/show", http.MethodGet, "/users/show.json?"+q.Encode(), nil, &u); err != nil {
		if apierr.IsNotFound(err) {
			return nil, &apierr.NotFoundError{Resource: "twitter user " + handle}
		}
		return nil, err
	}
	if u.IDStr == "" {
		return nil, &apierr.NotFoundError{Resource: "twitter user " + handle}
	}
	return &User{ID: u.IDStr, ScreenName: u.ScreenName, Name: u.Name}, nil
}

// LatestTweet returns the most recent tweet of userID, or nil when the timeline is empty.
func (c *Client) LatestTweet(ctx context.Context, userID string) (*Tweet, error) {
	if userID == "" {
		return nil, errors.New("userID empty")
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("count", "1")
	q.Set("tweet_mode", "extended")
	var tl []apiTweet
	if err := c.do(ctx, "statuses/user_timeline", http.MethodGet, "/statuses/user_timeline.json?"+q.Encode(), nil, &tl); err != nil {
		return nil, err
	}
	if len(tl) == 0 {
		return nil, nil
	}
	return tl[0].toTweet()
}

// Retweet reposts the tweet with the given id.
func (c *Client) Retweet(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("tweet id empty")
	}
	return c.do(ctx, "statuses/retweet", http.MethodPost, "/statuses/retweet/"+url.PathEscape(id)+".json", nil, nil)
}

// PostStatus publishes a new tweet.
func (c *Client) PostStatus(ctx context.Context, text string) (*Tweet, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("status text empty")
	}
	form := url.Values{}
	form.Set("status", text)
	var t apiTweet
	if err := c.do(ctx, "statuses/update", http.MethodPost, "/statuses/update.json", form, &t); err != nil {
		return nil, err
	}
	if t.IDStr == "" {
		return &Tweet{Text: text}, nil
	}
	return t.toTweet()
}

func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return &apierr.NetworkError{Op: "twitter " + op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierr.NewRateLimitError("twitter", resp.Header, rateLimitResetHeader)
	case resp.StatusCode == http.StatusNotFound:
		return &apierr.NotFoundError{Resource: "twitter " + op}
	case resp.StatusCode == http.StatusUnauthorized:
		return &apierr.AuthError{Op: "twitter " + op, StatusCode: resp.StatusCode, Err: errors.New(readAPIError(resp.Body))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &apierr.NetworkError{Op: "twitter " + op, StatusCode: resp.StatusCode, Err: errors.New(readAPIError(resp.Body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apierr.NetworkError{Op: "twitter " + op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

// readAPIError extracts the first message from a v1.1 {"errors":[…]} body,
// falling back to the raw (truncated) body.
func readAPIError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	var payload struct {
		Errors []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(b, &payload) == nil && len(payload.Errors) > 0 {
		return fmt.Sprintf("code %d: %s", payload.Errors[0].Code, payload.Errors[0].Message)
	}
	return strings.TrimSpace(string(b))
}
