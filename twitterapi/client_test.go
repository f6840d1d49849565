package twitterapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/clanwatch/apierr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := New(context.Background(), Credentials{APIKey: "k", APISecret: "s", AccessToken: "at", AccessSecret: "as"})
	c.BaseURL = server.URL
	return c
}

func TestRequestsAreOAuth1Signed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "OAuth ") || !strings.Contains(auth, `oauth_consumer_key="k"`) || !strings.Contains(auth, `oauth_token="at"`) {
			t.Errorf("Authorization = %q, want OAuth1 header", auth)
		}
		_, _ = w.Write([]byte(`{"id_str":"1","screen_name":"LacyHimself","name":"Lacy"}`))
	})
	if _, err := c.LookupUser(context.Background(), "LacyHimself"); err != nil {
		t.Fatalf("LookupUser() error = %v", err)
	}
}

func TestLookupUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantErr apierr.Class
	}{
		{"found", http.StatusOK, `{"id_str":"42","screen_name":"LacyHimself","name":"Lacy"}`, "42", apierr.ClassUnknown},
		{"not found", http.StatusNotFound, `{"errors":[{"code":50,"message":"User not found."}]}`, "", apierr.ClassNotFound},
		{"empty id", http.StatusOK, `{}`, "", apierr.ClassNotFound},
		{"unauthorized", http.StatusUnauthorized, `{"errors":[{"code":32,"message":"Could not authenticate you."}]}`, "", apierr.ClassAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/users/show.json" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("screen_name"); got != "LacyHimself" {
					t.Errorf("screen_name = %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			u, err := c.LookupUser(context.Background(), "LacyHimself")
			if tt.wantID != "" {
				if err != nil {
					t.Fatalf("LookupUser() error = %v", err)
				}
				if u.ID != tt.wantID {
					t.Errorf("ID = %q, want %q", u.ID, tt.wantID)
				}
				return
			}
			if got := apierr.Classify(err); got != tt.wantErr {
				t.Errorf("Classify(%v) = %v, want %v", err, got, tt.wantErr)
			}
		})
	}
}

func TestLatestTweet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/statuses/user_timeline.json" || q.Get("user_id") != "42" || q.Get("count") != "1" || q.Get("tweet_mode") != "extended" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"id_str":"1001","full_text":"gg","created_at":"Tue Oct 15 14:30:00 +0000 2024","user":{"id_str":"42","screen_name":"LacyHimself"}}]`))
	})
	tw, err := c.LatestTweet(context.Background(), "42")
	if err != nil {
		t.Fatalf("LatestTweet() error = %v", err)
	}
	if tw.ID != "1001" || tw.Text != "gg" || tw.Author != "LacyHimself" || tw.AuthorID != "42" {
		t.Errorf("tweet = %+v", tw)
	}
	if !tw.CreatedAt.Equal(time.Date(2024, 10, 15, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", tw.CreatedAt)
	}
}

func TestLatestTweetEmptyTimeline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	tw, err := c.LatestTweet(context.Background(), "42")
	if err != nil || tw != nil {
		t.Errorf("LatestTweet() = %v, %v; want nil, nil", tw, err)
	}
}

func TestRetweet(t *testing.T) {
	var gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_, _ = w.Write([]byte(`{"id_str":"2002"}`))
	})
	if err := c.Retweet(context.Background(), "1001"); err != nil {
		t.Fatalf("Retweet() error = %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/statuses/retweet/1001.json" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if err := c.Retweet(context.Background(), ""); err == nil {
		t.Error("Retweet(\"\") should fail")
	}
}

func TestPostStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.URL.Path != "/statuses/update.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.PostForm.Get("status"); got != "hello\nworld" {
			t.Errorf("status = %q", got)
		}
		_, _ = w.Write([]byte(`{"id_str":"3003","text":"hello\nworld","created_at":"Tue Oct 15 14:30:00 +0000 2024","user":{"id_str":"7","screen_name":"clanbot"}}`))
	})
	tw, err := c.PostStatus(context.Background(), "hello\nworld")
	if err != nil {
		t.Fatalf("PostStatus() error = %v", err)
	}
	if tw.ID != "3003" {
		t.Errorf("ID = %q", tw.ID)
	}
	if _, err := c.PostStatus(context.Background(), "  "); err == nil {
		t.Error("empty status should fail")
	}
}

func TestRateLimitCarriesReset(t *testing.T) {
	reset := time.Now().Add(42 * time.Second).Unix()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"code":88,"message":"Rate limit exceeded"}]}`))
	})
	err := c.Retweet(context.Background(), "1")
	var rl *apierr.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rl.Platform != "twitter" || !rl.HasReset || rl.Reset.Unix() != reset {
		t.Errorf("rate limit = %+v", rl)
	}
}

func TestServerErrorIsNetworkError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errors":[{"code":327,"message":"You have already retweeted this Tweet."}]}`))
	})
	err := c.Retweet(context.Background(), "1")
	var ne *apierr.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
	if ne.StatusCode != http.StatusForbidden || !strings.Contains(err.Error(), "code 327") {
		t.Errorf("error = %v", err)
	}
}
