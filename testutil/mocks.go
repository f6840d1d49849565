package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTwitchServer creates a test server that mocks the Twitch token and Helix endpoints
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL is the mock client-credentials endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// StreamsURL is the mock Helix streams endpoint.
func (m *MockTwitchServer) StreamsURL() string { return m.URL + "/helix/streams" }

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}
}

// MockStreamsResponse adds a handler for /helix/streams that reports every
// stream whose user_login was requested.
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handlers["/helix/streams"] = func(w http.ResponseWriter, r *http.Request) {
		requested := map[string]bool{}
		for _, l := range r.URL.Query()["user_login"] {
			requested[strings.ToLower(l)] = true
		}
		live := make([]map[string]interface{}, 0, len(streams))
		for _, s := range streams {
			login, _ := s["user_login"].(string)
			if requested[strings.ToLower(login)] {
				live = append(live, s)
			}
		}
		writeJSON(w, map[string]interface{}{"data": live})
	}
}

// MockRateLimited makes path answer 429 with a Ratelimit-Reset at reset.
func (m *MockTwitchServer) MockRateLimited(path string, reset time.Time) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Ratelimit-Reset", fmt.Sprintf("%d", reset.Unix()))
		w.WriteHeader(http.StatusTooManyRequests)
	}
}

// MockTweet is one timeline entry served by MockTwitterServer.
type MockTweet struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// MockTwitterServer mocks the REST v1.1 endpoints used by the bot and records writes.
type MockTwitterServer struct {
	*httptest.Server

	mu        sync.Mutex
	users     map[string]string // screen_name -> id
	timelines map[string][]MockTweet
	Retweets  []string
	Statuses  []string
}

// NewMockTwitterServer creates a new mock Twitter API server
func NewMockTwitterServer(t *testing.T) *MockTwitterServer {
	t.Helper()
	m := &MockTwitterServer{users: map[string]string{}, timelines: map[string][]MockTweet{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/show.json", m.handleUser)
	mux.HandleFunc("/statuses/user_timeline.json", m.handleTimeline)
	mux.HandleFunc("/statuses/update.json", m.handleUpdate)
	mux.HandleFunc("/statuses/retweet/", m.handleRetweet)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// AddUser registers screenName with id and an optional timeline (newest first).
func (m *MockTwitterServer) AddUser(screenName, id string, tweets ...MockTweet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(screenName)] = id
	m.timelines[id] = tweets
}

// RetweetCount returns how many retweets were received.
func (m *MockTwitterServer) RetweetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Retweets)
}

// StatusTexts returns a copy of the posted statuses.
func (m *MockTwitterServer) StatusTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Statuses...)
}

func (m *MockTwitterServer) handleUser(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("screen_name")
	m.mu.Lock()
	id, ok := m.users[strings.ToLower(name)]
	m.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]interface{}{"errors": []map[string]interface{}{{"code": 50, "message": "User not found."}}})
		return
	}
	writeJSON(w, map[string]string{"id_str": id, "screen_name": name, "name": name})
}

func (m *MockTwitterServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("user_id")
	m.mu.Lock()
	tweets := m.timelines[id]
	m.mu.Unlock()
	out := make([]map[string]interface{}, 0, 1)
	if len(tweets) > 0 {
		tw := tweets[0]
		out = append(out, map[string]interface{}{
			"id_str":     tw.ID,
			"full_text":  tw.Text,
			"created_at": tw.CreatedAt.UTC().Format(time.RubyDate),
			"user":       map[string]string{"id_str": id},
		})
	}
	writeJSON(w, out)
}

func (m *MockTwitterServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = r.ParseForm()
	text := r.PostForm.Get("status")
	m.mu.Lock()
	m.Statuses = append(m.Statuses, text)
	n := len(m.Statuses)
	m.mu.Unlock()
	writeJSON(w, map[string]interface{}{
		"id_str":     fmt.Sprintf("9%03d", n),
		"text":       text,
		"created_at": time.Now().UTC().Format(time.RubyDate),
		"user":       map[string]string{"id_str": "1", "screen_name": "clanbot"},
	})
}

func (m *MockTwitterServer) handleRetweet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/statuses/retweet/"), ".json")
	m.mu.Lock()
	m.Retweets = append(m.Retweets, id)
	m.mu.Unlock()
	writeJSON(w, map[string]string{"id_str": "rt" + id})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
