package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// lastCheckedLayout matches the "YYYY-MM-DD HH:MM:SS" shape clients expect.
const lastCheckedLayout = "2006-01-02 15:04:05"

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	twitterUsers []string
	twitchUsers  []string
	now          func() time.Time
	lastCycle    func() time.Time
}

// NewHandlers creates a Handlers for the given roster.
func NewHandlers(opts Options) *Handlers {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &Handlers{
		twitterUsers: append([]string{}, opts.TwitterUsers...),
		twitchUsers:  append([]string{}, opts.TwitchUsers...),
		now:          now,
		lastCycle:    opts.LastCycle,
	}
	return h
}

type rootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type statusResponse struct {
	TwitterUsers []string `json:"twitter_users"`
	TwitchUsers  []string `json:"twitch_users"`
	LastChecked  string   `json:"last_checked"`
	LastCycle    string   `json:"last_cycle,omitempty"`
}

// HandleRoot reports that the bot process is up.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{Status: "Running", Message: "Twitter/Twitch Bot is Active!"})
}

// HandleStatus lists the watched accounts and the current UTC time. last_cycle
// is omitted until the scheduler has completed a cycle.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		TwitterUsers: h.twitterUsers,
		TwitchUsers:  h.twitchUsers,
		LastChecked:  h.now().UTC().Format(lastCheckedLayout),
	}
	if h.lastCycle != nil {
		if t := h.lastCycle(); !t.IsZero() {
			resp.LastCycle = t.UTC().Format(lastCheckedLayout)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
