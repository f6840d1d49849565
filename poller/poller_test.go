package poller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/clanwatch/apierr"
	"github.com/onnwee/clanwatch/twitchapi"
	"github.com/onnwee/clanwatch/twitterapi"
)

// fakeTwitter implements Timeline and Publisher.
type fakeTwitter struct {
	mu        sync.Mutex
	users     map[string]string // handle -> id
	latest    map[string]*twitterapi.Tweet
	lookupErr map[string]error
	postErr   []error // consumed in order per PostStatus call

	retweets []string
	posts    []string
}

func (f *fakeTwitter) LookupUser(_ context.Context, handle string) (*twitterapi.User, error) {
	if err := f.lookupErr[handle]; err != nil {
		return nil, err
	}
	id, ok := f.users[handle]
	if !ok {
		return nil, &apierr.NotFoundError{Resource: "twitter user " + handle}
	}
	return &twitterapi.User{ID: id, ScreenName: handle}, nil
}

func (f *fakeTwitter) LatestTweet(_ context.Context, userID string) (*twitterapi.Tweet, error) {
	return f.latest[userID], nil
}

func (f *fakeTwitter) Retweet(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retweets = append(f.retweets, id)
	return nil
}

func (f *fakeTwitter) PostStatus(_ context.Context, text string) (*twitterapi.Tweet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.postErr) > 0 {
		err := f.postErr[0]
		f.postErr = f.postErr[1:]
		if err != nil {
			return nil, err
		}
	}
	f.posts = append(f.posts, text)
	return &twitterapi.Tweet{ID: strconv.Itoa(len(f.posts)), Text: text}, nil
}

type memSeen struct {
	ids     map[string]bool
	addErr  error
	addCall int
}

func (m *memSeen) Contains(id string) bool { return m.ids[id] }
func (m *memSeen) Add(_ context.Context, id string) error {
	m.addCall++
	m.ids[id] = true
	return m.addErr
}

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func newReposter(tw *fakeTwitter, seen *memSeen, now time.Time, sl *recordingSleep, handles ...string) *Reposter {
	r := NewReposter(tw, seen, handles, &Backoff{Fallback: time.Minute, Sleep: sl.Sleep, Now: func() time.Time { return now }})
	r.Now = func() time.Time { return now }
	r.Sleep = sl.Sleep
	return r
}

func TestBackoffWaitDuration(t *testing.T) {
	now := time.Now()
	b := &Backoff{Fallback: 60 * time.Second}

	h := http.Header{}
	h.Set("x-rate-limit-reset", strconv.FormatInt(now.Add(42*time.Second).Unix(), 10))
	wait, ok := b.WaitDuration(apierr.NewRateLimitError("twitter", h, "x-rate-limit-reset"), now)
	if !ok {
		t.Fatal("expected rate limit")
	}
	if wait < 41*time.Second || wait > 43*time.Second {
		t.Errorf("wait = %v, want 42s +/- 1s", wait)
	}

	past := http.Header{}
	past.Set("Ratelimit-Reset", strconv.FormatInt(now.Add(-time.Hour).Unix(), 10))
	if wait, _ := b.WaitDuration(apierr.NewRateLimitError("twitch", past, "Ratelimit-Reset"), now); wait != 0 {
		t.Errorf("past reset wait = %v, want 0", wait)
	}

	if wait, ok := b.WaitDuration(&apierr.RateLimitError{Platform: "twitter"}, now); !ok || wait != 60*time.Second {
		t.Errorf("missing header wait = %v, %v; want 60s fallback", wait, ok)
	}

	if _, ok := b.WaitDuration(errors.New("boom"), now); ok {
		t.Error("plain error reported as rate limit")
	}
}

func TestBackoffHandleSleeps(t *testing.T) {
	sl := &recordingSleep{}
	now := time.Unix(1_700_000_000, 0)
	b := &Backoff{Sleep: sl.Sleep, Now: func() time.Time { return now }}
	err := &apierr.RateLimitError{Platform: "twitter", Reset: now.Add(30 * time.Second), HasReset: true}
	if !b.Handle(context.Background(), err) {
		t.Fatal("Handle() = false for rate limit")
	}
	if len(sl.waits) != 1 || sl.waits[0] != 30*time.Second {
		t.Errorf("waits = %v", sl.waits)
	}
	if b.Handle(context.Background(), errors.New("other")) {
		t.Error("Handle() = true for non rate limit")
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() = %v, want context.Canceled", err)
	}
}

func TestAnnouncement(t *testing.T) {
	got := Announcement(twitchapi.Stream{UserName: "Lacy", GameName: "Just Chatting"})
	want := "🚀 Lacy is now LIVE! Playing Just Chatting \nWatch: https://twitch.tv/Lacy"
	if got != want {
		t.Errorf("Announcement() = %q, want %q", got, want)
	}
	if !strings.Contains(got, "https://twitch.tv/Lacy") {
		t.Error("missing watch link")
	}
}

type fakeStreams struct {
	streams []twitchapi.Stream
	err     error
	logins  []string
}

func (f *fakeStreams) GetStreams(_ context.Context, logins ...string) ([]twitchapi.Stream, error) {
	f.logins = logins
	return f.streams, f.err
}

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh(context.Context) error { c.n++; return nil }

func TestCheckLiveStatusAnnouncesEachLiveChannel(t *testing.T) {
	streams := &fakeStreams{streams: []twitchapi.Stream{
		{UserLogin: "stableronaldo", UserName: "StableRonaldo", GameName: "Fortnite"},
		{UserLogin: "lacy", UserName: "Lacy", GameName: "Just Chatting"},
	}}
	tw := &fakeTwitter{postErr: []error{errors.New("duplicate status"), nil}}
	lc := &LiveChecker{Streams: streams, Publisher: tw, Channels: []string{"stableronaldo", "Lacy"}}

	if err := lc.CheckLiveStatus(context.Background()); err != nil {
		t.Fatalf("CheckLiveStatus() error = %v", err)
	}
	if strings.Join(streams.logins, ",") != "stableronaldo,Lacy" {
		t.Errorf("logins = %v", streams.logins)
	}
	if len(tw.posts) != 1 || !strings.Contains(tw.posts[0], "https://twitch.tv/Lacy") {
		t.Errorf("posts = %v, want only the Lacy announcement after first failure", tw.posts)
	}
}

func TestCheckLiveStatusRefreshesTokenOnReadError(t *testing.T) {
	ref := &countingRefresher{}
	tw := &fakeTwitter{}
	lc := &LiveChecker{
		Streams:   &fakeStreams{err: &apierr.AuthError{Op: "helix streams", StatusCode: 401}},
		Tokens:    ref,
		Publisher: tw,
	}
	if err := lc.CheckLiveStatus(context.Background()); err != nil {
		t.Fatalf("CheckLiveStatus() error = %v", err)
	}
	if ref.n != 1 {
		t.Errorf("refreshes = %d, want 1", ref.n)
	}
	if len(tw.posts) != 0 {
		t.Errorf("posts = %v, want none", tw.posts)
	}
}

func TestCheckLiveStatusRateLimitDropsRemaining(t *testing.T) {
	sl := &recordingSleep{}
	ref := &countingRefresher{}
	tw := &fakeTwitter{postErr: []error{&apierr.RateLimitError{Platform: "twitter"}}}
	lc := &LiveChecker{
		Streams: &fakeStreams{streams: []twitchapi.Stream{
			{UserLogin: "a", UserName: "A"}, {UserLogin: "b", UserName: "B"},
		}},
		Tokens:    ref,
		Publisher: tw,
		Backoff:   &Backoff{Fallback: 60 * time.Second, Sleep: sl.Sleep},
	}
	if err := lc.CheckLiveStatus(context.Background()); err != nil {
		t.Fatalf("CheckLiveStatus() error = %v", err)
	}
	if len(tw.posts) != 0 {
		t.Errorf("posts = %v, want none after rate limit", tw.posts)
	}
	if len(sl.waits) != 1 || sl.waits[0] != 60*time.Second {
		t.Errorf("waits = %v, want [60s]", sl.waits)
	}

	// a 429 from Twitch backs off instead of refreshing the token
	lc.Streams = &fakeStreams{err: &apierr.RateLimitError{Platform: "twitch"}}
	if err := lc.CheckLiveStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ref.n != 0 {
		t.Errorf("refreshes = %d, want 0 on rate limit", ref.n)
	}
}

func TestRepostIdempotent(t *testing.T) {
	now := time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)
	tw := &fakeTwitter{
		users:  map[string]string{"LacyHimself": "42"},
		latest: map[string]*twitterapi.Tweet{"42": {ID: "123", CreatedAt: now.Add(-time.Minute)}},
	}
	seen := &memSeen{ids: map[string]bool{"123": true}}
	r := newReposter(tw, seen, now, &recordingSleep{}, "LacyHimself")

	results, err := r.CheckAndRepost(context.Background())
	if err != nil {
		t.Fatalf("CheckAndRepost() error = %v", err)
	}
	if len(tw.retweets) != 0 || seen.addCall != 0 {
		t.Errorf("retweets = %v adds = %d, want none", tw.retweets, seen.addCall)
	}
	if len(seen.ids) != 1 {
		t.Errorf("seen set changed: %v", seen.ids)
	}
	if results[0].Outcome != OutcomeAlreadySeen {
		t.Errorf("outcome = %v, want already_seen", results[0].Outcome)
	}
}

func TestRepostFreshnessBoundary(t *testing.T) {
	now := time.Date(2024, 10, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		created time.Time
		want    Outcome
	}{
		{"exactly one hour", now.Add(-time.Hour), OutcomeStale},
		{"fifty nine minutes", now.Add(-59 * time.Minute), OutcomeReposted},
		{"older", now.Add(-2 * time.Hour), OutcomeStale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := &fakeTwitter{
				users:  map[string]string{"StableRonaldo": "7"},
				latest: map[string]*twitterapi.Tweet{"7": {ID: "555", CreatedAt: tt.created}},
			}
			seen := &memSeen{ids: map[string]bool{}}
			r := newReposter(tw, seen, now, &recordingSleep{}, "StableRonaldo")
			results, err := r.CheckAndRepost(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if results[0].Outcome != tt.want {
				t.Errorf("outcome = %v, want %v", results[0].Outcome, tt.want)
			}
			reposted := len(tw.retweets) == 1 && seen.ids["555"]
			if reposted != (tt.want == OutcomeReposted) {
				t.Errorf("retweets = %v seen = %v", tw.retweets, seen.ids)
			}
		})
	}
}

func TestRepostAlreadySeenWinsOverStale(t *testing.T) {
	now := time.Now()
	tw := &fakeTwitter{
		users:  map[string]string{"a": "1"},
		latest: map[string]*twitterapi.Tweet{"1": {ID: "9", CreatedAt: now.Add(-3 * time.Hour)}},
	}
	r := newReposter(tw, &memSeen{ids: map[string]bool{"9": true}}, now, &recordingSleep{}, "a")
	results, _ := r.CheckAndRepost(context.Background())
	if results[0].Outcome != OutcomeAlreadySeen {
		t.Errorf("outcome = %v, want already_seen", results[0].Outcome)
	}
}

func TestRepostPausesAndNotFound(t *testing.T) {
	now := time.Now()
	tw := &fakeTwitter{
		users: map[string]string{"fresh": "1", "empty": "2"},
		latest: map[string]*twitterapi.Tweet{
			"1": {ID: "100", CreatedAt: now.Add(-time.Minute)},
		},
	}
	sl := &recordingSleep{}
	r := newReposter(tw, &memSeen{ids: map[string]bool{}}, now, sl, "ghost", "fresh", "empty")
	results, err := r.CheckAndRepost(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []Outcome{OutcomeNotFound, OutcomeReposted, OutcomeNoPosts}
	for i, o := range want {
		if results[i].Outcome != o {
			t.Errorf("results[%d] = %v, want %v", i, results[i].Outcome, o)
		}
	}
	// not found: no pause; reposted: 5s + 10s; no posts: 10s
	wantWaits := []time.Duration{RepostPause, AccountPause, AccountPause}
	if len(sl.waits) != len(wantWaits) {
		t.Fatalf("waits = %v, want %v", sl.waits, wantWaits)
	}
	for i := range wantWaits {
		if sl.waits[i] != wantWaits[i] {
			t.Errorf("waits[%d] = %v, want %v", i, sl.waits[i], wantWaits[i])
		}
	}
}

func TestRepostRateLimitAbortsPass(t *testing.T) {
	now := time.Now()
	tw := &fakeTwitter{
		users:     map[string]string{"b": "2"},
		lookupErr: map[string]error{"a": &apierr.RateLimitError{Platform: "twitter", Reset: now.Add(42 * time.Second), HasReset: true}},
	}
	sl := &recordingSleep{}
	r := newReposter(tw, &memSeen{ids: map[string]bool{}}, now, sl, "a", "b")
	results, err := r.CheckAndRepost(context.Background())
	if err != nil {
		t.Fatalf("CheckAndRepost() error = %v, want nil", err)
	}
	if len(results) != 1 || results[0].Outcome != OutcomeFailed {
		t.Errorf("results = %+v, want only the rate-limited account", results)
	}
	if len(sl.waits) != 1 || sl.waits[0] != 42*time.Second {
		t.Errorf("waits = %v, want [42s]", sl.waits)
	}
}

func TestRepostPersistenceErrorPropagates(t *testing.T) {
	now := time.Now()
	tw := &fakeTwitter{
		users:  map[string]string{"a": "1", "b": "2"},
		latest: map[string]*twitterapi.Tweet{"1": {ID: "10", CreatedAt: now}},
	}
	seen := &memSeen{ids: map[string]bool{}, addErr: &apierr.PersistenceError{Op: "save", Err: errors.New("read-only fs")}}
	r := newReposter(tw, seen, now, &recordingSleep{}, "a", "b")
	_, err := r.CheckAndRepost(context.Background())
	if apierr.Classify(err) != apierr.ClassPersistence {
		t.Fatalf("error = %v, want persistence", err)
	}
	if !seen.ids["10"] {
		t.Error("id should stay recorded in memory")
	}
}

func TestRepostOtherErrorContinues(t *testing.T) {
	now := time.Now()
	tw := &fakeTwitter{
		users:     map[string]string{"b": "2"},
		lookupErr: map[string]error{"a": &apierr.NetworkError{Op: "twitter users/show", StatusCode: 500}},
		latest:    map[string]*twitterapi.Tweet{"2": {ID: "20", CreatedAt: now}},
	}
	r := newReposter(tw, &memSeen{ids: map[string]bool{}}, now, &recordingSleep{}, "a", "b")
	results, err := r.CheckAndRepost(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[1].Outcome != OutcomeReposted {
		t.Errorf("results = %+v", results)
	}
}
