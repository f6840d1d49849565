// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Credentials are not validated here; a missing one surfaces later as an auth failure.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Seen store backends.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Member is one clan member with an identity on each platform.
type Member struct {
	Name    string `yaml:"name"`
	Twitch  string `yaml:"twitch"`
	Twitter string `yaml:"twitter"`
}

// DefaultRoster is used when CLAN_ROSTER_FILE is unset.
var DefaultRoster = []Member{
	{Name: "StableRonaldo", Twitch: "stableronaldo", Twitter: "StableRonaldo"},
	{Name: "Lacy", Twitch: "Lacy", Twitter: "LacyHimself"},
}

type Config struct {
	// Twitter (OAuth1 user context)
	TwitterAPIKey       string
	TwitterAPISecret    string
	TwitterAccessToken  string
	TwitterAccessSecret string

	// Twitch (app access token)
	TwitchClientID       string
	TwitchClientSecret   string
	TokenRefreshInterval time.Duration

	// Roster
	Roster []Member

	// Scheduler
	Cooldown          time.Duration
	CooldownStep      time.Duration
	RateLimitFallback time.Duration

	// Seen cache
	SeenStore     string
	SeenCacheFile string
	SeenStoreDSN  string

	// Status server
	StatusServer bool
	Port         int
}

// Load reads environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitterAPIKey = os.Getenv("TWITTER_API_KEY")
	cfg.TwitterAPISecret = os.Getenv("TWITTER_API_SECRET")
	cfg.TwitterAccessToken = os.Getenv("TWITTER_ACCESS_TOKEN")
	cfg.TwitterAccessSecret = os.Getenv("TWITTER_ACCESS_SECRET")

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	var err error
	if cfg.TokenRefreshInterval, err = envDuration("TOKEN_REFRESH_INTERVAL", 55*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Cooldown, err = envDuration("POLL_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CooldownStep, err = envDuration("COOLDOWN_STEP", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitFallback, err = envDuration("RATE_LIMIT_FALLBACK", time.Minute); err != nil {
		return nil, err
	}

	cfg.Roster = DefaultRoster
	if path := os.Getenv("CLAN_ROSTER_FILE"); path != "" {
		roster, err := LoadRoster(path)
		if err != nil {
			return nil, err
		}
		cfg.Roster = roster
	}

	cfg.SeenStore = strings.ToLower(os.Getenv("SEEN_STORE"))
	if cfg.SeenStore == "" {
		cfg.SeenStore = StoreFile
	}
	switch cfg.SeenStore {
	case StoreFile, StoreSQLite, StorePostgres:
	default:
		return nil, fmt.Errorf("invalid SEEN_STORE %q (want file, sqlite or postgres)", cfg.SeenStore)
	}
	cfg.SeenCacheFile = os.Getenv("SEEN_CACHE_FILE")
	if cfg.SeenCacheFile == "" {
		cfg.SeenCacheFile = "retweeted_cache.json"
	}
	cfg.SeenStoreDSN = os.Getenv("SEEN_STORE_DSN")
	if cfg.SeenStore != StoreFile && cfg.SeenStoreDSN == "" {
		return nil, fmt.Errorf("SEEN_STORE=%s requires SEEN_STORE_DSN", cfg.SeenStore)
	}

	cfg.StatusServer = os.Getenv("STATUS_SERVER") == "1" || strings.EqualFold(os.Getenv("STATUS_SERVER"), "true")
	cfg.Port = 8000
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = p
	}

	return cfg, nil
}

// TwitchChannels returns the tracked Twitch logins in roster order.
func (c *Config) TwitchChannels() []string {
	out := make([]string, 0, len(c.Roster))
	for _, m := range c.Roster {
		if m.Twitch != "" {
			out = append(out, m.Twitch)
		}
	}
	return out
}

// TwitterHandles returns the tracked Twitter handles in roster order.
func (c *Config) TwitterHandles() []string {
	out := make([]string, 0, len(c.Roster))
	for _, m := range c.Roster {
		if m.Twitter != "" {
			out = append(out, m.Twitter)
		}
	}
	return out
}

// LoadRoster reads a YAML roster file of the form:
//
//	members:
//	  - name: Lacy
//	    twitch: Lacy
//	    twitter: LacyHimself
func LoadRoster(path string) ([]Member, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var doc struct {
		Members []Member `yaml:"members"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	if len(doc.Members) == 0 {
		return nil, errors.New("roster has no members")
	}
	for i, m := range doc.Members {
		if m.Twitch == "" && m.Twitter == "" {
			return nil, fmt.Errorf("roster member %d (%q) has neither twitch nor twitter", i, m.Name)
		}
	}
	return doc.Members, nil
}

// envDuration accepts Go duration strings ("5m") or bare seconds ("300").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid %s: negative", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative", key)
	}
	return d, nil
}
