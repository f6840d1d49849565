package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"POLL_COOLDOWN", "COOLDOWN_STEP", "TOKEN_REFRESH_INTERVAL", "RATE_LIMIT_FALLBACK",
		"SEEN_STORE", "SEEN_CACHE_FILE", "SEEN_STORE_DSN", "CLAN_ROSTER_FILE", "STATUS_SERVER", "PORT"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Cooldown != 5*time.Minute || cfg.CooldownStep != 5*time.Minute {
		t.Errorf("cooldown = %v step = %v, want 5m/5m", cfg.Cooldown, cfg.CooldownStep)
	}
	if cfg.TokenRefreshInterval != 55*time.Minute {
		t.Errorf("TokenRefreshInterval = %v, want 55m", cfg.TokenRefreshInterval)
	}
	if cfg.SeenStore != StoreFile || cfg.SeenCacheFile != "retweeted_cache.json" {
		t.Errorf("seen store = %q file = %q", cfg.SeenStore, cfg.SeenCacheFile)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.StatusServer {
		t.Error("status server should default off")
	}
	if got := cfg.TwitchChannels(); len(got) != 2 || got[0] != "stableronaldo" || got[1] != "Lacy" {
		t.Errorf("TwitchChannels() = %v", got)
	}
	if got := cfg.TwitterHandles(); len(got) != 2 || got[0] != "StableRonaldo" || got[1] != "LacyHimself" {
		t.Errorf("TwitterHandles() = %v", got)
	}
}

func TestLoadMissingCredentialsIsNotAnError(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITTER_API_KEY", "")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() should not validate credentials, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_COOLDOWN", "300")
	t.Setenv("COOLDOWN_STEP", "10m")
	t.Setenv("PORT", "9090")
	t.Setenv("STATUS_SERVER", "1")
	t.Setenv("SEEN_STORE", "sqlite")
	t.Setenv("SEEN_STORE_DSN", "file:seen.db")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Cooldown != 300*time.Second {
		t.Errorf("Cooldown = %v, want 300s", cfg.Cooldown)
	}
	if cfg.CooldownStep != 10*time.Minute {
		t.Errorf("CooldownStep = %v, want 10m", cfg.CooldownStep)
	}
	if cfg.Port != 9090 || !cfg.StatusServer {
		t.Errorf("Port = %d StatusServer = %v", cfg.Port, cfg.StatusServer)
	}
	if cfg.SeenStore != StoreSQLite {
		t.Errorf("SeenStore = %q", cfg.SeenStore)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "abc"},
		{"POLL_COOLDOWN", "soon"},
		{"SEEN_STORE", "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadSQLStoreRequiresDSN(t *testing.T) {
	t.Setenv("SEEN_STORE", "postgres")
	t.Setenv("SEEN_STORE_DSN", "")
	if _, err := Load(); err == nil {
		t.Error("expected error when SEEN_STORE_DSN is missing")
	}
}

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	doc := "members:\n  - name: Lacy\n    twitch: Lacy\n    twitter: LacyHimself\n  - name: Solo\n    twitter: SoloOnX\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLAN_ROSTER_FILE", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Roster) != 2 {
		t.Fatalf("roster size = %d, want 2", len(cfg.Roster))
	}
	if got := cfg.TwitchChannels(); len(got) != 1 || got[0] != "Lacy" {
		t.Errorf("TwitchChannels() = %v", got)
	}
	if got := cfg.TwitterHandles(); len(got) != 2 || got[1] != "SoloOnX" {
		t.Errorf("TwitterHandles() = %v", got)
	}
}

func TestLoadRosterRejectsEmptyMember(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	if err := os.WriteFile(path, []byte("members:\n  - name: nobody\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRoster(path); err == nil {
		t.Error("expected error for member without identities")
	}
	if _, err := LoadRoster(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
