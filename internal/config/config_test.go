package config

import (
	"testing"
	"time"

	"github.com/park285/scorekeeper/internal/livegame"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"REDIS_URL", "DATABASE_URL", "DATABASE_DRIVER", "HTTP_ADDR", "SCOREKEEPER_URL",
		"SCOREKEEPER_WS_URL", "SCOREKEEPER_USER_ID", "POLL_INTERVAL_SEC", "LIVE_GAME_TTL_HOURS", "ALLOWED_KINDS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseDriver != DriverPostgres || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PollInterval != 30*time.Second || cfg.LiveGameTTL != 24*time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.PollInterval, cfg.LiveGameTTL)
	}
	if err := cfg.RequireServer(); err == nil {
		t.Fatalf("expected missing REDIS_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("POLL_INTERVAL_SEC", "5")
	t.Setenv("LIVE_GAME_TTL_HOURS", "nope")
	t.Setenv("ALLOWED_KINDS", "Pool, ping-pong")
	t.Setenv("SCOREKEEPER_URL", "https://scores.example.com/")
	t.Setenv("SCOREKEEPER_WS_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseDriver != DriverSQLite || cfg.PollInterval != 5*time.Second || cfg.LiveGameTTL != 24*time.Hour {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if len(cfg.AllowedKinds) != 2 || cfg.AllowedKinds[0] != livegame.Pool || cfg.AllowedKinds[1] != livegame.PingPong {
		t.Fatalf("kinds = %v", cfg.AllowedKinds)
	}
	if got := cfg.FeedURL(); got != "wss://scores.example.com/feed" {
		t.Fatalf("FeedURL = %q", got)
	}

	t.Setenv("ALLOWED_KINDS", "darts")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestMemoryDriverNeedsNoDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DatabaseDriver != DriverMemory {
		t.Fatalf("driver = %q", cfg.DatabaseDriver)
	}
	if err := cfg.RequireServer(); err != nil {
		t.Fatalf("RequireServer: %v", err)
	}

	cfg.DatabaseDriver = DriverSQLite
	if err := cfg.RequireServer(); err == nil {
		t.Fatalf("sqlite without DATABASE_URL accepted")
	}
	if _, err := ParseDriver("oracle"); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}
