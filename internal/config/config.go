package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/scorekeeper/internal/livegame"
)

type AppConfig struct {
	RedisURL       string
	DatabaseURL    string
	DatabaseDriver string

	HTTPAddr string

	ServerURL   string
	ServerWSURL string
	UserID      string

	PollInterval time.Duration
	LiveGameTTL  time.Duration

	MessagesDir  string
	AllowedKinds []livegame.GameKind
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	// DriverMemory keeps saved scores in process memory; they are lost on exit.
	DriverMemory = "memory"
)

// ParseDriver maps the accepted spellings of a score database driver to its
// canonical name.
func ParseDriver(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "memory", "mem":
		return DriverMemory, nil
	}
	return "", fmt.Errorf("database driver %q is not supported", v)
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		DatabaseDriver: DriverPostgres,
		HTTPAddr:       ":8080",
		PollInterval:   30 * time.Second,
		LiveGameTTL:    24 * time.Hour,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("DATABASE_DRIVER")); v != "" {
		d, err := ParseDriver(v)
		if err != nil {
			return nil, fmt.Errorf("DATABASE_DRIVER: %w", err)
		}
		cfg.DatabaseDriver = d
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}

	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(os.Getenv("SCOREKEEPER_URL")), "/")
	cfg.ServerWSURL = strings.TrimSpace(os.Getenv("SCOREKEEPER_WS_URL"))
	cfg.UserID = strings.TrimSpace(os.Getenv("SCOREKEEPER_USER_ID"))

	if v := strings.TrimSpace(os.Getenv("POLL_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("LIVE_GAME_TTL_HOURS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LiveGameTTL = time.Duration(n) * time.Hour
		}
	}

	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_KINDS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s == "" {
				continue
			}
			k, ok := livegame.ParseKind(s)
			if !ok {
				return nil, fmt.Errorf("ALLOWED_KINDS: unknown game kind %q", s)
			}
			cfg.AllowedKinds = append(cfg.AllowedKinds, k)
		}
	}

	return cfg, nil
}

// RequireServer checks the settings `serve` and `migrate` cannot run without.
func (c *AppConfig) RequireServer() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.DatabaseURL == "" && c.DatabaseDriver != DriverMemory {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireClient checks the settings of commands that talk to a running server.
func (c *AppConfig) RequireClient() error {
	if c.ServerURL == "" {
		return errors.New("SCOREKEEPER_URL is required")
	}
	if c.UserID == "" {
		return errors.New("SCOREKEEPER_USER_ID is required")
	}
	return nil
}

// FeedURL returns the websocket feed endpoint, derived from ServerURL when unset.
func (c *AppConfig) FeedURL() string {
	if c.ServerWSURL != "" {
		return c.ServerWSURL
	}
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://") + "/feed"
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://") + "/feed"
	}
	return ""
}
