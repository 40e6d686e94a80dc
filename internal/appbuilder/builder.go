// Package appbuilder wires the stores, the gateway and the HTTP server from config.
package appbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/config"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/msgcat"
	"github.com/park285/scorekeeper/internal/notify"
	"github.com/park285/scorekeeper/internal/remote"
	"github.com/park285/scorekeeper/internal/scorestore"
	"github.com/park285/scorekeeper/internal/server"
)

// ErrNoDatabase is returned by OpenScores when the memory driver is configured.
var ErrNoDatabase = errors.New("the memory driver has no score database")

// Deps is everything the serve command runs on. DB is nil with the memory driver.
type Deps struct {
	Redis   *redis.Client
	DB      *sql.DB
	Bus     *feed.Bus
	Live    *livestore.Store
	Scores  scorestore.Repository
	Gateway *gateway.Local
}

// New connects to Redis and the score database, applies the schema and builds the
// in-process gateway.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}

	rdb, err := livestore.Dial(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	var (
		db     *sql.DB
		scores scorestore.Repository
	)
	if cfg.DatabaseDriver == config.DriverMemory {
		scores = scorestore.NewMemoryRepository()
		logger.Warn("scores_in_memory", zap.String("hint", "saved scores are lost when the server stops"))
	} else {
		db, err = OpenScores(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		scores = scorestore.NewRepository(db)
	}

	bus := feed.NewBus(rdb)
	live := livestore.New(rdb, bus, livestore.WithTTL(cfg.LiveGameTTL))
	gw := gateway.NewLocal(live, scores, bus,
		gateway.WithAllowedKinds(cfg.AllowedKinds),
		gateway.WithIDs(uuid.NewString),
	)
	logger.Info("deps_ready",
		zap.String("db_driver", cfg.DatabaseDriver),
		zap.Duration("live_ttl", cfg.LiveGameTTL),
		zap.Int("allowed_kinds", len(cfg.AllowedKinds)),
	)
	return &Deps{Redis: rdb, DB: db, Bus: bus, Live: live, Scores: scores, Gateway: gw}, nil
}

// OpenScores opens the score database and brings its schema up to date.
func OpenScores(ctx context.Context, cfg *config.AppConfig) (*sql.DB, error) {
	if cfg.DatabaseDriver == config.DriverMemory {
		return nil, ErrNoDatabase
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the score store")
	}
	db, err := scorestore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := scorestore.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Server builds the HTTP server with health checks for both stores.
func (d *Deps) Server(logger *zap.Logger) *server.Server {
	opts := []server.Option{
		server.WithHealthCheck(func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() }),
	}
	if d.DB != nil {
		opts = append(opts, server.WithHealthCheck(d.DB.PingContext))
	}
	return server.New(d.Gateway, logger, opts...)
}

func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	err := d.Redis.Close()
	if d.DB != nil {
		err = multierr.Append(err, d.DB.Close())
	}
	return err
}

// Remote builds the client side gateway from SCOREKEEPER_URL.
func Remote(cfg *config.AppConfig, logger *zap.Logger, opts ...remote.Option) (*remote.Client, error) {
	if err := cfg.RequireClient(); err != nil {
		return nil, err
	}
	all := append([]remote.Option{remote.WithLogger(logger)}, opts...)
	return remote.NewClient(cfg.ServerURL, cfg.FeedURL(), all...), nil
}

// Notifier renders notices with the message catalog and hands the text to sink.
func Notifier(cfg *config.AppConfig, sink notify.Sink, logger *zap.Logger) (notify.Notifier, *msgcat.Catalog, error) {
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	return notify.NewCatalogNotifier(cat, sink, logger), cat, nil
}
