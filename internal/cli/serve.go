package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/scorekeeper/internal/appbuilder"
	"github.com/park285/scorekeeper/internal/obslog"
)

func (a *app) serverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&a.redisURL, "redis-url", "", "Redis URL for live games (REDIS_URL)")
	f.StringVar(&a.databaseURL, "database-url", "", "score database DSN (DATABASE_URL)")
	f.StringVar(&a.dbDriver, "db-driver", "", "postgres, sqlite3 or memory (DATABASE_DRIVER)")
}

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	a.serverFlags(cmd)
	cmd.Flags().StringVar(&a.httpAddr, "addr", "", "listen address (HTTP_ADDR)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	logger := obslog.Named("serve")
	deps, err := appbuilder.New(ctx, a.cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("deps_close_error", zap.Error(err))
		}
	}()

	srv := deps.Server(obslog.Named("http"))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, a.cfg.HTTPAddr) })
	g.Go(func() error {
		// redis liveness
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				pctx, cancel := context.WithTimeout(gctx, 3*time.Second)
				if err := deps.Redis.Ping(pctx).Err(); err != nil {
					logger.Warn("redis_ping_failed", zap.Error(err))
				}
				cancel()
			}
		}
	})
	logger.Info("serve_start", zap.String("addr", a.cfg.HTTPAddr))
	return g.Wait()
}

func (a *app) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the score tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := appbuilder.OpenScores(cmd.Context(), a.cfg)
			if errors.Is(err, appbuilder.ErrNoDatabase) {
				a.printf("nothing to migrate (%s)\n", a.cfg.DatabaseDriver)
				return nil
			}
			if err != nil {
				return err
			}
			defer db.Close()
			a.printf("schema up to date (%s)\n", a.cfg.DatabaseDriver)
			return nil
		},
	}
	a.serverFlags(cmd)
	return cmd
}
