// Package cli holds the scorekeeper cobra commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/park285/scorekeeper/internal/config"
)

type app struct {
	cfg *config.AppConfig

	outMu sync.Mutex
	out   io.Writer

	// flag overrides, applied over env after config.Load
	serverURL   string
	userID      string
	redisURL    string
	databaseURL string
	dbDriver    string
	httpAddr    string
}

// NewRootCommand builds the command tree. Output goes to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "scorekeeper",
		Short:         "Live score tracking for pool and ping-pong games",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.serverURL, "url", "", "scorekeeper server URL (SCOREKEEPER_URL)")
	pf.StringVar(&a.userID, "user", "", "acting user id (SCOREKEEPER_USER_ID)")

	root.AddCommand(
		a.serveCommand(),
		a.migrateCommand(),
		a.watchCommand(),
		a.newCommand(),
		a.scoreCommand(),
		a.breakerCommand(),
		a.ruleCommand(),
		a.unwatchCommand(),
		a.cancelCommand(),
		a.saveCommand(),
		a.saveAllCommand(),
		a.recentCommand(),
		a.editScoreCommand(),
		a.deleteScoreCommand(),
		a.checkCommand(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ServerURL, strings.TrimRight(a.serverURL, "/"))
	set(&cfg.UserID, a.userID)
	set(&cfg.RedisURL, a.redisURL)
	set(&cfg.DatabaseURL, a.databaseURL)
	set(&cfg.HTTPAddr, a.httpAddr)
	if v := strings.TrimSpace(a.dbDriver); v != "" {
		d, err := config.ParseDriver(v)
		if err != nil {
			return fmt.Errorf("--db-driver: %w", err)
		}
		cfg.DatabaseDriver = d
	}
	a.cfg = cfg
	return nil
}

// printf is called from registry goroutines too.
func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, out io.Writer, args []string) error {
	root := NewRootCommand(out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
