package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/scorekeeper/internal/appbuilder"
	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/obslog"
	"github.com/park285/scorekeeper/internal/registry"
	"github.com/park285/scorekeeper/internal/remote"
	"github.com/park285/scorekeeper/internal/scorestore"
)

func (a *app) watchCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watch [game-id...]",
		Short: "Show the live board and follow changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, func(ctx context.Context, s *session) error {
				for _, id := range args {
					if _, err := s.reg.Watch(ctx, id); err != nil {
						return err
					}
				}
				a.printf("%s\n", renderBoard(s.cat, s.reg.Games()))
				if once {
					return nil
				}
				s.reg.OnChange(func(snap registry.Snapshot) {
					a.printf("\n%s\n", renderBoard(s.cat, snap.Games))
				})
				s.reg.SetVisible(true)
				<-ctx.Done()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the board once and exit")
	return cmd
}

func (a *app) newCommand() *cobra.Command {
	var (
		kind, oppName, oppID, rule, first, name string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a live game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := livegame.CreateRequest{CreatorName: name}
			if k, ok := livegame.ParseKind(kind); ok {
				req.Kind = k
			} else if strings.TrimSpace(kind) != "" {
				req.Kind = livegame.GameKind(kind)
			}
			switch {
			case oppID != "":
				req.Opponent = livegame.User(oppID, oppName)
			case oppName != "":
				req.Opponent = livegame.Guest(oppName)
			}
			if req.Kind.TracksBreaks() {
				req.Pool = &livegame.PoolConfig{FirstBreaker: breakrule.ParseFirstBreakerChoice(first)}
				if rule != "" {
					r, err := breakrule.ParseRule(rule)
					if err != nil {
						return err
					}
					req.Pool.BreakRule = r
				}
			}
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				g, err := s.reg.Create(ctx, req)
				if err != nil {
					return err
				}
				a.printf("%s\n", g.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "pool or pingpong")
	f.StringVar(&oppName, "opponent-name", "", "guest opponent name")
	f.StringVar(&oppID, "opponent-id", "", "registered opponent id")
	f.StringVar(&rule, "break-rule", "", "alternate or winner-stays (pool)")
	f.StringVar(&first, "first-breaker", "random", "side1, side2 or random (pool)")
	f.StringVar(&name, "name", "", "your display name")
	return cmd
}

func (a *app) scoreCommand() *cobra.Command {
	var (
		undo bool
		next string
	)
	cmd := &cobra.Command{
		Use:   "score <game-id> <side1|side2>",
		Short: "Add a point, or take one back with --undo",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := breakrule.ParseSide(args[1])
			if err != nil {
				return err
			}
			nextBreaker := breakrule.SideNone
			if next != "" {
				if !undo {
					return fmt.Errorf("--next-breaker only applies with --undo")
				}
				if nextBreaker, err = breakrule.ParseSide(next); err != nil {
					return fmt.Errorf("--next-breaker: %w", err)
				}
			}
			delta := livegame.Increment
			if undo {
				delta = livegame.Decrement
			}
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				if err := s.require(args[0]); err != nil {
					return err
				}
				c, err := s.reg.ApplyScoreDelta(args[0], side, delta)
				if err != nil {
					return err
				}
				a.printf("%d - %d\n", c.Score.A, c.Score.B)
				if !c.BreakerIndeterminate {
					return nil
				}
				// the pending prompt lives only in this process
				if nextBreaker == breakrule.SideNone {
					a.printf("next breaker unknown: run `breaker %s <side1|side2>`\n", args[0])
					return nil
				}
				return s.reg.ChangeBreakerSide(args[0], nextBreaker)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "remove a point instead")
	cmd.Flags().StringVar(&next, "next-breaker", "", "with --undo under winner-stays: who breaks next (side1 or side2)")
	return cmd
}

func (a *app) breakerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "breaker <game-id> <side1|side2>",
		Short: "Set who breaks next",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := breakrule.ParseSide(args[1])
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				if err := s.require(args[0]); err != nil {
					return err
				}
				return s.reg.ChangeBreakerSide(args[0], side)
			})
		},
	}
}

func (a *app) ruleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rule <game-id> <alternate|winner-stays>",
		Short: "Change the break rule of a pool game",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := breakrule.ParseRule(args[1])
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				if err := s.require(args[0]); err != nil {
					return err
				}
				return s.reg.ChangeBreakRule(args[0], rule)
			})
		},
	}
}

func (a *app) unwatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch <game-id>",
		Short: "Stop watching a game you do not play in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				return s.reg.Unwatch(ctx, args[0])
			})
		},
	}
}

func (a *app) cancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <game-id>",
		Short: "Discard a live game without saving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				return s.reg.Cancel(ctx, args[0])
			})
		},
	}
}

func (a *app) saveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <game-id>",
		Short: "Save a live game as a permanent score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				c, err := s.reg.Save(ctx, args[0])
				if err != nil {
					return err
				}
				a.printf("score %s\n", c.PublicID)
				return nil
			})
		},
	}
}

func (a *app) saveAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save-all",
		Short: "Save every live game you started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), func(ctx context.Context, s *session) error {
				_, err := s.reg.SaveAll(ctx)
				return err
			})
		},
	}
}

func (a *app) recentCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List your most recent saved scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.remoteOnly()
			if err != nil {
				return err
			}
			scores, err := client.RecentScores(cmd.Context(), a.cfg.UserID, limit)
			if err != nil {
				return err
			}
			for _, sc := range scores {
				opp := sc.OpponentName
				if opp == "" {
					opp = sc.OpponentID
				}
				a.printf("%d  %s  %s  %s %d - %d %s\n", sc.ID, sc.Date.Format("2006-01-02"), sc.Kind.Label(), sc.CreatorID, sc.Score.A, sc.Score.B, opp)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "how many scores to show")
	return cmd
}

func parseScoreID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("score id %q is not a positive number", raw)
	}
	return id, nil
}

func (a *app) editScoreCommand() *cobra.Command {
	var (
		side1, side2 int
		date         string
	)
	cmd := &cobra.Command{
		Use:   "edit-score <score-id>",
		Short: "Correct the result or date of a saved score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScoreID(args[0])
			if err != nil {
				return err
			}
			var e scorestore.Edit
			f := cmd.Flags()
			if f.Changed("side1") || f.Changed("side2") {
				e.Score = &livegame.Score{A: side1, B: side2}
			}
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				e.Date = &d
			}
			if e.Score == nil && e.Date == nil {
				return fmt.Errorf("nothing to change: set --side1/--side2 or --date")
			}
			client, err := a.remoteOnly()
			if err != nil {
				return err
			}
			sc, err := client.EditScore(cmd.Context(), a.cfg.UserID, id, e)
			if err != nil {
				return err
			}
			a.printf("%d  %s  %d - %d\n", sc.ID, sc.Date.Format("2006-01-02"), sc.Score.A, sc.Score.B)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&side1, "side1", 0, "your racks or points")
	f.IntVar(&side2, "side2", 0, "opponent racks or points")
	f.StringVar(&date, "date", "", "game date, YYYY-MM-DD")
	return cmd
}

func (a *app) deleteScoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-score <score-id>",
		Short: "Delete a saved score you recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScoreID(args[0])
			if err != nil {
				return err
			}
			client, err := a.remoteOnly()
			if err != nil {
				return err
			}
			return client.DeleteScore(cmd.Context(), a.cfg.UserID, id)
		},
	}
}

// checkCommand calls the server's health endpoint and opens its feed.
func (a *app) checkCommand() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the server and its feed are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.remoteOnly()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := client.Health(ctx); err != nil {
				a.printf("/healthz error: %v\n", err)
				return err
			}
			a.printf("/healthz ok\n")

			unsub, err := client.SubscribeToLiveGameChanges(ctx, a.cfg.UserID, func(ev feed.Event) {
				a.printf("feed %s %s\n", ev.Type, ev.GameID)
			})
			if err != nil {
				a.printf("feed error: %v\n", err)
				return err
			}
			a.printf("feed ok\n")
			if window > 0 {
				t := time.NewTimer(window)
				select {
				case <-t.C:
				case <-cmd.Context().Done():
					t.Stop()
				}
			}
			unsub()
			return nil
		},
	}
	cmd.Flags().DurationVar(&window, "observe", 0, "keep the feed open this long and print events")
	return cmd
}

// remoteOnly is for commands that talk to the server without a registry.
func (a *app) remoteOnly() (*remote.Client, error) {
	return appbuilder.Remote(a.cfg, obslog.Named("cli"))
}
