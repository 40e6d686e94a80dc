package cli

import (
	"strings"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/msgcat"
	"github.com/park285/scorekeeper/internal/registry"
)

// renderBoard prints one line per game in board order, plus the game id so the
// other commands can address it.
func renderBoard(cat *msgcat.Catalog, views []registry.View) string {
	if len(views) == 0 {
		text, err := cat.Render("board.empty", nil)
		if err != nil {
			return "no live games"
		}
		return text
	}

	var b strings.Builder
	if header, err := cat.Render("board.header", map[string]any{"Count": len(views)}); err == nil {
		b.WriteString(header)
		b.WriteByte('\n')
	}
	for _, v := range views {
		g := v.Game
		breaker := ""
		if g.Pool != nil && g.Pool.CurrentBreaker.Valid() && !v.PendingBreaker {
			breaker = v.Labels.Of(g.Pool.CurrentBreaker)
		} else if v.PendingBreaker {
			breaker = "?"
		}
		row, err := cat.Render("board.row", map[string]any{
			"Kind":     g.Kind.Label(),
			"Side1":    v.Labels.Side1,
			"ScoreA":   g.Score.A,
			"ScoreB":   g.Score.B,
			"Side2":    v.Labels.Side2,
			"Breaker":  breaker,
			"Watching": v.Role == access.Spectator,
		})
		if err != nil {
			continue
		}
		b.WriteString(g.ID)
		b.WriteString("  ")
		b.WriteString(row)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
