package livegame

import (
	"errors"
	"fmt"

	"github.com/park285/scorekeeper/internal/breakrule"
)

var (
	ErrInvalidSide  = errors.New("invalid side")
	ErrInvalidDelta = errors.New("score delta must be +1 or -1")
	ErrNotPoolGame  = errors.New("game has no pool settings")
	ErrInvalidRule  = errors.New("invalid break rule")
)

// Delta is a single-point score change.
type Delta int

const (
	Increment Delta = 1
	Decrement Delta = -1
)

// ScoreChange describes what a score delta does to a game without doing it.
type ScoreChange struct {
	Score Score
	Pool  *PoolPatch
	// BreakerIndeterminate is set when the next breaker cannot be derived
	// (winner-stays decrement); an operator has to choose it.
	BreakerIndeterminate bool
	// Changed is false for a decrement on a side already at zero.
	Changed bool
}

// ApplyScoreDelta validates a delta against g and returns the resulting change.
// g is not modified.
func (g LiveGame) ApplyScoreDelta(side breakrule.Side, delta Delta) (ScoreChange, error) {
	if !side.Valid() {
		return ScoreChange{}, ErrInvalidSide
	}
	if delta != Increment && delta != Decrement {
		return ScoreChange{}, ErrInvalidDelta
	}

	next := g.Score.Of(side) + int(delta)
	if next < 0 {
		return ScoreChange{Score: g.Score}, nil
	}
	score := g.Score.With(side, next)
	change := ScoreChange{Score: score, Changed: true}

	if !g.Kind.TracksBreaks() || g.Pool == nil {
		return change, nil
	}

	racks := score.Racks()
	if delta == Increment {
		breaker := breakrule.AfterWin(g.Pool.BreakRule, g.Pool.FirstBreaker, side, racks)
		winner := side
		change.Pool = &PoolPatch{CurrentBreaker: &breaker, LastRackWinner: &winner}
		return change, nil
	}

	none := breakrule.SideNone
	change.Pool = &PoolPatch{LastRackWinner: &none}
	if breaker, ok := breakrule.AfterUndo(g.Pool.BreakRule, g.Pool.FirstBreaker, racks); ok {
		change.Pool.CurrentBreaker = &breaker
	} else {
		change.BreakerIndeterminate = true
	}
	return change, nil
}

// ChangeBreakRule switches the break rule. Switching into Alternate re-derives the
// breaker from the rack count; switching into WinnerStays keeps whoever is marked.
func (g LiveGame) ChangeBreakRule(rule breakrule.Rule) (PoolPatch, error) {
	if g.Pool == nil {
		return PoolPatch{}, ErrNotPoolGame
	}
	if !rule.Valid() {
		return PoolPatch{}, ErrInvalidRule
	}
	patch := PoolPatch{BreakRule: &rule}
	if rule == breakrule.Alternate {
		breaker := breakrule.AlternateBreakerForRackCount(g.Pool.FirstBreaker, g.Score.Racks())
		patch.CurrentBreaker = &breaker
	}
	return patch, nil
}

// ChangeBreakerSide is a manual override and is allowed under either rule.
func (g LiveGame) ChangeBreakerSide(side breakrule.Side) (PoolPatch, error) {
	if g.Pool == nil {
		return PoolPatch{}, ErrNotPoolGame
	}
	if !side.Valid() {
		return PoolPatch{}, ErrInvalidSide
	}
	return PoolPatch{CurrentBreaker: &side}, nil
}

// Apply returns a copy of g with the change applied.
func (g LiveGame) Apply(c ScoreChange) LiveGame {
	out := g.Clone()
	if !c.Changed {
		return out
	}
	out.Score = c.Score
	return out.ApplyPool(c.Pool)
}

// ApplyPool returns a copy of g with the pool patch applied.
func (g LiveGame) ApplyPool(p *PoolPatch) LiveGame {
	out := g.Clone()
	if out.Pool != nil && !p.IsEmpty() {
		ps := p.ApplyTo(*out.Pool)
		out.Pool = &ps
	}
	return out
}

// CheckScore enforces the non-negative score invariant for absolute writes.
func CheckScore(s Score) error {
	if s.A < 0 || s.B < 0 {
		return &ValidationError{Field: "score", Reason: fmt.Sprintf("scores must not be negative (%d-%d)", s.A, s.B)}
	}
	return nil
}

// CheckPatch validates enum values in a pool patch.
func CheckPatch(p *PoolPatch) error {
	if p == nil {
		return nil
	}
	if p.BreakRule != nil && !p.BreakRule.Valid() {
		return &ValidationError{Field: "break_rule", Reason: "unknown break rule"}
	}
	if p.CurrentBreaker != nil && !p.CurrentBreaker.Valid() {
		return &ValidationError{Field: "current_breaker_side", Reason: "unknown side"}
	}
	if p.LastRackWinner != nil && *p.LastRackWinner != breakrule.SideNone && !p.LastRackWinner.Valid() {
		return &ValidationError{Field: "last_rack_winner_side", Reason: "unknown side"}
	}
	return nil
}
