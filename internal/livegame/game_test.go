package livegame

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/park285/scorekeeper/internal/breakrule"
)

func poolGame(rule breakrule.Rule, first breakrule.Side) LiveGame {
	return LiveGame{
		ID:        "g1",
		Kind:      Pool,
		CreatorID: "u1",
		Opponent:  User("u2", "Bob"),
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Pool:      &PoolState{BreakRule: rule, FirstBreaker: first, CurrentBreaker: first},
	}
}

func mustApply(t *testing.T, g LiveGame, side breakrule.Side, d Delta) (LiveGame, ScoreChange) {
	t.Helper()
	c, err := g.ApplyScoreDelta(side, d)
	if err != nil {
		t.Fatalf("ApplyScoreDelta(%s, %d): %v", side, d, err)
	}
	return g.Apply(c), c
}

func TestScoreNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, kind := range Kinds() {
		g := poolGame(breakrule.Alternate, breakrule.Side1)
		g.Kind = kind
		if !kind.TracksBreaks() {
			g.Pool = nil
		}
		for i := 0; i < 2000; i++ {
			side := breakrule.Side1
			if rng.Intn(2) == 0 {
				side = breakrule.Side2
			}
			d := Increment
			if rng.Intn(3) > 0 {
				d = Decrement
			}
			before := g.Clone()
			c, err := g.ApplyScoreDelta(side, d)
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			g = g.Apply(c)
			if g.Score.A < 0 || g.Score.B < 0 {
				t.Fatalf("step %d: negative score %+v", i, g.Score)
			}
			if before.Score.Of(side) == 0 && d == Decrement {
				if c.Changed || c.Pool != nil || g.Score != before.Score {
					t.Fatalf("step %d: decrement at zero changed state: %+v", i, c)
				}
				if before.Pool != nil && *g.Pool != *before.Pool {
					t.Fatalf("step %d: decrement at zero touched pool state", i)
				}
			}
		}
	}
}

func TestWinnerStaysIncrement(t *testing.T) {
	g := poolGame(breakrule.WinnerStays, breakrule.Side2)
	sides := []breakrule.Side{breakrule.Side1, breakrule.Side1, breakrule.Side2, breakrule.Side1, breakrule.Side2}
	for _, s := range sides {
		g, _ = mustApply(t, g, s, Increment)
		if g.Pool.CurrentBreaker != s || g.Pool.LastRackWinner != s {
			t.Fatalf("after %s won: breaker=%s last=%s", s, g.Pool.CurrentBreaker, g.Pool.LastRackWinner)
		}
	}
}

func TestAlternateRoundTrip(t *testing.T) {
	for _, first := range []breakrule.Side{breakrule.Side1, breakrule.Side2} {
		g := poolGame(breakrule.Alternate, first)
		for i := 0; i < 7; i++ {
			for _, side := range []breakrule.Side{breakrule.Side1, breakrule.Side2} {
				before := g.Pool.CurrentBreaker
				up, _ := mustApply(t, g, side, Increment)
				down, _ := mustApply(t, up, side, Decrement)
				if down.Pool.CurrentBreaker != before {
					t.Fatalf("first=%s racks=%d side=%s: breaker %s -> %s", first, g.Score.Racks(), side, before, down.Pool.CurrentBreaker)
				}
				if down.Pool.LastRackWinner != breakrule.SideNone {
					t.Fatalf("decrement must clear last rack winner")
				}
			}
			g, _ = mustApply(t, g, breakrule.Side1, Increment)
		}
	}
}

func TestScenarioAlternateRandomResolvedToSide1(t *testing.T) {
	heads := func() bool { return true }
	g, err := New(CreateRequest{
		Kind:      Pool,
		CreatorID: "u1",
		Opponent:  Guest("Sam"),
		Pool:      &PoolConfig{BreakRule: breakrule.Alternate, FirstBreaker: breakrule.ChooseRandom},
	}, "g1", time.Now(), heads)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.Pool.FirstBreaker != breakrule.Side1 || g.Pool.CurrentBreaker != breakrule.Side1 {
		t.Fatalf("random should resolve to side1: %+v", g.Pool)
	}

	g, _ = mustApply(t, g, breakrule.Side1, Increment)
	if g.Score != (Score{1, 0}) || g.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("1-0: got %+v breaker=%s", g.Score, g.Pool.CurrentBreaker)
	}
	g, _ = mustApply(t, g, breakrule.Side2, Increment)
	if g.Score != (Score{1, 1}) || g.Pool.CurrentBreaker != breakrule.Side1 {
		t.Fatalf("1-1: got %+v breaker=%s", g.Score, g.Pool.CurrentBreaker)
	}
	g, c := mustApply(t, g, breakrule.Side2, Decrement)
	if g.Score != (Score{1, 0}) || g.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("back to 1-0: got %+v breaker=%s", g.Score, g.Pool.CurrentBreaker)
	}
	if c.BreakerIndeterminate {
		t.Fatalf("alternate decrement must be derivable")
	}
}

func TestScenarioWinnerStaysDecrementNeedsChoice(t *testing.T) {
	g := poolGame(breakrule.WinnerStays, breakrule.Side2)
	g, _ = mustApply(t, g, breakrule.Side1, Increment)
	if g.Pool.CurrentBreaker != breakrule.Side1 {
		t.Fatalf("winner should break: %s", g.Pool.CurrentBreaker)
	}
	c, err := g.ApplyScoreDelta(breakrule.Side1, Decrement)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if !c.BreakerIndeterminate {
		t.Fatalf("expected manual breaker choice")
	}
	if c.Pool == nil || c.Pool.CurrentBreaker != nil {
		t.Fatalf("patch must not pick a breaker: %+v", c.Pool)
	}
	after := g.Apply(c)
	if after.Pool.CurrentBreaker == after.Pool.FirstBreaker {
		t.Fatalf("breaker silently reset to the first breaker")
	}
	if after.Pool.LastRackWinner != breakrule.SideNone {
		t.Fatalf("last rack winner not cleared")
	}
}

func TestNonPoolHasNoPatch(t *testing.T) {
	g := LiveGame{Kind: PingPong, CreatorID: "u1", Opponent: Guest("x")}
	c, err := g.ApplyScoreDelta(breakrule.Side2, Increment)
	if err != nil {
		t.Fatal(err)
	}
	if c.Pool != nil || c.Score != (Score{0, 1}) {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestInvalidDeltaAndSide(t *testing.T) {
	g := poolGame(breakrule.Alternate, breakrule.Side1)
	if _, err := g.ApplyScoreDelta(breakrule.SideNone, Increment); !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
	if _, err := g.ApplyScoreDelta(breakrule.Side1, Delta(2)); !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("expected ErrInvalidDelta, got %v", err)
	}
}

func TestChangeBreakRule(t *testing.T) {
	g := poolGame(breakrule.WinnerStays, breakrule.Side1)
	g.Score = Score{2, 1}
	g.Pool.CurrentBreaker = breakrule.Side1

	p, err := g.ChangeBreakRule(breakrule.Alternate)
	if err != nil {
		t.Fatal(err)
	}
	g2 := g.ApplyPool(&p)
	if g2.Pool.BreakRule != breakrule.Alternate || g2.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("switch to alternate should recompute for 3 racks: %+v", g2.Pool)
	}

	p, err = g2.ChangeBreakRule(breakrule.WinnerStays)
	if err != nil {
		t.Fatal(err)
	}
	if p.CurrentBreaker != nil {
		t.Fatalf("switching to winner stays must keep the breaker")
	}
	if g3 := g2.ApplyPool(&p); g3.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("breaker changed: %s", g3.Pool.CurrentBreaker)
	}

	if _, err := (LiveGame{Kind: PingPong}).ChangeBreakRule(breakrule.Alternate); !errors.Is(err, ErrNotPoolGame) {
		t.Fatalf("expected ErrNotPoolGame, got %v", err)
	}
}

func TestChangeBreakerSideAlwaysAllowed(t *testing.T) {
	for _, rule := range []breakrule.Rule{breakrule.Alternate, breakrule.WinnerStays} {
		g := poolGame(rule, breakrule.Side1)
		p, err := g.ChangeBreakerSide(breakrule.Side2)
		if err != nil {
			t.Fatal(err)
		}
		if got := g.ApplyPool(&p).Pool.CurrentBreaker; got != breakrule.Side2 {
			t.Fatalf("%s: got %s", rule, got)
		}
	}
}

func TestApplyDoesNotAliasPool(t *testing.T) {
	g := poolGame(breakrule.Alternate, breakrule.Side1)
	c, _ := g.ApplyScoreDelta(breakrule.Side1, Increment)
	_ = g.Apply(c)
	if g.Pool.CurrentBreaker != breakrule.Side1 || g.Score.A != 0 {
		t.Fatalf("original game mutated: %+v %+v", g.Score, g.Pool)
	}
}
