package livegame

import (
	"errors"
	"testing"
	"time"

	"github.com/park285/scorekeeper/internal/breakrule"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"missing kind", CreateRequest{CreatorID: "u1", Opponent: Guest("a")}, "kind"},
		{"unknown kind", CreateRequest{Kind: "darts", CreatorID: "u1", Opponent: Guest("a")}, "kind"},
		{"missing opponent", CreateRequest{Kind: Pool, CreatorID: "u1"}, "opponent"},
		{"blank guest", CreateRequest{Kind: Pool, CreatorID: "u1", Opponent: Guest("   ")}, "opponent"},
		{"both forms", CreateRequest{Kind: Pool, CreatorID: "u1", Opponent: Opponent{Kind: OpponentGuest, ID: "u2", Name: "x"}}, "opponent"},
		{"self", CreateRequest{Kind: PingPong, CreatorID: "u1", Opponent: User("u1", "me")}, "opponent"},
		{"anonymous", CreateRequest{Kind: PingPong, Opponent: Guest("a")}, "creator"},
		{"bad rule", CreateRequest{Kind: Pool, CreatorID: "u1", Opponent: Guest("a"), Pool: &PoolConfig{BreakRule: "sometimes"}}, "break_rule"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.req.Validate(nil)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != c.field {
				t.Fatalf("field = %q, want %q", ve.Field, c.field)
			}
		})
	}

	ok := CreateRequest{Kind: PingPong, CreatorID: "u1", Opponent: User("u2", "Bob")}
	if err := ok.Validate(nil); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if err := ok.Validate([]GameKind{Pool}); err == nil {
		t.Fatalf("expected disabled kind to be rejected")
	}
}

func TestNewDefaultsPoolConfig(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tails := func() bool { return false }
	g, err := New(CreateRequest{Kind: Pool, CreatorID: "u1", CreatorName: " Ann ", Opponent: User("u2", "")}, "id-1", now, tails)
	if err != nil {
		t.Fatal(err)
	}
	if g.Pool == nil || g.Pool.BreakRule != breakrule.Alternate {
		t.Fatalf("expected alternate default: %+v", g.Pool)
	}
	if g.Pool.FirstBreaker != breakrule.Side2 || g.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("random with tails should pick side2: %+v", g.Pool)
	}
	if g.StartedAt != now || g.CreatorName != "Ann" || g.Opponent.Name != "u2" {
		t.Fatalf("unexpected game %+v", g)
	}

	pp, err := New(CreateRequest{Kind: PingPong, CreatorID: "u1", Opponent: Guest("Kim  Lee")}, "id-2", now, tails)
	if err != nil {
		t.Fatal(err)
	}
	if pp.Pool != nil {
		t.Fatalf("ping pong must not carry pool state")
	}
	if pp.Opponent.Name != "Kim Lee" {
		t.Fatalf("guest name not normalised: %q", pp.Opponent.Name)
	}
}

func TestNewKeepsDateApartFromStart(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	played := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	heads := func() bool { return true }

	g, err := New(CreateRequest{Kind: PingPong, CreatorID: "u1", Opponent: Guest("Kim"), Date: played}, "id-1", now, heads)
	if err != nil {
		t.Fatal(err)
	}
	if !g.StartedAt.Equal(now) || !g.Date.Equal(played) || !g.PlayedOn().Equal(played) {
		t.Fatalf("started %v, date %v", g.StartedAt, g.Date)
	}

	g, err = New(CreateRequest{Kind: PingPong, CreatorID: "u1", Opponent: Guest("Kim")}, "id-2", now, heads)
	if err != nil {
		t.Fatal(err)
	}
	if !g.Date.IsZero() || !g.PlayedOn().Equal(now) {
		t.Fatalf("date %v, played on %v", g.Date, g.PlayedOn())
	}
}

func TestEveryKindIsHandled(t *testing.T) {
	for _, k := range Kinds() {
		if !k.Valid() {
			t.Fatalf("%s not valid", k)
		}
		if k.Label() == string(k) {
			t.Fatalf("%s has no label", k)
		}
		if parsed, ok := ParseKind(k.Label()); !ok || parsed != k {
			t.Fatalf("ParseKind(%q) = %q, %v", k.Label(), parsed, ok)
		}
	}
}
