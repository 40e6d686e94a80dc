package livegame

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/scorekeeper/internal/breakrule"
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PoolConfig is the break-rule configuration chosen when a pool game starts.
type PoolConfig struct {
	BreakRule    breakrule.Rule               `json:"break_rule,omitempty"`
	FirstBreaker breakrule.FirstBreakerChoice `json:"first_breaker,omitempty"`
}

// CreateRequest is what a participant fills in to start a game.
type CreateRequest struct {
	Kind        GameKind    `json:"game_kind"`
	CreatorID   string      `json:"creator_id"`
	CreatorName string      `json:"creator_name,omitempty"`
	Opponent    Opponent    `json:"opponent"`
	Date        time.Time   `json:"date,omitempty"`
	Pool        *PoolConfig `json:"pool,omitempty"`
}

// Validate checks the request against the allowed kinds; an empty list allows all.
func (r CreateRequest) Validate(allowed []GameKind) error {
	if r.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "select a game type"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown game type %q", r.Kind)}
	}
	if len(allowed) > 0 && !containsKind(allowed, r.Kind) {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("%s is not enabled", r.Kind.Label())}
	}
	if strings.TrimSpace(r.CreatorID) == "" {
		return &ValidationError{Field: "creator", Reason: "sign in to start a game"}
	}
	switch r.Opponent.Kind {
	case OpponentGuest:
		if r.Opponent.ID != "" {
			return &ValidationError{Field: "opponent", Reason: "choose either a name or a player, not both"}
		}
		if NormalizeName(r.Opponent.Name) == "" {
			return &ValidationError{Field: "opponent", Reason: "enter the opponent's name"}
		}
	case OpponentUser:
		if strings.TrimSpace(r.Opponent.ID) == "" {
			return &ValidationError{Field: "opponent", Reason: "select an opponent"}
		}
		if strings.TrimSpace(r.Opponent.ID) == strings.TrimSpace(r.CreatorID) {
			return &ValidationError{Field: "opponent", Reason: "you cannot play against yourself"}
		}
	default:
		return &ValidationError{Field: "opponent", Reason: "select an opponent"}
	}
	if r.Pool != nil && r.Pool.BreakRule != "" && !r.Pool.BreakRule.Valid() {
		return &ValidationError{Field: "break_rule", Reason: fmt.Sprintf("unknown break rule %q", r.Pool.BreakRule)}
	}
	return nil
}

// New builds the initial state of a game. The random first breaker is resolved here
// and never again.
func New(req CreateRequest, id string, now time.Time, coin breakrule.Coin) (LiveGame, error) {
	if err := req.Validate(nil); err != nil {
		return LiveGame{}, err
	}
	opp := req.Opponent
	opp.Name = NormalizeName(opp.Name)
	opp.ID = strings.TrimSpace(opp.ID)
	if opp.Kind == OpponentUser && opp.Name == "" {
		opp.Name = opp.ID
	}
	g := LiveGame{
		ID:          id,
		Kind:        req.Kind,
		CreatorID:   strings.TrimSpace(req.CreatorID),
		CreatorName: NormalizeName(req.CreatorName),
		Opponent:    opp,
		StartedAt:   now,
		UpdatedAt:   now,
		Date:        req.Date,
	}
	if g.Kind.TracksBreaks() {
		cfg := PoolConfig{}
		if req.Pool != nil {
			cfg = *req.Pool
		}
		if cfg.BreakRule == "" {
			cfg.BreakRule = breakrule.Alternate
		}
		if cfg.FirstBreaker == "" {
			cfg.FirstBreaker = breakrule.ChooseRandom
		}
		first := breakrule.ResolveFirstBreaker(cfg.FirstBreaker, coin)
		g.Pool = &PoolState{
			BreakRule:      cfg.BreakRule,
			FirstBreaker:   first,
			CurrentBreaker: first,
		}
	}
	return g, nil
}

func containsKind(list []GameKind, k GameKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}
