package livegame

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/park285/scorekeeper/internal/breakrule"
)

// GameKind is the closed set of supported games. Adding a kind means adding it to
// Kinds and to every switch over GameKind; TestEveryKindIsHandled guards that.
type GameKind string

const (
	Pool     GameKind = "pool"
	PingPong GameKind = "ping_pong"
)

// Kinds lists every GameKind.
func Kinds() []GameKind { return []GameKind{Pool, PingPong} }

func (k GameKind) Valid() bool {
	switch k {
	case Pool, PingPong:
		return true
	}
	return false
}

// TracksBreaks reports whether games of this kind carry a PoolState.
func (k GameKind) TracksBreaks() bool {
	switch k {
	case Pool:
		return true
	case PingPong:
		return false
	}
	return false
}

func (k GameKind) Label() string {
	switch k {
	case Pool:
		return "Pool"
	case PingPong:
		return "Ping Pong"
	}
	return string(k)
}

func ParseKind(s string) (GameKind, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	switch v {
	case "pool", "billiards":
		return Pool, true
	case "ping_pong", "pingpong", "table_tennis":
		return PingPong, true
	}
	return "", false
}

// OpponentKind tells which form of opponent reference a game holds.
type OpponentKind string

const (
	OpponentNone  OpponentKind = ""
	OpponentGuest OpponentKind = "guest"
	OpponentUser  OpponentKind = "user"
)

// Opponent is either a free-text guest name or a registered participant.
// For OpponentUser, Name is the display name captured when the game started.
type Opponent struct {
	Kind OpponentKind `json:"kind,omitempty"`
	ID   string       `json:"id,omitempty"`
	Name string       `json:"name,omitempty"`
}

func Guest(name string) Opponent {
	return Opponent{Kind: OpponentGuest, Name: NormalizeName(name)}
}

func User(id, name string) Opponent {
	return Opponent{Kind: OpponentUser, ID: strings.TrimSpace(id), Name: NormalizeName(name)}
}

// UserID returns the participant identity, or "" for guests and absent opponents.
func (o Opponent) UserID() string {
	if o.Kind != OpponentUser {
		return ""
	}
	return o.ID
}

// NormalizeName trims, collapses inner whitespace and NFC-normalises a display name.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// Score is the pair of per-side points. For pool every point is one rack.
type Score struct {
	A int `json:"score_a"`
	B int `json:"score_b"`
}

func (s Score) Of(side breakrule.Side) int {
	if side == breakrule.Side2 {
		return s.B
	}
	return s.A
}

func (s Score) With(side breakrule.Side, v int) Score {
	if side == breakrule.Side2 {
		s.B = v
	} else {
		s.A = v
	}
	return s
}

// Racks is the number of completed racks.
func (s Score) Racks() int { return s.A + s.B }

// PoolState is the pool sub-record of a live game or a completed score.
type PoolState struct {
	BreakRule      breakrule.Rule `json:"break_rule"`
	FirstBreaker   breakrule.Side `json:"first_breaker_side"`
	CurrentBreaker breakrule.Side `json:"current_breaker_side"`
	LastRackWinner breakrule.Side `json:"last_rack_winner_side,omitempty"`
}

// PoolPatch describes a change to a PoolState. Nil fields are left alone;
// a LastRackWinner pointing at SideNone clears it.
type PoolPatch struct {
	BreakRule      *breakrule.Rule `json:"break_rule,omitempty"`
	CurrentBreaker *breakrule.Side `json:"current_breaker_side,omitempty"`
	LastRackWinner *breakrule.Side `json:"last_rack_winner_side,omitempty"`
}

func (p *PoolPatch) IsEmpty() bool {
	return p == nil || (p.BreakRule == nil && p.CurrentBreaker == nil && p.LastRackWinner == nil)
}

func (p *PoolPatch) ApplyTo(ps PoolState) PoolState {
	if p == nil {
		return ps
	}
	if p.BreakRule != nil {
		ps.BreakRule = *p.BreakRule
	}
	if p.CurrentBreaker != nil {
		ps.CurrentBreaker = *p.CurrentBreaker
	}
	if p.LastRackWinner != nil {
		ps.LastRackWinner = *p.LastRackWinner
	}
	return ps
}

// LiveGame is one game in progress. Side1 belongs to the creator, Side2 to the opponent.
// Date is the day the players say the game was played, set only when it was given
// at creation; StartedAt is always the creation time.
type LiveGame struct {
	ID          string     `json:"id"`
	Kind        GameKind   `json:"game_kind"`
	CreatorID   string     `json:"creator_id"`
	CreatorName string     `json:"creator_name,omitempty"`
	Opponent    Opponent   `json:"opponent"`
	Score       Score      `json:"score"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Date        time.Time  `json:"date,omitempty"`
	Pool        *PoolState `json:"pool,omitempty"`
}

// PlayedOn returns Date, or StartedAt when no date was given.
func (g LiveGame) PlayedOn() time.Time {
	if g.Date.IsZero() {
		return g.StartedAt
	}
	return g.Date
}

// Clone returns a deep copy.
func (g LiveGame) Clone() LiveGame {
	if g.Pool != nil {
		p := *g.Pool
		g.Pool = &p
	}
	return g
}

// Participants returns the registered identities playing this game.
func (g LiveGame) Participants() []string {
	out := []string{g.CreatorID}
	if id := g.Opponent.UserID(); id != "" {
		out = append(out, id)
	}
	return out
}

// SideName returns the stored display name of a side.
func (g LiveGame) SideName(side breakrule.Side) string {
	if side == breakrule.Side2 {
		return g.Opponent.Name
	}
	return g.CreatorName
}
