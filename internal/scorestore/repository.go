package scorestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/livegame"
)

var (
	ErrDuplicateScore = errors.New("score already recorded")
	ErrNotFound       = errors.New("score not found")
	ErrNotOwner       = errors.New("only the owner may edit this score")
)

// Score is a completed, persisted game result. Pool is set for pool games that
// carried a pool sub-record when they were completed.
type Score struct {
	ID           int64               `json:"id"`
	PublicID     string              `json:"public_id"`
	Kind         livegame.GameKind   `json:"game_kind"`
	CreatorID    string              `json:"creator_id"`
	OpponentID   string              `json:"opponent_id,omitempty"`
	OpponentName string              `json:"opponent_name,omitempty"`
	Score        livegame.Score      `json:"score"`
	Date         time.Time           `json:"date"`
	CreatedAt    time.Time           `json:"created_at"`
	LiveGameID   string              `json:"live_game_id,omitempty"`
	Pool         *livegame.PoolState `json:"pool,omitempty"`
}

// FromLiveGame maps a live game onto a new score record; Pool is left for AttachPool.
func FromLiveGame(g livegame.LiveGame, publicID string, now time.Time) *Score {
	date := g.PlayedOn()
	if date.IsZero() {
		date = now
	}
	return &Score{
		PublicID:     publicID,
		Kind:         g.Kind,
		CreatorID:    g.CreatorID,
		OpponentID:   g.Opponent.UserID(),
		OpponentName: g.Opponent.Name,
		Score:        g.Score,
		Date:         date.UTC(),
		CreatedAt:    now.UTC(),
		LiveGameID:   g.ID,
	}
}

// Edit is an owner's correction of a saved score. Nil fields are kept.
type Edit struct {
	Score *livegame.Score `json:"score,omitempty"`
	Date  *time.Time      `json:"date,omitempty"`
}

type Repository interface {
	// InsertScore returns ErrDuplicateScore when the live game was already recorded.
	InsertScore(ctx context.Context, s *Score) (int64, error)
	ScoreByLiveGame(ctx context.Context, liveGameID string) (*Score, error)
	// AttachPool re-parents a pool sub-record onto a score. Repeating it overwrites.
	AttachPool(ctx context.Context, scoreID int64, liveGameID string, ps livegame.PoolState) error
	GetScore(ctx context.Context, id int64) (*Score, error)
	RecentScores(ctx context.Context, userID string, limit int) ([]*Score, error)
	UpdateScore(ctx context.Context, id int64, ownerID string, e Edit) (*Score, error)
	DeleteScore(ctx context.Context, id int64, ownerID string) error
}

func validateScore(s *Score) error {
	if s == nil {
		return errors.New("nil score payload")
	}
	if !s.Kind.Valid() {
		return &livegame.ValidationError{Field: "kind", Reason: "unknown game type"}
	}
	if strings.TrimSpace(s.CreatorID) == "" {
		return &livegame.ValidationError{Field: "creator", Reason: "missing creator"}
	}
	return livegame.CheckScore(s.Score)
}

func validatePool(ps livegame.PoolState) error {
	if !ps.BreakRule.Valid() {
		return &livegame.ValidationError{Field: "break_rule", Reason: "unknown break rule"}
	}
	if !ps.FirstBreaker.Valid() || !ps.CurrentBreaker.Valid() {
		return &livegame.ValidationError{Field: "breaker", Reason: "unknown side"}
	}
	if ps.LastRackWinner != breakrule.SideNone && !ps.LastRackWinner.Valid() {
		return &livegame.ValidationError{Field: "last_rack_winner_side", Reason: "unknown side"}
	}
	return nil
}

func applyEdit(s *Score, e Edit) error {
	if e.Score != nil {
		if err := livegame.CheckScore(*e.Score); err != nil {
			return err
		}
		s.Score = *e.Score
	}
	if e.Date != nil {
		if e.Date.IsZero() {
			return &livegame.ValidationError{Field: "date", Reason: "date required"}
		}
		s.Date = e.Date.UTC()
	}
	return nil
}
