// Package gateway is the persistence boundary of the live game engine: the
// operations a viewer can perform on shared live games and their completed scores.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/scorestore"
)

// Gateway is implemented by Local (in-process, over Redis and SQL) and by
// remote.Client (over HTTP). Every call carries the acting viewer; permission
// checks here are authoritative.
type Gateway interface {
	ListLiveGames(ctx context.Context, viewerID string) ([]livegame.LiveGame, error)
	CreateLiveGame(ctx context.Context, viewerID string, req livegame.CreateRequest) (livegame.LiveGame, error)
	// UpdateLiveGameScore writes an absolute score pair and an optional pool patch.
	UpdateLiveGameScore(ctx context.Context, viewerID, id string, score livegame.Score, patch *livegame.PoolPatch) (livegame.LiveGame, error)
	DeleteLiveGame(ctx context.Context, viewerID, id string) error
	CompleteLiveGame(ctx context.Context, viewerID, id string) (Completion, error)
	WatchLiveGame(ctx context.Context, viewerID, id string) (livegame.LiveGame, error)
	// UnwatchLiveGame removes a spectated game from the viewer's list.
	UnwatchLiveGame(ctx context.Context, viewerID, id string) error
	RecentScores(ctx context.Context, viewerID string, limit int) ([]*scorestore.Score, error)
	EditScore(ctx context.Context, viewerID string, scoreID int64, e scorestore.Edit) (*scorestore.Score, error)
	DeleteScore(ctx context.Context, viewerID string, scoreID int64) error
	// SubscribeToLiveGameChanges delivers change events for games relevant to the
	// viewer until the returned function is called.
	SubscribeToLiveGameChanges(ctx context.Context, viewerID string, fn feed.Handler) (func(), error)
}

// Completion is the outcome of a successful CompleteLiveGame.
type Completion struct {
	ScoreID  int64  `json:"score_id"`
	PublicID string `json:"public_id"`
	// PoolTransferred is set when a pool sub-record was re-parented onto the score.
	PoolTransferred bool `json:"pool_transferred"`
}

var (
	ErrNotFound     = errf("live game not found")
	ErrUnauthorized = errf("viewer identity required")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Step names one stage of the completion sequence.
type Step string

const (
	StepInsertScore  Step = "insert_score"
	StepTransferPool Step = "transfer_pool"
	StepDeleteLive   Step = "delete_live_game"
)

// CompletionError reports how far a completion got before failing. Completed steps
// stay done; CompleteLiveGame can be retried and resumes where it stopped.
type CompletionError struct {
	Step    Step
	Done    []Step
	ScoreID int64
	// LiveGameRemains is true while the live game is still listed.
	LiveGameRemains bool
	Err             error
}

func (e *CompletionError) Error() string {
	if len(e.Done) == 0 {
		return fmt.Sprintf("complete live game: %s failed: %v", e.Step, e.Err)
	}
	done := make([]string, len(e.Done))
	for i, s := range e.Done {
		done[i] = string(s)
	}
	return fmt.Sprintf("complete live game: %s failed after %s: %v", e.Step, strings.Join(done, ", "), e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Saved reports whether a permanent score exists despite the failure.
func (e *CompletionError) Saved() bool { return e.ScoreID != 0 }

func requireViewer(viewerID string) (string, error) {
	v := strings.TrimSpace(viewerID)
	if v == "" {
		return "", ErrUnauthorized
	}
	return v, nil
}
