package livedto

import (
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/scorestore"
)

type CreateRequest = livegame.CreateRequest

// ScoreRequest writes an absolute score pair and an optional pool patch.
type ScoreRequest struct {
	Score livegame.Score      `json:"score"`
	Pool  *livegame.PoolPatch `json:"pool,omitempty"`
}

type LiveGameResponse struct {
	Game livegame.LiveGame `json:"game"`
}

type LiveGamesResponse struct {
	Games []livegame.LiveGame `json:"games"`
}

type CompleteResponse struct {
	ScoreID         int64  `json:"score_id"`
	PublicID        string `json:"public_id"`
	PoolTransferred bool   `json:"pool_transferred"`
}

type ScoresResponse struct {
	Scores []*scorestore.Score `json:"scores"`
}

// EditScoreRequest changes the score pair and/or date of a saved score.
type EditScoreRequest = scorestore.Edit

type ScoreResponse struct {
	Score *scorestore.Score `json:"score"`
}
