package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/obslog"
	"github.com/park285/scorekeeper/internal/scorestore"
)

// CompleteLiveGame turns a live game into a permanent score in three steps:
// insert the score, move the pool sub-record onto it, delete the live game.
// There is no transaction across the stores. A failure returns *CompletionError;
// calling again resumes, because every step is idempotent.
func (l *Local) CompleteLiveGame(ctx context.Context, viewerID, id string) (Completion, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return Completion{}, err
	}
	g, err := l.live.Get(ctx, id)
	if err != nil {
		return Completion{}, mapLiveErr(id, err)
	}
	if err := access.Authorize(g, viewer, access.Complete); err != nil {
		return Completion{}, err
	}
	log := obslog.L().With(zap.String("game_id", g.ID), zap.String("viewer_id", viewer))

	var done []Step
	fail := func(step Step, scoreID int64, err error) (Completion, error) {
		log.Error("live_game_complete_error",
			zap.String("step", string(step)),
			zap.Int64("score_id", scoreID),
			zap.Error(err),
		)
		return Completion{}, &CompletionError{
			Step:            step,
			Done:            append([]Step(nil), done...),
			ScoreID:         scoreID,
			LiveGameRemains: true,
			Err:             err,
		}
	}

	score, err := l.insertScoreOnce(ctx, g.ID, func() *scorestore.Score {
		return scorestore.FromLiveGame(g, l.newID(), l.now())
	})
	if err != nil {
		return fail(StepInsertScore, 0, err)
	}
	done = append(done, StepInsertScore)

	out := Completion{ScoreID: score.ID, PublicID: score.PublicID}
	switch {
	case g.Pool != nil:
		if err := l.scores.AttachPool(ctx, score.ID, g.ID, *g.Pool); err != nil {
			return fail(StepTransferPool, score.ID, err)
		}
		if err := l.live.DropPool(ctx, g.ID); err != nil {
			return fail(StepTransferPool, score.ID, err)
		}
		out.PoolTransferred = true
	case score.Pool != nil:
		// moved by an earlier attempt that stopped before the delete
		out.PoolTransferred = true
	}
	done = append(done, StepTransferPool)

	if _, err := l.live.Delete(ctx, g.ID); err != nil && !errors.Is(err, livestore.ErrNotFound) {
		return fail(StepDeleteLive, score.ID, err)
	}

	log.Info("live_game_complete",
		zap.Int64("score_id", out.ScoreID),
		zap.Bool("pool_transferred", out.PoolTransferred),
		zap.Int("score_a", g.Score.A),
		zap.Int("score_b", g.Score.B),
	)
	return out, nil
}

// insertScoreOnce returns the score already recorded for the live game, or inserts one.
func (l *Local) insertScoreOnce(ctx context.Context, liveGameID string, build func() *scorestore.Score) (*scorestore.Score, error) {
	existing, err := l.scores.ScoreByLiveGame(ctx, liveGameID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, scorestore.ErrNotFound) {
		return nil, err
	}
	rec := build()
	if _, err := l.scores.InsertScore(ctx, rec); err != nil {
		if errors.Is(err, scorestore.ErrDuplicateScore) {
			return l.scores.ScoreByLiveGame(ctx, liveGameID)
		}
		return nil, err
	}
	return rec, nil
}
