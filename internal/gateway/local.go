package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/obslog"
	"github.com/park285/scorekeeper/internal/scorestore"
)

// LiveStore is the live game storage Local needs; *livestore.Store implements it.
type LiveStore interface {
	Create(ctx context.Context, g livegame.LiveGame) error
	Get(ctx context.Context, id string) (livegame.LiveGame, error)
	ListForViewer(ctx context.Context, viewerID string) ([]livegame.LiveGame, error)
	UpdateScore(ctx context.Context, id string, score livegame.Score, patch *livegame.PoolPatch, allow func(livegame.LiveGame) error) (livegame.LiveGame, error)
	Delete(ctx context.Context, id string) (livegame.LiveGame, error)
	DropPool(ctx context.Context, id string) error
	Watch(ctx context.Context, id, viewerID string) (livegame.LiveGame, error)
	Unwatch(ctx context.Context, id, viewerID string) error
}

// Subscriber is the push side of the change feed; *feed.Bus implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, fn feed.Handler) (func(), error)
}

// Local serves the Gateway operations in-process.
type Local struct {
	live    LiveStore
	scores  scorestore.Repository
	sub     Subscriber
	allowed []livegame.GameKind
	coin    breakrule.Coin
	now     func() time.Time
	newID   func() string
}

type LocalOption func(*Local)

func WithAllowedKinds(kinds []livegame.GameKind) LocalOption {
	return func(l *Local) { l.allowed = kinds }
}

func WithCoin(c breakrule.Coin) LocalOption {
	return func(l *Local) { l.coin = c }
}

func WithClock(now func() time.Time) LocalOption {
	return func(l *Local) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDs(newID func() string) LocalOption {
	return func(l *Local) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func NewLocal(live LiveStore, scores scorestore.Repository, sub Subscriber, opts ...LocalOption) *Local {
	l := &Local{
		live:   live,
		scores: scores,
		sub:    sub,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

var _ Gateway = (*Local)(nil)

func (l *Local) ListLiveGames(ctx context.Context, viewerID string) ([]livegame.LiveGame, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return nil, err
	}
	return l.live.ListForViewer(ctx, viewer)
}

func (l *Local) CreateLiveGame(ctx context.Context, viewerID string, req livegame.CreateRequest) (livegame.LiveGame, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	req.CreatorID = viewer
	if err := req.Validate(l.allowed); err != nil {
		return livegame.LiveGame{}, err
	}
	g, err := livegame.New(req, l.newID(), l.now().UTC(), l.coin)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	if err := l.live.Create(ctx, g); err != nil {
		return livegame.LiveGame{}, err
	}
	return g, nil
}

func (l *Local) UpdateLiveGameScore(ctx context.Context, viewerID, id string, score livegame.Score, patch *livegame.PoolPatch) (livegame.LiveGame, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	g, err := l.live.UpdateScore(ctx, id, score, patch, func(g livegame.LiveGame) error {
		// an empty write still needs score access
		if g.Score != score || patch.IsEmpty() {
			if err := access.Authorize(g, viewer, access.MutateScore); err != nil {
				return err
			}
		}
		if !patch.IsEmpty() {
			return access.Authorize(g, viewer, access.ChangeSettings)
		}
		return nil
	})
	if err != nil {
		return livegame.LiveGame{}, mapLiveErr(id, err)
	}
	return g, nil
}

func (l *Local) DeleteLiveGame(ctx context.Context, viewerID, id string) error {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return err
	}
	g, err := l.live.Get(ctx, id)
	if err != nil {
		return mapLiveErr(id, err)
	}
	if err := access.Authorize(g, viewer, access.Cancel); err != nil {
		return err
	}
	if _, err := l.live.Delete(ctx, id); err != nil {
		return mapLiveErr(id, err)
	}
	obslog.L().Info("live_game_cancel", zap.String("game_id", id), zap.String("viewer_id", viewer))
	return nil
}

func (l *Local) WatchLiveGame(ctx context.Context, viewerID, id string) (livegame.LiveGame, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	g, err := l.live.Watch(ctx, id, viewer)
	if err != nil {
		return livegame.LiveGame{}, mapLiveErr(id, err)
	}
	return g, nil
}

// UnwatchLiveGame is for spectators only; participants always see their games.
func (l *Local) UnwatchLiveGame(ctx context.Context, viewerID, id string) error {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return err
	}
	g, err := l.live.Get(ctx, id)
	if err != nil {
		return mapLiveErr(id, err)
	}
	if access.Participates(g, viewer) {
		return fmt.Errorf("%w: participants cannot stop watching their own game", access.ErrForbidden)
	}
	return l.live.Unwatch(ctx, id, viewer)
}

func (l *Local) RecentScores(ctx context.Context, viewerID string, limit int) ([]*scorestore.Score, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return nil, err
	}
	return l.scores.RecentScores(ctx, viewer, limit)
}

func (l *Local) EditScore(ctx context.Context, viewerID string, scoreID int64, e scorestore.Edit) (*scorestore.Score, error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return nil, err
	}
	sc, err := l.scores.UpdateScore(ctx, scoreID, viewer, e)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("score_edit", zap.Int64("score_id", scoreID), zap.String("viewer_id", viewer))
	return sc, nil
}

func (l *Local) DeleteScore(ctx context.Context, viewerID string, scoreID int64) error {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return err
	}
	if err := l.scores.DeleteScore(ctx, scoreID, viewer); err != nil {
		return err
	}
	obslog.L().Info("score_delete", zap.Int64("score_id", scoreID), zap.String("viewer_id", viewer))
	return nil
}

func (l *Local) SubscribeToLiveGameChanges(ctx context.Context, viewerID string, fn feed.Handler) (func(), error) {
	viewer, err := requireViewer(viewerID)
	if err != nil {
		return nil, err
	}
	if l.sub == nil {
		return func() {}, nil
	}
	return l.sub.Subscribe(ctx, viewer, fn)
}

func mapLiveErr(id string, err error) error {
	if errors.Is(err, livestore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
