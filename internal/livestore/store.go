package livestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/obslog"
)

const (
	DefaultTTL = 24 * time.Hour
	maxRetries = 5
)

var (
	ErrNotFound = errors.New("live game not found")
	ErrConflict = errors.New("live game changed concurrently")
)

// Store keeps live games in Redis: the game record and its pool sub-record under
// separate keys, plus per-user index sets and per-game watcher sets.
type Store struct {
	rdb *redis.Client
	bus *feed.Bus
	ttl time.Duration
	now func() time.Time
}

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store. A nil bus disables change events.
func New(rdb *redis.Client, bus *feed.Bus, opts ...Option) *Store {
	s := &Store{rdb: rdb, bus: bus, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to REDIS_URL and pings the server.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("REDIS_URL required for live store")
	}
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func gameKey(id string) string     { return "live:game:" + strings.TrimSpace(id) }
func poolKey(id string) string     { return "live:pool:" + strings.TrimSpace(id) }
func watchersKey(id string) string { return "live:watchers:" + strings.TrimSpace(id) }
func userIdxKey(uid string) string { return "live:index:user:" + strings.TrimSpace(uid) }

func (s *Store) Create(ctx context.Context, g livegame.LiveGame) error {
	if strings.TrimSpace(g.ID) == "" {
		return errors.New("live game id required")
	}
	if err := livegame.CheckScore(g.Score); err != nil {
		return err
	}
	gameRaw, poolRaw, err := encode(g)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(g.ID), gameRaw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create live game: %w", err)
	}
	if !ok {
		return fmt.Errorf("live game %s already exists", g.ID)
	}
	pipe := s.rdb.TxPipeline()
	if poolRaw != nil {
		pipe.Set(ctx, poolKey(g.ID), poolRaw, s.ttl)
	}
	for _, uid := range g.Participants() {
		pipe.SAdd(ctx, userIdxKey(uid), g.ID)
		pipe.Expire(ctx, userIdxKey(uid), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index live game: %w", err)
	}

	obslog.L().Info("live_game_create",
		zap.String("game_id", g.ID),
		zap.String("kind", string(g.Kind)),
		zap.String("creator_id", g.CreatorID),
		zap.String("opponent_id", g.Opponent.UserID()),
	)
	snap := g.Clone()
	s.publish(ctx, []string{g.CreatorID}, feed.Event{Type: feed.Insert, GameID: g.ID, Game: &snap})
	if opp := g.Opponent.UserID(); opp != "" {
		s.publish(ctx, []string{opp}, feed.Event{Type: feed.Insert, GameID: g.ID, Game: &snap, Invite: true})
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (livegame.LiveGame, error) {
	return s.load(ctx, s.rdb, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) load(ctx context.Context, c getter, id string) (livegame.LiveGame, error) {
	raw, err := c.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return livegame.LiveGame{}, ErrNotFound
	}
	if err != nil {
		return livegame.LiveGame{}, err
	}
	var g livegame.LiveGame
	if err := json.Unmarshal(raw, &g); err != nil {
		return livegame.LiveGame{}, fmt.Errorf("decode live game %s: %w", id, err)
	}
	g.Pool = nil
	praw, err := c.Get(ctx, poolKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return livegame.LiveGame{}, err
	default:
		var ps livegame.PoolState
		if err := json.Unmarshal(praw, &ps); err != nil {
			return livegame.LiveGame{}, fmt.Errorf("decode pool state %s: %w", id, err)
		}
		g.Pool = &ps
	}
	return g, nil
}

// ListForViewer returns every live game indexed for the viewer. Index entries whose
// game has expired are pruned.
func (s *Store) ListForViewer(ctx context.Context, viewerID string) ([]livegame.LiveGame, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, userIdxKey(viewerID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]livegame.LiveGame, 0, len(ids))
	var stale []any
	for _, id := range ids {
		g, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, userIdxKey(viewerID), stale...).Err()
	}
	return out, nil
}

// Mutate loads the game under WATCH, lets fn change it and writes it back atomically.
// fn may return an error to abort without writing. Concurrent writers cause a retry.
func (s *Store) Mutate(ctx context.Context, id string, fn func(*livegame.LiveGame) error) (livegame.LiveGame, error) {
	var out livegame.LiveGame
	txf := func(tx *redis.Tx) error {
		cur, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if err := livegame.CheckScore(next.Score); err != nil {
			return err
		}
		next.ID, next.CreatorID, next.StartedAt, next.Date = cur.ID, cur.CreatorID, cur.StartedAt, cur.Date
		next.UpdatedAt = s.now().UTC()
		gameRaw, poolRaw, err := encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, gameKey(id), gameRaw, s.ttl)
			if poolRaw != nil {
				pipe.Set(ctx, poolKey(id), poolRaw, s.ttl)
			}
			pipe.Expire(ctx, watchersKey(id), s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for i := 0; i < maxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, gameKey(id), poolKey(id))
		if err == nil {
			audience, _ := s.audience(ctx, out)
			snap := out.Clone()
			s.publish(ctx, audience, feed.Event{Type: feed.Update, GameID: id, Game: &snap})
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return livegame.LiveGame{}, err
		}
		obslog.L().Debug("live_game_retry", zap.String("game_id", id), zap.Int("attempt", i+1))
	}
	return livegame.LiveGame{}, ErrConflict
}

// UpdateScore writes an absolute score pair and an optional pool patch. allow,
// when set, sees the stored game first and can refuse the write.
func (s *Store) UpdateScore(ctx context.Context, id string, score livegame.Score, patch *livegame.PoolPatch, allow func(livegame.LiveGame) error) (livegame.LiveGame, error) {
	if err := livegame.CheckScore(score); err != nil {
		return livegame.LiveGame{}, err
	}
	if err := livegame.CheckPatch(patch); err != nil {
		return livegame.LiveGame{}, err
	}
	g, err := s.Mutate(ctx, id, func(g *livegame.LiveGame) error {
		if allow != nil {
			if err := allow(*g); err != nil {
				return err
			}
		}
		if !patch.IsEmpty() && g.Pool == nil {
			return livegame.ErrNotPoolGame
		}
		g.Score = score
		*g = g.ApplyPool(patch)
		return nil
	})
	if err != nil {
		return g, err
	}
	obslog.L().Info("live_game_score",
		zap.String("game_id", id),
		zap.Int("score_a", g.Score.A),
		zap.Int("score_b", g.Score.B),
	)
	return g, nil
}

// Delete removes the game, its pool sub-record, watchers and index entries, and
// returns the last stored state.
func (s *Store) Delete(ctx context.Context, id string) (livegame.LiveGame, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	audience, err := s.audience(ctx, g)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, gameKey(id), poolKey(id), watchersKey(id))
	for _, uid := range audience {
		pipe.SRem(ctx, userIdxKey(uid), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return livegame.LiveGame{}, fmt.Errorf("delete live game: %w", err)
	}
	obslog.L().Info("live_game_delete", zap.String("game_id", id))
	s.publish(ctx, audience, feed.Event{Type: feed.Delete, GameID: id})
	return g, nil
}

// DropPool removes the pool sub-record once it has been re-parented elsewhere.
func (s *Store) DropPool(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, poolKey(id)).Err()
}

// Watch adds a spectator to the game so it shows up in their list and feed.
func (s *Store) Watch(ctx context.Context, id, viewerID string) (livegame.LiveGame, error) {
	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return livegame.LiveGame{}, errors.New("viewer id required")
	}
	g, err := s.Get(ctx, id)
	if err != nil {
		return livegame.LiveGame{}, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, watchersKey(id), viewerID)
	pipe.Expire(ctx, watchersKey(id), s.ttl)
	pipe.SAdd(ctx, userIdxKey(viewerID), id)
	pipe.Expire(ctx, userIdxKey(viewerID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return livegame.LiveGame{}, err
	}
	return g, nil
}

func (s *Store) Unwatch(ctx context.Context, id, viewerID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, watchersKey(id), viewerID)
	pipe.SRem(ctx, userIdxKey(viewerID), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Watchers(ctx context.Context, id string) ([]string, error) {
	return s.rdb.SMembers(ctx, watchersKey(id)).Result()
}

func (s *Store) audience(ctx context.Context, g livegame.LiveGame) ([]string, error) {
	out := g.Participants()
	ws, err := s.Watchers(ctx, g.ID)
	if err != nil {
		return out, err
	}
	return append(out, ws...), nil
}

func (s *Store) publish(ctx context.Context, users []string, ev feed.Event) {
	if s.bus == nil {
		return
	}
	ev.At = s.now().UTC()
	if err := s.bus.Publish(ctx, users, ev); err != nil {
		obslog.L().Warn("live_feed_publish_error", zap.String("game_id", ev.GameID), zap.Error(err))
	}
}

func encode(g livegame.LiveGame) (gameRaw, poolRaw []byte, err error) {
	rec := g.Clone()
	pool := rec.Pool
	rec.Pool = nil
	if gameRaw, err = json.Marshal(rec); err != nil {
		return nil, nil, err
	}
	if pool != nil {
		if poolRaw, err = json.Marshal(pool); err != nil {
			return nil, nil, err
		}
	}
	return gameRaw, poolRaw, nil
}
