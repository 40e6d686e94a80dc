package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/scorestore"
)

type flakyLive struct {
	*livestore.Store
	failDropPool int
	failDelete   int
}

func (f *flakyLive) DropPool(ctx context.Context, id string) error {
	if f.failDropPool > 0 {
		f.failDropPool--
		return errors.New("redis unavailable")
	}
	return f.Store.DropPool(ctx, id)
}

func (f *flakyLive) Delete(ctx context.Context, id string) (livegame.LiveGame, error) {
	if f.failDelete > 0 {
		f.failDelete--
		return livegame.LiveGame{}, errors.New("redis unavailable")
	}
	return f.Store.Delete(ctx, id)
}

type flakyScores struct {
	scorestore.Repository
	failInsert int
	failAttach int
}

func (f *flakyScores) InsertScore(ctx context.Context, s *scorestore.Score) (int64, error) {
	if f.failInsert > 0 {
		f.failInsert--
		return 0, errors.New("db unavailable")
	}
	return f.Repository.InsertScore(ctx, s)
}

func (f *flakyScores) AttachPool(ctx context.Context, scoreID int64, liveGameID string, ps livegame.PoolState) error {
	if f.failAttach > 0 {
		f.failAttach--
		return errors.New("db unavailable")
	}
	return f.Repository.AttachPool(ctx, scoreID, liveGameID, ps)
}

type fixture struct {
	gw     *Local
	live   *flakyLive
	scores *flakyScores
	bus    *feed.Bus
}

func newFixture(t *testing.T, opts ...LocalOption) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb, err := livestore.Dial(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	bus := feed.NewBus(rdb)
	live := &flakyLive{Store: livestore.New(rdb, bus)}
	scores := &flakyScores{Repository: scorestore.NewMemoryRepository()}
	heads := func() bool { return true }
	opts = append([]LocalOption{WithCoin(heads)}, opts...)
	return &fixture{gw: NewLocal(live, scores, bus, opts...), live: live, scores: scores, bus: bus}
}

func (f *fixture) startPool(t *testing.T, rule breakrule.Rule) livegame.LiveGame {
	t.Helper()
	g, err := f.gw.CreateLiveGame(context.Background(), "u1", livegame.CreateRequest{
		Kind:     livegame.Pool,
		Opponent: livegame.User("u2", "Bob"),
		Pool:     &livegame.PoolConfig{BreakRule: rule, FirstBreaker: breakrule.ChooseRandom},
	})
	if err != nil {
		t.Fatalf("CreateLiveGame: %v", err)
	}
	return g
}

func TestCreateUsesViewerAsCreator(t *testing.T) {
	f := newFixture(t, WithAllowedKinds([]livegame.GameKind{livegame.Pool}))
	ctx := context.Background()
	g, err := f.gw.CreateLiveGame(ctx, "u1", livegame.CreateRequest{
		Kind:      livegame.Pool,
		CreatorID: "someone-else",
		Opponent:  livegame.Guest("Sam"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if g.CreatorID != "u1" || g.Pool == nil || g.Pool.FirstBreaker != breakrule.Side1 {
		t.Fatalf("unexpected game %+v", g)
	}

	_, err = f.gw.CreateLiveGame(ctx, "u1", livegame.CreateRequest{Kind: livegame.PingPong, Opponent: livegame.Guest("Sam")})
	var ve *livegame.ValidationError
	if !errors.As(err, &ve) || ve.Field != "kind" {
		t.Fatalf("expected disabled kind, got %v", err)
	}
	if _, err := f.gw.CreateLiveGame(ctx, "", livegame.CreateRequest{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestUpdateIsPermissionChecked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)

	if _, err := f.gw.UpdateLiveGameScore(ctx, "u3", g.ID, livegame.Score{A: 1}, nil); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("spectator wrote score: %v", err)
	}
	side := breakrule.Side2
	if _, err := f.gw.UpdateLiveGameScore(ctx, "u3", g.ID, g.Score, &livegame.PoolPatch{CurrentBreaker: &side}); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("spectator changed settings: %v", err)
	}
	if cur, _ := f.live.Get(ctx, g.ID); cur.Score != (livegame.Score{}) || cur.Pool.CurrentBreaker != breakrule.Side1 {
		t.Fatalf("rejected write persisted: %+v", cur)
	}

	updated, err := f.gw.UpdateLiveGameScore(ctx, "u2", g.ID, livegame.Score{B: 1}, &livegame.PoolPatch{CurrentBreaker: &side})
	if err != nil {
		t.Fatalf("opponent update: %v", err)
	}
	if updated.Score.B != 1 || updated.Pool.CurrentBreaker != breakrule.Side2 {
		t.Fatalf("unexpected game %+v", updated)
	}
	if _, err := f.gw.UpdateLiveGameScore(ctx, "u1", "missing", livegame.Score{}, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPoolPatchOnPingPongRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.gw.CreateLiveGame(ctx, "u1", livegame.CreateRequest{Kind: livegame.PingPong, Opponent: livegame.Guest("Sam")})
	if err != nil {
		t.Fatal(err)
	}
	rule := breakrule.WinnerStays
	if _, err := f.gw.UpdateLiveGameScore(ctx, "u1", g.ID, g.Score, &livegame.PoolPatch{BreakRule: &rule}); !errors.Is(err, livegame.ErrNotPoolGame) {
		t.Fatalf("expected ErrNotPoolGame, got %v", err)
	}
}

func TestDeleteIsCreatorOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	for _, viewer := range []string{"u2", "u3"} {
		if err := f.gw.DeleteLiveGame(ctx, viewer, g.ID); !errors.Is(err, access.ErrForbidden) {
			t.Fatalf("%s cancelled the game: %v", viewer, err)
		}
	}
	if err := f.gw.DeleteLiveGame(ctx, "u1", g.ID); err != nil {
		t.Fatalf("DeleteLiveGame: %v", err)
	}
	if list, _ := f.gw.ListLiveGames(ctx, "u2"); len(list) != 0 {
		t.Fatalf("cancelled game still listed")
	}
	if scores, _ := f.gw.RecentScores(ctx, "u1", 10); len(scores) != 0 {
		t.Fatalf("cancel must not persist a score")
	}
}

func TestCompleteReparentsPoolState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.WinnerStays)

	c, err := g.ApplyScoreDelta(breakrule.Side2, livegame.Increment)
	if err != nil {
		t.Fatal(err)
	}
	final, err := f.gw.UpdateLiveGameScore(ctx, "u2", g.ID, c.Score, c.Pool)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.gw.CompleteLiveGame(ctx, "u2", g.ID); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("opponent completed the game: %v", err)
	}
	done, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	if err != nil {
		t.Fatalf("CompleteLiveGame: %v", err)
	}
	if !done.PoolTransferred || done.ScoreID == 0 {
		t.Fatalf("unexpected completion %+v", done)
	}

	scores, err := f.gw.RecentScores(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 1 {
		t.Fatalf("expected exactly one score, got %d", len(scores))
	}
	s := scores[0]
	if s.Pool == nil || *s.Pool != *final.Pool {
		t.Fatalf("pool = %+v, want %+v", s.Pool, final.Pool)
	}
	if s.Score != final.Score || s.OpponentID != "u2" || s.LiveGameID != g.ID {
		t.Fatalf("unexpected score %+v", s)
	}
	if _, err := f.live.Get(ctx, g.ID); !errors.Is(err, livestore.ErrNotFound) {
		t.Fatalf("live game still exists: %v", err)
	}
}

func TestCompleteInsertFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	f.scores.failInsert = 1

	_, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if ce.Step != StepInsertScore || len(ce.Done) != 0 || ce.Saved() || !ce.LiveGameRemains {
		t.Fatalf("unexpected error %+v", ce)
	}
	if cur, err := f.live.Get(ctx, g.ID); err != nil || cur.Pool == nil {
		t.Fatalf("live game changed: %+v %v", cur, err)
	}
}

func TestCompleteTransferFailureResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	f.scores.failAttach = 1

	_, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompletionError, got %v", err)
	}
	if ce.Step != StepTransferPool || !ce.Saved() || len(ce.Done) != 1 || ce.Done[0] != StepInsertScore {
		t.Fatalf("unexpected error %+v", ce)
	}
	if cur, err := f.live.Get(ctx, g.ID); err != nil || cur.Pool == nil {
		t.Fatalf("live game or pool lost after failed transfer: %+v %v", cur, err)
	}

	done, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if done.ScoreID != ce.ScoreID {
		t.Fatalf("retry inserted a second score: %d vs %d", done.ScoreID, ce.ScoreID)
	}
	scores, _ := f.gw.RecentScores(ctx, "u1", 10)
	if len(scores) != 1 || scores[0].Pool == nil {
		t.Fatalf("unexpected scores after retry: %+v", scores)
	}
}

func TestCompleteDeleteFailureReportsSaved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	f.live.failDelete = 1

	_, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	var ce *CompletionError
	if !errors.As(err, &ce) || ce.Step != StepDeleteLive || !ce.Saved() || len(ce.Done) != 2 {
		t.Fatalf("unexpected error %v", err)
	}
	done, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !done.PoolTransferred {
		t.Fatalf("retry reported the pool as not transferred: %+v", done)
	}
	scores, _ := f.gw.RecentScores(ctx, "u1", 10)
	if len(scores) != 1 || scores[0].Pool == nil {
		t.Fatalf("pool lost across retry: %+v", scores)
	}
	if _, err := f.live.Get(ctx, g.ID); !errors.Is(err, livestore.ErrNotFound) {
		t.Fatalf("live game still exists: %v", err)
	}
}

func TestSubscribeDeliversInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	events := make(chan feed.Event, 4)
	unsub, err := f.gw.SubscribeToLiveGameChanges(ctx, "u2", func(ev feed.Event) { events <- ev })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()
	g := f.startPool(t, breakrule.Alternate)
	select {
	case ev := <-events:
		if ev.Type != feed.Insert || !ev.Invite || ev.GameID != g.ID {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no invite delivered")
	}
}

func TestWatchMakesGameVisibleToSpectator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	if _, err := f.gw.WatchLiveGame(ctx, "u3", g.ID); err != nil {
		t.Fatal(err)
	}
	list, err := f.gw.ListLiveGames(ctx, "u3")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListLiveGames = %v, %v", list, err)
	}
	if _, err := f.gw.WatchLiveGame(ctx, "u3", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnwatchIsForSpectators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	if _, err := f.gw.WatchLiveGame(ctx, "u3", g.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.gw.UnwatchLiveGame(ctx, "u2", g.ID); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("opponent unwatch: expected ErrForbidden, got %v", err)
	}
	if err := f.gw.UnwatchLiveGame(ctx, "u3", g.ID); err != nil {
		t.Fatalf("UnwatchLiveGame: %v", err)
	}
	list, err := f.gw.ListLiveGames(ctx, "u3")
	if err != nil || len(list) != 0 {
		t.Fatalf("spectator still lists %v, %v", list, err)
	}
	if list, _ := f.gw.ListLiveGames(ctx, "u2"); len(list) != 1 {
		t.Fatalf("opponent lost the game: %v", list)
	}
}

func TestEditAndDeleteScoreAreOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.startPool(t, breakrule.Alternate)
	if _, err := f.gw.UpdateLiveGameScore(ctx, "u1", g.ID, livegame.Score{A: 2, B: 1}, nil); err != nil {
		t.Fatal(err)
	}
	c, err := f.gw.CompleteLiveGame(ctx, "u1", g.ID)
	if err != nil {
		t.Fatal(err)
	}

	fixed := livegame.Score{A: 3, B: 1}
	if _, err := f.gw.EditScore(ctx, "u2", c.ScoreID, scorestore.Edit{Score: &fixed}); !errors.Is(err, scorestore.ErrNotOwner) {
		t.Fatalf("opponent edit: expected ErrNotOwner, got %v", err)
	}
	sc, err := f.gw.EditScore(ctx, "u1", c.ScoreID, scorestore.Edit{Score: &fixed})
	if err != nil || sc.Score != fixed {
		t.Fatalf("EditScore = %+v, %v", sc, err)
	}
	if err := f.gw.DeleteScore(ctx, "u2", c.ScoreID); !errors.Is(err, scorestore.ErrNotOwner) {
		t.Fatalf("opponent delete: expected ErrNotOwner, got %v", err)
	}
	if err := f.gw.DeleteScore(ctx, "u1", c.ScoreID); err != nil {
		t.Fatalf("DeleteScore: %v", err)
	}
	if err := f.gw.DeleteScore(ctx, "u1", c.ScoreID); !errors.Is(err, scorestore.ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}
