package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/breakrule"
	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/identity"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/registry"
	"github.com/park285/scorekeeper/internal/scorestore"
	"github.com/park285/scorekeeper/internal/server"
	"github.com/park285/scorekeeper/pkg/livedto"
)

type stack struct {
	mr     *miniredis.Miniredis
	ts     *httptest.Server
	client *Client
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := livestore.Dial(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	bus := feed.NewBus(rdb)
	var n atomic.Int64
	gw := gateway.NewLocal(livestore.New(rdb, bus), scorestore.NewMemoryRepository(), bus,
		gateway.WithCoin(func() bool { return true }),
		gateway.WithIDs(func() string { return fmt.Sprintf("id%d", n.Add(1)) }),
	)
	ts := httptest.NewServer(server.New(gw, nil).Handler())
	t.Cleanup(ts.Close)
	return &stack{mr: mr, ts: ts, client: NewClient(ts.URL, "", opts...)}
}

func (s *stack) waitSubscribed(t *testing.T, userID string, n int) {
	t.Helper()
	ch := feed.Channel(userID)
	require.Eventually(t, func() bool { return s.mr.PubSubNumSub(ch)[ch] == n }, 2*time.Second, 10*time.Millisecond)
}

func vsBob() livegame.CreateRequest {
	return livegame.CreateRequest{
		Kind:        livegame.Pool,
		CreatorName: "Alice",
		Opponent:    livegame.User("bob", "Bob"),
		Pool:        &livegame.PoolConfig{BreakRule: breakrule.WinnerStays, FirstBreaker: breakrule.ChooseSide1},
	}
}

func TestRoundTripAndTypedErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	c := s.client

	g, err := c.CreateLiveGame(ctx, "alice", vsBob())
	require.NoError(t, err)
	assert.Equal(t, "alice", g.CreatorID)

	games, err := c.ListLiveGames(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, games, 1)

	winner := breakrule.Side2
	upd, err := c.UpdateLiveGameScore(ctx, "bob", g.ID, livegame.Score{B: 1}, &livegame.PoolPatch{CurrentBreaker: &winner, LastRackWinner: &winner})
	require.NoError(t, err)
	assert.Equal(t, breakrule.Side2, upd.Pool.CurrentBreaker)

	_, err = c.UpdateLiveGameScore(ctx, "carol", g.ID, livegame.Score{A: 1}, nil)
	require.ErrorIs(t, err, access.ErrForbidden)

	_, err = c.CreateLiveGame(ctx, "alice", livegame.CreateRequest{Kind: livegame.PingPong, Opponent: livegame.User("alice", "")})
	var ve *livegame.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "opponent", ve.Field)

	_, err = c.ListLiveGames(ctx, "")
	require.ErrorIs(t, err, gateway.ErrUnauthorized)

	require.ErrorIs(t, c.DeleteLiveGame(ctx, "bob", g.ID), access.ErrForbidden)

	w, err := c.WatchLiveGame(ctx, "carol", g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, w.ID)

	comp, err := c.CompleteLiveGame(ctx, "alice", g.ID)
	require.NoError(t, err)
	assert.True(t, comp.PoolTransferred)

	_, err = c.CompleteLiveGame(ctx, "alice", g.ID)
	require.ErrorIs(t, err, gateway.ErrNotFound)

	scores, err := c.RecentScores(ctx, "bob", 5)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, comp.ScoreID, scores[0].ID)
	require.NotNil(t, scores[0].Pool)
	assert.Equal(t, breakrule.WinnerStays, scores[0].Pool.BreakRule)

	require.NoError(t, c.Health(ctx))
}

func TestScoreEditsAndUnwatch(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	c := s.client

	g, err := c.CreateLiveGame(ctx, "alice", vsBob())
	require.NoError(t, err)
	_, err = c.WatchLiveGame(ctx, "carol", g.ID)
	require.NoError(t, err)
	require.ErrorIs(t, c.UnwatchLiveGame(ctx, "bob", g.ID), access.ErrForbidden)
	require.NoError(t, c.UnwatchLiveGame(ctx, "carol", g.ID))
	games, err := c.ListLiveGames(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, games)

	comp, err := c.CompleteLiveGame(ctx, "alice", g.ID)
	require.NoError(t, err)
	fixed := livegame.Score{A: 4, B: 2}
	_, err = c.EditScore(ctx, "bob", comp.ScoreID, scorestore.Edit{Score: &fixed})
	require.ErrorIs(t, err, access.ErrForbidden)
	sc, err := c.EditScore(ctx, "alice", comp.ScoreID, scorestore.Edit{Score: &fixed})
	require.NoError(t, err)
	assert.Equal(t, fixed, sc.Score)

	require.NoError(t, c.DeleteScore(ctx, "alice", comp.ScoreID))
	require.ErrorIs(t, c.DeleteScore(ctx, "alice", comp.ScoreID), gateway.ErrNotFound)
}

func TestDecodeCompletionError(t *testing.T) {
	err := decodeError(http.StatusBadGateway, livedto.DomainError{
		Code:            livedto.CodeCompletion,
		Message:         "completion stopped at transfer_pool",
		Step:            "transfer_pool",
		ScoreID:         12,
		LiveGameRemains: true,
	})
	var ce *gateway.CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, gateway.StepTransferPool, ce.Step)
	assert.True(t, ce.Saved())

	err = decodeError(http.StatusTeapot, livedto.DomainError{Code: "odd", Message: "short and stout"})
	var de livedto.DomainError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, err.Error(), "status=418")
}

func TestRetriesOnlyIdempotentCalls(t *testing.T) {
	var lists, creates atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/live":
			if lists.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"code":"internal","retryable":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"games":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/live":
			creates.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"internal"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", WithRetry(3))
	games, err := c.ListLiveGames(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.Equal(t, int32(3), lists.Load())

	_, err = c.CreateLiveGame(context.Background(), "alice", vsBob())
	require.Error(t, err)
	assert.Equal(t, int32(1), creates.Load())
}

func TestFeedDeliversInvite(t *testing.T) {
	s := newStack(t)
	var mu sync.Mutex
	var got []feed.Event
	unsub, err := s.client.SubscribeToLiveGameChanges(context.Background(), "bob", func(ev feed.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()
	s.waitSubscribed(t, "bob", 1)

	g, err := s.client.CreateLiveGame(context.Background(), "alice", vsBob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, g.ID, got[0].GameID)
	assert.True(t, got[0].Invite)
	mu.Unlock()

	unsub()
	unsub()
	s.waitSubscribed(t, "bob", 0)
}

func TestFeedReconnects(t *testing.T) {
	var conns atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		ev := feed.Event{Type: feed.Delete, GameID: fmt.Sprintf("g%d", n)}
		_ = wsjson.Write(r.Context(), conn, ev)
		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		<-conn.CloseRead(r.Context()).Done()
	}))
	defer ts.Close()

	var mu sync.Mutex
	var ids []string
	var reconnects atomic.Int32
	c := NewClient(ts.URL, "ws"+strings.TrimPrefix(ts.URL, "http"),
		WithReconnect(5, 10*time.Millisecond),
		WithStateHandler(func(_ string, st FeedState, reconnected bool) {
			if st == StateConnected && reconnected {
				reconnects.Add(1)
			}
		}),
	)
	unsub, err := c.SubscribeToLiveGameChanges(context.Background(), "bob", func(ev feed.Event) {
		mu.Lock()
		ids = append(ids, ev.GameID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 2
	}, 3*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"g1", "g2"}, ids)
	mu.Unlock()
	assert.Equal(t, int32(1), reconnects.Load())
}

func TestSubscribeFailsFast(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	_, err := c.SubscribeToLiveGameChanges(context.Background(), "bob", func(feed.Event) {})
	require.Error(t, err)

	_, err = c.SubscribeToLiveGameChanges(context.Background(), " ", func(feed.Event) {})
	require.True(t, errors.Is(err, gateway.ErrUnauthorized))
}

// Two viewers each run a registry against the same server; edits by one reach the
// other through the feed.
func TestRegistriesConvergeOverRemote(t *testing.T) {
	s := newStack(t)

	open := func(viewer string) *registry.Registry {
		ident := identity.NewProvider()
		r := registry.New(s.client, ident)
		require.NoError(t, r.Start())
		t.Cleanup(r.Close)
		ident.SignIn(viewer)
		return r
	}
	alice := open("alice")
	bob := open("bob")
	s.waitSubscribed(t, "alice", 1)
	s.waitSubscribed(t, "bob", 1)

	g, err := alice.Create(context.Background(), vsBob())
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := bob.Game(g.ID); return ok }, 2*time.Second, 10*time.Millisecond)

	_, err = bob.ApplyScoreDelta(g.ID, breakrule.Side2, livegame.Increment)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := alice.Game(g.ID)
		return ok && v.Game.Score.B == 1 && v.Game.Pool.CurrentBreaker == breakrule.Side2
	}, 2*time.Second, 10*time.Millisecond)

	_, err = bob.Save(context.Background(), g.ID)
	require.ErrorIs(t, err, access.ErrForbidden)

	_, err = alice.Save(context.Background(), g.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := bob.Game(g.ID); return !ok }, 2*time.Second, 10*time.Millisecond)
}
