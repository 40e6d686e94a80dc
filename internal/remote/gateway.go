package remote

import (
	"context"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/scorestore"
	"github.com/park285/scorekeeper/pkg/livedto"
)

var _ gateway.Gateway = (*Client)(nil)

func (c *Client) ListLiveGames(ctx context.Context, viewerID string) ([]livegame.LiveGame, error) {
	var resp livedto.LiveGamesResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/live", viewerID, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Games, nil
}

// CreateLiveGame is never retried: a lost response would start a second game.
func (c *Client) CreateLiveGame(ctx context.Context, viewerID string, req livegame.CreateRequest) (livegame.LiveGame, error) {
	var resp livedto.LiveGameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/live", viewerID, req, &resp, false); err != nil {
		return livegame.LiveGame{}, err
	}
	return resp.Game, nil
}

func (c *Client) UpdateLiveGameScore(ctx context.Context, viewerID, id string, score livegame.Score, patch *livegame.PoolPatch) (livegame.LiveGame, error) {
	var resp livedto.LiveGameResponse
	in := livedto.ScoreRequest{Score: score, Pool: patch}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/live/"+escape(id)+"/score", viewerID, in, &resp, true); err != nil {
		return livegame.LiveGame{}, err
	}
	return resp.Game, nil
}

func (c *Client) DeleteLiveGame(ctx context.Context, viewerID, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/live/"+escape(id), viewerID, nil, nil, true)
}

func (c *Client) CompleteLiveGame(ctx context.Context, viewerID, id string) (gateway.Completion, error) {
	var resp livedto.CompleteResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/live/"+escape(id)+"/complete", viewerID, nil, &resp, true); err != nil {
		return gateway.Completion{}, err
	}
	return gateway.Completion{ScoreID: resp.ScoreID, PublicID: resp.PublicID, PoolTransferred: resp.PoolTransferred}, nil
}

func (c *Client) WatchLiveGame(ctx context.Context, viewerID, id string) (livegame.LiveGame, error) {
	var resp livedto.LiveGameResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/live/"+escape(id)+"/watch", viewerID, nil, &resp, true); err != nil {
		return livegame.LiveGame{}, err
	}
	return resp.Game, nil
}

func (c *Client) UnwatchLiveGame(ctx context.Context, viewerID, id string) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/live/"+escape(id)+"/watch", viewerID, nil, nil, true)
}

func (c *Client) EditScore(ctx context.Context, viewerID string, scoreID int64, e scorestore.Edit) (*scorestore.Score, error) {
	var resp livedto.ScoreResponse
	path := "/scores/" + strconv.FormatInt(scoreID, 10)
	if err := c.doJSON(ctx, fasthttp.MethodPatch, path, viewerID, e, &resp, true); err != nil {
		return nil, err
	}
	return resp.Score, nil
}

func (c *Client) DeleteScore(ctx context.Context, viewerID string, scoreID int64) error {
	return c.doJSON(ctx, fasthttp.MethodDelete, "/scores/"+strconv.FormatInt(scoreID, 10), viewerID, nil, nil, true)
}

func (c *Client) RecentScores(ctx context.Context, viewerID string, limit int) ([]*scorestore.Score, error) {
	path := "/scores"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp livedto.ScoresResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, viewerID, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Scores, nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, fasthttp.MethodGet, "/healthz", "", nil, nil, false)
}

func (c *Client) SubscribeToLiveGameChanges(ctx context.Context, viewerID string, fn feed.Handler) (func(), error) {
	if _, err := requireViewer(viewerID); err != nil {
		return nil, err
	}
	f := c.newFeed(viewerID, fn)
	if err := f.connect(ctx); err != nil {
		return nil, err
	}
	return f.close, nil
}
