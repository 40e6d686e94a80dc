package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/scorekeeper/internal/feed"
)

// handleFeed streams the viewer's change events as JSON text frames. A client that
// falls behind by more than the feed buffer is disconnected and has to reload.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, viewer string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: !s.originCheck,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Warn("ws_accept_error", zap.String("viewer_id", viewer), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	ctx := conn.CloseRead(r.Context())
	events := make(chan feed.Event, s.feedBuffer)
	overflow := make(chan struct{})
	var overflowed bool

	unsub, err := s.gw.SubscribeToLiveGameChanges(ctx, viewer, func(ev feed.Event) {
		if overflowed {
			return
		}
		select {
		case events <- ev:
		default:
			overflowed = true
			close(overflow)
		}
	})
	if err != nil {
		s.log.Warn("ws_subscribe_error", zap.String("viewer_id", viewer), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return
	}
	defer unsub()
	s.log.Info("ws_feed_open", zap.String("viewer_id", viewer))

	ping := time.NewTicker(s.pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("ws_feed_closed", zap.String("viewer_id", viewer))
			return
		case <-overflow:
			s.log.Warn("ws_feed_overflow", zap.String("viewer_id", viewer))
			conn.Close(websocket.StatusPolicyViolation, "feed overflow")
			return
		case ev := <-events:
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Warn("ws_write_error", zap.String("viewer_id", viewer), zap.Error(err))
				}
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, s.writeWait)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev feed.Event) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeWait)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
