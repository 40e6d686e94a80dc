package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/scorekeeper/internal/feed"
	"github.com/park285/scorekeeper/internal/gateway"
)

type FeedState int

const (
	StateDisconnected FeedState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s FeedState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// StateCallback receives every state transition. reconnected is true for a
// Connected that follows a lost connection.
type StateCallback func(viewerID string, state FeedState, reconnected bool)

type feedConn struct {
	c      *Client
	viewer string
	fn     feed.Handler
	log    *zap.Logger

	connM sync.Mutex
	conn  *websocket.Conn

	stateM sync.Mutex
	state  FeedState

	// fnM keeps callbacks in delivery order across reconnects.
	fnM sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func requireViewer(viewerID string) (string, error) {
	v := strings.TrimSpace(viewerID)
	if v == "" {
		return "", gateway.ErrUnauthorized
	}
	return v, nil
}

func (c *Client) newFeed(viewer string, fn feed.Handler) *feedConn {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &feedConn{
		c:          c,
		viewer:     strings.TrimSpace(viewer),
		fn:         fn,
		log:        c.log.With(zap.String("viewer_id", viewer)),
		stopCh:     make(chan struct{}),
		rootCtx:    rootCtx,
		rootCancel: cancel,
	}
}

func (f *feedConn) dialURL() string {
	u, err := url.Parse(f.c.wsURL)
	if err != nil {
		return f.c.wsURL
	}
	q := u.Query()
	q.Set("user", f.viewer)
	u.RawQuery = q.Encode()
	return u.String()
}

func (f *feedConn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	hdr := http.Header{}
	hdr.Set(userHeader, f.viewer)
	conn, _, err := websocket.Dial(dialCtx, f.dialURL(), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      hdr,
	})
	return conn, err
}

// connect performs the first dial. A failure here is returned to the caller
// rather than retried in the background.
func (f *feedConn) connect(ctx context.Context) error {
	f.setState(StateConnecting, false)
	conn, err := f.dial(ctx)
	if err != nil {
		f.setState(StateFailed, false)
		f.rootCancel()
		return err
	}
	f.attach(conn, false)
	return nil
}

func (f *feedConn) attach(conn *websocket.Conn, reconnected bool) {
	f.connM.Lock()
	f.conn = conn
	f.connM.Unlock()
	f.wg.Add(2)
	go f.listen(conn)
	go f.pingLoop(conn)
	f.setState(StateConnected, reconnected)
	f.log.Info("remote_feed_connected", zap.Bool("reconnected", reconnected))
}

func (f *feedConn) listen(conn *websocket.Conn) {
	defer f.wg.Done()
	for {
		var ev feed.Event
		if err := wsjson.Read(f.rootCtx, conn, &ev); err != nil {
			if f.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			f.log.Warn("remote_feed_lost", zap.Error(err))
			f.drop(conn, websocket.StatusGoingAway, "reconnect")
			return
		}
		f.fnM.Lock()
		f.fn(ev)
		f.fnM.Unlock()
	}
}

func (f *feedConn) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	t := time.NewTicker(f.c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-f.stopCh:
			return
		case <-f.rootCtx.Done():
			return
		case <-t.C:
			if !f.current(conn) {
				return
			}
			ctx, cancel := context.WithTimeout(f.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if f.isStopping() {
					return
				}
				f.drop(conn, websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (f *feedConn) current(conn *websocket.Conn) bool {
	f.connM.Lock()
	defer f.connM.Unlock()
	return f.conn == conn
}

// drop closes conn if it is still the active connection and starts reconnecting.
// listen and pingLoop may both notice the same failure; only the first one counts.
func (f *feedConn) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	f.connM.Lock()
	if f.conn != conn {
		f.connM.Unlock()
		return
	}
	f.conn = nil
	f.connM.Unlock()
	_ = conn.Close(code, reason)
	f.setState(StateDisconnected, false)
	f.scheduleReconnect()
}

func (f *feedConn) scheduleReconnect() {
	f.setState(StateReconnecting, false)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for attempt := 1; f.c.maxReconnect <= 0 || attempt <= f.c.maxReconnect; attempt++ {
			select {
			case <-f.stopCh:
				return
			case <-time.After(f.c.reconnectDelay * time.Duration(1<<uint(min(attempt-1, 6)))):
			}
			conn, err := f.dial(f.rootCtx)
			if err != nil {
				f.log.Debug("remote_feed_redial_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if f.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			f.attach(conn, true)
			return
		}
		f.setState(StateFailed, false)
		f.log.Warn("remote_feed_gave_up")
	}()
}

func (f *feedConn) setState(s FeedState, reconnected bool) {
	f.stateM.Lock()
	f.state = s
	f.stateM.Unlock()
	if cb := f.c.onState; cb != nil {
		cb(f.viewer, s, reconnected)
	}
}

func (f *feedConn) State() FeedState {
	f.stateM.Lock()
	defer f.stateM.Unlock()
	return f.state
}

func (f *feedConn) isStopping() bool {
	select {
	case <-f.stopCh:
		return true
	default:
		return false
	}
}

// close stops the feed and waits for its goroutines. Safe to call more than once.
func (f *feedConn) close() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
		f.connM.Lock()
		conn := f.conn
		f.conn = nil
		f.connM.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "close")
		}
		f.rootCancel()
		f.wg.Wait()
		f.setState(StateDisconnected, false)
	})
}
