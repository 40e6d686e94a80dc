// Package server exposes a gateway.Gateway over HTTP and streams the change feed
// over WebSocket.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/gateway"
)

// UserHeader carries the viewer identity. WebSocket clients that cannot set headers
// may pass ?user= instead.
const UserHeader = "X-User-Id"

type HealthCheck func(ctx context.Context) error

type Server struct {
	gw     gateway.Gateway
	log    *zap.Logger
	mux    *http.ServeMux
	health []HealthCheck

	feedBuffer  int
	pingEvery   time.Duration
	writeWait   time.Duration
	originCheck bool
}

type Option func(*Server)

func WithHealthCheck(h HealthCheck) Option {
	return func(s *Server) {
		if h != nil {
			s.health = append(s.health, h)
		}
	}
}

// WithFeedBuffer sets how many events may queue for one WebSocket client before it
// is disconnected.
func WithFeedBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.feedBuffer = n
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingEvery = d
		}
	}
}

// WithOriginCheck enforces same-origin WebSocket handshakes.
func WithOriginCheck(on bool) Option {
	return func(s *Server) { s.originCheck = on }
}

func New(gw gateway.Gateway, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		gw:         gw,
		log:        logger,
		mux:        http.NewServeMux(),
		feedBuffer: 64,
		pingEvery:  30 * time.Second,
		writeWait:  5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /live", s.withViewer(s.handleList))
	s.mux.HandleFunc("POST /live", s.withViewer(s.handleCreate))
	s.mux.HandleFunc("POST /live/{id}/score", s.withViewer(s.handleScore))
	s.mux.HandleFunc("DELETE /live/{id}", s.withViewer(s.handleDelete))
	s.mux.HandleFunc("POST /live/{id}/complete", s.withViewer(s.handleComplete))
	s.mux.HandleFunc("POST /live/{id}/watch", s.withViewer(s.handleWatch))
	s.mux.HandleFunc("DELETE /live/{id}/watch", s.withViewer(s.handleUnwatch))
	s.mux.HandleFunc("GET /scores", s.withViewer(s.handleScores))
	s.mux.HandleFunc("PATCH /scores/{id}", s.withViewer(s.handleEditScore))
	s.mux.HandleFunc("DELETE /scores/{id}", s.withViewer(s.handleDeleteScore))
	s.mux.HandleFunc("GET /feed", s.withViewer(s.handleFeed))
}

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http_listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http_shutdown_error", zap.Error(err))
		return err
	}
	s.log.Info("http_stopped")
	return nil
}

type viewerHandler func(w http.ResponseWriter, r *http.Request, viewer string)

func (s *Server) withViewer(h viewerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewer := strings.TrimSpace(r.Header.Get(UserHeader))
		if viewer == "" {
			viewer = strings.TrimSpace(r.URL.Query().Get("user"))
		}
		if viewer == "" {
			s.writeError(w, r, gateway.ErrUnauthorized)
			return
		}
		h(w, r, viewer)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, h := range s.health {
		if err := h(ctx); err != nil {
			s.log.Warn("health_check_failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
