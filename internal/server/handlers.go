package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/scorestore"
	"github.com/park285/scorekeeper/pkg/livedto"
)

const (
	maxBody            = 64 << 10
	defaultScoresLimit = 20
	maxScoresLimit     = 200
)

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed request body")
	}
	return nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, viewer string) {
	games, err := s.gw.ListLiveGames(r.Context(), viewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if games == nil {
		games = []livegame.LiveGame{}
	}
	writeJSON(w, http.StatusOK, livedto.LiveGamesResponse{Games: games})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, viewer string) {
	var req livedto.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.gw.CreateLiveGame(r.Context(), viewer, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, livedto.LiveGameResponse{Game: g})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request, viewer string) {
	var req livedto.ScoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.gw.UpdateLiveGameScore(r.Context(), viewer, r.PathValue("id"), req.Score, req.Pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, livedto.LiveGameResponse{Game: g})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, viewer string) {
	if err := s.gw.DeleteLiveGame(r.Context(), viewer, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, viewer string) {
	id := r.PathValue("id")
	c, err := s.gw.CompleteLiveGame(r.Context(), viewer, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("http_complete", zap.String("game_id", id), zap.Int64("score_id", c.ScoreID))
	writeJSON(w, http.StatusOK, livedto.CompleteResponse{
		ScoreID:         c.ScoreID,
		PublicID:        c.PublicID,
		PoolTransferred: c.PoolTransferred,
	})
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request, viewer string) {
	g, err := s.gw.WatchLiveGame(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, livedto.LiveGameResponse{Game: g})
}

func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request, viewer string) {
	if err := s.gw.UnwatchLiveGame(r.Context(), viewer, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scoreID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("score id must be a positive number")
	}
	return id, nil
}

func (s *Server) handleEditScore(w http.ResponseWriter, r *http.Request, viewer string) {
	id, err := scoreID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req livedto.EditScoreRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := s.gw.EditScore(r.Context(), viewer, id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, livedto.ScoreResponse{Score: sc})
}

func (s *Server) handleDeleteScore(w http.ResponseWriter, r *http.Request, viewer string) {
	id, err := scoreID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.gw.DeleteScore(r.Context(), viewer, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request, viewer string) {
	limit := defaultScoresLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, badRequest("limit must be a positive number"))
			return
		}
		limit = min(n, maxScoresLimit)
	}
	scores, err := s.gw.RecentScores(r.Context(), viewer, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := livedto.ScoresResponse{Scores: scores}
	if resp.Scores == nil {
		resp.Scores = []*scorestore.Score{}
	}
	writeJSON(w, http.StatusOK, resp)
}
