package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/scorekeeper/internal/access"
	"github.com/park285/scorekeeper/internal/gateway"
	"github.com/park285/scorekeeper/internal/livegame"
	"github.com/park285/scorekeeper/internal/livestore"
	"github.com/park285/scorekeeper/internal/scorestore"
	"github.com/park285/scorekeeper/pkg/livedto"
)

// toDomainError maps err onto a status and wire body. Internal failures never
// expose their message.
func toDomainError(err error) (int, livedto.DomainError) {
	var (
		ve *livegame.ValidationError
		ce *gateway.CompletionError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, livedto.DomainError{Code: livedto.CodeValidation, Field: ve.Field, Message: ve.Reason}
	case errors.As(err, &ce):
		return http.StatusBadGateway, livedto.DomainError{
			Code:            livedto.CodeCompletion,
			Message:         "completion stopped at " + string(ce.Step),
			Retryable:       true,
			Step:            string(ce.Step),
			ScoreID:         ce.ScoreID,
			LiveGameRemains: ce.LiveGameRemains,
		}
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, livedto.DomainError{Code: livedto.CodeUnauthorized, Message: err.Error()}
	case errors.Is(err, access.ErrForbidden), errors.Is(err, scorestore.ErrNotOwner):
		return http.StatusForbidden, livedto.DomainError{Code: livedto.CodeForbidden, Message: err.Error()}
	case errors.Is(err, gateway.ErrNotFound), errors.Is(err, scorestore.ErrNotFound):
		return http.StatusNotFound, livedto.DomainError{Code: livedto.CodeNotFound, Message: err.Error()}
	case errors.Is(err, livestore.ErrConflict):
		return http.StatusConflict, livedto.DomainError{Code: livedto.CodeConflict, Message: err.Error(), Retryable: true}
	case errors.Is(err, livegame.ErrNotPoolGame),
		errors.Is(err, livegame.ErrInvalidSide),
		errors.Is(err, livegame.ErrInvalidDelta),
		errors.Is(err, livegame.ErrInvalidRule):
		return http.StatusBadRequest, livedto.DomainError{Code: livedto.CodeBadRequest, Message: err.Error()}
	default:
		return http.StatusInternalServerError, livedto.DomainError{Code: livedto.CodeInternal, Message: "internal error", Retryable: true}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := toDomainError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("http_error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	} else {
		s.log.Debug("http_rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("code", body.Code),
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(msg string) error {
	return &livegame.ValidationError{Field: "body", Reason: msg}
}
