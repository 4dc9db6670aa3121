package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

var errBadRequest = errors.New("bad request")

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func classify(err error) (int, string, bool) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", false
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden", false
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", false
	case errors.Is(err, domain.ErrTerminalStatus):
		return http.StatusConflict, "terminal_status", false
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status", false
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request", false
	default:
		return http.StatusInternalServerError, "internal", true
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, retryable := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: msg, Retryable: retryable}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Encode response failed")
	}
}
