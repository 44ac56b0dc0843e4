package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/snaphub-notify/internal/application/notification"
	"github.com/snaphub-notify/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

// FeedEnvelope wraps notification list responses. Degraded is set when the
// list could not be computed and is empty in its place.
type FeedEnvelope struct {
	notification.Feed
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// DeleteEnvelope wraps source-delete responses. Warning carries the backend
// failure when the record was only removed locally.
type DeleteEnvelope struct {
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// httpError maps domain errors to status codes. Unknown errors are 500 and
// their text is not echoed.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidID), errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrSessionEnded):
		writeError(w, http.StatusConflict, "session ended")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
