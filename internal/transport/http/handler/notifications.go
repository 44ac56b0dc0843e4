package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/snaphub-notify/internal/application/notification"
	"github.com/snaphub-notify/internal/domain"
	"github.com/snaphub-notify/internal/transport/http/middleware"
)

// NotificationHandler handles the caller's own notification feed.
type NotificationHandler struct {
	svc    notification.Service
	logger *zap.Logger
}

func NewNotificationHandler(svc notification.Service, logger *zap.Logger) *NotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{svc: svc, logger: logger}
}

// List runs a reconciliation pass. Failures degrade to an empty feed rather
// than an error status so polling clients never break.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	feed, err := h.svc.Reconcile(r.Context(), claims.UserID, middleware.BearerFromContext(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusOK, FeedEnvelope{Feed: feed, Degraded: true, Reason: degradedReason(err)})
		return
	}
	writeJSON(w, http.StatusOK, FeedEnvelope{Feed: feed})
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return "auth"
	case errors.Is(err, domain.ErrFetch):
		return "fetch_failed"
	case errors.Is(err, domain.ErrSessionEnded):
		return "session_ended"
	default:
		return "unavailable"
	}
}

func (h *NotificationHandler) Current(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, FeedEnvelope{Feed: h.svc.Current(claims.UserID)})
}

func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Acknowledge(r.Context(), claims.UserID, chi.URLParam(r, "id")); err != nil {
		h.logger.Error("acknowledge", zap.String("user_id", claims.UserID), zap.Error(err))
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedEnvelope{Feed: h.svc.Current(claims.UserID)})
}

func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.AcknowledgeAll(r.Context(), claims.UserID); err != nil {
		h.logger.Error("acknowledge all", zap.String("user_id", claims.UserID), zap.Error(err))
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FeedEnvelope{Feed: h.svc.Current(claims.UserID)})
}

// Delete removes the source record. A backend failure still returns 200
// because the notification is gone locally; the next pass restores it if the
// record survived.
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.svc.DeleteSource(r.Context(), claims.UserID, middleware.BearerFromContext(r.Context()), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, DeleteEnvelope{Message: "deleted"})
	case errors.Is(err, domain.ErrDeleteFailed):
		writeJSON(w, http.StatusOK, DeleteEnvelope{Message: "removed locally", Warning: "backend delete failed"})
	default:
		httpError(w, err)
	}
}

func (h *NotificationHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.svc.EndSession(claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

// ResetReadState is the admin endpoint clearing another user's read state.
func (h *NotificationHandler) ResetReadState(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id required")
		return
	}
	if err := h.svc.ResetReadState(r.Context(), userID); err != nil {
		h.logger.Error("reset read state", zap.String("user_id", userID), zap.Error(err))
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
