package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pracsuite/pracsuite/libs/httpx"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

type SessionHandler struct {
	store  *storage.ScheduleStore
	logger *slog.Logger
}

func NewSessionHandler(store *storage.ScheduleStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

type sessionStatusRequest struct {
	OrgID     string `json:"org_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type cancelSessionRequest struct {
	OrgID     string `json:"org_id"`
	SessionID string `json:"session_id"`
}

func (h *SessionHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sessionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Status = strings.TrimSpace(req.Status)
	if req.OrgID == "" || req.SessionID == "" || req.Status == "" {
		http.Error(w, "org_id, session_id and status are required", http.StatusBadRequest)
		return
	}

	sess, err := h.store.UpdateSessionStatus(r.Context(), req.OrgID, req.SessionID, model.SessionStatus(req.Status))
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionItem(sess))
}

// Cancel moves a session to cancelled, or late_cancelled when the
// request lands inside the organization's late-cancel window.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.OrgID == "" || req.SessionID == "" {
		http.Error(w, "org_id and session_id are required", http.StatusBadRequest)
		return
	}

	sess, err := h.store.CancelSession(r.Context(), req.OrgID, req.SessionID, time.Now().UTC())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionItem(sess))
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case storage.IsNotFound(err):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidTransition):
		http.Error(w, "status transition not permitted", http.StatusUnprocessableEntity)
	default:
		h.logger.Error("session update failed", "err", err)
		http.Error(w, "failed to update session", http.StatusInternalServerError)
	}
}

func toSessionItem(sess model.Session) sessionItem {
	return sessionItem{
		SessionID:  sess.ID,
		ProviderID: sess.ProviderID,
		ClientID:   sess.ClientID,
		RoomID:     sess.RoomID,
		StartTime:  sess.StartTime.UTC().Format(time.RFC3339),
		EndTime:    sess.EndTime.UTC().Format(time.RFC3339),
		Status:     string(sess.Status),
	}
}
