package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pracsuite/pracsuite/libs/httpx"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/holds"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// HoldHandler is the public booking surface. Routes are rate limited
// and hold acquisition supports Idempotency-Key retries.
type HoldHandler struct {
	mgr    *holds.Manager
	logger *slog.Logger
}

func NewHoldHandler(mgr *holds.Manager, logger *slog.Logger) *HoldHandler {
	return &HoldHandler{mgr: mgr, logger: logger}
}

type acquireHoldRequest struct {
	OrgID      string `json:"org_id"`
	ProviderID string `json:"provider_id"`
	RoomID     string `json:"room_id"`
	ClientID   string `json:"client_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

type holdResponse struct {
	HoldID     string `json:"hold_id"`
	ProviderID string `json:"provider_id"`
	RoomID     string `json:"room_id,omitempty"`
	ClientID   string `json:"client_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	ExpiresAt  string `json:"expires_at"`
}

func (h *HoldHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req acquireHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.OrgID == "" || req.ClientID == "" {
		http.Error(w, "org_id and client_id are required", http.StatusBadRequest)
		return
	}
	if req.ProviderID == "" && req.RoomID == "" {
		http.Error(w, "at least one of provider_id and room_id is required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}
	if start.Before(time.Now().UTC()) {
		http.Error(w, "start_time is in the past", http.StatusBadRequest)
		return
	}

	hold, err := h.mgr.Acquire(r.Context(), holds.AcquireRequest{
		OrgID:          req.OrgID,
		ProviderID:     req.ProviderID,
		RoomID:         req.RoomID,
		ClientID:       req.ClientID,
		Start:          start,
		End:            end,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		var conflict *holds.ConflictError
		if errors.As(err, &conflict) {
			httpx.WriteJSONError(w, http.StatusConflict, "slot is already held or booked", map[string]any{
				"provider_id": conflict.ProviderID,
				"room_id":     conflict.RoomID,
				"start_time":  conflict.Start.UTC().Format(time.RFC3339),
				"end_time":    conflict.End.UTC().Format(time.RFC3339),
			})
			return
		}
		h.logger.Error("hold acquire failed", "err", err)
		http.Error(w, "failed to acquire hold", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toHoldResponse(hold))
}

type holdActionRequest struct {
	OrgID  string `json:"org_id"`
	HoldID string `json:"hold_id"`
}

func (h *HoldHandler) Convert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeHoldAction(w, r)
	if !ok {
		return
	}

	sess, err := h.mgr.Convert(r.Context(), req.OrgID, req.HoldID)
	if err != nil {
		h.writeHoldError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toSessionItem(sess))
}

func (h *HoldHandler) Release(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, ok := decodeHoldAction(w, r)
	if !ok {
		return
	}

	if err := h.mgr.Release(r.Context(), req.OrgID, req.HoldID); err != nil {
		h.writeHoldError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeHoldAction(w http.ResponseWriter, r *http.Request) (holdActionRequest, bool) {
	var req holdActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return req, false
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.HoldID = strings.TrimSpace(req.HoldID)
	if req.OrgID == "" || req.HoldID == "" {
		http.Error(w, "org_id and hold_id are required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *HoldHandler) writeHoldError(w http.ResponseWriter, err error) {
	var conflict *holds.ConflictError
	switch {
	case errors.Is(err, holds.ErrHoldNotFound):
		http.Error(w, "hold not found", http.StatusNotFound)
	case errors.Is(err, holds.ErrHoldExpired):
		http.Error(w, "hold has expired", http.StatusGone)
	case errors.Is(err, holds.ErrHoldConverted):
		http.Error(w, "hold was already converted", http.StatusConflict)
	case errors.Is(err, holds.ErrHoldReleased):
		http.Error(w, "hold was released", http.StatusConflict)
	case errors.As(err, &conflict):
		httpx.WriteJSONError(w, http.StatusConflict, "slot is already held or booked", map[string]any{
			"provider_id": conflict.ProviderID,
			"room_id":     conflict.RoomID,
		})
	default:
		h.logger.Error("hold operation failed", "err", err)
		http.Error(w, "hold operation failed", http.StatusInternalServerError)
	}
}

func toHoldResponse(hold model.Hold) holdResponse {
	return holdResponse{
		HoldID:     hold.ID,
		ProviderID: hold.ProviderID,
		RoomID:     hold.RoomID,
		ClientID:   hold.ClientID,
		StartTime:  hold.StartTime.UTC().Format(time.RFC3339),
		EndTime:    hold.EndTime.UTC().Format(time.RFC3339),
		ExpiresAt:  hold.ExpiresAt.UTC().Format(time.RFC3339),
	}
}
