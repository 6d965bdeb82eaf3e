package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pracsuite/pracsuite/libs/httpx"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/availability"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/generator"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/matcher"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

type ScheduleHandler struct {
	gen    *generator.Generator
	store  *storage.ScheduleStore
	logger *slog.Logger
}

func NewScheduleHandler(gen *generator.Generator, store *storage.ScheduleStore, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{gen: gen, store: store, logger: logger}
}

type generateRequest struct {
	OrgID     string `json:"org_id"`
	WeekStart string `json:"week_start"`
}

type sessionItem struct {
	SessionID  string `json:"session_id"`
	ProviderID string `json:"provider_id"`
	ClientID   string `json:"client_id"`
	RoomID     string `json:"room_id,omitempty"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Status     string `json:"status"`
}

type scheduleResponse struct {
	ScheduleID  string                       `json:"schedule_id"`
	WeekStart   string                       `json:"week_start"`
	Status      string                       `json:"status"`
	Version     int                          `json:"version"`
	PublishedAt string                       `json:"published_at,omitempty"`
	Sessions    []sessionItem                `json:"sessions,omitempty"`
	Warnings    []generator.CoverageWarning  `json:"warnings,omitempty"`
	Rescheduled []generator.Change           `json:"rescheduled,omitempty"`
	Removed     []generator.Removal          `json:"removed,omitempty"`
	Skipped     []generator.Skip             `json:"skipped,omitempty"`
}

type blockedRuleItem struct {
	RuleID string   `json:"rule_id"`
	Name   string   `json:"name"`
	Issues []string `json:"issues"`
}

func (h *ScheduleHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	orgID := strings.TrimSpace(req.OrgID)
	week, ok := parseWeek(req.WeekStart)
	if orgID == "" || !ok {
		http.Error(w, "org_id and week_start are required", http.StatusBadRequest)
		return
	}

	res, err := h.gen.Generate(r.Context(), orgID, week)
	if err != nil {
		h.writeGenerationError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toScheduleResponse(res.Schedule, res.Sessions, res.Warnings, nil, nil, nil))
}

func (h *ScheduleHandler) DraftCopy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	orgID := strings.TrimSpace(req.OrgID)
	week, ok := parseWeek(req.WeekStart)
	if orgID == "" || !ok {
		http.Error(w, "org_id and week_start are required", http.StatusBadRequest)
		return
	}

	res, err := h.gen.CreateDraftCopy(r.Context(), orgID, week)
	if err != nil {
		if errors.Is(err, generator.ErrNoPublishedSchedule) {
			http.Error(w, "no published schedule for week", http.StatusNotFound)
			return
		}
		h.writeGenerationError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toScheduleResponse(res.Schedule, res.Sessions, nil, res.Rescheduled, res.Removed, res.Skipped))
}

type publishRequest struct {
	OrgID      string `json:"org_id"`
	ScheduleID string `json:"schedule_id"`
}

func (h *ScheduleHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	if req.OrgID == "" || req.ScheduleID == "" {
		http.Error(w, "org_id and schedule_id are required", http.StatusBadRequest)
		return
	}

	sched, err := h.gen.Publish(r.Context(), req.OrgID, req.ScheduleID)
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			http.Error(w, "schedule not found", http.StatusNotFound)
		case errors.Is(err, generator.ErrNotDraft):
			http.Error(w, "only draft schedules can be published", http.StatusConflict)
		case storage.IsConflict(err):
			http.Error(w, "schedule conflicts with bookings made since the draft", http.StatusConflict)
		default:
			h.logger.Error("publish failed", "err", err)
			http.Error(w, "failed to publish schedule", http.StatusInternalServerError)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toScheduleResponse(*sched, nil, nil, nil, nil, nil))
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	week, ok := parseWeek(strings.TrimSpace(r.URL.Query().Get("week_start")))
	if orgID == "" || !ok {
		http.Error(w, "org_id and week_start are required", http.StatusBadRequest)
		return
	}

	scheds, err := h.store.ListSchedules(r.Context(), orgID, week)
	if err != nil {
		h.logger.Error("list schedules failed", "err", err)
		http.Error(w, "failed to list schedules", http.StatusInternalServerError)
		return
	}

	items := make([]scheduleResponse, 0, len(scheds))
	for _, sched := range scheds {
		items = append(items, toScheduleResponse(sched, nil, nil, nil, nil, nil))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

type validateAssignmentRequest struct {
	OrgID      string `json:"org_id"`
	ClientID   string `json:"client_id"`
	ProviderID string `json:"provider_id"`
	RoomID     string `json:"room_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// ValidateAssignment checks a manual placement against the current
// rules, availability, and booked state without writing anything. All
// violated rules are reported, not just the first.
func (h *ScheduleHandler) ValidateAssignment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req validateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.OrgID == "" || req.ClientID == "" || req.ProviderID == "" {
		http.Error(w, "org_id, client_id and provider_id are required", http.StatusBadRequest)
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

	ctx := r.Context()
	week := model.WeekStartOf(start)
	weekEnd := week.AddDate(0, 0, 7)

	ruleList, err := h.store.Rules(ctx, req.OrgID)
	if err != nil {
		http.Error(w, "failed to load rules", http.StatusInternalServerError)
		return
	}
	snap, err := h.store.Directory(ctx, req.OrgID)
	if err != nil {
		http.Error(w, "failed to load directory", http.StatusInternalServerError)
		return
	}
	exceptions, err := h.store.Exceptions(ctx, req.OrgID, week, weekEnd)
	if err != nil {
		http.Error(w, "failed to load exceptions", http.StatusInternalServerError)
		return
	}

	var client *model.Client
	for i := range snap.Clients {
		if snap.Clients[i].ID == req.ClientID {
			client = &snap.Clients[i]
		}
	}
	var provider *model.Provider
	for i := range snap.Providers {
		if snap.Providers[i].ID == req.ProviderID {
			provider = &snap.Providers[i]
		}
	}
	if client == nil || provider == nil {
		http.Error(w, "client or provider not found", http.StatusNotFound)
		return
	}

	_, sessions, err := h.store.ScheduleForWeek(ctx, req.OrgID, week, model.SchedulePublished)
	if err != nil {
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	liveHolds, err := h.store.LiveHolds(ctx, req.OrgID, week, weekEnd)
	if err != nil {
		http.Error(w, "failed to load holds", http.StatusInternalServerError)
		return
	}
	// Hold-born bookings may sit outside the published schedule.
	converted, err := h.store.ConvertedSessions(ctx, req.OrgID, week, weekEnd)
	if err != nil {
		http.Error(w, "failed to load sessions", http.StatusInternalServerError)
		return
	}
	seen := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		seen[sess.ID] = true
	}
	for _, sess := range converted {
		if !seen[sess.ID] {
			sessions = append(sessions, sess)
		}
	}

	resolver := availability.NewResolver(snap.Settings)
	windows := make(map[string][7][]availability.Window, len(snap.Providers))
	for _, p := range snap.Providers {
		if p.Active {
			windows[p.ID] = resolver.WindowsForWeek(p, week, exceptions)
		}
	}

	m := matcher.Matcher{
		Rules:     rules.NewSet(ruleList),
		Settings:  snap.Settings,
		WeekStart: week,
		Windows:   windows,
	}
	state := matcher.NewBookingState(sessions, liveHolds, time.Now().UTC())

	if err := m.Validate(*client, *provider, strings.TrimSpace(req.RoomID), matcher.Slot{Start: start, End: end}, snap.Rooms, state); err != nil {
		var invalid *matcher.InvalidAssignmentError
		if errors.As(err, &invalid) {
			httpx.WriteJSONError(w, http.StatusUnprocessableEntity, "assignment violates hard rules", map[string]any{
				"client_id":   invalid.ClientID,
				"provider_id": invalid.ProviderID,
				"violations":  invalid.Violations,
			})
			return
		}
		http.Error(w, "validation failed", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *ScheduleHandler) writeGenerationError(w http.ResponseWriter, err error) {
	var review *rules.ReviewRequiredError
	switch {
	case errors.As(err, &review):
		blocked := make([]blockedRuleItem, 0, len(review.Rules))
		for _, b := range review.Rules {
			blocked = append(blocked, blockedRuleItem{RuleID: b.RuleID, Name: b.Name, Issues: b.Issues})
		}
		httpx.WriteJSONError(w, http.StatusUnprocessableEntity, review.Error(), map[string]any{"rules": blocked})
	case errors.Is(err, generator.ErrGenerationInProgress):
		http.Error(w, "generation already running for this week", http.StatusConflict)
	default:
		h.logger.Error("generation failed", "err", err)
		http.Error(w, "failed to generate schedule", http.StatusInternalServerError)
	}
}

func toScheduleResponse(sched model.Schedule, sessions []model.Session, warnings []generator.CoverageWarning, rescheduled []generator.Change, removed []generator.Removal, skipped []generator.Skip) scheduleResponse {
	resp := scheduleResponse{
		ScheduleID:  sched.ID,
		WeekStart:   sched.WeekStart.UTC().Format("2006-01-02"),
		Status:      string(sched.Status),
		Version:     sched.Version,
		Warnings:    warnings,
		Rescheduled: rescheduled,
		Removed:     removed,
		Skipped:     skipped,
	}
	if sched.PublishedAt != nil {
		resp.PublishedAt = sched.PublishedAt.UTC().Format(time.RFC3339)
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sessionItem{
			SessionID:  sess.ID,
			ProviderID: sess.ProviderID,
			ClientID:   sess.ClientID,
			RoomID:     sess.RoomID,
			StartTime:  sess.StartTime.UTC().Format(time.RFC3339),
			EndTime:    sess.EndTime.UTC().Format(time.RFC3339),
			Status:     string(sess.Status),
		})
	}
	return resp
}

// parseWeek accepts a date (2006-01-02) or an RFC 3339 timestamp and
// truncates it to its Monday week opening.
func parseWeek(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if day, err := time.Parse("2006-01-02", raw); err == nil {
		return model.WeekStartOf(day), true
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return model.WeekStartOf(ts), true
	}
	return time.Time{}, false
}
