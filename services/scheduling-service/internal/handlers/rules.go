package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pracsuite/pracsuite/libs/httpx"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

type RuleHandler struct {
	rules  *storage.RuleRepository
	dir    *storage.DirectoryRepository
	logger *slog.Logger
}

func NewRuleHandler(ruleRepo *storage.RuleRepository, dir *storage.DirectoryRepository, logger *slog.Logger) *RuleHandler {
	return &RuleHandler{rules: ruleRepo, dir: dir, logger: logger}
}

// ruleLogicPayload is the flat wire form of the per-category logic
// union. Only the fields matching the rule's category are read.
type ruleLogicPayload struct {
	ClientGender              string   `json:"client_gender,omitempty"`
	AllowedProviderGenders    []string `json:"allowed_provider_genders,omitempty"`
	MaxSessionsPerProviderDay int      `json:"max_sessions_per_provider_day,omitempty"`
	MaxSessionsPerClientDay   int      `json:"max_sessions_per_client_day,omitempty"`
	Weekdays                  []int    `json:"weekdays,omitempty"`
	WindowStartMin            int      `json:"window_start_min,omitempty"`
	WindowEndMin              int      `json:"window_end_min,omitempty"`
	ClientID                  string   `json:"client_id,omitempty"`
	ProviderID                string   `json:"provider_id,omitempty"`
	Effect                    string   `json:"effect,omitempty"`
	RequiredCertifications    []string `json:"required_certifications,omitempty"`
}

type ruleItem struct {
	RuleID       string           `json:"rule_id"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	Priority     int              `json:"priority"`
	Active       bool             `json:"active"`
	ReviewStatus string           `json:"review_status"`
	ReviewIssues []string         `json:"review_issues,omitempty"`
	ReviewedAt   string           `json:"reviewed_at,omitempty"`
	Logic        ruleLogicPayload `json:"logic"`
	CreatedAt    string           `json:"created_at,omitempty"`
}

func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	list, err := h.rules.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list rules failed", "err", err)
		http.Error(w, "failed to list rules", http.StatusInternalServerError)
		return
	}

	items := make([]ruleItem, 0, len(list))
	for _, rule := range list {
		items = append(items, toRuleItem(rule))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

type saveRuleRequest struct {
	OrgID string   `json:"org_id"`
	Rule  ruleItem `json:"rule"`
}

func (h *RuleHandler) Save(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req saveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.Rule.Name = strings.TrimSpace(req.Rule.Name)
	if req.OrgID == "" || req.Rule.Name == "" || req.Rule.Category == "" {
		http.Error(w, "org_id, rule name and category are required", http.StatusBadRequest)
		return
	}

	rule := fromRuleItem(req.OrgID, req.Rule)
	if rule.ID == "" {
		rule.ID = uuid.NewString()
		rule.CreatedAt = time.Now().UTC()
	}
	if err := rule.Validate(); err != nil {
		httpx.WriteJSONError(w, http.StatusBadRequest, "invalid rule", map[string]any{"reason": err.Error()})
		return
	}
	if err := h.rules.Save(r.Context(), rule); err != nil {
		h.logger.Error("save rule failed", "err", err)
		http.Error(w, "failed to save rule", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRuleItem(rule))
}

type reviewRuleRequest struct {
	OrgID  string   `json:"org_id"`
	RuleID string   `json:"rule_id"`
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}

// Review records an administrator's decision on a flagged rule. Only
// rules marked ok participate in generation again.
func (h *RuleHandler) Review(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reviewRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.RuleID = strings.TrimSpace(req.RuleID)
	status := rules.ReviewStatus(strings.TrimSpace(req.Status))
	if req.OrgID == "" || req.RuleID == "" {
		http.Error(w, "org_id and rule_id are required", http.StatusBadRequest)
		return
	}
	if status != rules.ReviewOK && status != rules.ReviewNeeded {
		http.Error(w, "status must be ok or needs_review", http.StatusBadRequest)
		return
	}

	if err := h.rules.SetReviewStatus(r.Context(), req.OrgID, req.RuleID, status, req.Issues, time.Now().UTC()); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "rule not found", http.StatusNotFound)
			return
		}
		h.logger.Error("review rule failed", "err", err)
		http.Error(w, "failed to update rule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conflictItem struct {
	RuleIDs   []string `json:"rule_ids"`
	Severity  string   `json:"severity"`
	ClientID  string   `json:"client_id,omitempty"`
	Rationale string   `json:"rationale"`
}

type duplicateItem struct {
	RuleIDs   []string `json:"rule_ids"`
	Rationale string   `json:"rationale"`
}

type enhancementItem struct {
	Kind      string `json:"kind"`
	ClientID  string `json:"client_id,omitempty"`
	Rationale string `json:"rationale"`
}

type analyzeResponse struct {
	OrgID        string            `json:"org_id"`
	GeneratedAt  string            `json:"generated_at"`
	Conflicts    []conflictItem    `json:"conflicts"`
	Duplicates   []duplicateItem   `json:"duplicates"`
	Enhancements []enhancementItem `json:"enhancements"`
}

// Analyze runs the advisory rule analysis. It never mutates rules;
// flagging for review is a separate explicit call.
func (h *RuleHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	list, err := h.rules.List(ctx, orgID)
	if err != nil {
		http.Error(w, "failed to load rules", http.StatusInternalServerError)
		return
	}
	snap, err := h.dir.Snapshot(ctx, orgID)
	if err != nil {
		http.Error(w, "failed to load directory", http.StatusInternalServerError)
		return
	}

	report := rules.Analyze(orgID, list, snap, time.Now().UTC())

	resp := analyzeResponse{
		OrgID:        report.OrgID,
		GeneratedAt:  report.GeneratedAt.UTC().Format(time.RFC3339),
		Conflicts:    make([]conflictItem, 0, len(report.Conflicts)),
		Duplicates:   make([]duplicateItem, 0, len(report.Duplicates)),
		Enhancements: make([]enhancementItem, 0, len(report.Enhancements)),
	}
	for _, c := range report.Conflicts {
		resp.Conflicts = append(resp.Conflicts, conflictItem{
			RuleIDs: c.RuleIDs, Severity: string(c.Severity), ClientID: c.ClientID, Rationale: c.Rationale,
		})
	}
	for _, d := range report.Duplicates {
		resp.Duplicates = append(resp.Duplicates, duplicateItem{RuleIDs: d.RuleIDs, Rationale: d.Rationale})
	}
	for _, e := range report.Enhancements {
		resp.Enhancements = append(resp.Enhancements, enhancementItem{Kind: e.Kind, ClientID: e.ClientID, Rationale: e.Rationale})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type createExceptionRequest struct {
	OrgID      string `json:"org_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Available  bool   `json:"available"`
	StartMin   *int   `json:"override_start_min"`
	EndMin     *int   `json:"override_end_min"`
	Reason     string `json:"reason"`
}

type exceptionItem struct {
	ExceptionID string `json:"exception_id"`
	ProviderID  string `json:"provider_id"`
	Date        string `json:"date"`
	Available   bool   `json:"available"`
	StartMin    *int   `json:"override_start_min,omitempty"`
	EndMin      *int   `json:"override_end_min,omitempty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
}

// CreateException files a provider availability exception. Exceptions
// start pending and are invisible to scheduling until approved.
func (h *RuleHandler) CreateException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.OrgID == "" || req.ProviderID == "" {
		http.Error(w, "org_id and provider_id are required", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if (req.StartMin == nil) != (req.EndMin == nil) {
		http.Error(w, "override requires both start and end minutes", http.StatusBadRequest)
		return
	}

	ex := model.AvailabilityException{
		ID:         uuid.NewString(),
		OrgID:      req.OrgID,
		ProviderID: req.ProviderID,
		Date:       date.UTC(),
		Available:  req.Available,
		Status:     model.ApprovalPending,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  time.Now().UTC(),
	}
	if req.StartMin != nil {
		override := model.ClockRange{StartMin: *req.StartMin, EndMin: *req.EndMin}
		if !override.Valid() {
			http.Error(w, "invalid override window", http.StatusBadRequest)
			return
		}
		if !req.Available {
			http.Error(w, "override requires available true", http.StatusBadRequest)
			return
		}
		ex.Override = &override
	}

	if err := h.dir.CreateException(r.Context(), ex); err != nil {
		h.logger.Error("create exception failed", "err", err)
		http.Error(w, "failed to create exception", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toExceptionItem(ex))
}

type reviewExceptionRequest struct {
	OrgID       string `json:"org_id"`
	ExceptionID string `json:"exception_id"`
	Status      string `json:"status"`
}

func (h *RuleHandler) ReviewException(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reviewExceptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.ExceptionID = strings.TrimSpace(req.ExceptionID)
	status := model.ApprovalStatus(strings.TrimSpace(req.Status))
	if req.OrgID == "" || req.ExceptionID == "" {
		http.Error(w, "org_id and exception_id are required", http.StatusBadRequest)
		return
	}
	if status != model.ApprovalApproved && status != model.ApprovalRejected {
		http.Error(w, "status must be approved or rejected", http.StatusBadRequest)
		return
	}

	if err := h.dir.SetExceptionStatus(r.Context(), req.OrgID, req.ExceptionID, status); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "exception not found", http.StatusNotFound)
			return
		}
		h.logger.Error("review exception failed", "err", err)
		http.Error(w, "failed to update exception", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RuleHandler) ListExceptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orgID := strings.TrimSpace(r.URL.Query().Get("org_id"))
	if orgID == "" {
		http.Error(w, "org_id required", http.StatusBadRequest)
		return
	}
	from, okFrom := parseWeek(r.URL.Query().Get("from"))
	to, okTo := parseWeek(r.URL.Query().Get("to"))
	if !okFrom || !okTo {
		now := time.Now().UTC()
		from = model.WeekStartOf(now)
		to = from.AddDate(0, 0, 28)
	}

	list, err := h.dir.ListExceptions(r.Context(), orgID, from, to)
	if err != nil {
		h.logger.Error("list exceptions failed", "err", err)
		http.Error(w, "failed to list exceptions", http.StatusInternalServerError)
		return
	}

	items := make([]exceptionItem, 0, len(list))
	for _, ex := range list {
		items = append(items, toExceptionItem(ex))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func toExceptionItem(ex model.AvailabilityException) exceptionItem {
	item := exceptionItem{
		ExceptionID: ex.ID,
		ProviderID:  ex.ProviderID,
		Date:        ex.Date.UTC().Format("2006-01-02"),
		Available:   ex.Available,
		Status:      string(ex.Status),
		Reason:      ex.Reason,
	}
	if ex.Override != nil {
		start, end := ex.Override.StartMin, ex.Override.EndMin
		item.StartMin = &start
		item.EndMin = &end
	}
	return item
}

func toRuleItem(rule rules.Rule) ruleItem {
	item := ruleItem{
		RuleID:       rule.ID,
		Name:         rule.Name,
		Category:     string(rule.Category),
		Priority:     rule.Priority,
		Active:       rule.Active,
		ReviewStatus: string(rule.ReviewStatus),
		ReviewIssues: rule.ReviewIssues,
	}
	if rule.ReviewedAt != nil {
		item.ReviewedAt = rule.ReviewedAt.UTC().Format(time.RFC3339)
	}
	if !rule.CreatedAt.IsZero() {
		item.CreatedAt = rule.CreatedAt.UTC().Format(time.RFC3339)
	}
	switch {
	case rule.Logic.GenderPairing != nil:
		l := rule.Logic.GenderPairing
		item.Logic.ClientGender = string(l.ClientGender)
		for _, g := range l.AllowedProviderGenders {
			item.Logic.AllowedProviderGenders = append(item.Logic.AllowedProviderGenders, string(g))
		}
	case rule.Logic.Session != nil:
		item.Logic.MaxSessionsPerProviderDay = rule.Logic.Session.MaxSessionsPerProviderDay
		item.Logic.MaxSessionsPerClientDay = rule.Logic.Session.MaxSessionsPerClientDay
	case rule.Logic.Availability != nil:
		l := rule.Logic.Availability
		for _, d := range l.Weekdays {
			item.Logic.Weekdays = append(item.Logic.Weekdays, int(d))
		}
		item.Logic.WindowStartMin = l.Window.StartMin
		item.Logic.WindowEndMin = l.Window.EndMin
	case rule.Logic.SpecificPairing != nil:
		l := rule.Logic.SpecificPairing
		item.Logic.ClientID = l.ClientID
		item.Logic.ProviderID = l.ProviderID
		item.Logic.Effect = string(l.Effect)
	case rule.Logic.Certification != nil:
		item.Logic.ClientID = rule.Logic.Certification.ClientID
		item.Logic.RequiredCertifications = rule.Logic.Certification.Required
	}
	return item
}

func fromRuleItem(orgID string, item ruleItem) rules.Rule {
	rule := rules.Rule{
		ID:           strings.TrimSpace(item.RuleID),
		OrgID:        orgID,
		Name:         item.Name,
		Category:     rules.Category(item.Category),
		Priority:     item.Priority,
		Active:       item.Active,
		ReviewStatus: rules.ReviewOK,
	}
	switch rule.Category {
	case rules.CategoryGenderPairing:
		l := &rules.GenderPairingLogic{ClientGender: model.Gender(item.Logic.ClientGender)}
		for _, g := range item.Logic.AllowedProviderGenders {
			l.AllowedProviderGenders = append(l.AllowedProviderGenders, model.Gender(g))
		}
		rule.Logic.GenderPairing = l
	case rules.CategorySession:
		rule.Logic.Session = &rules.SessionLogic{
			MaxSessionsPerProviderDay: item.Logic.MaxSessionsPerProviderDay,
			MaxSessionsPerClientDay:   item.Logic.MaxSessionsPerClientDay,
		}
	case rules.CategoryAvailability:
		l := &rules.AvailabilityLogic{
			Window: model.ClockRange{StartMin: item.Logic.WindowStartMin, EndMin: item.Logic.WindowEndMin},
		}
		for _, d := range item.Logic.Weekdays {
			l.Weekdays = append(l.Weekdays, time.Weekday(d))
		}
		rule.Logic.Availability = l
	case rules.CategorySpecificPairing:
		rule.Logic.SpecificPairing = &rules.SpecificPairingLogic{
			ClientID:   item.Logic.ClientID,
			ProviderID: item.Logic.ProviderID,
			Effect:     rules.PairingEffect(item.Logic.Effect),
		}
	case rules.CategoryCertification:
		rule.Logic.Certification = &rules.CertificationLogic{
			ClientID: item.Logic.ClientID,
			Required: item.Logic.RequiredCertifications,
		}
	}
	return rule
}
