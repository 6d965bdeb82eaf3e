// Package generator builds draft weekly schedules: it resolves
// availability, matches every client's session quota against the rule
// set, and persists the result atomically. Generation is deterministic
// for identical inputs.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/audit"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/availability"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/matcher"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

var (
	ErrGenerationInProgress = errors.New("generation already running for this organization and week")
	ErrNoPublishedSchedule  = errors.New("no published schedule for the requested week")
	ErrNotDraft             = errors.New("schedule is not a draft")
)

// Store is the persistence the generator needs. Implementations write
// the outbox event in the same transaction as the schedule mutation.
type Store interface {
	Rules(ctx context.Context, orgID string) ([]rules.Rule, error)
	Directory(ctx context.Context, orgID string) (rules.Snapshot, error)
	Exceptions(ctx context.Context, orgID string, from, to time.Time) ([]model.AvailabilityException, error)
	LiveHolds(ctx context.Context, orgID string, from, to time.Time) ([]model.Hold, error)
	// ConvertedSessions returns the window's live sessions that came
	// out of holds. They are client bookings the engine schedules
	// around and never regenerates.
	ConvertedSessions(ctx context.Context, orgID string, from, to time.Time) ([]model.Session, error)
	ScheduleForWeek(ctx context.Context, orgID string, weekStart time.Time, status model.ScheduleStatus) (*model.Schedule, []model.Session, error)
	ScheduleByID(ctx context.Context, orgID, scheduleID string) (*model.Schedule, error)
	LatestVersion(ctx context.Context, orgID string, weekStart time.Time) (int, error)
	// SaveDraft replaces any existing draft for the schedule's week.
	SaveDraft(ctx context.Context, sched model.Schedule, sessions []model.Session, evt outbox.Event) error
	// MarkPublished publishes the draft and archives the previously
	// published schedule of the same week. Returns ErrNotDraft when the
	// schedule is in any other status.
	MarkPublished(ctx context.Context, orgID, scheduleID string, at time.Time, evt outbox.Event) (*model.Schedule, error)
	RecordEvent(ctx context.Context, evt outbox.Event) error
}

// Locker serializes generation per (organization, week).
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// CoverageWarning reports a client whose weekly quota could not be
// filled. The draft is still produced.
type CoverageWarning struct {
	ClientID  string `json:"client_id"`
	Requested int    `json:"requested"`
	Placed    int    `json:"placed"`
	Reason    string `json:"reason"`
}

type Result struct {
	Schedule model.Schedule
	Sessions []model.Session
	Warnings []CoverageWarning
}

type Generator struct {
	store  Store
	locker Locker
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(store Store, locker Locker, logger *slog.Logger) *Generator {
	return &Generator{
		store:  store,
		locker: locker,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

const generationLockTTL = 2 * time.Minute

func lockKey(orgID string, weekStart time.Time) string {
	return "schedule-generation:" + orgID + ":" + weekStart.Format("2006-01-02")
}

// Generate builds a new draft for the week. Concurrent calls for the
// same (organization, week) fail fast with ErrGenerationInProgress;
// active rules flagged for review block with ReviewRequiredError. On
// any failure nothing is persisted.
func (g *Generator) Generate(ctx context.Context, orgID string, weekStart time.Time) (*Result, error) {
	weekStart = model.WeekStartOf(weekStart)

	release, ok, err := g.locker.TryLock(ctx, lockKey(orgID, weekStart), generationLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire generation lock: %w", err)
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}
	defer release(ctx)

	ruleList, err := g.store.Rules(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if blocked := rules.NeedingReview(ruleList); len(blocked) > 0 {
		ids := make([]string, len(blocked))
		for i, r := range blocked {
			ids[i] = r.ID
		}
		if err := g.store.RecordEvent(ctx, audit.GenerationBlocked(orgID, weekStart, ids)); err != nil {
			g.logger.Error("record generation blocked event", "err", err, "org_id", orgID)
		}
		return nil, rules.NewReviewRequiredError(blocked)
	}

	run, err := g.loadRun(ctx, orgID, weekStart, ruleList)
	if err != nil {
		return nil, err
	}

	version, err := g.store.LatestVersion(ctx, orgID, weekStart)
	if err != nil {
		return nil, err
	}

	now := g.now()
	sched := model.Schedule{
		ID:        g.newID(),
		OrgID:     orgID,
		WeekStart: weekStart,
		Status:    model.ScheduleDraft,
		Version:   version + 1,
		CreatedAt: now,
	}

	var sessions []model.Session
	var warnings []CoverageWarning
	for _, c := range run.clients {
		// Hold-born bookings already on the week count toward the
		// client's quota.
		placed := run.convertedFor(c.ID)
		var lastReason string
		for placed < c.WeeklySessions {
			sess, reason := g.placeOne(run, sched.ID, c, now)
			if sess == nil {
				lastReason = reason
				break
			}
			run.state.Add(*sess)
			sessions = append(sessions, *sess)
			placed++
		}
		if placed < c.WeeklySessions {
			warnings = append(warnings, CoverageWarning{
				ClientID:  c.ID,
				Requested: c.WeeklySessions,
				Placed:    placed,
				Reason:    lastReason,
			})
		}
	}

	evt := audit.ScheduleGenerated(orgID, sched.ID, weekStart, sched.Version, len(sessions), len(warnings))
	if err := g.store.SaveDraft(ctx, sched, sessions, evt); err != nil {
		return nil, err
	}

	g.logger.Info("draft schedule generated",
		"org_id", orgID,
		"schedule_id", sched.ID,
		"week_start", weekStart.Format("2006-01-02"),
		"version", sched.Version,
		"sessions", len(sessions),
		"warnings", len(warnings))
	return &Result{Schedule: sched, Sessions: sessions, Warnings: warnings}, nil
}

// run holds everything one generation pass works against.
type run struct {
	orgID     string
	weekStart time.Time
	snap      rules.Snapshot
	m         matcher.Matcher
	clients   []model.Client
	slots     [7][]matcher.Slot
	state     *matcher.BookingState
	converted []model.Session
}

func (r *run) convertedFor(clientID string) int {
	n := 0
	for _, s := range r.converted {
		if s.ClientID == clientID {
			n++
		}
	}
	return n
}

func (r *run) isConverted(sessionID string) bool {
	for _, s := range r.converted {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

func (g *Generator) loadRun(ctx context.Context, orgID string, weekStart time.Time, ruleList []rules.Rule) (*run, error) {
	snap, err := g.store.Directory(ctx, orgID)
	if err != nil {
		return nil, err
	}
	weekEnd := weekStart.AddDate(0, 0, 7)
	exceptions, err := g.store.Exceptions(ctx, orgID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	holds, err := g.store.LiveHolds(ctx, orgID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	converted, err := g.store.ConvertedSessions(ctx, orgID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	resolver := availability.NewResolver(snap.Settings)
	windows := make(map[string][7][]availability.Window, len(snap.Providers))
	for _, p := range snap.Providers {
		if p.Active {
			windows[p.ID] = resolver.WindowsForWeek(p, weekStart, exceptions)
		}
	}

	clients := make([]model.Client, 0, len(snap.Clients))
	for _, c := range snap.Clients {
		if c.Active && c.WeeklySessions > 0 {
			clients = append(clients, c)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		if !clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].CreatedAt.Before(clients[j].CreatedAt)
		}
		return clients[i].ID < clients[j].ID
	})

	return &run{
		orgID:     orgID,
		weekStart: weekStart,
		snap:      snap,
		m: matcher.Matcher{
			Rules:     rules.NewSet(ruleList),
			Settings:  snap.Settings,
			WeekStart: weekStart,
			Windows:   windows,
		},
		clients:   clients,
		slots:     weekSlots(snap.Settings, weekStart),
		state:     matcher.NewBookingState(converted, holds, g.now()),
		converted: converted,
	}, nil
}

// placeOne finds the best open slot for one of the client's sessions.
// Days holding fewer of the client's sessions are tried first so quotas
// spread across the week; within a day, slots inside the client's
// preferred windows come before the rest.
func (g *Generator) placeOne(run *run, scheduleID string, c model.Client, now time.Time) (*model.Session, string) {
	dayOrder := make([]int, 7)
	for d := range dayOrder {
		dayOrder[d] = d
	}
	sort.SliceStable(dayOrder, func(i, j int) bool {
		di, dj := dayOrder[i], dayOrder[j]
		ni := run.state.ClientSessionsOn(c.ID, run.weekStart.AddDate(0, 0, di))
		nj := run.state.ClientSessionsOn(c.ID, run.weekStart.AddDate(0, 0, dj))
		if ni != nj {
			return ni < nj
		}
		return di < dj
	})

	var fallback *matcher.Candidate
	var fallbackSlot matcher.Slot
	for _, d := range dayOrder {
		for _, slot := range orderByPreference(c, run.slots[d]) {
			cands := run.m.Candidates(c, slot, run.snap.Providers, run.snap.Rooms, run.state)
			if len(cands) == 0 {
				continue
			}
			best := cands[0]
			if best.Score.LimitPenalty == 0 {
				return g.newSession(scheduleID, run.orgID, c, best, slot, now), ""
			}
			if fallback == nil {
				fallback = &best
				fallbackSlot = slot
			}
		}
	}
	if fallback != nil {
		return g.newSession(scheduleID, run.orgID, c, *fallback, fallbackSlot, now), ""
	}
	return nil, "no provider passes the hard rules for any open slot"
}

func (g *Generator) newSession(scheduleID, orgID string, c model.Client, cand matcher.Candidate, slot matcher.Slot, now time.Time) *model.Session {
	return &model.Session{
		ID:         g.newID(),
		ScheduleID: scheduleID,
		OrgID:      orgID,
		ProviderID: cand.Provider.ID,
		ClientID:   c.ID,
		RoomID:     cand.RoomID(),
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Status:     model.SessionScheduled,
		CreatedAt:  now,
	}
}

// weekSlots enumerates every bookable slot of the week from the
// organization's business hours and slot interval.
func weekSlots(settings model.OrgSettings, weekStart time.Time) [7][]matcher.Slot {
	var out [7][]matcher.Slot
	sessionLen := time.Duration(settings.DefaultSessionMin) * time.Minute
	step := time.Duration(settings.SlotIntervalMin) * time.Minute
	if sessionLen <= 0 || step <= 0 {
		return out
	}
	for d := 0; d < 7; d++ {
		day := weekStart.AddDate(0, 0, d)
		open, close := settings.BusinessHours.On(day)
		for t := open; !t.Add(sessionLen).After(close); t = t.Add(step) {
			out[d] = append(out[d], matcher.Slot{Start: t, End: t.Add(sessionLen)})
		}
	}
	return out
}

// orderByPreference puts the slots inside the client's preferred
// windows first, keeping time order within each group.
func orderByPreference(c model.Client, slots []matcher.Slot) []matcher.Slot {
	if len(c.PreferredWindows) == 0 {
		return slots
	}
	preferred := make([]matcher.Slot, 0, len(slots))
	var rest []matcher.Slot
	for _, s := range slots {
		if slotPreferred(c, s) {
			preferred = append(preferred, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(preferred, rest...)
}

func slotPreferred(c model.Client, s matcher.Slot) bool {
	for _, w := range c.PreferredWindows {
		if w.Weekday != s.Start.Weekday() {
			continue
		}
		ws, we := w.ClockRange.On(s.Start)
		if !s.Start.Before(ws) && !s.End.After(we) {
			return true
		}
	}
	return false
}
