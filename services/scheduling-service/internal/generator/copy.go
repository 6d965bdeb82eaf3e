package generator

import (
	"context"
	"sort"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/audit"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/matcher"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// Change records a session the copy had to move to stay valid.
type Change struct {
	ClientID    string    `json:"client_id"`
	OldProvider string    `json:"old_provider_id"`
	NewProvider string    `json:"new_provider_id"`
	OldStart    time.Time `json:"old_start"`
	NewStart    time.Time `json:"new_start"`
}

// Removal records a session the copy dropped because no valid
// placement remained.
type Removal struct {
	ClientID string `json:"client_id"`
	Start    time.Time `json:"start"`
	Reason   string `json:"reason"`
}

// Skip records a source session left out of the copy because its
// status no longer blocks the slot.
type Skip struct {
	ClientID string              `json:"client_id"`
	Start    time.Time           `json:"start"`
	Status   model.SessionStatus `json:"status"`
}

type CopyResult struct {
	Schedule    model.Schedule
	Sessions    []model.Session
	Rescheduled []Change
	Removed     []Removal
	Skipped     []Skip
}

// CreateDraftCopy clones the week's published schedule into a new
// draft, re-validating every session against the current rules,
// directory, and live holds. Sessions that no longer validate get one
// bounded repair pass: the same provider on the same day at the
// nearest open time, then the same provider on any day, then a full
// re-search. Unrepairable sessions are dropped and reported, never
// silently kept. Hold-born sessions stay where the client booked them
// and move to the new schedule when it publishes; cancelled and no-show
// sessions are not copied and are listed as skipped.
func (g *Generator) CreateDraftCopy(ctx context.Context, orgID string, weekStart time.Time) (*CopyResult, error) {
	weekStart = model.WeekStartOf(weekStart)

	release, ok, err := g.locker.TryLock(ctx, lockKey(orgID, weekStart), generationLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGenerationInProgress
	}
	defer release(ctx)

	published, sessions, err := g.store.ScheduleForWeek(ctx, orgID, weekStart, model.SchedulePublished)
	if err != nil {
		return nil, err
	}
	if published == nil {
		return nil, ErrNoPublishedSchedule
	}

	ruleList, err := g.store.Rules(ctx, orgID)
	if err != nil {
		return nil, err
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
	draft := model.Schedule{
		ID:        g.newID(),
		OrgID:     orgID,
		WeekStart: weekStart,
		Status:    model.ScheduleDraft,
		Version:   version + 1,
		CreatedAt: now,
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.Before(sessions[j].StartTime)
		}
		return sessions[i].ID < sessions[j].ID
	})

	res := &CopyResult{Schedule: draft}
	clients := clientIndex(run.snap.Clients)
	for _, old := range sessions {
		if run.isConverted(old.ID) {
			continue
		}
		if !old.Blocking() {
			res.Skipped = append(res.Skipped, Skip{
				ClientID: old.ClientID, Start: old.StartTime, Status: old.Status,
			})
			continue
		}
		c, ok := clients[old.ClientID]
		if !ok || !c.Active {
			res.Removed = append(res.Removed, Removal{
				ClientID: old.ClientID, Start: old.StartTime,
				Reason: "client is no longer active",
			})
			continue
		}
		slot := matcher.Slot{Start: old.StartTime, End: old.EndTime}
		if err := run.m.Validate(c, providerFor(run.snap.Providers, old.ProviderID), old.RoomID, slot, run.snap.Rooms, run.state); err == nil {
			kept := g.copySession(draft.ID, old, now)
			run.state.Add(kept)
			res.Sessions = append(res.Sessions, kept)
			continue
		}
		g.repair(run, draft.ID, c, old, now, res)
	}

	evt := audit.DraftCopied(orgID, draft.ID, published.ID, draft.Version, len(res.Rescheduled), len(res.Removed))
	if err := g.store.SaveDraft(ctx, draft, res.Sessions, evt); err != nil {
		return nil, err
	}

	g.logger.Info("draft copied from published schedule",
		"org_id", orgID,
		"schedule_id", draft.ID,
		"source_schedule_id", published.ID,
		"rescheduled", len(res.Rescheduled),
		"removed", len(res.Removed))
	return res, nil
}

// repair tries increasingly wide relocations for one invalidated
// session. The pass is bounded: each stage scans the precomputed slot
// grid once and the first acceptable placement wins.
func (g *Generator) repair(run *run, scheduleID string, c model.Client, old model.Session, now time.Time, res *CopyResult) {
	dayOffset := int(old.StartTime.Sub(run.weekStart).Hours() / 24)

	// Same provider, same day, nearest start first.
	if dayOffset >= 0 && dayOffset < 7 {
		slots := append([]matcher.Slot(nil), run.slots[dayOffset]...)
		sort.SliceStable(slots, func(i, j int) bool {
			return absDelta(slots[i].Start, old.StartTime) < absDelta(slots[j].Start, old.StartTime)
		})
		if g.tryPlace(run, scheduleID, c, old, slots, old.ProviderID, now, res) {
			return
		}
	}

	// Same provider, any day.
	for d := 0; d < 7; d++ {
		if d == dayOffset {
			continue
		}
		if g.tryPlace(run, scheduleID, c, old, run.slots[d], old.ProviderID, now, res) {
			return
		}
	}

	// Full re-search across all providers and rooms.
	for d := 0; d < 7; d++ {
		if g.tryPlace(run, scheduleID, c, old, run.slots[d], "", now, res) {
			return
		}
	}

	res.Removed = append(res.Removed, Removal{
		ClientID: c.ID, Start: old.StartTime,
		Reason: "no valid placement remains under the current rules",
	})
}

// tryPlace scans slots for the first candidate placement, optionally
// restricted to one provider. On success the session is added to the
// draft and recorded as rescheduled.
func (g *Generator) tryPlace(run *run, scheduleID string, c model.Client, old model.Session, slots []matcher.Slot, providerID string, now time.Time, res *CopyResult) bool {
	for _, slot := range slots {
		cands := run.m.Candidates(c, slot, run.snap.Providers, run.snap.Rooms, run.state)
		for _, cand := range cands {
			if providerID != "" && cand.Provider.ID != providerID {
				continue
			}
			sess := g.newSession(scheduleID, run.orgID, c, cand, slot, now)
			run.state.Add(*sess)
			res.Sessions = append(res.Sessions, *sess)
			res.Rescheduled = append(res.Rescheduled, Change{
				ClientID:    c.ID,
				OldProvider: old.ProviderID,
				NewProvider: cand.Provider.ID,
				OldStart:    old.StartTime,
				NewStart:    slot.Start,
			})
			return true
		}
	}
	return false
}

func (g *Generator) copySession(scheduleID string, old model.Session, now time.Time) model.Session {
	return model.Session{
		ID:         g.newID(),
		ScheduleID: scheduleID,
		OrgID:      old.OrgID,
		ProviderID: old.ProviderID,
		ClientID:   old.ClientID,
		RoomID:     old.RoomID,
		StartTime:  old.StartTime,
		EndTime:    old.EndTime,
		Status:     model.SessionScheduled,
		CreatedAt:  now,
	}
}

func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

func clientIndex(cs []model.Client) map[string]model.Client {
	idx := make(map[string]model.Client, len(cs))
	for _, c := range cs {
		idx[c.ID] = c
	}
	return idx
}

func providerFor(ps []model.Provider, id string) model.Provider {
	for _, p := range ps {
		if p.ID == id {
			return p
		}
	}
	return model.Provider{ID: id}
}
