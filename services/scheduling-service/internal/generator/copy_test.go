package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

func publishedWeek(store *fakeStore, sessions ...model.Session) {
	store.schedules = append(store.schedules, model.Schedule{
		ID: "sch-pub", OrgID: "org-1", WeekStart: monday,
		Status: model.SchedulePublished, Version: 1,
	})
	if store.sessions == nil {
		store.sessions = map[string][]model.Session{}
	}
	store.sessions["sch-pub"] = sessions
	store.version = 1
}

func sessionAt(id, providerID, clientID string, day, hour int) model.Session {
	start := monday.AddDate(0, 0, day).Add(time.Duration(hour) * time.Hour)
	return model.Session{
		ID: id, ScheduleID: "sch-pub", OrgID: "org-1",
		ProviderID: providerID, ClientID: clientID,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.SessionScheduled,
	}
}

func TestCreateDraftCopyKeepsValidSessions(t *testing.T) {
	store := &fakeStore{snap: baseSnapshot()}
	publishedWeek(store,
		sessionAt("s-1", "p-1", "c-1", 0, 9),
		sessionAt("s-2", "p-2", "c-2", 1, 10),
	)
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 2 || len(res.Rescheduled) != 0 || len(res.Removed) != 0 {
		t.Fatalf("valid sessions must copy untouched, got %+v", res)
	}
	if res.Schedule.Version != 2 {
		t.Fatalf("expected version 2, got %d", res.Schedule.Version)
	}
	for _, s := range res.Sessions {
		if s.ScheduleID != res.Schedule.ID {
			t.Fatalf("copied session must join the new draft, got %s", s.ScheduleID)
		}
		if s.ID == "s-1" || s.ID == "s-2" {
			t.Fatal("copied sessions must get fresh IDs")
		}
	}
}

func TestCreateDraftCopyRepairsInvalidatedSession(t *testing.T) {
	snap := baseSnapshot()
	snap.Providers[0].Active = false // p-1 left the practice
	store := &fakeStore{snap: snap}
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rescheduled) != 1 || len(res.Removed) != 0 {
		t.Fatalf("expected one repair, got %+v", res)
	}
	ch := res.Rescheduled[0]
	if ch.OldProvider != "p-1" || ch.NewProvider != "p-2" {
		t.Fatalf("expected relocation to p-2, got %+v", ch)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ProviderID != "p-2" {
		t.Fatalf("repaired session must be in the draft, got %+v", res.Sessions)
	}
}

func TestCreateDraftCopyPrefersSameProviderNearestTime(t *testing.T) {
	snap := baseSnapshot()
	// p-1 is now only available Monday afternoon; the 09:00 session must
	// move but stay with p-1 at the nearest open time.
	snap.Providers[0].WeeklyWindows = map[time.Weekday][]model.ClockRange{
		time.Monday: {{StartMin: 13 * 60, EndMin: 18 * 60}},
	}
	store := &fakeStore{snap: snap}
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rescheduled) != 1 {
		t.Fatalf("expected one repair, got %+v", res)
	}
	ch := res.Rescheduled[0]
	if ch.NewProvider != "p-1" {
		t.Fatalf("repair must keep the same provider when possible, got %s", ch.NewProvider)
	}
	if !ch.NewStart.Equal(monday.Add(13 * time.Hour)) {
		t.Fatalf("expected nearest open time 13:00, got %v", ch.NewStart)
	}
}

func TestCreateDraftCopyRemovesUnrepairableSession(t *testing.T) {
	snap := baseSnapshot()
	snap.Providers = snap.Providers[:1]
	snap.Providers[0].Active = false
	store := &fakeStore{snap: snap}
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 0 || len(res.Removed) != 1 {
		t.Fatalf("unrepairable session must be removed and reported, got %+v", res)
	}
	if res.Removed[0].ClientID != "c-1" || res.Removed[0].Reason == "" {
		t.Fatalf("removal must name the client and reason, got %+v", res.Removed[0])
	}
}

func TestCreateDraftCopyDropsInactiveClients(t *testing.T) {
	snap := baseSnapshot()
	snap.Clients[0].Active = false
	store := &fakeStore{snap: snap}
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Removed) != 1 || len(res.Sessions) != 0 {
		t.Fatalf("inactive client's session must be removed, got %+v", res)
	}
}

func TestCreateDraftCopyLeavesConvertedSessionsInPlace(t *testing.T) {
	store := &fakeStore{snap: baseSnapshot()}
	booked := sessionAt("s-conv", "p-1", "c-2", 0, 9)
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 1, 9), booked)
	store.converted = []model.Session{booked}
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 1 || res.Sessions[0].ClientID != "c-1" {
		t.Fatalf("only the regular session must be copied, got %+v", res.Sessions)
	}
	if len(res.Rescheduled) != 0 || len(res.Removed) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("the booked session stays in place without a report entry, got %+v", res)
	}
	for _, sess := range res.Sessions {
		if sess.ProviderID == booked.ProviderID &&
			sess.StartTime.Before(booked.EndTime) && sess.EndTime.After(booked.StartTime) {
			t.Fatalf("copy double-books over the client booking: %+v", sess)
		}
	}
}

func TestCreateDraftCopyExceptionRemovesSession(t *testing.T) {
	snap := baseSnapshot()
	snap.Providers = snap.Providers[:1]
	snap.Providers[0].WeeklyWindows = map[time.Weekday][]model.ClockRange{
		time.Monday: {{StartMin: 8 * 60, EndMin: 18 * 60}},
	}
	store := &fakeStore{snap: snap, exceptions: []model.AvailabilityException{{
		ID: "ex-1", OrgID: "org-1", ProviderID: "p-1", Date: monday,
		Available: false, Status: model.ApprovalApproved,
	}}}
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 0 || len(res.Removed) != 1 {
		t.Fatalf("an approved absence must remove the session, got %+v", res)
	}
	if res.Removed[0].ClientID != "c-1" {
		t.Fatalf("removal must name the client, got %+v", res.Removed[0])
	}
}

func TestCreateDraftCopyReportsSkippedCancelledSessions(t *testing.T) {
	store := &fakeStore{snap: baseSnapshot()}
	cancelled := sessionAt("s-2", "p-2", "c-2", 1, 10)
	cancelled.Status = model.SessionCancelled
	publishedWeek(store, sessionAt("s-1", "p-1", "c-1", 0, 9), cancelled)
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Sessions) != 1 {
		t.Fatalf("cancelled session must not be copied, got %+v", res.Sessions)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("cancelled session must be reported as skipped, got %+v", res.Skipped)
	}
	sk := res.Skipped[0]
	if sk.ClientID != "c-2" || sk.Status != model.SessionCancelled || !sk.Start.Equal(cancelled.StartTime) {
		t.Fatalf("unexpected skip detail %+v", sk)
	}
}

func TestCreateDraftCopyRequiresPublishedSchedule(t *testing.T) {
	store := &fakeStore{snap: baseSnapshot()}
	g := newTestGenerator(store, &fakeLocker{})

	if _, err := g.CreateDraftCopy(context.Background(), "org-1", monday); !errors.Is(err, ErrNoPublishedSchedule) {
		t.Fatalf("expected ErrNoPublishedSchedule, got %v", err)
	}
}

func TestCreateDraftCopyRuleChangeRelocates(t *testing.T) {
	snap := baseSnapshot()
	store := &fakeStore{snap: snap, rules: []rules.Rule{{
		// New rule after publication: female clients only see female
		// providers, so c-1's session with p-2 must move to p-1.
		ID: "r-1", OrgID: "org-1", Category: rules.CategoryGenderPairing, Active: true,
		ReviewStatus: rules.ReviewOK,
		Logic: rules.Logic{GenderPairing: &rules.GenderPairingLogic{
			ClientGender:           model.GenderFemale,
			AllowedProviderGenders: []model.Gender{model.GenderFemale},
		}},
	}}}
	publishedWeek(store, sessionAt("s-1", "p-2", "c-1", 0, 9))
	g := newTestGenerator(store, &fakeLocker{})

	res, err := g.CreateDraftCopy(context.Background(), "org-1", monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Rescheduled) != 1 || res.Rescheduled[0].NewProvider != "p-1" {
		t.Fatalf("expected relocation to the allowed provider, got %+v", res)
	}
}
