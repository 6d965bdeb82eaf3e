package model

import (
	"testing"
	"time"
)

func TestWeekStartOf(t *testing.T) {
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},   // Monday maps to itself
		{time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}, // Wednesday afternoon
		{time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}, // Sunday night
		{time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},   // next Monday
	}
	for _, tc := range cases {
		if got := WeekStartOf(tc.in); !got.Equal(tc.want) {
			t.Fatalf("WeekStartOf(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSessionTransitions(t *testing.T) {
	if !SessionScheduled.CanTransition(SessionConfirmed) {
		t.Fatal("scheduled should allow confirmed")
	}
	if !SessionCheckedIn.CanTransition(SessionInProgress) {
		t.Fatal("checked_in should allow in_progress")
	}
	if SessionCompleted.CanTransition(SessionScheduled) {
		t.Fatal("completed is terminal")
	}
	if SessionCancelled.CanTransition(SessionConfirmed) {
		t.Fatal("cancelled is terminal")
	}
	if SessionCheckedIn.CanTransition(SessionCancelled) {
		t.Fatal("checked_in sessions can no longer be cancelled")
	}
}

func TestSessionBlocking(t *testing.T) {
	s := Session{Status: SessionScheduled}
	if !s.Blocking() {
		t.Fatal("scheduled session should block its slot")
	}
	for _, st := range []SessionStatus{SessionCancelled, SessionLateCancelled, SessionNoShow} {
		s.Status = st
		if s.Blocking() {
			t.Fatalf("%s session should free its slot", st)
		}
	}
}

func TestHoldLive(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	h := Hold{ExpiresAt: now.Add(5 * time.Minute)}
	if !h.Live(now) {
		t.Fatal("unexpired hold should be live")
	}
	if h.Live(now.Add(10 * time.Minute)) {
		t.Fatal("expired hold should not be live")
	}
	released := now
	h.ReleasedAt = &released
	if h.Live(now) {
		t.Fatal("released hold should not be live")
	}
	h.ReleasedAt = nil
	h.ConvertedSessionID = "s-1"
	if h.Live(now) {
		t.Fatal("converted hold should not be live")
	}
}

func TestClockRangeOn(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	start, end := ClockRange{StartMin: 9 * 60, EndMin: 17 * 60}.On(day)
	if start.Hour() != 9 || end.Hour() != 17 {
		t.Fatalf("window = %v..%v, want 09:00..17:00", start, end)
	}
	if !(ClockRange{StartMin: 60, EndMin: 120}).Valid() {
		t.Fatal("01:00-02:00 should be valid")
	}
	if (ClockRange{StartMin: 120, EndMin: 60}).Valid() {
		t.Fatal("inverted range should be invalid")
	}
}

func TestIsHoliday(t *testing.T) {
	s := OrgSettings{
		RecurringHolidays: []string{"12-25"},
		OneOffHolidays:    []time.Time{time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)},
	}
	if !s.IsHoliday(time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("recurring holiday not detected")
	}
	if !s.IsHoliday(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("one-off holiday not detected")
	}
	if s.IsHoliday(time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("ordinary day flagged as holiday")
	}
}
