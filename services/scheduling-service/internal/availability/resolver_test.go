package availability

import (
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // a Monday

func testProvider() model.Provider {
	return model.Provider{
		ID: "p-1", OrgID: "org-1", Active: true,
		WeeklyWindows: map[time.Weekday][]model.ClockRange{
			time.Monday:  {{StartMin: 9 * 60, EndMin: 17 * 60}},
			time.Tuesday: {{StartMin: 9 * 60, EndMin: 12 * 60}, {StartMin: 13 * 60, EndMin: 17 * 60}},
		},
	}
}

func at(day time.Time, hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

func TestWindowsOnRecurring(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	ws := r.WindowsOn(testProvider(), monday, nil)
	if len(ws) != 1 {
		t.Fatalf("expected 1 window, got %d", len(ws))
	}
	if !ws[0].Start.Equal(at(monday, 9)) || !ws[0].End.Equal(at(monday, 17)) {
		t.Fatalf("unexpected window %v", ws[0])
	}

	if got := r.WindowsOn(testProvider(), monday.AddDate(0, 0, 2), nil); got != nil {
		t.Fatalf("expected no windows on a day without recurring hours, got %v", got)
	}
}

func TestWindowsOnClipsToBusinessHours(t *testing.T) {
	settings := model.DefaultOrgSettings("org-1")
	settings.BusinessHours = model.ClockRange{StartMin: 10 * 60, EndMin: 16 * 60}
	r := NewResolver(settings)

	ws := r.WindowsOn(testProvider(), monday, nil)
	if len(ws) != 1 {
		t.Fatalf("expected 1 window, got %d", len(ws))
	}
	if !ws[0].Start.Equal(at(monday, 10)) || !ws[0].End.Equal(at(monday, 16)) {
		t.Fatalf("expected clipped window, got %v", ws[0])
	}
}

func TestApprovedUnavailableExceptionClosesDay(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	ex := model.AvailabilityException{
		ID: "e-1", ProviderID: "p-1", Date: monday,
		Available: false, Status: model.ApprovalApproved,
	}
	if got := r.WindowsOn(testProvider(), monday, []model.AvailabilityException{ex}); got != nil {
		t.Fatalf("expected closed day, got %v", got)
	}
}

func TestApprovedOverrideReplacesRecurringEntirely(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	ex := model.AvailabilityException{
		ID: "e-1", ProviderID: "p-1", Date: monday,
		Available: true,
		Override:  &model.ClockRange{StartMin: 13 * 60, EndMin: 15 * 60},
		Status:    model.ApprovalApproved,
	}
	ws := r.WindowsOn(testProvider(), monday, []model.AvailabilityException{ex})
	if len(ws) != 1 {
		t.Fatalf("expected 1 window, got %d", len(ws))
	}
	if !ws[0].Start.Equal(at(monday, 13)) || !ws[0].End.Equal(at(monday, 15)) {
		t.Fatalf("override must replace the recurring window, got %v", ws[0])
	}
}

func TestPendingAndRejectedExceptionsIgnored(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	exs := []model.AvailabilityException{
		{ID: "e-1", ProviderID: "p-1", Date: monday, Available: false, Status: model.ApprovalPending},
		{ID: "e-2", ProviderID: "p-1", Date: monday, Available: false, Status: model.ApprovalRejected},
	}
	ws := r.WindowsOn(testProvider(), monday, exs)
	if len(ws) != 1 {
		t.Fatalf("pending/rejected exceptions must not close the day, got %v", ws)
	}
}

func TestHolidaySuppressedUnlessExceptionReopens(t *testing.T) {
	settings := model.DefaultOrgSettings("org-1")
	settings.OneOffHolidays = []time.Time{monday}
	r := NewResolver(settings)

	if got := r.WindowsOn(testProvider(), monday, nil); got != nil {
		t.Fatalf("expected holiday to close the day, got %v", got)
	}

	reopen := model.AvailabilityException{
		ID: "e-1", ProviderID: "p-1", Date: monday,
		Available: true, Status: model.ApprovalApproved,
	}
	ws := r.WindowsOn(testProvider(), monday, []model.AvailabilityException{reopen})
	if len(ws) != 1 {
		t.Fatalf("approved exception must re-open a holiday, got %v", ws)
	}
}

func TestWindowsForWeekIndexesByOffset(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	week := r.WindowsForWeek(testProvider(), monday, nil)
	if len(week[0]) != 1 {
		t.Fatalf("expected Monday windows at offset 0, got %v", week[0])
	}
	if len(week[1]) != 2 {
		t.Fatalf("expected split Tuesday windows at offset 1, got %v", week[1])
	}
	for d := 2; d < 7; d++ {
		if week[d] != nil {
			t.Fatalf("expected no windows at offset %d, got %v", d, week[d])
		}
	}
}

func TestSlotStartsFitEntireSession(t *testing.T) {
	r := NewResolver(model.DefaultOrgSettings("org-1"))
	w := Window{Start: at(monday, 9), End: at(monday, 11)}

	starts := r.SlotStarts(w, 60*time.Minute)
	if len(starts) != 3 {
		t.Fatalf("expected starts at 09:00, 09:30, 10:00, got %v", starts)
	}
	if !starts[2].Equal(at(monday, 10)) {
		t.Fatalf("last start must leave room for the session, got %v", starts[2])
	}
}
