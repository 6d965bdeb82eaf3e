package model

import "time"

type ScheduleStatus string

const (
	ScheduleDraft     ScheduleStatus = "draft"
	SchedulePublished ScheduleStatus = "published"
	ScheduleArchived  ScheduleStatus = "archived"
)

type Schedule struct {
	ID          string
	OrgID       string
	WeekStart   time.Time // Monday, midnight UTC
	Status      ScheduleStatus
	Version     int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// WeekStartOf truncates t to the Monday midnight UTC opening its week.
func WeekStartOf(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

type SessionStatus string

const (
	SessionScheduled     SessionStatus = "scheduled"
	SessionConfirmed     SessionStatus = "confirmed"
	SessionCheckedIn     SessionStatus = "checked_in"
	SessionInProgress    SessionStatus = "in_progress"
	SessionCompleted     SessionStatus = "completed"
	SessionCancelled     SessionStatus = "cancelled"
	SessionLateCancelled SessionStatus = "late_cancelled"
	SessionNoShow        SessionStatus = "no_show"
)

// Cancellable reports whether a session in this status may still be
// cancelled by the client or an administrator.
func (s SessionStatus) Cancellable() bool {
	return s == SessionScheduled || s == SessionConfirmed
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled:  {SessionConfirmed, SessionCheckedIn, SessionCancelled, SessionLateCancelled, SessionNoShow},
	SessionConfirmed:  {SessionCheckedIn, SessionCancelled, SessionLateCancelled, SessionNoShow},
	SessionCheckedIn:  {SessionInProgress, SessionCompleted},
	SessionInProgress: {SessionCompleted},
}

// CanTransition reports whether the lifecycle permits moving to the
// target status. Terminal statuses permit nothing.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Session struct {
	ID         string
	ScheduleID string
	OrgID      string
	ProviderID string
	ClientID   string
	RoomID     string // empty when no room is assigned
	StartTime  time.Time
	EndTime    time.Time
	Status     SessionStatus
	CreatedAt  time.Time
}

func (s Session) Overlaps(start, end time.Time) bool {
	// Half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}

// Blocking reports whether the session still occupies its slot.
// Cancelled variants and no-shows free the time.
func (s Session) Blocking() bool {
	switch s.Status {
	case SessionCancelled, SessionLateCancelled, SessionNoShow:
		return false
	}
	return true
}
