// Package availability resolves a provider's concrete bookable windows
// for specific dates from recurring weekly windows, approved
// exceptions, and practice holidays.
package availability

import (
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// Window is an absolute half-open interval on one calendar day.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Covers(start, end time.Time) bool {
	return !start.Before(w.Start) && !end.After(w.End)
}

type Resolver struct {
	Settings model.OrgSettings
}

func NewResolver(settings model.OrgSettings) Resolver {
	return Resolver{Settings: settings}
}

// WindowsOn resolves the provider's bookable windows for one date.
//
// Precedence, most specific first: an approved exception for the date
// replaces everything below it entirely. An unavailable exception
// closes the day. An available exception with an override window opens
// exactly that window, even on a holiday. An available exception with
// no override restores the recurring windows, again even on a holiday.
// Absent any applicable exception, a holiday closes the day and the
// recurring weekday windows apply otherwise. Pending and rejected
// exceptions never contribute.
//
// Every window is clipped to the organization's business hours.
func (r Resolver) WindowsOn(p model.Provider, date time.Time, exceptions []model.AvailabilityException) []Window {
	for _, ex := range exceptions {
		if ex.ProviderID != p.ID || !ex.AppliesOn(date) {
			continue
		}
		if !ex.Available {
			return nil
		}
		if ex.Override != nil {
			return r.clipped(date, []model.ClockRange{*ex.Override})
		}
		return r.clipped(date, p.WeeklyWindows[date.Weekday()])
	}
	if r.Settings.IsHoliday(date) {
		return nil
	}
	return r.clipped(date, p.WeeklyWindows[date.Weekday()])
}

// WindowsForWeek resolves each of the seven days starting at weekStart.
// The returned slice is indexed by day offset from weekStart.
func (r Resolver) WindowsForWeek(p model.Provider, weekStart time.Time, exceptions []model.AvailabilityException) [7][]Window {
	var week [7][]Window
	for d := 0; d < 7; d++ {
		week[d] = r.WindowsOn(p, weekStart.AddDate(0, 0, d), exceptions)
	}
	return week
}

func (r Resolver) clipped(date time.Time, ranges []model.ClockRange) []Window {
	var out []Window
	for _, cr := range ranges {
		start := cr.StartMin
		end := cr.EndMin
		if start < r.Settings.BusinessHours.StartMin {
			start = r.Settings.BusinessHours.StartMin
		}
		if end > r.Settings.BusinessHours.EndMin {
			end = r.Settings.BusinessHours.EndMin
		}
		if start >= end {
			continue
		}
		s, e := model.ClockRange{StartMin: start, EndMin: end}.On(date)
		out = append(out, Window{Start: s, End: e})
	}
	return out
}

// SlotStarts enumerates the session start times that fit inside the
// window, stepping by the organization's slot interval from the window
// start. A start is kept only when the full session ends inside the
// window.
func (r Resolver) SlotStarts(w Window, sessionLen time.Duration) []time.Time {
	step := time.Duration(r.Settings.SlotIntervalMin) * time.Minute
	if step <= 0 || sessionLen <= 0 {
		return nil
	}
	var out []time.Time
	for t := w.Start; !t.Add(sessionLen).After(w.End); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}
