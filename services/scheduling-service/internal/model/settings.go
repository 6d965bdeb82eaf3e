package model

import "time"

// OrgSettings is the organization-scoped configuration every core call
// receives explicitly. It is read from the directory tables (or the
// platform directory service) and never from globals.
type OrgSettings struct {
	OrgID             string
	BusinessHours     ClockRange
	SlotIntervalMin   int
	DefaultSessionMin int
	LateCancelWindow  time.Duration
	HoldTTL           time.Duration
	// RecurringHolidays are annual dates in "MM-DD" form (e.g. "12-25").
	RecurringHolidays []string
	// OneOffHolidays are specific closed dates.
	OneOffHolidays []time.Time
}

func (s OrgSettings) IsHoliday(date time.Time) bool {
	md := date.Format("01-02")
	for _, h := range s.RecurringHolidays {
		if h == md {
			return true
		}
	}
	for _, h := range s.OneOffHolidays {
		if sameDate(h, date) {
			return true
		}
	}
	return false
}

func DefaultOrgSettings(orgID string) OrgSettings {
	return OrgSettings{
		OrgID:             orgID,
		BusinessHours:     ClockRange{StartMin: 8 * 60, EndMin: 18 * 60},
		SlotIntervalMin:   30,
		DefaultSessionMin: 60,
		LateCancelWindow:  24 * time.Hour,
		HoldTTL:           10 * time.Minute,
	}
}
