package model

import (
	"fmt"
	"time"
)

type Gender string

const (
	GenderUnspecified Gender = ""
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderNonbinary   Gender = "nonbinary"
)

// ClockRange is a half-open [Start, End) range of minutes from midnight.
// Recurring weekly windows and business hours are stored this way and
// only become absolute timestamps once resolved against a date.
type ClockRange struct {
	StartMin int
	EndMin   int
}

func (c ClockRange) Valid() bool {
	return c.StartMin >= 0 && c.EndMin <= 24*60 && c.StartMin < c.EndMin
}

func (c ClockRange) Contains(other ClockRange) bool {
	return c.StartMin <= other.StartMin && other.EndMin <= c.EndMin
}

func (c ClockRange) Overlaps(other ClockRange) bool {
	return c.StartMin < other.EndMin && other.StartMin < c.EndMin
}

// On anchors the range to a calendar day. The day's own location is kept.
func (c ClockRange) On(day time.Time) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(c.StartMin) * time.Minute),
		midnight.Add(time.Duration(c.EndMin) * time.Minute)
}

func (c ClockRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", c.StartMin/60, c.StartMin%60, c.EndMin/60, c.EndMin%60)
}

// DayWindow is a ClockRange pinned to a weekday, used for client
// preferred times.
type DayWindow struct {
	Weekday time.Weekday
	ClockRange
}

type Provider struct {
	ID             string
	OrgID          string
	Name           string
	Gender         Gender
	Certifications []string
	// WeeklyWindows holds the recurring availability template. A weekday
	// missing from the map means the provider does not work that day.
	WeeklyWindows map[time.Weekday][]ClockRange
	Active        bool
	CreatedAt     time.Time
}

func (p Provider) HasCertifications(required []string) bool {
	return containsAll(p.Certifications, required)
}

type Client struct {
	ID                       string
	OrgID                    string
	Name                     string
	Gender                   Gender
	GenderPreference         Gender
	WeeklySessions           int
	PreferredWindows         []DayWindow
	RequiredCertifications   []string
	PreferredRoomID          string
	RequiredRoomCapabilities []string
	Active                   bool
	CreatedAt                time.Time
}

// NeedsRoom reports whether any session for this client must be placed
// in a room at all. A client with no room requirements can be seen at
// any location the provider chooses.
func (c Client) NeedsRoom() bool {
	return c.PreferredRoomID != "" || len(c.RequiredRoomCapabilities) > 0
}

type Room struct {
	ID           string
	OrgID        string
	Name         string
	Capabilities []string
	Active       bool
}

func (r Room) HasCapabilities(required []string) bool {
	return containsAll(r.Capabilities, required)
}

func containsAll(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
