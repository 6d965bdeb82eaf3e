// Package matcher filters and ranks provider (and room) candidates
// for one client and one concrete time slot. Hard rules eliminate,
// soft rules only reorder, and ties break deterministically so the
// same inputs always produce the same assignment.
package matcher

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/availability"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

type Slot struct {
	Start time.Time
	End   time.Time
}

// Candidate is a provider, and when the client needs one a room, that
// passed every hard rule for the slot.
type Candidate struct {
	Provider model.Provider
	Room     *model.Room
	Score    Score
}

func (c Candidate) RoomID() string {
	if c.Room == nil {
		return ""
	}
	return c.Room.ID
}

// Score ranks candidates lexicographically: fewer limit penalties
// first, then preference hits, then the lighter weekly load.
type Score struct {
	LimitPenalty    int // session-limit rules the placement would exceed
	PreferredWindow bool
	PreferredRoom   bool
	Load            int
}

func (s Score) better(o Score) bool {
	if s.LimitPenalty != o.LimitPenalty {
		return s.LimitPenalty < o.LimitPenalty
	}
	if s.PreferredWindow != o.PreferredWindow {
		return s.PreferredWindow
	}
	if s.PreferredRoom != o.PreferredRoom {
		return s.PreferredRoom
	}
	return s.Load < o.Load
}

// InvalidAssignmentError reports every hard rule a manual assignment
// violates, not just the first.
type InvalidAssignmentError struct {
	ClientID   string
	ProviderID string
	Violations []string
}

func (e *InvalidAssignmentError) Error() string {
	return fmt.Sprintf("assignment of client %s to provider %s violates: %s",
		e.ClientID, e.ProviderID, strings.Join(e.Violations, "; "))
}

// Matcher carries the per-run inputs shared across all placements:
// the partitioned rule set and each provider's resolved windows for
// the target week.
type Matcher struct {
	Rules     rules.Set
	Settings  model.OrgSettings
	WeekStart time.Time
	// Windows holds each provider's resolved availability, indexed by
	// provider ID then day offset from WeekStart.
	Windows map[string][7][]availability.Window
}

// Candidates returns every provider/room combination passing the hard
// rules for the slot, best first. An empty result means the slot is
// unfillable for this client.
func (m Matcher) Candidates(c model.Client, slot Slot, providers []model.Provider, rooms []model.Room, state *BookingState) []Candidate {
	requiredProvider := m.requiredProviderFor(c.ID)
	certs := rules.RequiredCertifications(c, m.Rules)

	var out []Candidate
	for _, p := range providers {
		if len(m.hardViolations(c, p, slot, requiredProvider, certs, state)) > 0 {
			continue
		}
		if c.NeedsRoom() {
			for _, rm := range m.eligibleRooms(c, slot, rooms, state) {
				rm := rm
				out = append(out, Candidate{Provider: p, Room: &rm, Score: m.score(c, p, &rm, slot, state)})
			}
		} else {
			out = append(out, Candidate{Provider: p, Score: m.score(c, p, nil, slot, state)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score.better(b.Score) {
			return true
		}
		if b.Score.better(a.Score) {
			return false
		}
		if a.Provider.ID != b.Provider.ID {
			return a.Provider.ID < b.Provider.ID
		}
		return a.RoomID() < b.RoomID()
	})
	return out
}

// Validate checks a manual assignment against the same hard rules the
// generator applies. A nil error means the assignment is acceptable.
func (m Matcher) Validate(c model.Client, p model.Provider, roomID string, slot Slot, rooms []model.Room, state *BookingState) error {
	requiredProvider := m.requiredProviderFor(c.ID)
	certs := rules.RequiredCertifications(c, m.Rules)
	violations := m.hardViolations(c, p, slot, requiredProvider, certs, state)

	if c.NeedsRoom() && roomID == "" {
		violations = append(violations, "client requires a room and none was assigned")
	}
	if roomID != "" {
		room := findRoom(rooms, roomID)
		switch {
		case room == nil || !room.Active:
			violations = append(violations, fmt.Sprintf("room %s is not available", roomID))
		case !room.HasCapabilities(c.RequiredRoomCapabilities):
			violations = append(violations, fmt.Sprintf("room %s lacks required capabilities", roomID))
		case state.RoomBusy(roomID, slot.Start, slot.End):
			violations = append(violations, fmt.Sprintf("room %s is occupied", roomID))
		}
	}
	if len(violations) > 0 {
		return &InvalidAssignmentError{ClientID: c.ID, ProviderID: p.ID, Violations: violations}
	}
	return nil
}

// hardViolations applies every eliminating rule. A pairing rule that
// requires this exact provider overrides gender restrictions for the
// pair; it never overrides certifications, availability, or occupancy.
func (m Matcher) hardViolations(c model.Client, p model.Provider, slot Slot, requiredProvider string, certs []string, state *BookingState) []string {
	var v []string
	if !p.Active {
		v = append(v, fmt.Sprintf("provider %s is inactive", p.ID))
	}
	if requiredProvider != "" && requiredProvider != p.ID {
		v = append(v, fmt.Sprintf("client %s is pinned to provider %s", c.ID, requiredProvider))
	}
	if m.pairingForbidden(c.ID, p.ID) {
		v = append(v, fmt.Sprintf("pairing of client %s with provider %s is forbidden", c.ID, p.ID))
	}
	pinned := requiredProvider == p.ID
	if !pinned {
		if c.GenderPreference != model.GenderUnspecified && p.Gender != c.GenderPreference {
			v = append(v, fmt.Sprintf("provider gender does not match client preference %s", c.GenderPreference))
		}
		if !m.genderAllowed(c.Gender, p.Gender) {
			v = append(v, fmt.Sprintf("gender pairing rules exclude provider %s for client %s", p.ID, c.ID))
		}
	}
	if !p.HasCertifications(certs) {
		v = append(v, fmt.Sprintf("provider %s lacks required certifications", p.ID))
	}
	if !m.slotWithinAvailabilityRules(slot) {
		v = append(v, "slot is outside rule-bounded hours")
	}
	if !m.providerWindowCovers(p.ID, slot) {
		v = append(v, fmt.Sprintf("provider %s is not available for the slot", p.ID))
	}
	if state.ProviderBusy(p.ID, slot.Start, slot.End) {
		v = append(v, fmt.Sprintf("provider %s is already booked", p.ID))
	}
	if state.ClientBusy(c.ID, slot.Start, slot.End) {
		v = append(v, fmt.Sprintf("client %s is already booked", c.ID))
	}
	return v
}

func (m Matcher) eligibleRooms(c model.Client, slot Slot, rooms []model.Room, state *BookingState) []model.Room {
	var out []model.Room
	for _, rm := range rooms {
		if !rm.Active || !rm.HasCapabilities(c.RequiredRoomCapabilities) {
			continue
		}
		if state.RoomBusy(rm.ID, slot.Start, slot.End) {
			continue
		}
		out = append(out, rm)
	}
	return out
}

func (m Matcher) score(c model.Client, p model.Provider, room *model.Room, slot Slot, state *BookingState) Score {
	s := Score{Load: state.ProviderLoad(p.ID)}
	for _, r := range m.Rules.Soft.Session {
		l := r.Logic.Session
		if l.MaxSessionsPerProviderDay > 0 &&
			state.ProviderSessionsOn(p.ID, slot.Start) >= l.MaxSessionsPerProviderDay {
			s.LimitPenalty++
		}
		if l.MaxSessionsPerClientDay > 0 &&
			state.ClientSessionsOn(c.ID, slot.Start) >= l.MaxSessionsPerClientDay {
			s.LimitPenalty++
		}
	}
	for _, w := range c.PreferredWindows {
		if w.Weekday != slot.Start.Weekday() {
			continue
		}
		ws, we := w.ClockRange.On(slot.Start)
		if !slot.Start.Before(ws) && !slot.End.After(we) {
			s.PreferredWindow = true
			break
		}
	}
	if room != nil && c.PreferredRoomID != "" && room.ID == c.PreferredRoomID {
		s.PreferredRoom = true
	}
	return s
}

// requiredProviderFor returns the provider a require pairing rule pins
// the client to, taking the highest-priority rule when several exist.
func (m Matcher) requiredProviderFor(clientID string) string {
	for _, r := range m.Rules.Hard.SpecificPairing {
		l := r.Logic.SpecificPairing
		if l.Effect == rules.PairingRequire && l.ClientID == clientID {
			return l.ProviderID
		}
	}
	return ""
}

func (m Matcher) pairingForbidden(clientID, providerID string) bool {
	for _, r := range m.Rules.Hard.SpecificPairing {
		l := r.Logic.SpecificPairing
		if l.Effect == rules.PairingForbid && l.ClientID == clientID && l.ProviderID == providerID {
			return true
		}
	}
	return false
}

// genderAllowed requires every applicable gender rule to allow the
// provider's gender.
func (m Matcher) genderAllowed(client, provider model.Gender) bool {
	for _, r := range m.Rules.Hard.GenderPairing {
		l := r.Logic.GenderPairing
		if l.ClientGender != model.GenderUnspecified && l.ClientGender != client {
			continue
		}
		if !l.Allows(provider) {
			return false
		}
	}
	return true
}

func (m Matcher) slotWithinAvailabilityRules(slot Slot) bool {
	if len(m.Rules.Hard.Availability) == 0 {
		return true
	}
	for _, r := range m.Rules.Hard.Availability {
		l := r.Logic.Availability
		if !l.AppliesOn(slot.Start.Weekday()) {
			continue
		}
		ws, we := l.Window.On(slot.Start)
		if !slot.Start.Before(ws) && !slot.End.After(we) {
			return true
		}
	}
	return false
}

func (m Matcher) providerWindowCovers(providerID string, slot Slot) bool {
	days, ok := m.Windows[providerID]
	if !ok {
		return false
	}
	offset := int(slot.Start.Sub(m.WeekStart).Hours() / 24)
	if offset < 0 || offset > 6 {
		return false
	}
	for _, w := range days[offset] {
		if w.Covers(slot.Start, slot.End) {
			return true
		}
	}
	return false
}

func findRoom(rooms []model.Room, id string) *model.Room {
	for i := range rooms {
		if rooms[i].ID == id {
			return &rooms[i]
		}
	}
	return nil
}
