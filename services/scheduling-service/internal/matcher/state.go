package matcher

import (
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

// BookingState is the occupancy known at match time: persisted
// sessions, live holds, and assignments placed earlier in the same
// generation run. The generator adds each accepted assignment so later
// placements see it.
type BookingState struct {
	sessions []model.Session
	holds    []model.Hold
	now      time.Time
}

func NewBookingState(sessions []model.Session, holds []model.Hold, now time.Time) *BookingState {
	s := &BookingState{now: now}
	for _, sess := range sessions {
		if sess.Blocking() {
			s.sessions = append(s.sessions, sess)
		}
	}
	for _, h := range holds {
		if h.Live(now) {
			s.holds = append(s.holds, h)
		}
	}
	return s
}

func (s *BookingState) Add(sess model.Session) {
	s.sessions = append(s.sessions, sess)
}

func (s *BookingState) ProviderBusy(providerID string, start, end time.Time) bool {
	for _, sess := range s.sessions {
		if sess.ProviderID == providerID && sess.Overlaps(start, end) {
			return true
		}
	}
	for _, h := range s.holds {
		if h.ProviderID == providerID && h.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (s *BookingState) RoomBusy(roomID string, start, end time.Time) bool {
	if roomID == "" {
		return false
	}
	for _, sess := range s.sessions {
		if sess.RoomID == roomID && sess.Overlaps(start, end) {
			return true
		}
	}
	for _, h := range s.holds {
		if h.RoomID == roomID && h.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func (s *BookingState) ClientBusy(clientID string, start, end time.Time) bool {
	for _, sess := range s.sessions {
		if sess.ClientID == clientID && sess.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// ProviderSessionsOn counts the provider's blocking sessions whose
// start falls on the given calendar day.
func (s *BookingState) ProviderSessionsOn(providerID string, day time.Time) int {
	n := 0
	for _, sess := range s.sessions {
		if sess.ProviderID == providerID && sameDay(sess.StartTime, day) {
			n++
		}
	}
	return n
}

func (s *BookingState) ClientSessionsOn(clientID string, day time.Time) int {
	n := 0
	for _, sess := range s.sessions {
		if sess.ClientID == clientID && sameDay(sess.StartTime, day) {
			n++
		}
	}
	return n
}

// ProviderLoad counts all blocking sessions held by the provider, used
// to spread work across equally ranked providers.
func (s *BookingState) ProviderLoad(providerID string) int {
	n := 0
	for _, sess := range s.sessions {
		if sess.ProviderID == providerID {
			n++
		}
	}
	return n
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
