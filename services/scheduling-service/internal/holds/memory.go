package holds

import (
	"context"
	"sync"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
)

// MemoryStore is an in-process Store used by tests and local runs. It
// applies the same contention and expiry semantics as the database
// implementation under a single mutex.
type MemoryStore struct {
	mu       sync.Mutex
	holds    map[string]model.Hold
	sessions []model.Session
	events   []outbox.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holds: map[string]model.Hold{}}
}

// Seed adds existing sessions the store treats as booked.
func (s *MemoryStore) Seed(sessions ...model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sessions...)
}

func (s *MemoryStore) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

func (s *MemoryStore) Acquire(ctx context.Context, h model.Hold) (model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.IdempotencyKey != "" {
		for _, existing := range s.holds {
			if existing.OrgID == h.OrgID && existing.IdempotencyKey == h.IdempotencyKey {
				return existing, nil
			}
		}
	}
	if err := s.contention(h.OrgID, h.ProviderID, h.RoomID, h.StartTime, h.EndTime, h.CreatedAt); err != nil {
		return model.Hold{}, err
	}
	s.holds[h.ID] = h
	return h, nil
}

func (s *MemoryStore) Get(ctx context.Context, orgID, holdID string) (model.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok || h.OrgID != orgID {
		return model.Hold{}, ErrHoldNotFound
	}
	return h, nil
}

func (s *MemoryStore) Convert(ctx context.Context, orgID, holdID string, sess model.Session, evt outbox.Event, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok || h.OrgID != orgID {
		return model.Session{}, ErrHoldNotFound
	}
	switch {
	case h.ConvertedSessionID != "":
		return model.Session{}, ErrHoldConverted
	case h.ReleasedAt != nil:
		return model.Session{}, ErrHoldReleased
	case !now.Before(h.ExpiresAt):
		return model.Session{}, ErrHoldExpired
	}
	for _, existing := range s.sessions {
		if !existing.Blocking() || existing.OrgID != orgID {
			continue
		}
		if sess.ProviderID != "" && existing.ProviderID == sess.ProviderID && existing.Overlaps(sess.StartTime, sess.EndTime) {
			return model.Session{}, &ConflictError{ProviderID: sess.ProviderID, Start: sess.StartTime, End: sess.EndTime}
		}
		if sess.RoomID != "" && existing.RoomID == sess.RoomID && existing.Overlaps(sess.StartTime, sess.EndTime) {
			return model.Session{}, &ConflictError{RoomID: sess.RoomID, Start: sess.StartTime, End: sess.EndTime}
		}
	}

	h.ConvertedSessionID = sess.ID
	s.holds[holdID] = h
	s.sessions = append(s.sessions, sess)
	s.events = append(s.events, evt)
	return sess, nil
}

func (s *MemoryStore) Release(ctx context.Context, orgID, holdID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holds[holdID]
	if !ok || h.OrgID != orgID {
		return ErrHoldNotFound
	}
	if h.ConvertedSessionID != "" {
		return ErrHoldConverted
	}
	if h.ReleasedAt != nil {
		return ErrHoldReleased
	}
	h.ReleasedAt = &now
	s.holds[holdID] = h
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, h := range s.holds {
		if h.ConvertedSessionID == "" && h.ExpiresAt.Before(cutoff) {
			delete(s.holds, id)
			n++
		}
	}
	return n, nil
}

// contention rejects the hold when a live hold or blocking session
// overlaps on the provider or, when set, the room.
func (s *MemoryStore) contention(orgID, providerID, roomID string, start, end, now time.Time) error {
	for _, h := range s.holds {
		if h.OrgID != orgID || !h.Live(now) || !h.Overlaps(start, end) {
			continue
		}
		if providerID != "" && h.ProviderID == providerID {
			return &ConflictError{ProviderID: providerID, Start: start, End: end}
		}
		if roomID != "" && h.RoomID == roomID {
			return &ConflictError{RoomID: roomID, Start: start, End: end}
		}
	}
	for _, sess := range s.sessions {
		if sess.OrgID != orgID || !sess.Blocking() || !sess.Overlaps(start, end) {
			continue
		}
		if providerID != "" && sess.ProviderID == providerID {
			return &ConflictError{ProviderID: providerID, Start: start, End: end}
		}
		if roomID != "" && sess.RoomID == roomID {
			return &ConflictError{RoomID: roomID, Start: start, End: end}
		}
	}
	return nil
}
