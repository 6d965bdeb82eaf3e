package holds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixedSettings struct{ ttl time.Duration }

func (f fixedSettings) OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error) {
	s := model.DefaultOrgSettings(orgID)
	if f.ttl > 0 {
		s.HoldTTL = f.ttl
	}
	return s, nil
}

func newTestManager(store Store) (*Manager, *time.Time) {
	m := NewManager(store, fixedSettings{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := start.Add(-time.Hour)
	m.now = func() time.Time { return now }
	seq := 0
	m.newID = func() string {
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}
	return m, &now
}

func acquireReq(key string) AcquireRequest {
	return AcquireRequest{
		OrgID: "org-1", ProviderID: "p-1", ClientID: "c-1",
		Start: start, End: start.Add(time.Hour),
		IdempotencyKey: key,
	}
}

func TestHoldRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !hold.ExpiresAt.After(hold.CreatedAt) {
		t.Fatalf("expected a future expiry, got %v", hold.ExpiresAt)
	}

	sess, err := m.Convert(ctx, "org-1", hold.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if sess.ProviderID != "p-1" || sess.ClientID != "c-1" || !sess.StartTime.Equal(start) {
		t.Fatalf("session must carry the hold's slot, got %+v", sess)
	}
	if sess.Status != model.SessionScheduled {
		t.Fatalf("expected scheduled status, got %s", sess.Status)
	}

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("expected a converted event, got %d", len(events))
	}
}

func TestAcquireConflictOnProvider(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	if _, err := m.Acquire(ctx, acquireReq("")); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	req := acquireReq("")
	req.ClientID = "c-2"
	req.Start = start.Add(30 * time.Minute)
	req.End = start.Add(90 * time.Minute)
	_, err := m.Acquire(ctx, req)
	if !errors.Is(err, ErrHoldConflict) {
		t.Fatalf("expected ErrHoldConflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.ProviderID != "p-1" {
		t.Fatalf("conflict must name the provider, got %v", err)
	}
}

func TestAcquireConflictOnRoom(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	first := acquireReq("")
	first.RoomID = "rm-1"
	if _, err := m.Acquire(ctx, first); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	second := acquireReq("")
	second.ProviderID = "p-2"
	second.ClientID = "c-2"
	second.RoomID = "rm-1"
	_, err := m.Acquire(ctx, second)
	if !errors.Is(err, ErrHoldConflict) {
		t.Fatalf("room contention must conflict, got %v", err)
	}
}

func TestAcquireIdempotencyReplay(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	first, err := m.Acquire(ctx, acquireReq("key-1"))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	again, err := m.Acquire(ctx, acquireReq("key-1"))
	if err != nil {
		t.Fatalf("replay must succeed, got %v", err)
	}
	if again.ID != first.ID || !again.ExpiresAt.Equal(first.ExpiresAt) {
		t.Fatalf("replay must return the original hold unchanged, got %+v vs %+v", again, first)
	}
}

func TestConvertExpiredHold(t *testing.T) {
	store := NewMemoryStore()
	m, now := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	*now = hold.ExpiresAt.Add(time.Second)
	if _, err := m.Convert(ctx, "org-1", hold.ID); !errors.Is(err, ErrHoldExpired) {
		t.Fatalf("expected ErrHoldExpired, got %v", err)
	}
}

func TestExpiredHoldStopsBlockingBeforeReclaim(t *testing.T) {
	store := NewMemoryStore()
	m, now := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Past expiry but the row still exists: a new hold over the same
	// slot must succeed.
	*now = hold.ExpiresAt.Add(time.Second)
	req := acquireReq("")
	req.ClientID = "c-2"
	if _, err := m.Acquire(ctx, req); err != nil {
		t.Fatalf("expired hold must not block, got %v", err)
	}
}

func TestDoubleConvertRejected(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Convert(ctx, "org-1", hold.ID); err != nil {
		t.Fatalf("first convert: %v", err)
	}
	if _, err := m.Convert(ctx, "org-1", hold.ID); !errors.Is(err, ErrHoldConverted) {
		t.Fatalf("expected ErrHoldConverted, got %v", err)
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.Release(ctx, "org-1", hold.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := m.Release(ctx, "org-1", hold.ID); !errors.Is(err, ErrHoldReleased) {
		t.Fatalf("second release must fail, got %v", err)
	}

	req := acquireReq("")
	req.ClientID = "c-2"
	if _, err := m.Acquire(ctx, req); err != nil {
		t.Fatalf("released slot must be reacquirable, got %v", err)
	}
}

func TestAcquireRoomOnlyHold(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	req := acquireReq("")
	req.ProviderID = ""
	req.RoomID = "rm-1"
	hold, err := m.Acquire(ctx, req)
	if err != nil {
		t.Fatalf("room-only acquire: %v", err)
	}
	if hold.ProviderID != "" || hold.RoomID != "rm-1" {
		t.Fatalf("unexpected hold dimensions %+v", hold)
	}

	// A second room-only hold on a different room must not contend.
	other := acquireReq("")
	other.ProviderID = ""
	other.RoomID = "rm-2"
	other.ClientID = "c-2"
	if _, err := m.Acquire(ctx, other); err != nil {
		t.Fatalf("distinct rooms must not conflict, got %v", err)
	}

	// The same room overlapping must.
	again := acquireReq("")
	again.ProviderID = ""
	again.RoomID = "rm-1"
	again.ClientID = "c-3"
	_, err = m.Acquire(ctx, again)
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.RoomID != "rm-1" {
		t.Fatalf("expected a room conflict, got %v", err)
	}

	sess, err := m.Convert(ctx, "org-1", hold.ID)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if sess.ProviderID != "" || sess.RoomID != "rm-1" {
		t.Fatalf("converted session must keep the room-only shape, got %+v", sess)
	}
}

func TestAcquireRequiresProviderOrRoom(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)

	req := acquireReq("")
	req.ProviderID = ""
	req.RoomID = ""
	if _, err := m.Acquire(context.Background(), req); err == nil {
		t.Fatal("expected an error when neither provider nor room is set")
	}
}

func TestConvertConflictsWithExistingSession(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// A session lands on the same slot out of band.
	store.Seed(model.Session{
		ID: "s-1", OrgID: "org-1", ProviderID: "p-1", ClientID: "c-9",
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.SessionScheduled,
	})
	if _, err := m.Convert(ctx, "org-1", hold.ID); !errors.Is(err, ErrHoldConflict) {
		t.Fatalf("expected conflict at conversion, got %v", err)
	}
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _ := newTestManager(store)
			m.newID = func() string { return fmt.Sprintf("hold-%d", i) }
			req := acquireReq("")
			req.ClientID = fmt.Sprintf("c-%d", i)
			_, errs[i] = m.Acquire(ctx, req)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrHoldConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestReclaimDeletesOnlyLongExpired(t *testing.T) {
	store := NewMemoryStore()
	m, _ := newTestManager(store)
	ctx := context.Background()

	hold, err := m.Acquire(ctx, acquireReq(""))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if n, _ := store.DeleteExpired(ctx, hold.ExpiresAt.Add(-time.Minute)); n != 0 {
		t.Fatalf("live hold must survive reclaim, deleted %d", n)
	}
	if n, _ := store.DeleteExpired(ctx, hold.ExpiresAt.Add(time.Minute)); n != 1 {
		t.Fatalf("expired hold must be reclaimed, deleted %d", n)
	}
}
