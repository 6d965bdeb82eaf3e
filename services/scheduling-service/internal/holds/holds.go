// Package holds manages short-lived appointment holds: a hold pins a
// provider, a room, or both to a time range while a client completes
// booking. Holds expire by timestamp and never block once
// expired, whether or not the reclaim worker has removed the row yet.
package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/audit"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
)

var (
	ErrHoldConflict  = errors.New("time range is already held or booked")
	ErrHoldExpired   = errors.New("hold has expired")
	ErrHoldNotFound  = errors.New("hold not found")
	ErrHoldConverted = errors.New("hold was already converted")
	ErrHoldReleased  = errors.New("hold was already released")
)

// ConflictError carries the contended dimension. errors.Is matches it
// against ErrHoldConflict.
type ConflictError struct {
	ProviderID string
	RoomID     string
	Start      time.Time
	End        time.Time
}

func (e *ConflictError) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("room %s is unavailable between %s and %s",
			e.RoomID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("provider %s is unavailable between %s and %s",
		e.ProviderID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrHoldConflict }

// Store is the hold persistence contract. Implementations must make
// Acquire and Convert atomic with respect to concurrent calls over the
// same provider or room.
type Store interface {
	// Acquire inserts the hold unless a live hold or blocking session
	// contends on the provider or room. When a hold with the same
	// idempotency key already exists for the organization it is
	// returned unchanged.
	Acquire(ctx context.Context, h model.Hold) (model.Hold, error)
	Get(ctx context.Context, orgID, holdID string) (model.Hold, error)
	// Convert atomically re-checks the hold is live, writes the session
	// and the event, and marks the hold converted.
	Convert(ctx context.Context, orgID, holdID string, sess model.Session, evt outbox.Event, now time.Time) (model.Session, error)
	Release(ctx context.Context, orgID, holdID string, now time.Time) error
	// DeleteExpired removes hold rows whose expiry passed before the
	// cutoff. Hygiene only; expired holds stop blocking at read time.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsSource resolves per-organization settings, used for the hold
// TTL.
type SettingsSource interface {
	OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error)
}

type AcquireRequest struct {
	OrgID          string
	ProviderID     string
	RoomID         string
	ClientID       string
	Start          time.Time
	End            time.Time
	IdempotencyKey string
}

type Manager struct {
	store    Store
	settings SettingsSource
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewManager(store Store, settings SettingsSource, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Acquire places a hold expiring after the organization's hold TTL.
// Re-sending the same idempotency key returns the original hold
// instead of extending or duplicating it.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (model.Hold, error) {
	if req.ClientID == "" {
		return model.Hold{}, errors.New("client is required")
	}
	if req.ProviderID == "" && req.RoomID == "" {
		return model.Hold{}, errors.New("at least one of provider and room is required")
	}
	now := m.now()
	if !req.Start.Before(req.End) {
		return model.Hold{}, errors.New("hold start must precede end")
	}
	if req.End.Before(now) {
		return model.Hold{}, errors.New("hold range is in the past")
	}
	settings, err := m.settings.OrgSettings(ctx, req.OrgID)
	if err != nil {
		return model.Hold{}, err
	}

	hold := model.Hold{
		ID:             m.newID(),
		OrgID:          req.OrgID,
		ProviderID:     req.ProviderID,
		RoomID:         req.RoomID,
		ClientID:       req.ClientID,
		StartTime:      req.Start.UTC(),
		EndTime:        req.End.UTC(),
		ExpiresAt:      now.Add(settings.HoldTTL).UTC(),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now.UTC(),
	}
	acquired, err := m.store.Acquire(ctx, hold)
	if err != nil {
		return model.Hold{}, err
	}
	m.logger.Info("hold acquired",
		"org_id", acquired.OrgID,
		"hold_id", acquired.ID,
		"provider_id", acquired.ProviderID,
		"expires_at", acquired.ExpiresAt)
	return acquired, nil
}

// Convert turns a live hold into a scheduled session. The expiry is
// re-checked inside the store transaction, so a hold that lapsed
// between read and convert still fails with ErrHoldExpired.
func (m *Manager) Convert(ctx context.Context, orgID, holdID string) (model.Session, error) {
	hold, err := m.store.Get(ctx, orgID, holdID)
	if err != nil {
		return model.Session{}, err
	}
	now := m.now()
	sess := model.Session{
		ID:         m.newID(),
		OrgID:      hold.OrgID,
		ProviderID: hold.ProviderID,
		ClientID:   hold.ClientID,
		RoomID:     hold.RoomID,
		StartTime:  hold.StartTime,
		EndTime:    hold.EndTime,
		Status:     model.SessionScheduled,
		CreatedAt:  now,
	}
	evt := audit.HoldConverted(hold.OrgID, hold.ID, sess.ID, hold.ClientID)
	created, err := m.store.Convert(ctx, orgID, holdID, sess, evt, now)
	if err != nil {
		return model.Session{}, err
	}
	m.logger.Info("hold converted",
		"org_id", orgID,
		"hold_id", holdID,
		"session_id", created.ID)
	return created, nil
}

// Release frees a hold before expiry. Releasing an already-released
// hold is an error so callers notice double submissions.
func (m *Manager) Release(ctx context.Context, orgID, holdID string) error {
	if err := m.store.Release(ctx, orgID, holdID, m.now()); err != nil {
		return err
	}
	m.logger.Info("hold released", "org_id", orgID, "hold_id", holdID)
	return nil
}
