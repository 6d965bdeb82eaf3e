package storage

import (
	"context"
	"errors"
	"time"

	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
)

var ErrInvalidTransition = errors.New("session status transition not allowed")

// UpdateSessionStatus moves a session through its lifecycle. The row
// is locked so concurrent transitions serialize, and leaving a
// blocking status clears the live flag so the slot frees immediately.
func (s *ScheduleStore) UpdateSessionStatus(ctx context.Context, orgID, sessionID string, to model.SessionStatus) (model.Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sess model.Session
	err = tx.QueryRow(ctx, `
		SELECT id, COALESCE(schedule_id::text, ''), org_id, COALESCE(provider_id::text, ''), client_id,
			COALESCE(room_id::text, ''), start_time, end_time, status, created_at
		FROM sessions
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, sessionID, orgID).Scan(&sess.ID, &sess.ScheduleID, &sess.OrgID, &sess.ProviderID, &sess.ClientID,
		&sess.RoomID, &sess.StartTime, &sess.EndTime, &sess.Status, &sess.CreatedAt)
	if err != nil {
		return model.Session{}, err
	}
	if !sess.Status.CanTransition(to) {
		return model.Session{}, ErrInvalidTransition
	}

	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET status = $2,
			live = live AND $2 NOT IN ('cancelled', 'late_cancelled', 'no_show')
		WHERE id = $1
	`, sessionID, to)
	if err != nil {
		return model.Session{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Session{}, err
	}
	sess.Status = to
	return sess, nil
}

// CancelSession cancels on the client's behalf, classifying the
// cancellation as late when it lands inside the organization's late
// cancel window before the session start.
func (s *ScheduleStore) CancelSession(ctx context.Context, orgID, sessionID string, now time.Time) (model.Session, error) {
	settings, err := s.dir.OrgSettings(ctx, orgID)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.SessionByID(ctx, orgID, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if !sess.Status.Cancellable() {
		return model.Session{}, ErrInvalidTransition
	}
	target := model.SessionCancelled
	if now.After(sess.StartTime.Add(-settings.LateCancelWindow)) {
		target = model.SessionLateCancelled
	}
	return s.UpdateSessionStatus(ctx, orgID, sessionID, target)
}

func (s *ScheduleStore) SessionByID(ctx context.Context, orgID, sessionID string) (model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(schedule_id::text, ''), org_id, COALESCE(provider_id::text, ''), client_id,
			COALESCE(room_id::text, ''), start_time, end_time, status, created_at
		FROM sessions
		WHERE id = $1 AND org_id = $2
	`, sessionID, orgID).Scan(&sess.ID, &sess.ScheduleID, &sess.OrgID, &sess.ProviderID, &sess.ClientID,
		&sess.RoomID, &sess.StartTime, &sess.EndTime, &sess.Status, &sess.CreatedAt)
	if err != nil {
		return model.Session{}, err
	}
	return sess, nil
}
