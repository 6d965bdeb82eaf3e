package storage

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pracsuite/pracsuite/libs/db"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/holds"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
)

// HoldRepository is the database-backed hold store. Contention is
// handled on two levels: transaction-scoped advisory locks serialize
// concurrent acquisitions over the same provider or room, and the
// range exclusion constraints on the holds and sessions tables are
// the backstop should a code path miss the locks.
type HoldRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewHoldRepository(pool *db.Pool, ob *outbox.Repository) *HoldRepository {
	return &HoldRepository{pool: pool, outbox: ob}
}

var _ holds.Store = (*HoldRepository)(nil)

func (r *HoldRepository) Acquire(ctx context.Context, h model.Hold) (model.Hold, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Hold{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if h.IdempotencyKey != "" {
		existing, err := r.byIdempotencyKey(ctx, tx, h.OrgID, h.IdempotencyKey)
		if err == nil {
			return existing, tx.Commit(ctx)
		}
		if !IsNotFound(err) {
			return model.Hold{}, err
		}
	}

	if err := lockDimensions(ctx, tx, h.OrgID, h.ProviderID, h.RoomID); err != nil {
		return model.Hold{}, err
	}

	// Expired rows stop blocking at read time; removing them here keeps
	// the exclusion constraint from rejecting a legitimate acquisition.
	_, err = tx.Exec(ctx, `
		DELETE FROM holds
		WHERE org_id = $1 AND expires_at <= now() AND converted_session_id IS NULL
	`, h.OrgID)
	if err != nil {
		return model.Hold{}, err
	}

	if err := r.checkContention(ctx, tx, h.OrgID, h.ProviderID, h.RoomID, h.StartTime, h.EndTime); err != nil {
		return model.Hold{}, err
	}

	var providerID, roomID, idemKey *string
	if h.ProviderID != "" {
		providerID = &h.ProviderID
	}
	if h.RoomID != "" {
		roomID = &h.RoomID
	}
	if h.IdempotencyKey != "" {
		idemKey = &h.IdempotencyKey
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO holds
			(id, org_id, provider_id, room_id, client_id, start_time, end_time, expires_at, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, h.ID, h.OrgID, providerID, roomID, h.ClientID, h.StartTime, h.EndTime, h.ExpiresAt, idemKey, h.CreatedAt)
	if err != nil {
		if IsConflict(err) {
			return model.Hold{}, &holds.ConflictError{ProviderID: h.ProviderID, RoomID: h.RoomID, Start: h.StartTime, End: h.EndTime}
		}
		return model.Hold{}, err
	}
	return h, tx.Commit(ctx)
}

func (r *HoldRepository) Get(ctx context.Context, orgID, holdID string) (model.Hold, error) {
	h, err := scanHold(r.pool.QueryRow(ctx, `
		SELECT id, org_id, COALESCE(provider_id::text, ''), COALESCE(room_id::text, ''), client_id,
			start_time, end_time, expires_at, released_at, COALESCE(converted_session_id::text, ''),
			COALESCE(idempotency_key, ''), created_at
		FROM holds
		WHERE id = $1 AND org_id = $2
	`, holdID, orgID))
	if IsNotFound(err) {
		return model.Hold{}, holds.ErrHoldNotFound
	}
	return h, err
}

func (r *HoldRepository) Convert(ctx context.Context, orgID, holdID string, sess model.Session, evt outbox.Event, now time.Time) (model.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Session{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	h, err := scanHold(tx.QueryRow(ctx, `
		SELECT id, org_id, COALESCE(provider_id::text, ''), COALESCE(room_id::text, ''), client_id,
			start_time, end_time, expires_at, released_at, COALESCE(converted_session_id::text, ''),
			COALESCE(idempotency_key, ''), created_at
		FROM holds
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, holdID, orgID))
	if err != nil {
		if IsNotFound(err) {
			return model.Session{}, holds.ErrHoldNotFound
		}
		return model.Session{}, err
	}
	switch {
	case h.ConvertedSessionID != "":
		return model.Session{}, holds.ErrHoldConverted
	case h.ReleasedAt != nil:
		return model.Session{}, holds.ErrHoldReleased
	case !now.Before(h.ExpiresAt):
		return model.Session{}, holds.ErrHoldExpired
	}

	if err := lockDimensions(ctx, tx, orgID, h.ProviderID, h.RoomID); err != nil {
		return model.Session{}, err
	}

	// The hold's week may have a published schedule; the session joins
	// it so the roster stays complete.
	var scheduleID *string
	err = tx.QueryRow(ctx, `
		SELECT id FROM schedules
		WHERE org_id = $1 AND week_start = $2 AND status = 'published'
	`, orgID, model.WeekStartOf(h.StartTime)).Scan(&scheduleID)
	if err != nil && !IsNotFound(err) {
		return model.Session{}, err
	}
	if scheduleID != nil {
		sess.ScheduleID = *scheduleID
	}

	var providerID, roomID *string
	if sess.ProviderID != "" {
		providerID = &sess.ProviderID
	}
	if sess.RoomID != "" {
		roomID = &sess.RoomID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sessions
			(id, schedule_id, org_id, provider_id, client_id, room_id, start_time, end_time, status, live, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10)
	`, sess.ID, scheduleID, sess.OrgID, providerID, sess.ClientID, roomID,
		sess.StartTime, sess.EndTime, sess.Status, sess.CreatedAt)
	if err != nil {
		if IsConflict(err) {
			return model.Session{}, &holds.ConflictError{ProviderID: sess.ProviderID, RoomID: sess.RoomID, Start: sess.StartTime, End: sess.EndTime}
		}
		return model.Session{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE holds SET converted_session_id = $2 WHERE id = $1
	`, holdID, sess.ID)
	if err != nil {
		return model.Session{}, err
	}
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Session{}, err
	}
	return sess, tx.Commit(ctx)
}

func (r *HoldRepository) Release(ctx context.Context, orgID, holdID string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE holds
		SET released_at = $3
		WHERE id = $1 AND org_id = $2 AND released_at IS NULL AND converted_session_id IS NULL
	`, holdID, orgID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	h, err := r.Get(ctx, orgID, holdID)
	if err != nil {
		return err
	}
	if h.ConvertedSessionID != "" {
		return holds.ErrHoldConverted
	}
	return holds.ErrHoldReleased
}

func (r *HoldRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM holds
		WHERE expires_at < $1 AND converted_session_id IS NULL
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListLive returns the unexpired, unreleased, unconverted holds
// overlapping the window.
func (r *HoldRepository) ListLive(ctx context.Context, orgID string, from, to time.Time) ([]model.Hold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, COALESCE(provider_id::text, ''), COALESCE(room_id::text, ''), client_id,
			start_time, end_time, expires_at, released_at, COALESCE(converted_session_id::text, ''),
			COALESCE(idempotency_key, ''), created_at
		FROM holds
		WHERE org_id = $1
			AND start_time < $3 AND end_time > $2
			AND expires_at > now()
			AND released_at IS NULL
			AND converted_session_id IS NULL
		ORDER BY start_time, id
	`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// lockDimensions takes transaction advisory locks on the contended
// provider and room keys in sorted order so two transactions touching
// the same pair can never deadlock.
func lockDimensions(ctx context.Context, tx pgx.Tx, orgID, providerID, roomID string) error {
	var keys []string
	if providerID != "" {
		keys = append(keys, orgID+"/p/"+providerID)
	}
	if roomID != "" {
		keys = append(keys, orgID+"/r/"+roomID)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
	}
	return nil
}

func (r *HoldRepository) checkContention(ctx context.Context, tx pgx.Tx, orgID, providerID, roomID string, start, end time.Time) error {
	if providerID != "" {
		var n int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM holds
			WHERE org_id = $1 AND provider_id = $2
				AND start_time < $4 AND end_time > $3
				AND expires_at > now() AND released_at IS NULL AND converted_session_id IS NULL
		`, orgID, providerID, start, end).Scan(&n)
		if err != nil {
			return err
		}
		if n == 0 {
			err = tx.QueryRow(ctx, `
				SELECT count(*) FROM sessions
				WHERE org_id = $1 AND provider_id = $2 AND live
					AND start_time < $4 AND end_time > $3
			`, orgID, providerID, start, end).Scan(&n)
			if err != nil {
				return err
			}
		}
		if n > 0 {
			return &holds.ConflictError{ProviderID: providerID, Start: start, End: end}
		}
	}
	if roomID == "" {
		return nil
	}
	var n int
	err := tx.QueryRow(ctx, `
		SELECT (
			SELECT count(*) FROM holds
			WHERE org_id = $1 AND room_id = $2
				AND start_time < $4 AND end_time > $3
				AND expires_at > now() AND released_at IS NULL AND converted_session_id IS NULL
		) + (
			SELECT count(*) FROM sessions
			WHERE org_id = $1 AND room_id = $2 AND live
				AND start_time < $4 AND end_time > $3
		)
	`, orgID, roomID, start, end).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return &holds.ConflictError{RoomID: roomID, Start: start, End: end}
	}
	return nil
}

func scanHold(row pgx.Row) (model.Hold, error) {
	var h model.Hold
	err := row.Scan(&h.ID, &h.OrgID, &h.ProviderID, &h.RoomID, &h.ClientID,
		&h.StartTime, &h.EndTime, &h.ExpiresAt, &h.ReleasedAt, &h.ConvertedSessionID,
		&h.IdempotencyKey, &h.CreatedAt)
	return h, err
}

func (r *HoldRepository) byIdempotencyKey(ctx context.Context, tx pgx.Tx, orgID, key string) (model.Hold, error) {
	return scanHold(tx.QueryRow(ctx, `
		SELECT id, org_id, COALESCE(provider_id::text, ''), COALESCE(room_id::text, ''), client_id,
			start_time, end_time, expires_at, released_at, COALESCE(converted_session_id::text, ''),
			COALESCE(idempotency_key, ''), created_at
		FROM holds
		WHERE org_id = $1 AND idempotency_key = $2
	`, orgID, key))
}
