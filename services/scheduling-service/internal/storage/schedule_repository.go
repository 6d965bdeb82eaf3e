package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pracsuite/pracsuite/libs/db"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/generator"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

// ScheduleStore is the generator's persistence: schedule and session
// rows plus delegated reads from the directory and rule repositories.
// Draft saves and publishes write their outbox event in the same
// transaction as the mutation.
type ScheduleStore struct {
	pool   *db.Pool
	dir    *DirectoryRepository
	rules  *RuleRepository
	outbox *outbox.Repository
	holds  *HoldRepository
}

func NewScheduleStore(pool *db.Pool, dir *DirectoryRepository, ruleRepo *RuleRepository, ob *outbox.Repository, holdRepo *HoldRepository) *ScheduleStore {
	return &ScheduleStore{pool: pool, dir: dir, rules: ruleRepo, outbox: ob, holds: holdRepo}
}

var _ generator.Store = (*ScheduleStore)(nil)

func (s *ScheduleStore) Rules(ctx context.Context, orgID string) ([]rules.Rule, error) {
	return s.rules.List(ctx, orgID)
}

func (s *ScheduleStore) Directory(ctx context.Context, orgID string) (rules.Snapshot, error) {
	return s.dir.Snapshot(ctx, orgID)
}

func (s *ScheduleStore) Exceptions(ctx context.Context, orgID string, from, to time.Time) ([]model.AvailabilityException, error) {
	return s.dir.ListExceptions(ctx, orgID, from, to)
}

func (s *ScheduleStore) LiveHolds(ctx context.Context, orgID string, from, to time.Time) ([]model.Hold, error) {
	return s.holds.ListLive(ctx, orgID, from, to)
}

// ConvertedSessions returns the window's live sessions that came out of
// holds. Generation and draft copies schedule around them.
func (s *ScheduleStore) ConvertedSessions(ctx context.Context, orgID string, from, to time.Time) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, COALESCE(s.schedule_id::text, ''), s.org_id, COALESCE(s.provider_id::text, ''),
			s.client_id, COALESCE(s.room_id::text, ''), s.start_time, s.end_time, s.status, s.created_at
		FROM sessions s
		JOIN holds h ON h.converted_session_id = s.id
		WHERE s.org_id = $1 AND s.live
			AND s.start_time < $3 AND s.end_time > $2
		ORDER BY s.start_time, s.id
	`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *ScheduleStore) ScheduleForWeek(ctx context.Context, orgID string, weekStart time.Time, status model.ScheduleStatus) (*model.Schedule, []model.Session, error) {
	var sched model.Schedule
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, week_start, status, version, created_at, published_at
		FROM schedules
		WHERE org_id = $1 AND week_start = $2 AND status = $3
		ORDER BY version DESC
		LIMIT 1
	`, orgID, weekStart, status).Scan(&sched.ID, &sched.OrgID, &sched.WeekStart, &sched.Status,
		&sched.Version, &sched.CreatedAt, &sched.PublishedAt)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	sessions, err := s.SessionsForSchedule(ctx, orgID, sched.ID)
	if err != nil {
		return nil, nil, err
	}
	return &sched, sessions, nil
}

func (s *ScheduleStore) ScheduleByID(ctx context.Context, orgID, scheduleID string) (*model.Schedule, error) {
	var sched model.Schedule
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, week_start, status, version, created_at, published_at
		FROM schedules
		WHERE id = $1 AND org_id = $2
	`, scheduleID, orgID).Scan(&sched.ID, &sched.OrgID, &sched.WeekStart, &sched.Status,
		&sched.Version, &sched.CreatedAt, &sched.PublishedAt)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *ScheduleStore) SessionsForSchedule(ctx context.Context, orgID, scheduleID string) ([]model.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, schedule_id, org_id, COALESCE(provider_id::text, ''), client_id, COALESCE(room_id::text, ''),
			start_time, end_time, status, created_at
		FROM sessions
		WHERE schedule_id = $1 AND org_id = $2
		ORDER BY start_time, id
	`, scheduleID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *ScheduleStore) LatestVersion(ctx context.Context, orgID string, weekStart time.Time) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM schedules
		WHERE org_id = $1 AND week_start = $2
	`, orgID, weekStart).Scan(&version)
	return version, err
}

// SaveDraft replaces any existing draft for the week: the old draft
// row and its sessions are deleted, the new rows inserted, and the
// event queued, all in one transaction.
func (s *ScheduleStore) SaveDraft(ctx context.Context, sched model.Schedule, sessions []model.Session, evt outbox.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		DELETE FROM sessions
		WHERE schedule_id IN (
			SELECT id FROM schedules
			WHERE org_id = $1 AND week_start = $2 AND status = 'draft'
		)
	`, sched.OrgID, sched.WeekStart)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM schedules
		WHERE org_id = $1 AND week_start = $2 AND status = 'draft'
	`, sched.OrgID, sched.WeekStart)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO schedules (id, org_id, week_start, status, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sched.ID, sched.OrgID, sched.WeekStart, sched.Status, sched.Version, sched.CreatedAt)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := insertSession(ctx, tx, sess); err != nil {
			return err
		}
	}
	if err := s.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkPublished promotes the draft and archives the previously
// published schedule of the same week atomically.
func (s *ScheduleStore) MarkPublished(ctx context.Context, orgID, scheduleID string, at time.Time, evt outbox.Event) (*model.Schedule, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sched model.Schedule
	err = tx.QueryRow(ctx, `
		SELECT id, org_id, week_start, status, version, created_at, published_at
		FROM schedules
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, scheduleID, orgID).Scan(&sched.ID, &sched.OrgID, &sched.WeekStart, &sched.Status,
		&sched.Version, &sched.CreatedAt, &sched.PublishedAt)
	if err != nil {
		return nil, err
	}
	if sched.Status != model.ScheduleDraft {
		return nil, generator.ErrNotDraft
	}

	// Hold-born bookings follow the published roster: reattach them to
	// the incoming schedule before the outgoing one goes dark, whether
	// they sit on the old schedule or on none.
	weekEnd := sched.WeekStart.AddDate(0, 0, 7)
	_, err = tx.Exec(ctx, `
		UPDATE sessions s
		SET schedule_id = $1
		FROM holds h
		WHERE h.converted_session_id = s.id
			AND s.org_id = $2 AND s.live
			AND s.start_time >= $3 AND s.start_time < $4
			AND s.schedule_id IS DISTINCT FROM $1
	`, scheduleID, orgID, sched.WeekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	// Only the published schedule's sessions carry live = true, which
	// scopes the exclusion constraints to the schedule that actually
	// binds providers and rooms.
	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET live = false
		WHERE schedule_id IN (
			SELECT id FROM schedules
			WHERE org_id = $1 AND week_start = $2 AND status = 'published'
		)
	`, orgID, sched.WeekStart)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE schedules
		SET status = 'archived'
		WHERE org_id = $1 AND week_start = $2 AND status = 'published'
	`, orgID, sched.WeekStart)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE schedules
		SET status = 'published', published_at = $2
		WHERE id = $1
	`, scheduleID, at)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE sessions
		SET live = true
		WHERE schedule_id = $1
			AND status NOT IN ('cancelled', 'late_cancelled', 'no_show')
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.outbox.Insert(ctx, tx, evt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	sched.Status = model.SchedulePublished
	sched.PublishedAt = &at
	return &sched, nil
}

func (s *ScheduleStore) RecordEvent(ctx context.Context, evt outbox.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := s.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListSchedules returns the week's schedules, newest version first.
func (s *ScheduleStore) ListSchedules(ctx context.Context, orgID string, weekStart time.Time) ([]model.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, week_start, status, version, created_at, published_at
		FROM schedules
		WHERE org_id = $1 AND week_start = $2
		ORDER BY version DESC
	`, orgID, weekStart)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var sched model.Schedule
		if err := rows.Scan(&sched.ID, &sched.OrgID, &sched.WeekStart, &sched.Status,
			&sched.Version, &sched.CreatedAt, &sched.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

func insertSession(ctx context.Context, tx pgx.Tx, sess model.Session) error {
	var roomID *string
	if sess.RoomID != "" {
		roomID = &sess.RoomID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO sessions
			(id, schedule_id, org_id, provider_id, client_id, room_id, start_time, end_time, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sess.ID, sess.ScheduleID, sess.OrgID, sess.ProviderID, sess.ClientID, roomID,
		sess.StartTime, sess.EndTime, sess.Status, sess.CreatedAt)
	return err
}

func scanSessions(rows pgx.Rows) ([]model.Session, error) {
	var out []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.ScheduleID, &sess.OrgID, &sess.ProviderID, &sess.ClientID,
			&sess.RoomID, &sess.StartTime, &sess.EndTime, &sess.Status, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
