package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pracsuite/pracsuite/libs/db"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/model"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/rules"
)

// DirectoryRepository reads and writes the org directory: providers,
// clients, rooms, settings, and availability exceptions. Writes come
// from the platform directory sync consumer; the schedule engine only
// reads.
type DirectoryRepository struct {
	pool *db.Pool
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) Snapshot(ctx context.Context, orgID string) (rules.Snapshot, error) {
	providers, err := r.ListProviders(ctx, orgID)
	if err != nil {
		return rules.Snapshot{}, err
	}
	clients, err := r.ListClients(ctx, orgID)
	if err != nil {
		return rules.Snapshot{}, err
	}
	rooms, err := r.ListRooms(ctx, orgID)
	if err != nil {
		return rules.Snapshot{}, err
	}
	settings, err := r.OrgSettings(ctx, orgID)
	if err != nil {
		return rules.Snapshot{}, err
	}
	return rules.Snapshot{
		Providers: providers,
		Clients:   clients,
		Rooms:     rooms,
		Settings:  settings,
	}, nil
}

func (r *DirectoryRepository) ListProviders(ctx context.Context, orgID string) ([]model.Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, name, gender, certifications, weekly_windows, active, created_at
		FROM providers
		WHERE org_id = $1
		ORDER BY created_at, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		var windows []byte
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Name, &p.Gender, &p.Certifications, &windows, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		if len(windows) > 0 {
			if err := json.Unmarshal(windows, &p.WeeklyWindows); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) UpsertProvider(ctx context.Context, p model.Provider) error {
	windows, err := json.Marshal(p.WeeklyWindows)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO providers (id, org_id, name, gender, certifications, weekly_windows, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			gender = EXCLUDED.gender,
			certifications = EXCLUDED.certifications,
			weekly_windows = EXCLUDED.weekly_windows,
			active = EXCLUDED.active
	`, p.ID, p.OrgID, p.Name, p.Gender, p.Certifications, windows, p.Active, p.CreatedAt)
	return err
}

func (r *DirectoryRepository) ListClients(ctx context.Context, orgID string) ([]model.Client, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, name, gender, gender_preference, weekly_sessions, preferred_windows,
			required_certifications, COALESCE(preferred_room_id::text, ''), required_room_capabilities,
			active, created_at
		FROM clients
		WHERE org_id = $1
		ORDER BY created_at, id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		var windows []byte
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &c.Gender, &c.GenderPreference, &c.WeeklySessions,
			&windows, &c.RequiredCertifications, &c.PreferredRoomID, &c.RequiredRoomCapabilities,
			&c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(windows) > 0 {
			if err := json.Unmarshal(windows, &c.PreferredWindows); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) UpsertClient(ctx context.Context, c model.Client) error {
	windows, err := json.Marshal(c.PreferredWindows)
	if err != nil {
		return err
	}
	var roomID *string
	if c.PreferredRoomID != "" {
		roomID = &c.PreferredRoomID
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO clients (id, org_id, name, gender, gender_preference, weekly_sessions, preferred_windows,
			required_certifications, preferred_room_id, required_room_capabilities, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			gender = EXCLUDED.gender,
			gender_preference = EXCLUDED.gender_preference,
			weekly_sessions = EXCLUDED.weekly_sessions,
			preferred_windows = EXCLUDED.preferred_windows,
			required_certifications = EXCLUDED.required_certifications,
			preferred_room_id = EXCLUDED.preferred_room_id,
			required_room_capabilities = EXCLUDED.required_room_capabilities,
			active = EXCLUDED.active
	`, c.ID, c.OrgID, c.Name, c.Gender, c.GenderPreference, c.WeeklySessions, windows,
		c.RequiredCertifications, roomID, c.RequiredRoomCapabilities, c.Active, c.CreatedAt)
	return err
}

func (r *DirectoryRepository) ListRooms(ctx context.Context, orgID string) ([]model.Room, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, name, capabilities, active
		FROM rooms
		WHERE org_id = $1
		ORDER BY id
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Room
	for rows.Next() {
		var rm model.Room
		if err := rows.Scan(&rm.ID, &rm.OrgID, &rm.Name, &rm.Capabilities, &rm.Active); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) UpsertRoom(ctx context.Context, rm model.Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, org_id, name, capabilities, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			capabilities = EXCLUDED.capabilities,
			active = EXCLUDED.active
	`, rm.ID, rm.OrgID, rm.Name, rm.Capabilities, rm.Active)
	return err
}

// OrgSettings falls back to the defaults when the organization has no
// stored row yet.
func (r *DirectoryRepository) OrgSettings(ctx context.Context, orgID string) (model.OrgSettings, error) {
	s := model.DefaultOrgSettings(orgID)
	var lateCancelMin, holdTTLMin int
	err := r.pool.QueryRow(ctx, `
		SELECT business_start_min, business_end_min, slot_interval_min, default_session_min,
			late_cancel_window_min, hold_ttl_min, recurring_holidays, one_off_holidays
		FROM org_settings
		WHERE org_id = $1
	`, orgID).Scan(&s.BusinessHours.StartMin, &s.BusinessHours.EndMin, &s.SlotIntervalMin,
		&s.DefaultSessionMin, &lateCancelMin, &holdTTLMin, &s.RecurringHolidays, &s.OneOffHolidays)
	if err != nil {
		if IsNotFound(err) {
			return model.DefaultOrgSettings(orgID), nil
		}
		return model.OrgSettings{}, err
	}
	s.LateCancelWindow = time.Duration(lateCancelMin) * time.Minute
	s.HoldTTL = time.Duration(holdTTLMin) * time.Minute
	return s, nil
}

func (r *DirectoryRepository) UpsertOrgSettings(ctx context.Context, s model.OrgSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO org_settings (org_id, business_start_min, business_end_min, slot_interval_min,
			default_session_min, late_cancel_window_min, hold_ttl_min, recurring_holidays, one_off_holidays)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id) DO UPDATE SET
			business_start_min = EXCLUDED.business_start_min,
			business_end_min = EXCLUDED.business_end_min,
			slot_interval_min = EXCLUDED.slot_interval_min,
			default_session_min = EXCLUDED.default_session_min,
			late_cancel_window_min = EXCLUDED.late_cancel_window_min,
			hold_ttl_min = EXCLUDED.hold_ttl_min,
			recurring_holidays = EXCLUDED.recurring_holidays,
			one_off_holidays = EXCLUDED.one_off_holidays
	`, s.OrgID, s.BusinessHours.StartMin, s.BusinessHours.EndMin, s.SlotIntervalMin,
		s.DefaultSessionMin, int(s.LateCancelWindow.Minutes()), int(s.HoldTTL.Minutes()),
		s.RecurringHolidays, s.OneOffHolidays)
	return err
}

func (r *DirectoryRepository) ListExceptions(ctx context.Context, orgID string, from, to time.Time) ([]model.AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, provider_id, date, available, override_start_min, override_end_min,
			status, COALESCE(reason, ''), created_at
		FROM availability_exceptions
		WHERE org_id = $1 AND date >= $2 AND date < $3
		ORDER BY date, id
	`, orgID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		var ex model.AvailabilityException
		var startMin, endMin *int
		if err := rows.Scan(&ex.ID, &ex.OrgID, &ex.ProviderID, &ex.Date, &ex.Available,
			&startMin, &endMin, &ex.Status, &ex.Reason, &ex.CreatedAt); err != nil {
			return nil, err
		}
		if startMin != nil && endMin != nil {
			ex.Override = &model.ClockRange{StartMin: *startMin, EndMin: *endMin}
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (r *DirectoryRepository) CreateException(ctx context.Context, ex model.AvailabilityException) error {
	var startMin, endMin *int
	if ex.Override != nil {
		startMin, endMin = &ex.Override.StartMin, &ex.Override.EndMin
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_exceptions
			(id, org_id, provider_id, date, available, override_start_min, override_end_min, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, ex.ID, ex.OrgID, ex.ProviderID, ex.Date, ex.Available, startMin, endMin, ex.Status, ex.Reason, ex.CreatedAt)
	return err
}

func (r *DirectoryRepository) SetExceptionStatus(ctx context.Context, orgID, exceptionID string, status model.ApprovalStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_exceptions
		SET status = $3
		WHERE id = $1 AND org_id = $2
	`, exceptionID, orgID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
