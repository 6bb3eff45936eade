package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}

type DoctorProfile struct {
	DoctorID            string
	FullName            string
	Specialty           string
	Bio                 string
	ConsultationFeeCents int64
	Active              bool
	CreatedAt           time.Time
}

// GetOrCreateProfile seeds an empty profile on first access so a freshly
// registered doctor can fill it in without a separate provisioning step.
// A new profile gets a default Mon-Fri 09:00-17:00 schedule with 30-minute
// slots, Sat/Sun off.
func (r *Repository) GetOrCreateProfile(ctx context.Context, doctorID string) (DoctorProfile, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return DoctorProfile{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO doctor_profiles (doctor_id)
		VALUES ($1)
		ON CONFLICT (doctor_id) DO NOTHING
	`, doctorID)
	if err != nil {
		return DoctorProfile{}, err
	}

	if tag.RowsAffected() > 0 {
		for wd := 0; wd <= 6; wd++ {
			active := wd >= 1 && wd <= 5
			startMin, endMin := 540, 1020
			if !active {
				startMin, endMin = 0, 0
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctor_availability (doctor_id, weekday, is_active, start_minute, end_minute, slot_minutes)
				VALUES ($1, $2, $3, $4, $5, 30)
				ON CONFLICT (doctor_id, weekday) DO NOTHING
			`, doctorID, wd, active, startMin, endMin); err != nil {
				return DoctorProfile{}, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return DoctorProfile{}, err
	}

	var p DoctorProfile
	err = r.pool.QueryRow(ctx, `
		SELECT doctor_id::text, full_name, specialty, bio, consultation_fee_cents, active, created_at
		FROM doctor_profiles
		WHERE doctor_id = $1
	`, doctorID).Scan(&p.DoctorID, &p.FullName, &p.Specialty, &p.Bio, &p.ConsultationFeeCents, &p.Active, &p.CreatedAt)
	return p, err
}

func (r *Repository) GetProfile(ctx context.Context, doctorID string) (DoctorProfile, error) {
	var p DoctorProfile
	err := r.pool.QueryRow(ctx, `
		SELECT doctor_id::text, full_name, specialty, bio, consultation_fee_cents, active, created_at
		FROM doctor_profiles
		WHERE doctor_id = $1
	`, doctorID).Scan(&p.DoctorID, &p.FullName, &p.Specialty, &p.Bio, &p.ConsultationFeeCents, &p.Active, &p.CreatedAt)
	if err != nil {
		return DoctorProfile{}, err
	}
	return p, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, p DoctorProfile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_profiles (doctor_id, full_name, specialty, bio, consultation_fee_cents, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
			specialty = EXCLUDED.specialty,
			bio = EXCLUDED.bio,
			consultation_fee_cents = EXCLUDED.consultation_fee_cents,
			active = EXCLUDED.active,
			updated_at = now()
	`, p.DoctorID, p.FullName, p.Specialty, p.Bio, p.ConsultationFeeCents, p.Active)
	return err
}

func (r *Repository) ListDoctors(ctx context.Context, specialty string, limit int) ([]DoctorProfile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id::text, full_name, specialty, bio, consultation_fee_cents, active, created_at
		FROM doctor_profiles
		WHERE active = true
			AND ($1 = '' OR specialty = $1)
		ORDER BY full_name ASC
		LIMIT $2
	`, specialty, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DoctorProfile
	for rows.Next() {
		var p DoctorProfile
		if err := rows.Scan(&p.DoctorID, &p.FullName, &p.Specialty, &p.Bio, &p.ConsultationFeeCents, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AvailabilityWindow is a doctor's bookable window for one weekday,
// expressed as minutes from local midnight in the clinic timezone.
type AvailabilityWindow struct {
	DoctorID    string
	Weekday     int
	Active      bool
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

func (r *Repository) GetAvailability(ctx context.Context, doctorID string, weekday int) (AvailabilityWindow, bool, error) {
	var w AvailabilityWindow
	err := r.pool.QueryRow(ctx, `
		SELECT doctor_id::text, weekday, is_active, start_minute, end_minute, slot_minutes
		FROM doctor_availability
		WHERE doctor_id = $1 AND weekday = $2
	`, doctorID, weekday).Scan(&w.DoctorID, &w.Weekday, &w.Active, &w.StartMinute, &w.EndMinute, &w.SlotMinutes)
	if err == pgx.ErrNoRows {
		return AvailabilityWindow{}, false, nil
	}
	if err != nil {
		return AvailabilityWindow{}, false, err
	}
	return w, true, nil
}

func (r *Repository) ListAvailability(ctx context.Context, doctorID string) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id::text, weekday, is_active, start_minute, end_minute, slot_minutes
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY weekday ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		if err := rows.Scan(&w.DoctorID, &w.Weekday, &w.Active, &w.StartMinute, &w.EndMinute, &w.SlotMinutes); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) UpsertAvailability(ctx context.Context, w AvailabilityWindow) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, weekday, is_active, start_minute, end_minute, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, weekday) DO UPDATE
		SET is_active = EXCLUDED.is_active,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
	`, w.DoctorID, w.Weekday, w.Active, w.StartMinute, w.EndMinute, w.SlotMinutes)
	return err
}

type TimeOff struct {
	ID        string
	DoctorID  string
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	CreatedAt time.Time
}

func (r *Repository) CreateTimeOff(ctx context.Context, doctorID string, startTime, endTime time.Time, reason string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_time_off (id, doctor_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, id, doctorID, startTime, endTime, reason)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListTimeOff(ctx context.Context, doctorID string, from, to time.Time, limit int) ([]TimeOff, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, doctor_id::text, start_time, end_time, reason, created_at
		FROM doctor_time_off
		WHERE doctor_id = $1
			AND end_time > $2
			AND start_time < $3
		ORDER BY start_time ASC
		LIMIT $4
	`, doctorID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimeOff
	for rows.Next() {
		var t TimeOff
		if err := rows.Scan(&t.ID, &t.DoctorID, &t.StartTime, &t.EndTime, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteTimeOff(ctx context.Context, doctorID, timeOffID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_time_off
		WHERE doctor_id = $1 AND id = $2
	`, doctorID, timeOffID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ClinicSettings is a single-row table; the clinic runs in one timezone.
type ClinicSettings struct {
	Name                   string
	Timezone               string
	ReminderOffsetsMinutes []int
}

func (r *Repository) GetSettings(ctx context.Context) (ClinicSettings, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_settings (id)
		VALUES (1)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return ClinicSettings{}, err
	}

	var s ClinicSettings
	err = r.pool.QueryRow(ctx, `
		SELECT name, timezone, reminder_offsets_minutes
		FROM clinic_settings
		WHERE id = 1
	`).Scan(&s.Name, &s.Timezone, &s.ReminderOffsetsMinutes)
	return s, err
}

func (r *Repository) UpdateSettings(ctx context.Context, s ClinicSettings) error {
	if len(s.ReminderOffsetsMinutes) == 0 {
		s.ReminderOffsetsMinutes = []int{1440, 60}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO clinic_settings (id, name, timezone, reminder_offsets_minutes)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			reminder_offsets_minutes = EXCLUDED.reminder_offsets_minutes,
			updated_at = now()
	`, s.Name, s.Timezone, s.ReminderOffsetsMinutes)
	return err
}
