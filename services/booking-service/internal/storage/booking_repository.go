package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SamuelAtedla/heartcare/libs/db"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/model"
)

type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

type IdempotencyRecord struct {
	Key             string
	PatientID       string
	StatusCode      int
	ResponsePayload []byte
	Completed       bool
}

// LockIdempotencyKey claims a key for the current transaction. The row is
// locked until commit, so concurrent retries with the same key serialize
// behind the first request.
func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key, patientID string) (IdempotencyRecord, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key, patientID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, patient_id)
		VALUES ($1, $2)
		ON CONFLICT (idempotency_key, patient_id) DO NOTHING`, key, patientID)
	if err != nil {
		return IdempotencyRecord{}, fmt.Errorf("insert idempotency key: %w", err)
	}
	return r.selectIdempotencyForUpdate(ctx, tx, key, patientID)
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key, patientID string) (IdempotencyRecord, error) {
	rec := IdempotencyRecord{Key: key, PatientID: patientID}
	var statusCode *int
	err := tx.QueryRow(ctx, `
		SELECT status_code, response_payload
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1 AND patient_id = $2
		FOR UPDATE`, key, patientID).Scan(&statusCode, &rec.ResponsePayload)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if statusCode != nil {
		rec.StatusCode = *statusCode
		rec.Completed = true
	}
	return rec, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, patientID string, statusCode int, payload []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET status_code = $3, response_payload = $4, completed_at = now()
		WHERE idempotency_key = $1 AND patient_id = $2`, key, patientID, statusCode, payload)
	if err != nil {
		return fmt.Errorf("finalize idempotency key: %w", err)
	}
	return nil
}

func (r *BookingRepository) Create(ctx context.Context, tx pgx.Tx, a *model.Appointment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			patient_id, doctor_id, patient_name, patient_email, patient_phone,
			scheduled_at, duration_mins, fee_cents, reason, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		a.PatientID, a.DoctorID, a.PatientName, a.PatientEmail, a.PatientPhone,
		a.ScheduledAt, a.DurationMins, a.FeeCents, a.Reason, a.Status,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, selectAppointment+` WHERE id = $1 FOR UPDATE`, id))
}

func (r *BookingRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, selectAppointment+` WHERE id = $1`, id))
}

// Confirm flips a pending appointment to confirmed. The partial unique index
// on (doctor_id, scheduled_at) for confirmed rows rejects the second winner
// of a double-booked slot; callers detect that with IsConflict.
func (r *BookingRepository) Confirm(ctx context.Context, tx pgx.Tx, id string) (time.Time, error) {
	var confirmedAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'confirmed', confirmed_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING confirmed_at`, id).Scan(&confirmedAt)
	if err != nil {
		return time.Time{}, err
	}
	return confirmedAt, nil
}

func (r *BookingRepository) Cancel(ctx context.Context, tx pgx.Tx, id, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancel_reason = $2, cancelled_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING cancelled_at`, id, reason).Scan(&cancelledAt)
	if err != nil {
		return time.Time{}, err
	}
	return cancelledAt, nil
}

func (r *BookingRepository) Complete(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed'
		WHERE id = $1 AND status = 'confirmed'`, id)
	if err != nil {
		return fmt.Errorf("complete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ConfirmedStarts lists confirmed appointment starts in [dayStart, dayEnd).
func (r *BookingRepository) ConfirmedStarts(ctx context.Context, doctorID string, dayStart, dayEnd time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'confirmed'
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at`, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("query confirmed starts: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *BookingRepository) ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	return r.list(ctx, selectAppointment+` WHERE patient_id = $1 ORDER BY scheduled_at DESC`, patientID)
}

func (r *BookingRepository) ListByDoctor(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	return r.list(ctx, selectAppointment+` WHERE doctor_id = $1 ORDER BY scheduled_at DESC`, doctorID)
}

func (r *BookingRepository) ListByRange(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return r.list(ctx, selectAppointment+` WHERE scheduled_at >= $1 AND scheduled_at < $2 ORDER BY scheduled_at`, from, to)
}

const selectAppointment = `
	SELECT id, patient_id, doctor_id, patient_name, patient_email, patient_phone,
	       scheduled_at, duration_mins, fee_cents, reason, status,
	       cancel_reason, cancelled_at, confirmed_at, created_at
	FROM appointments`

func (r *BookingRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var phone, reason, cancelReason *string
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.PatientName, &a.PatientEmail, &phone,
		&a.ScheduledAt, &a.DurationMins, &a.FeeCents, &reason, &a.Status,
		&cancelReason, &a.CancelledAt, &a.ConfirmedAt, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if phone != nil {
		a.PatientPhone = *phone
	}
	if reason != nil {
		a.Reason = *reason
	}
	if cancelReason != nil {
		a.CancelReason = *cancelReason
	}
	return a, nil
}

// IsConflict reports unique or exclusion violations from overlapping writes.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23P01"
	}
	return false
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
