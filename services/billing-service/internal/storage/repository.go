package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CachedAppointment is billing's local copy of a requested appointment.
// Checkout amounts come from here, never from the client.
type CachedAppointment struct {
	AppointmentID string
	PatientID     string
	DoctorID      string
	PatientEmail  string
	ScheduledAt   time.Time
	FeeCents      int64
	CreatedAt     time.Time
}

func (r *Repository) UpsertAppointment(ctx context.Context, a CachedAppointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_appointments (appointment_id, patient_id, doctor_id, patient_email, scheduled_at, fee_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (appointment_id) DO UPDATE
		SET scheduled_at = EXCLUDED.scheduled_at, fee_cents = EXCLUDED.fee_cents`,
		a.AppointmentID, a.PatientID, a.DoctorID, a.PatientEmail, a.ScheduledAt, a.FeeCents)
	if err != nil {
		return fmt.Errorf("upsert billing appointment: %w", err)
	}
	return nil
}

func (r *Repository) GetAppointment(ctx context.Context, appointmentID string) (CachedAppointment, error) {
	var a CachedAppointment
	err := r.pool.QueryRow(ctx, `
		SELECT appointment_id, patient_id, doctor_id, patient_email, scheduled_at, fee_cents, created_at
		FROM billing_appointments
		WHERE appointment_id = $1`, appointmentID).
		Scan(&a.AppointmentID, &a.PatientID, &a.DoctorID, &a.PatientEmail, &a.ScheduledAt, &a.FeeCents, &a.CreatedAt)
	return a, err
}

const (
	PaymentCreated  = "created"
	PaymentPaid     = "paid"
	PaymentExpired  = "expired"
	PaymentRefunded = "refunded"
)

type Payment struct {
	ID                    string     `json:"id"`
	AppointmentID         string     `json:"appointmentId"`
	PatientID             string     `json:"patientId"`
	StripeSessionID       string     `json:"stripeSessionId,omitempty"`
	StripePaymentIntentID string     `json:"stripePaymentIntentId,omitempty"`
	AmountCents           int64      `json:"amountCents"`
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	ReturnToken           string     `json:"-"`
	PaidAt                *time.Time `json:"paidAt,omitempty"`
	ExpiredAt             *time.Time `json:"expiredAt,omitempty"`
	RefundedAt            *time.Time `json:"refundedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

func (r *Repository) CreatePayment(ctx context.Context, tx pgx.Tx, p *Payment) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO payments (appointment_id, patient_id, stripe_session_id, amount_cents, currency, status, return_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		p.AppointmentID, p.PatientID, p.StripeSessionID, p.AmountCents, p.Currency, p.Status, p.ReturnToken).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

const selectPayment = `
	SELECT id, appointment_id, patient_id, stripe_session_id, stripe_payment_intent_id,
	       amount_cents, currency, status, return_token,
	       paid_at, expired_at, refunded_at, created_at, updated_at
	FROM payments`

func (r *Repository) GetPaymentBySession(ctx context.Context, sessionID string) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, selectPayment+` WHERE stripe_session_id = $1`, sessionID))
}

// LatestPaymentForAppointment prefers the paid payment if one exists.
func (r *Repository) LatestPaymentForAppointment(ctx context.Context, appointmentID string) (Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, selectPayment+`
		WHERE appointment_id = $1
		ORDER BY (status = 'paid') DESC, created_at DESC
		LIMIT 1`, appointmentID))
}

// MarkPaymentPaid transitions a created payment to paid. Replayed webhooks
// find no row to update and get pgx.ErrNoRows.
func (r *Repository) MarkPaymentPaid(ctx context.Context, tx pgx.Tx, sessionID string, paidAt time.Time, paymentIntentID string) (Payment, error) {
	return scanPayment(tx.QueryRow(ctx, `
		UPDATE payments
		SET status = 'paid', paid_at = $2, stripe_payment_intent_id = NULLIF($3, ''), updated_at = now()
		WHERE stripe_session_id = $1 AND status = 'created'
		RETURNING id, appointment_id, patient_id, stripe_session_id, stripe_payment_intent_id,
		          amount_cents, currency, status, return_token,
		          paid_at, expired_at, refunded_at, created_at, updated_at`,
		sessionID, paidAt, paymentIntentID))
}

func (r *Repository) MarkPaymentExpired(ctx context.Context, tx pgx.Tx, sessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'expired', expired_at = $2, updated_at = now()
		WHERE stripe_session_id = $1 AND status = 'created'`, sessionID, expiredAt)
	return err
}

func (r *Repository) MarkPaymentRefunded(ctx context.Context, tx pgx.Tx, paymentID string, refundedAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded', refunded_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'paid'`, paymentID, refundedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// InsertProviderEvent records an external provider event id. A replay hits
// the unique constraint and returns ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)`,
		evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProviderEvent
		}
		return fmt.Errorf("insert provider event: %w", err)
	}
	return nil
}

type PaymentFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
}

func (r *Repository) ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error) {
	query := selectPayment + ` WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 500"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type Revenue struct {
	Month         string `json:"month"`
	PaidCents     int64  `json:"paidCents"`
	PaidCount     int64  `json:"paidCount"`
	RefundedCents int64  `json:"refundedCents"`
}

// RevenueForMonth totals payments whose paid_at falls in [start, end).
func (r *Repository) RevenueForMonth(ctx context.Context, start, end time.Time) (Revenue, error) {
	var rev Revenue
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents) FILTER (WHERE status = 'paid'), 0),
		       COALESCE(COUNT(*) FILTER (WHERE status = 'paid'), 0),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status = 'refunded'), 0)
		FROM payments
		WHERE paid_at >= $1 AND paid_at < $2`, start, end).
		Scan(&rev.PaidCents, &rev.PaidCount, &rev.RefundedCents)
	return rev, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var sessionID, intentID, returnToken *string
	err := row.Scan(
		&p.ID, &p.AppointmentID, &p.PatientID, &sessionID, &intentID,
		&p.AmountCents, &p.Currency, &p.Status, &returnToken,
		&p.PaidAt, &p.ExpiredAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	if sessionID != nil {
		p.StripeSessionID = *sessionID
	}
	if intentID != nil {
		p.StripePaymentIntentID = *intentID
	}
	if returnToken != nil {
		p.ReturnToken = *returnToken
	}
	return p, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
