package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/db"
)

// Daily is one clinic-local day of aggregated activity.
type Daily struct {
	Day                   string `json:"day"`
	AppointmentsRequested int64  `json:"appointmentsRequested"`
	AppointmentsConfirmed int64  `json:"appointmentsConfirmed"`
	AppointmentsCancelled int64  `json:"appointmentsCancelled"`
	RevenueCents          int64  `json:"revenueCents"`
	RemindersEmail        int64  `json:"remindersEmail"`
	RemindersSMS          int64  `json:"remindersSms"`
}

// Delta is the increment one event contributes to its day.
type Delta struct {
	Requested      int64
	Confirmed      int64
	Cancelled      int64
	RevenueCents   int64
	RemindersEmail int64
	RemindersSMS   int64
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Apply folds one event's delta into the day row. The upsert makes event
// order irrelevant.
func (r *Repository) Apply(ctx context.Context, day time.Time, d Delta) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_metrics (day, appointments_requested, appointments_confirmed, appointments_cancelled, revenue_cents, reminders_email, reminders_sms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (day) DO UPDATE SET
			appointments_requested = daily_metrics.appointments_requested + EXCLUDED.appointments_requested,
			appointments_confirmed = daily_metrics.appointments_confirmed + EXCLUDED.appointments_confirmed,
			appointments_cancelled = daily_metrics.appointments_cancelled + EXCLUDED.appointments_cancelled,
			revenue_cents = daily_metrics.revenue_cents + EXCLUDED.revenue_cents,
			reminders_email = daily_metrics.reminders_email + EXCLUDED.reminders_email,
			reminders_sms = daily_metrics.reminders_sms + EXCLUDED.reminders_sms,
			updated_at = now()`,
		day, d.Requested, d.Confirmed, d.Cancelled, d.RevenueCents, d.RemindersEmail, d.RemindersSMS)
	if err != nil {
		return fmt.Errorf("apply daily metric: %w", err)
	}
	return nil
}

// Range lists days in [from, to] inclusive, ascending.
func (r *Repository) Range(ctx context.Context, from, to time.Time) ([]Daily, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day, appointments_requested, appointments_confirmed, appointments_cancelled, revenue_cents, reminders_email, reminders_sms
		FROM daily_metrics
		WHERE day >= $1 AND day <= $2
		ORDER BY day`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []Daily
	for rows.Next() {
		var d Daily
		var day time.Time
		if err := rows.Scan(&day, &d.AppointmentsRequested, &d.AppointmentsConfirmed, &d.AppointmentsCancelled, &d.RevenueCents, &d.RemindersEmail, &d.RemindersSMS); err != nil {
			return nil, err
		}
		d.Day = day.Format("2006-01-02")
		out = append(out, d)
	}
	return out, rows.Err()
}
