package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/db"
	"github.com/SamuelAtedla/heartcare/libs/kafkax"
)

// Intake turns reminder request events into persisted jobs.
type Intake struct {
	pool        *db.Pool
	repo        *Repository
	logger      *slog.Logger
	maxAttempts int
}

func NewIntake(pool *db.Pool, repo *Repository, logger *slog.Logger, maxAttempts int) *Intake {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Intake{pool: pool, repo: repo, logger: logger, maxAttempts: maxAttempts}
}

type reminderRequestedEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	PatientPhone  string `json:"patient_phone"`
	DoctorID      string `json:"doctor_id"`
	ScheduledAt   string `json:"scheduled_at"`
	FireAt        string `json:"fire_at"`
	OffsetMinutes int    `json:"offset_minutes"`
}

// HandleReminderRequested stores one job per channel: email always, SMS when
// a phone number is on file. The job key makes redeliveries and repeated
// confirmations collapse into one reminder.
func (i *Intake) HandleReminderRequested(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt reminderRequestedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" || evt.PatientEmail == "" {
		return fmt.Errorf("%s missing appointment_id or patient_email", meta.EventType)
	}
	scheduledAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
	if err != nil {
		return fmt.Errorf("decode scheduled_at: %w", err)
	}
	fireAt, err := time.Parse(time.RFC3339, evt.FireAt)
	if err != nil {
		return fmt.Errorf("decode fire_at: %w", err)
	}

	templateData := map[string]any{
		"patient_name": evt.PatientName,
		"doctor_id":    evt.DoctorID,
	}

	type target struct {
		channel   string
		recipient string
	}
	targets := []target{{"email", evt.PatientEmail}}
	if evt.PatientPhone != "" {
		targets = append(targets, target{"sms", evt.PatientPhone})
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range targets {
		job := Job{
			IdempotencyKey: evt.AppointmentID + ":" + strconv.Itoa(evt.OffsetMinutes) + ":" + t.channel,
			AppointmentID:  evt.AppointmentID,
			PatientID:      evt.PatientID,
			Channel:        t.channel,
			Recipient:      t.recipient,
			ScheduledAt:    scheduledAt,
			FireAt:         fireAt,
			TemplateData:   templateData,
			MaxAttempts:    i.maxAttempts,
		}
		if err := i.repo.Insert(ctx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

type appointmentCancelledEvent struct {
	AppointmentID string `json:"appointment_id"`
}

// HandleAppointmentCancelled drops pending reminders for a cancelled
// appointment so patients are not reminded about visits that no longer exist.
func (i *Intake) HandleAppointmentCancelled(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt appointmentCancelledEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" {
		return nil
	}

	tx, err := i.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := i.repo.CancelForAppointment(ctx, tx, evt.AppointmentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
