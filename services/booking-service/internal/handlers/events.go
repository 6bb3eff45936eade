package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/SamuelAtedla/heartcare/libs/kafkax"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/model"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/storage"
)

type paymentSucceededEvent struct {
	AppointmentID string `json:"appointment_id"`
	PaymentID     string `json:"payment_id"`
	AmountCents   int64  `json:"amount_cents"`
}

// HandlePaymentSucceeded confirms a pending appointment once billing reports
// payment. Two payments can race for the same slot when both appointments
// were created pending; the partial unique index on confirmed rows picks the
// winner, and the loser is cancelled with a refund request.
func (h *BookingHandler) HandlePaymentSucceeded(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt paymentSucceededEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" {
		return fmt.Errorf("%s without appointment_id", meta.EventType)
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, evt.AppointmentID)
	if storage.IsNotFound(err) {
		h.logger.Warn("payment for unknown appointment", "appointment_id", evt.AppointmentID)
		return nil
	}
	if err != nil {
		return err
	}
	if appt.Status != model.StatusPending {
		// Already confirmed, cancelled, or completed; redelivered or stale.
		return tx.Commit(ctx)
	}

	confirmedAt, err := h.repo.Confirm(ctx, tx, appt.ID)
	if storage.IsConflict(err) {
		return h.cancelLoser(ctx, appt, evt)
	}
	if err != nil {
		return err
	}
	appt.Status = model.StatusConfirmed
	appt.ConfirmedAt = &confirmedAt

	confirmed, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"patient_name":   appt.PatientName,
		"patient_email":  appt.PatientEmail,
		"patient_phone":  appt.PatientPhone,
		"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
		"fee_cents":      appt.FeeCents,
		"payment_id":     evt.PaymentID,
	})
	err = h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     EventAppointmentConfirmed,
		Payload:       confirmed,
	})
	if err != nil {
		return err
	}

	if err := h.enqueueReminders(ctx, tx, appt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	h.logger.Info("appointment confirmed", "appointment_id", appt.ID)
	return nil
}

// cancelLoser handles the losing side of a double-booked slot in a fresh
// transaction; the confirming transaction aborted on the index violation.
func (h *BookingHandler) cancelLoser(ctx context.Context, appt model.Appointment, evt paymentSucceededEvent) error {
	const reason = "slot was confirmed for another patient"

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cancelledAt, err := h.repo.Cancel(ctx, tx, appt.ID, reason)
	if err != nil {
		return err
	}

	cancelled, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"patient_email":  appt.PatientEmail,
		"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
		"reason":         reason,
		"was_confirmed":  false,
	})
	err = h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     EventAppointmentCancelled,
		Payload:       cancelled,
	})
	if err != nil {
		return err
	}

	refund, _ := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"payment_id":     evt.PaymentID,
		"amount_cents":   evt.AmountCents,
		"reason":         reason,
	})
	err = h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     EventRefundRequested,
		Payload:       refund,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	h.logger.Warn("double-booked slot, appointment cancelled",
		"appointment_id", appt.ID, "cancelled_at", cancelledAt)
	return nil
}

// enqueueReminders stages one reminder request per configured offset,
// skipping offsets whose fire time is already in the past.
func (h *BookingHandler) enqueueReminders(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	now := time.Now()
	for _, offset := range h.reminderOffsets {
		fireAt := appt.ScheduledAt.Add(-time.Duration(offset) * time.Minute)
		if fireAt.Before(now) {
			continue
		}
		payload, _ := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"patient_id":     appt.PatientID,
			"patient_name":   appt.PatientName,
			"patient_email":  appt.PatientEmail,
			"patient_phone":  appt.PatientPhone,
			"doctor_id":      appt.DoctorID,
			"scheduled_at":   appt.ScheduledAt.Format(time.RFC3339),
			"fire_at":        fireAt.Format(time.RFC3339),
			"offset_minutes": offset,
		})
		err := h.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     EventReminderRequested,
			Payload:       payload,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
