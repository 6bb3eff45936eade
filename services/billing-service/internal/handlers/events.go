package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	striperefund "github.com/stripe/stripe-go/v79/refund"

	"github.com/SamuelAtedla/heartcare/libs/kafkax"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/storage"
)

type appointmentRequestedEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	PatientEmail  string `json:"patient_email"`
	ScheduledAt   string `json:"scheduled_at"`
	FeeCents      int64  `json:"fee_cents"`
}

// HandleAppointmentRequested caches the appointment so checkout can price it
// without trusting the client.
func (h *Handler) HandleAppointmentRequested(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt appointmentRequestedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" {
		return fmt.Errorf("%s without appointment_id", meta.EventType)
	}
	scheduledAt, err := time.Parse(time.RFC3339, evt.ScheduledAt)
	if err != nil {
		return fmt.Errorf("decode scheduled_at: %w", err)
	}

	return h.repo.UpsertAppointment(ctx, storage.CachedAppointment{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		DoctorID:      evt.DoctorID,
		PatientEmail:  evt.PatientEmail,
		ScheduledAt:   scheduledAt,
		FeeCents:      evt.FeeCents,
	})
}

type refundRequestedEvent struct {
	AppointmentID string `json:"appointment_id"`
	PaymentID     string `json:"payment_id"`
	Reason        string `json:"reason"`
}

// HandleRefundRequested refunds the paid payment for an appointment. The
// Stripe call happens before the local transition; a crash in between is
// healed by the next delivery finding the payment already refunded upstream
// and the local row still paid.
func (h *Handler) HandleRefundRequested(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt refundRequestedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" {
		return fmt.Errorf("%s without appointment_id", meta.EventType)
	}

	payment, err := h.repo.LatestPaymentForAppointment(ctx, evt.AppointmentID)
	if storage.IsNotFound(err) {
		h.logger.Info("refund requested but no payment on record", "appointment_id", evt.AppointmentID)
		return nil
	}
	if err != nil {
		return err
	}
	if payment.Status != storage.PaymentPaid {
		h.logger.Info("refund requested for non-paid payment, skipping",
			"appointment_id", evt.AppointmentID, "status", payment.Status)
		return nil
	}

	if h.stripeSecretKey != "" && payment.StripePaymentIntentID != "" {
		stripe.Key = h.stripeSecretKey
		params := &stripe.RefundParams{
			PaymentIntent: stripe.String(payment.StripePaymentIntentID),
		}
		params.IdempotencyKey = stripe.String("refund:" + payment.ID)
		if _, err := striperefund.New(params); err != nil {
			return fmt.Errorf("stripe refund: %w", err)
		}
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.repo.MarkPaymentRefunded(ctx, tx, payment.ID, time.Now().UTC()); err != nil {
		if err == pgx.ErrNoRows {
			return tx.Commit(ctx)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	h.logger.Info("payment refunded",
		"payment_id", payment.ID, "appointment_id", evt.AppointmentID, "reason", evt.Reason)
	return nil
}
