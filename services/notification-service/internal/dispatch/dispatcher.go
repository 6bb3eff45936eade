package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/kafkax"
	"github.com/SamuelAtedla/heartcare/services/notification-service/internal/email"
	"github.com/SamuelAtedla/heartcare/services/notification-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/notification-service/internal/sms"
	"github.com/SamuelAtedla/heartcare/services/notification-service/internal/storage"
)

const EventNotificationSent = "notification.sent.v1"

// Dispatcher sends notifications and records every attempt, success or not.
type Dispatcher struct {
	repo   *storage.Repository
	outbox *outbox.Repository
	email  email.Sender
	sms    sms.Sender
	logger *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, emailSender email.Sender, smsSender sms.Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		outbox: outboxRepo,
		email:  emailSender,
		sms:    smsSender,
		logger: logger,
	}
}

type reminderDueEvent struct {
	AppointmentID string         `json:"appointment_id"`
	PatientID     string         `json:"patient_id"`
	Channel       string         `json:"channel"`
	Recipient     string         `json:"recipient"`
	ScheduledAt   string         `json:"scheduled_at"`
	TemplateData  map[string]any `json:"template_data"`
}

// HandleReminderDue delivers one reminder over the channel the scheduler
// chose for it.
func (d *Dispatcher) HandleReminderDue(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt reminderDueEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" || evt.Recipient == "" {
		return fmt.Errorf("%s missing appointment_id or recipient", meta.EventType)
	}

	when := evt.ScheduledAt
	if t, err := time.Parse(time.RFC3339, evt.ScheduledAt); err == nil {
		when = t.UTC().Format("Mon, 2 Jan 2006 15:04 MST")
	}
	name, _ := evt.TemplateData["patient_name"].(string)
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf("Hi %s, this is a reminder for your appointment on %s.", name, when)

	var sendErr error
	switch evt.Channel {
	case "sms":
		sendErr = d.sms.Send(ctx, evt.Recipient, body)
	default:
		sendErr = d.email.Send(evt.Recipient, "Appointment reminder", body)
	}

	return d.record(ctx, storage.Delivery{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		Kind:          "reminder",
		Channel:       evt.Channel,
		Recipient:     evt.Recipient,
		Payload:       map[string]any{"scheduled_at": evt.ScheduledAt},
	}, sendErr)
}

type appointmentConfirmedEvent struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"patient_email"`
	ScheduledAt   string `json:"scheduled_at"`
	FeeCents      int64  `json:"fee_cents"`
}

// HandleAppointmentConfirmed emails a booking confirmation.
func (d *Dispatcher) HandleAppointmentConfirmed(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt appointmentConfirmedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	if evt.AppointmentID == "" || evt.PatientEmail == "" {
		return fmt.Errorf("%s missing appointment_id or patient_email", meta.EventType)
	}

	when := evt.ScheduledAt
	if t, err := time.Parse(time.RFC3339, evt.ScheduledAt); err == nil {
		when = t.UTC().Format("Mon, 2 Jan 2006 15:04 MST")
	}
	name := evt.PatientName
	if name == "" {
		name = "there"
	}
	body := fmt.Sprintf("Hi %s, your appointment on %s is confirmed. We look forward to seeing you.", name, when)

	sendErr := d.email.Send(evt.PatientEmail, "Appointment confirmed", body)

	return d.record(ctx, storage.Delivery{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		Kind:          "confirmation",
		Channel:       "email",
		Recipient:     evt.PatientEmail,
		Payload:       map[string]any{"scheduled_at": evt.ScheduledAt},
	}, sendErr)
}

// record persists the attempt and, on success, stages notification.sent.v1.
// Send failures are recorded and logged but not returned: the scheduler owns
// retries, not Kafka redelivery.
func (d *Dispatcher) record(ctx context.Context, delivery storage.Delivery, sendErr error) error {
	delivery.Status = storage.DeliverySent
	if sendErr != nil {
		delivery.Status = storage.DeliveryFailed
		delivery.Error = sendErr.Error()
		d.logger.Error("notification delivery failed",
			"appointment_id", delivery.AppointmentID, "channel", delivery.Channel, "err", sendErr)
	}

	tx, err := d.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := d.repo.Insert(ctx, tx, delivery); err != nil {
		return err
	}

	if sendErr == nil {
		payload, _ := json.Marshal(map[string]any{
			"appointment_id": delivery.AppointmentID,
			"patient_id":     delivery.PatientID,
			"kind":           delivery.Kind,
			"channel":        delivery.Channel,
			"recipient":      delivery.Recipient,
			"sent_at":        time.Now().UTC().Format(time.RFC3339),
		})
		err = d.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "notification",
			AggregateID:   delivery.AppointmentID,
			EventType:     EventNotificationSent,
			Payload:       payload,
		})
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
