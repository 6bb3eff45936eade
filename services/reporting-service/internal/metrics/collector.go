package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/kafkax"
)

// Collector folds the event stream into daily metric rows. Days are bucketed
// in the clinic's timezone so a late-evening booking lands on the day staff
// would expect.
type Collector struct {
	repo   *Repository
	loc    *time.Location
	logger *slog.Logger
}

func NewCollector(repo *Repository, loc *time.Location, logger *slog.Logger) *Collector {
	if loc == nil {
		loc = time.UTC
	}
	return &Collector{repo: repo, loc: loc, logger: logger}
}

type bookingEvent struct {
	AppointmentID string `json:"appointment_id"`
	ScheduledAt   string `json:"scheduled_at"`
}

// HandleBookingEvent counts requested, confirmed, and cancelled appointments
// by event type.
func (c *Collector) HandleBookingEvent(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt bookingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}

	var delta Delta
	switch meta.EventType {
	case "booking.appointment.requested.v1":
		delta.Requested = 1
	case "booking.appointment.confirmed.v1":
		delta.Confirmed = 1
	case "booking.appointment.cancelled.v1":
		delta.Cancelled = 1
	default:
		c.logger.Warn("unhandled booking event type", "event_type", meta.EventType)
		return nil
	}
	return c.repo.Apply(ctx, c.day(time.Now()), delta)
}

type paymentSucceededEvent struct {
	AmountCents int64  `json:"amount_cents"`
	PaidAt      string `json:"paid_at"`
}

func (c *Collector) HandlePaymentSucceeded(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt paymentSucceededEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	at := time.Now()
	if t, err := time.Parse(time.RFC3339, evt.PaidAt); err == nil {
		at = t
	}
	return c.repo.Apply(ctx, c.day(at), Delta{RevenueCents: evt.AmountCents})
}

type notificationSentEvent struct {
	Channel string `json:"channel"`
	SentAt  string `json:"sent_at"`
}

func (c *Collector) HandleNotificationSent(ctx context.Context, meta kafkax.EventMeta, payload []byte) error {
	var evt notificationSentEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", meta.EventType, err)
	}
	at := time.Now()
	if t, err := time.Parse(time.RFC3339, evt.SentAt); err == nil {
		at = t
	}
	delta := Delta{RemindersEmail: 1}
	if evt.Channel == "sms" {
		delta = Delta{RemindersSMS: 1}
	}
	return c.repo.Apply(ctx, c.day(at), delta)
}

// day truncates an instant to clinic-local midnight.
func (c *Collector) day(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
