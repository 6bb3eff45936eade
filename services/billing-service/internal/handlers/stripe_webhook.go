package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/storage"
)

// StripeWebhook handles Stripe webhooks. There is no JWT on this path; the
// signature verification is the auth.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Replayed Stripe events are acknowledged without reprocessing.
	err = h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		intentID := ""
		if session.PaymentIntent != nil {
			intentID = session.PaymentIntent.ID
		}
		if err := h.applyPaid(r.Context(), tx, session.ID, occurredAt, intentID); err != nil {
			http.Error(w, "failed to apply payment", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		_ = h.repo.MarkPaymentExpired(r.Context(), tx, session.ID, occurredAt)
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type localWebhookRequest struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"` // payment.succeeded | payment.expired
	SessionID  string `json:"session_id"`
	OccurredAt string `json:"occurred_at"`
}

// LocalWebhook is the dev stand-in for Stripe: same transitions, no
// signature. It must never be exposed through the gateway in production.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req localWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.EventID = strings.TrimSpace(req.EventID)
	req.Type = strings.TrimSpace(req.Type)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.EventID == "" || req.Type == "" || req.SessionID == "" {
		http.Error(w, "event_id, type and session_id are required", http.StatusBadRequest)
		return
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			http.Error(w, "invalid occurred_at", http.StatusBadRequest)
			return
		}
		occurredAt = t
	}

	payloadRaw, _ := json.Marshal(req)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	err = h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "local",
		ProviderEventID: req.EventID,
		EventType:       req.Type,
		Payload:         payloadRaw,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch req.Type {
	case "payment.succeeded":
		if err := h.applyPaid(r.Context(), tx, req.SessionID, occurredAt, ""); err != nil {
			http.Error(w, "failed to apply payment", http.StatusInternalServerError)
			return
		}
	case "payment.expired":
		_ = h.repo.MarkPaymentExpired(r.Context(), tx, req.SessionID, occurredAt)
	default:
		http.Error(w, "unsupported type", http.StatusBadRequest)
		return
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// applyPaid marks the session's payment paid and stages the payment-succeeded
// event that drives appointment confirmation. A session already past the
// created state is left untouched.
func (h *Handler) applyPaid(ctx context.Context, tx pgx.Tx, sessionID string, paidAt time.Time, paymentIntentID string) error {
	payment, err := h.repo.MarkPaymentPaid(ctx, tx, sessionID, paidAt, paymentIntentID)
	if errors.Is(err, pgx.ErrNoRows) {
		h.logger.Info("payment already settled or unknown session", "session_id", sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"appointment_id": payment.AppointmentID,
		"payment_id":     payment.ID,
		"patient_id":     payment.PatientID,
		"amount_cents":   payment.AmountCents,
		"currency":       payment.Currency,
		"paid_at":        paidAt.Format(time.RFC3339),
	})
	return h.outboxRepo.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   payment.AppointmentID,
		EventType:     EventPaymentSucceeded,
		Payload:       payload,
	})
}
