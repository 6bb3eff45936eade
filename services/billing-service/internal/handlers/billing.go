package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/SamuelAtedla/heartcare/libs/auth"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/outbox"
	"github.com/SamuelAtedla/heartcare/services/billing-service/internal/storage"
)

const (
	EventPaymentSucceeded = "billing.payment.succeeded.v1"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeSecretKey        string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	checkoutSuccessURL     string
	checkoutCancelURL      string
	currency               string
}

type Config struct {
	StripeSecretKey               string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
	Currency                      string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
		currency:               currency,
	}
}

type checkoutRequest struct {
	AppointmentID string `json:"appointment_id"`
	SuccessURL    string `json:"success_url,omitempty"`
	CancelURL     string `json:"cancel_url,omitempty"`
}

// Checkout creates a Stripe Checkout session (mode payment) for a pending
// appointment. The amount is the fee snapshot from the billing cache, never
// a client-supplied number.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	role := r.Header.Get("X-Role")
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return
	}

	appt, err := h.repo.GetAppointment(r.Context(), req.AppointmentID)
	if storage.IsNotFound(err) {
		http.Error(w, "appointment not known to billing yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if role != auth.RoleAdmin && appt.PatientID != userID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if existing, err := h.repo.LatestPaymentForAppointment(r.Context(), req.AppointmentID); err == nil && existing.Status == storage.PaymentPaid {
		http.Error(w, "appointment already paid", http.StatusConflict)
		return
	}

	successURL := strings.TrimSpace(req.SuccessURL)
	if successURL == "" {
		successURL = h.checkoutSuccessURL
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = h.checkoutCancelURL
	}
	if successURL == "" || cancelURL == "" {
		http.Error(w, "success_url and cancel_url are required (or configure default URLs)", http.StatusBadRequest)
		return
	}

	// Protect the public return pages from session-id guessing.
	returnToken := newReturnToken()
	successURL = withQueryParam(successURL, "state", returnToken)
	cancelURL = withQueryParam(cancelURL, "state", returnToken)

	stripe.Key = h.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(appt.AppointmentID),
		CustomerEmail:     stripe.String(appt.PatientEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(h.currency),
					UnitAmount: stripe.Int64(appt.FeeCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Consultation on " + appt.ScheduledAt.UTC().Format("2006-01-02 15:04 MST")),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"appointment_id": appt.AppointmentID,
			"patient_id":     appt.PatientID,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "appointment_id", appt.AppointmentID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	payment := &storage.Payment{
		AppointmentID:   appt.AppointmentID,
		PatientID:       appt.PatientID,
		StripeSessionID: sess.ID,
		AmountCents:     appt.FeeCents,
		Currency:        h.currency,
		Status:          storage.PaymentCreated,
		ReturnToken:     returnToken,
	}
	if err := h.repo.CreatePayment(r.Context(), tx, payment); err != nil {
		http.Error(w, "failed to persist payment", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payment_id": payment.ID,
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

// SessionStatus is public: Stripe redirects the customer back without a JWT,
// and the return page polls this. It exposes non-sensitive state only.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	payment, err := h.repo.GetPaymentBySession(r.Context(), sessionID)
	if storage.IsNotFound(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to load payment", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"session_id": payment.StripeSessionID,
		"status":     payment.Status,
		"updated_at": payment.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if payment.PaidAt != nil {
		resp["paid_at"] = payment.PaidAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// AdminPayments lists payments for back-office review, filtered by status
// and creation date.
func (h *Handler) AdminPayments(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role") != auth.RoleAdmin {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}

	filter := storage.PaymentFilter{Status: strings.TrimSpace(r.URL.Query().Get("status"))}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			http.Error(w, "from must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		filter.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			http.Error(w, "to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		end := t.AddDate(0, 0, 1)
		filter.To = &end
	}

	payments, err := h.repo.ListPayments(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to list payments", http.StatusInternalServerError)
		return
	}
	if payments == nil {
		payments = []storage.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// AdminRevenue reports paid and refunded totals for one month (?month=2026-08).
func (h *Handler) AdminRevenue(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role") != auth.RoleAdmin {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	start, err := time.Parse("2006-01", month)
	if err != nil {
		http.Error(w, "month must be YYYY-MM", http.StatusBadRequest)
		return
	}

	rev, err := h.repo.RevenueForMonth(r.Context(), start, start.AddDate(0, 1, 0))
	if err != nil {
		http.Error(w, "failed to compute revenue", http.StatusInternalServerError)
		return
	}
	rev.Month = month
	writeJSON(w, http.StatusOK, rev)
}

func newReturnToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

func withQueryParam(rawURL string, key string, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
