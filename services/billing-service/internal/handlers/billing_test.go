package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(cfg Config) *Handler {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func TestCheckoutRequiresStripeConfig(t *testing.T) {
	h := newTestHandler(Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"appointment_id":"a1"}`))
	req.Header.Set("X-User-Id", "patient-1")
	rec := httptest.NewRecorder()
	h.Checkout(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without stripe key, got %d", rec.Code)
	}
}

func TestStripeWebhookRequiresSignature(t *testing.T) {
	h := newTestHandler(Config{StripeWebhookSecret: "whsec_test"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Stripe-Signature, got %d", rec.Code)
	}
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	h := newTestHandler(Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without webhook secret, got %d", rec.Code)
	}
}

func TestLocalWebhookValidation(t *testing.T) {
	h := newTestHandler(Config{})

	cases := []string{
		`not json`,
		`{"event_id":"e1"}`,
		`{"event_id":"e1","type":"payment.succeeded"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/local", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.LocalWebhook(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestWithQueryParam(t *testing.T) {
	got := withQueryParam("https://x.test/return", "state", "a b")
	if got != "https://x.test/return?state=a+b" {
		t.Fatalf("unexpected url: %s", got)
	}
	got = withQueryParam("https://x.test/return?ok=1", "state", "tok")
	if got != "https://x.test/return?ok=1&state=tok" {
		t.Fatalf("unexpected url: %s", got)
	}
}
