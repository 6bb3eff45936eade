package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSenderPostsMessage(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "secret-token")
	if err := s.Send(context.Background(), "+15551234567", "see you tomorrow"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if auth != "Bearer secret-token" {
		t.Fatalf("auth header = %q", auth)
	}
	if got["to"] != "+15551234567" || got["body"] != "see you tomorrow" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	if err := s.Send(context.Background(), "+15551234567", "hi"); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestWebhookSenderUnconfigured(t *testing.T) {
	s := NewWebhookSender("", "")
	if err := s.Send(context.Background(), "+15551234567", "hi"); err == nil {
		t.Fatal("expected error when url is empty")
	}
}
