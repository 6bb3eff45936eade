package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SamuelAtedla/heartcare/services/booking-service/internal/schedule"
)

type fakeSchedule struct {
	cfg schedule.DayConfig
	err error
}

func (f *fakeSchedule) DayConfig(_ context.Context, _, _ string) (schedule.DayConfig, error) {
	return f.cfg, f.err
}

type fakeConfirmed struct {
	starts []time.Time
}

func (f *fakeConfirmed) ConfirmedStarts(_ context.Context, _ string, _, _ time.Time) ([]time.Time, error) {
	return f.starts, nil
}

func newSlotsHandler(provider schedule.Provider, confirmed *fakeConfirmed) *BookingHandler {
	return &BookingHandler{
		schedule: provider,
		bookings: confirmed,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSlotsMissingDoctorID(t *testing.T) {
	h := newSlotsHandler(&fakeSchedule{}, &fakeConfirmed{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?date=2026-01-12", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSlotsMalformedDate(t *testing.T) {
	h := newSlotsHandler(&fakeSchedule{}, &fakeConfirmed{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=12-01-2026", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSlotsResponseShape(t *testing.T) {
	provider := &fakeSchedule{cfg: schedule.DayConfig{
		Active:      true,
		StartMinute: 600,
		EndMinute:   720,
		SlotMinutes: 30,
		Timezone:    "UTC",
	}}
	confirmed := &fakeConfirmed{starts: []time.Time{
		time.Date(2026, 1, 12, 10, 30, 0, 0, time.UTC),
	}}
	h := newSlotsHandler(provider, confirmed)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=2026-01-12", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Date           string   `json:"date"`
		AvailableSlots []string `json:"availableSlots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Date != "2026-01-12" {
		t.Fatalf("date = %q, want echoed 2026-01-12", resp.Date)
	}
	want := []string{"2026-01-12T10:00:00Z", "2026-01-12T11:00:00Z", "2026-01-12T11:30:00Z"}
	if len(resp.AvailableSlots) != len(want) {
		t.Fatalf("slots = %v, want %v", resp.AvailableSlots, want)
	}
	for i := range want {
		if resp.AvailableSlots[i] != want[i] {
			t.Fatalf("slot %d = %s, want %s", i, resp.AvailableSlots[i], want[i])
		}
	}
}

func TestSlotsInactiveDayIsEmptyArray(t *testing.T) {
	provider := &fakeSchedule{cfg: schedule.DayConfig{
		StartMinute: 540,
		EndMinute:   1020,
		SlotMinutes: 30,
		Timezone:    "UTC",
	}}
	h := newSlotsHandler(provider, &fakeConfirmed{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=2026-01-11", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	var resp map[string]any
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	arr, ok := resp["availableSlots"].([]any)
	if !ok {
		t.Fatalf("availableSlots must be an array, got %s", body)
	}
	if len(arr) != 0 {
		t.Fatalf("inactive day should be empty, got %v", arr)
	}
}

func TestSlotsTimeOffFiltering(t *testing.T) {
	provider := &fakeSchedule{cfg: schedule.DayConfig{
		Active:      true,
		StartMinute: 600,
		EndMinute:   720,
		SlotMinutes: 30,
		Timezone:    "UTC",
		Blocks: []schedule.Block{{
			Start: time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC),
		}},
	}}
	h := newSlotsHandler(provider, &fakeConfirmed{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=2026-01-12", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	var resp struct {
		AvailableSlots []string `json:"availableSlots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := []string{"2026-01-12T11:00:00Z", "2026-01-12T11:30:00Z"}
	if len(resp.AvailableSlots) != len(want) {
		t.Fatalf("slots = %v, want %v", resp.AvailableSlots, want)
	}
}

func TestSlotsScheduleFailure(t *testing.T) {
	h := newSlotsHandler(&fakeSchedule{err: context.DeadlineExceeded}, &fakeConfirmed{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=2026-01-12", nil)
	rec := httptest.NewRecorder()
	h.Slots(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
