package slots

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAvailability struct {
	windows map[time.Weekday]Window
	err     error
}

func (f *fakeAvailability) WindowFor(_ context.Context, _ string, wd time.Weekday) (Window, bool, error) {
	if f.err != nil {
		return Window{}, false, f.err
	}
	w, ok := f.windows[wd]
	return w, ok, nil
}

type fakeBookings struct {
	starts []time.Time
	err    error
}

func (f *fakeBookings) ConfirmedStarts(_ context.Context, _ string, _, _ time.Time) ([]time.Time, error) {
	return f.starts, f.err
}

func window(wd time.Weekday, start, end, slot int) Window {
	return Window{DoctorID: "doc-1", Weekday: wd, StartMinute: start, EndMinute: end, SlotMinutes: slot, Active: true}
}

func calcFor(t *testing.T, avail *fakeAvailability, bookings *fakeBookings) *Calculator {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return NewCalculator(avail, bookings, loc)
}

func localDay(t *testing.T, c *Calculator, date string) time.Time {
	t.Helper()
	day, err := time.ParseInLocation("2006-01-02", date, c.Location())
	if err != nil {
		t.Fatalf("parse %s: %v", date, err)
	}
	return day
}

func TestGenerateFullWorkday(t *testing.T) {
	c := calcFor(t, &fakeAvailability{}, &fakeBookings{})
	day := localDay(t, c, "2026-01-12")

	// 09:00-17:00 with 30-minute slots.
	got, err := c.Generate(day, window(time.Monday, 540, 1020, 30))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(got))
	}
	if got[0].Hour() != 9 || got[0].Minute() != 0 {
		t.Fatalf("first slot = %v, want 09:00", got[0])
	}
	last := got[len(got)-1]
	if last.Hour() != 16 || last.Minute() != 30 {
		t.Fatalf("last slot = %v, want 16:30", last)
	}
}

func TestGenerateDropsTrailingPartialSlot(t *testing.T) {
	c := calcFor(t, &fakeAvailability{}, &fakeBookings{})
	day := localDay(t, c, "2026-01-12")

	// 09:00-10:20: a third slot would run past the window end.
	got, err := c.Generate(day, window(time.Monday, 540, 620, 30))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if got[0].Hour() != 9 || got[0].Minute() != 0 || got[1].Hour() != 9 || got[1].Minute() != 30 {
		t.Fatalf("unexpected slots: %v", got)
	}
}

func TestGenerateInvalidDuration(t *testing.T) {
	c := calcFor(t, &fakeAvailability{}, &fakeBookings{})
	day := localDay(t, c, "2026-01-12")

	for _, slot := range []int{0, -15} {
		if _, err := c.Generate(day, window(time.Monday, 540, 1020, slot)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("slot=%d: expected ErrInvalidConfig, got %v", slot, err)
		}
	}
}

func TestGenerateDegenerateWindow(t *testing.T) {
	c := calcFor(t, &fakeAvailability{}, &fakeBookings{})
	day := localDay(t, c, "2026-01-12")

	got, err := c.Generate(day, window(time.Monday, 600, 600, 30))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("start == end should yield no slots, got %v", got)
	}

	got, err = c.Generate(day, window(time.Monday, 700, 600, 30))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("start > end should yield no slots, got %v", got)
	}
}

func TestGenerateInactiveWindow(t *testing.T) {
	c := calcFor(t, &fakeAvailability{}, &fakeBookings{})
	day := localDay(t, c, "2026-01-12")

	w := window(time.Monday, 540, 1020, 30)
	w.Active = false
	got, err := c.Generate(day, w)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("inactive window should yield no slots, got %v", got)
	}
}

func TestAvailableSlotsExcludesConfirmed(t *testing.T) {
	avail := &fakeAvailability{windows: map[time.Weekday]Window{
		// 2026-01-12 is a Monday. 10:00-12:00 with 30-minute slots.
		time.Monday: window(time.Monday, 600, 720, 30),
	}}
	bookings := &fakeBookings{}
	c := calcFor(t, avail, bookings)
	day := localDay(t, c, "2026-01-12")

	// Booked 10:30, stored as UTC. Exact instant equality must still match.
	booked := time.Date(2026, 1, 12, 10, 30, 0, 0, c.Location())
	bookings.starts = []time.Time{booked.UTC()}

	got, err := c.AvailableSlots(context.Background(), "doc-1", day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	want := []string{"10:00", "11:00", "11:30"}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %v", len(want), got)
	}
	for i, s := range got {
		if s.Format("15:04") != want[i] {
			t.Fatalf("slot %d = %s, want %s", i, s.Format("15:04"), want[i])
		}
	}
	for _, s := range got {
		if s.Hour() == 12 {
			t.Fatalf("12:00 must never appear in a 10:00-12:00 window: %v", got)
		}
	}
}

func TestAvailableSlotsFullyBooked(t *testing.T) {
	avail := &fakeAvailability{windows: map[time.Weekday]Window{
		time.Monday: window(time.Monday, 600, 720, 30),
	}}
	bookings := &fakeBookings{}
	c := calcFor(t, avail, bookings)
	day := localDay(t, c, "2026-01-12")

	for m := 600; m < 720; m += 30 {
		bookings.starts = append(bookings.starts,
			time.Date(2026, 1, 12, m/60, m%60, 0, 0, c.Location()))
	}

	got, err := c.AvailableSlots(context.Background(), "doc-1", day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("fully booked day should be empty, got %v", got)
	}
}

func TestAvailableSlotsOffDay(t *testing.T) {
	avail := &fakeAvailability{windows: map[time.Weekday]Window{
		time.Monday: window(time.Monday, 540, 1020, 30),
	}}
	c := calcFor(t, avail, &fakeBookings{})

	// 2026-01-11 is a Sunday with no window configured.
	got, err := c.AvailableSlots(context.Background(), "doc-1", localDay(t, c, "2026-01-11"))
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("day without a window should be empty, got %v", got)
	}
}

func TestAvailableSlotsInactiveDay(t *testing.T) {
	w := window(time.Monday, 540, 1020, 30)
	w.Active = false
	avail := &fakeAvailability{windows: map[time.Weekday]Window{time.Monday: w}}
	c := calcFor(t, avail, &fakeBookings{})

	got, err := c.AvailableSlots(context.Background(), "doc-1", localDay(t, c, "2026-01-12"))
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("inactive day should be empty, got %v", got)
	}
}

func TestAvailableSlotsOrderedAndIdempotent(t *testing.T) {
	avail := &fakeAvailability{windows: map[time.Weekday]Window{
		time.Monday: window(time.Monday, 540, 1020, 30),
	}}
	bookings := &fakeBookings{}
	c := calcFor(t, avail, bookings)
	day := localDay(t, c, "2026-01-12")
	bookings.starts = []time.Time{
		time.Date(2026, 1, 12, 11, 0, 0, 0, c.Location()),
		time.Date(2026, 1, 12, 9, 30, 0, 0, c.Location()),
	}

	first, err := c.AvailableSlots(context.Background(), "doc-1", day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	for i := 1; i < len(first); i++ {
		if !first[i-1].Before(first[i]) {
			t.Fatalf("slots not strictly ascending at %d: %v", i, first)
		}
	}

	// Candidates are a subset of the raw grid.
	grid, err := c.Generate(day, avail.windows[time.Monday])
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, s := range first {
		found := false
		for _, g := range grid {
			if s.Equal(g) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("slot %v not in candidate grid", s)
		}
	}

	second, err := c.AvailableSlots(context.Background(), "doc-1", day)
	if err != nil {
		t.Fatalf("available slots: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("repeated call changed result: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("repeated call changed slot %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestAvailableSlotsLoaderErrors(t *testing.T) {
	boom := errors.New("db down")

	c := calcFor(t, &fakeAvailability{err: boom}, &fakeBookings{})
	if _, err := c.AvailableSlots(context.Background(), "doc-1", localDay(t, c, "2026-01-12")); !errors.Is(err, boom) {
		t.Fatalf("expected availability error to propagate, got %v", err)
	}

	avail := &fakeAvailability{windows: map[time.Weekday]Window{
		time.Monday: window(time.Monday, 540, 1020, 30),
	}}
	c = calcFor(t, avail, &fakeBookings{err: boom})
	if _, err := c.AvailableSlots(context.Background(), "doc-1", localDay(t, c, "2026-01-12")); !errors.Is(err, boom) {
		t.Fatalf("expected booking error to propagate, got %v", err)
	}
}

func TestExcludeBlocked(t *testing.T) {
	loc := time.UTC
	cands := []time.Time{
		time.Date(2026, 1, 12, 9, 0, 0, 0, loc),
		time.Date(2026, 1, 12, 9, 30, 0, 0, loc),
		time.Date(2026, 1, 12, 10, 0, 0, 0, loc),
	}
	blocks := []Interval{{
		Start: time.Date(2026, 1, 12, 9, 15, 0, 0, loc),
		End:   time.Date(2026, 1, 12, 9, 45, 0, 0, loc),
	}}

	got := ExcludeBlocked(cands, 30*time.Minute, blocks)
	if len(got) != 1 || got[0].Hour() != 10 {
		t.Fatalf("expected only 10:00 to survive, got %v", got)
	}
}
