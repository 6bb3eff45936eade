package slots

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig reports a window whose slot duration is not positive.
var ErrInvalidConfig = errors.New("invalid slot configuration")

// Window is a doctor's recurring availability for one weekday. Start and end
// are wall-clock minutes from local midnight in the clinic timezone.
type Window struct {
	DoctorID    string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	SlotMinutes int
	Active      bool
}

type AvailabilityLoader interface {
	WindowFor(ctx context.Context, doctorID string, weekday time.Weekday) (Window, bool, error)
}

// BookingLoader reports the start instants of confirmed appointments only.
// Pending and cancelled appointments never block a slot.
type BookingLoader interface {
	ConfirmedStarts(ctx context.Context, doctorID string, dayStart, dayEnd time.Time) ([]time.Time, error)
}

// Calculator computes bookable slot starts for a doctor and local calendar
// day. It is stateless and safe for concurrent use.
type Calculator struct {
	avail    AvailabilityLoader
	bookings BookingLoader
	loc      *time.Location
}

func NewCalculator(avail AvailabilityLoader, bookings BookingLoader, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{avail: avail, bookings: bookings, loc: loc}
}

func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Generate returns the candidate slot starts for one local day and window,
// ascending. Candidates start at day+StartMinute and advance by SlotMinutes;
// a trailing slot that would run past day+EndMinute is dropped.
func (c *Calculator) Generate(day time.Time, w Window) ([]time.Time, error) {
	if w.SlotMinutes <= 0 {
		return nil, ErrInvalidConfig
	}
	if !w.Active || w.StartMinute >= w.EndMinute {
		return nil, nil
	}

	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	winStart := midnight.Add(time.Duration(w.StartMinute) * time.Minute)
	winEnd := midnight.Add(time.Duration(w.EndMinute) * time.Minute)
	step := time.Duration(w.SlotMinutes) * time.Minute

	var out []time.Time
	for t := winStart; !t.Add(step).After(winEnd); t = t.Add(step) {
		out = append(out, t)
	}
	return out, nil
}

// AvailableSlots runs the full lookup: weekday window fetch, candidate
// generation, and removal of candidates already taken by a confirmed
// appointment. A missing or inactive window yields an empty result, not
// an error. Exclusion is exact instant equality (time.Time.Equal), so
// UTC-stored bookings compare correctly against local candidates.
func (c *Calculator) AvailableSlots(ctx context.Context, doctorID string, day time.Time) ([]time.Time, error) {
	w, ok, err := c.avail.WindowFor(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load availability window: %w", err)
	}
	if !ok || !w.Active {
		return nil, nil
	}

	candidates, err := c.Generate(day, w)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.loc)
	booked, err := c.bookings.ConfirmedStarts(ctx, doctorID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load confirmed bookings: %w", err)
	}

	return ExcludeBooked(candidates, booked), nil
}

// ExcludeBooked drops candidates whose start exactly equals a booked instant.
func ExcludeBooked(candidates []time.Time, booked []time.Time) []time.Time {
	if len(booked) == 0 {
		return candidates
	}
	out := make([]time.Time, 0, len(candidates))
	for _, cand := range candidates {
		taken := false
		for _, b := range booked {
			if cand.Equal(b) {
				taken = true
				break
			}
		}
		if !taken {
			out = append(out, cand)
		}
	}
	return out
}

// Interval is a half-open [Start, End) blackout, such as doctor time off.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ExcludeBlocked drops candidates whose slot overlaps any blackout interval.
func ExcludeBlocked(candidates []time.Time, slot time.Duration, blocks []Interval) []time.Time {
	if len(blocks) == 0 || slot <= 0 {
		return candidates
	}
	out := make([]time.Time, 0, len(candidates))
	for _, cand := range candidates {
		end := cand.Add(slot)
		blocked := false
		for _, b := range blocks {
			if cand.Before(b.End) && b.Start.Before(end) {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, cand)
		}
	}
	return out
}
