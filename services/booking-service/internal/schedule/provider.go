package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/SamuelAtedla/heartcare/libs/config"
)

// DayConfig is the clinic's answer for one doctor and local calendar day:
// the weekday window in wall-clock minutes, the clinic timezone, the fee to
// snapshot onto new appointments, and any time-off blackouts for that day.
type DayConfig struct {
	Active      bool
	StartMinute int
	EndMinute   int
	SlotMinutes int
	Timezone    string
	FeeCents    int64
	Blocks      []Block
}

// Block is a half-open [Start, End) blackout in UTC.
type Block struct {
	Start time.Time
	End   time.Time
}

func (c DayConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Provider resolves the day schedule for a doctor. date is "2006-01-02" in
// the clinic's local calendar.
type Provider interface {
	DayConfig(ctx context.Context, doctorID, date string) (DayConfig, error)
}

// staticProvider serves a single clinic-wide schedule from the environment.
// It stands in when no clinic service endpoint is configured.
type staticProvider struct {
	timezone    string
	startMinute int
	endMinute   int
	slotMinutes int
	feeCents    int64
	weekdays    map[time.Weekday]bool
}

func NewStaticProviderFromEnv() Provider {
	p := &staticProvider{
		timezone:    config.String("CLINIC_TIMEZONE", "UTC"),
		startMinute: config.Int("CLINIC_DAY_START_MINUTE", 540),
		endMinute:   config.Int("CLINIC_DAY_END_MINUTE", 1020),
		slotMinutes: config.Int("CLINIC_SLOT_MINUTES", 30),
		feeCents:    int64(config.Int("CLINIC_FEE_CENTS", 5000)),
		weekdays:    map[time.Weekday]bool{},
	}
	for _, d := range config.List("CLINIC_OPEN_WEEKDAYS", "1,2,3,4,5") {
		var wd int
		if _, err := fmt.Sscanf(d, "%d", &wd); err == nil && wd >= 0 && wd <= 6 {
			p.weekdays[time.Weekday(wd)] = true
		}
	}
	return p
}

func (p *staticProvider) DayConfig(ctx context.Context, doctorID, date string) (DayConfig, error) {
	cfg := DayConfig{
		StartMinute: p.startMinute,
		EndMinute:   p.endMinute,
		SlotMinutes: p.slotMinutes,
		Timezone:    p.timezone,
		FeeCents:    p.feeCents,
	}
	day, err := time.ParseInLocation("2006-01-02", date, cfg.Location())
	if err != nil {
		return DayConfig{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	cfg.Active = p.weekdays[day.Weekday()]
	return cfg, nil
}
