//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/SamuelAtedla/heartcare/libs/db"
	clinicv1 "github.com/SamuelAtedla/heartcare/protos/gen/clinic/v1"
	"github.com/SamuelAtedla/heartcare/services/clinic-service/internal/storage"
)

type server struct {
	clinicv1.UnimplementedClinicServiceServer
	pool *db.Pool
	repo *storage.Repository
}

func Register(grpcServer *grpc.Server, pool *db.Pool, repo *storage.Repository) {
	clinicv1.RegisterClinicServiceServer(grpcServer, &server{pool: pool, repo: repo})
}

func (s *server) GetClinicSettings(ctx context.Context, _ *clinicv1.ClinicSettingsRequest) (*clinicv1.ClinicSettingsResponse, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	offsets := make([]int32, 0, len(settings.ReminderOffsetsMinutes))
	for _, v := range settings.ReminderOffsetsMinutes {
		if v > 0 {
			offsets = append(offsets, int32(v))
		}
	}
	tz := settings.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &clinicv1.ClinicSettingsResponse{
		Name:                   settings.Name,
		Timezone:               tz,
		ReminderOffsetsMinutes: offsets,
	}, nil
}

func (s *server) GetDayAvailability(ctx context.Context, req *clinicv1.DayAvailabilityRequest) (*clinicv1.DayAvailabilityResponse, error) {
	resp := &clinicv1.DayAvailabilityResponse{
		DoctorId: req.GetDoctorId(),
		Timezone: "UTC",
	}
	if req.GetDoctorId() == "" || req.GetDate() == "" {
		return resp, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err == nil && settings.Timezone != "" {
		resp.Timezone = settings.Timezone
	}
	loc, err := time.LoadLocation(resp.Timezone)
	if err != nil {
		loc = time.UTC
		resp.Timezone = "UTC"
	}

	dayLocal, err := time.ParseInLocation("2006-01-02", req.GetDate(), loc)
	if err != nil {
		return resp, nil
	}

	profile, err := s.repo.GetProfile(ctx, req.GetDoctorId())
	if err == nil {
		resp.ConsultationFeeCents = profile.ConsultationFeeCents
		if !profile.Active {
			return resp, nil
		}
	}

	window, found, err := s.repo.GetAvailability(ctx, req.GetDoctorId(), int(dayLocal.Weekday()))
	if err != nil {
		return nil, err
	}
	// Absent or inactive weekday means no bookable slots, not an error.
	if !found || !window.Active {
		return resp, nil
	}

	resp.IsActive = true
	resp.StartMinute = int32(window.StartMinute)
	resp.EndMinute = int32(window.EndMinute)
	resp.SlotMinutes = int32(window.SlotMinutes)

	dayStart := time.Date(dayLocal.Year(), dayLocal.Month(), dayLocal.Day(), 0, 0, 0, 0, loc)
	blocks, err := s.repo.ListTimeOff(ctx, req.GetDoctorId(), dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC(), 500)
	if err != nil {
		// A time-off read failure degrades to the raw window.
		return resp, nil
	}
	for _, b := range blocks {
		resp.Blocks = append(resp.Blocks, &clinicv1.TimeOffBlock{
			StartUtc: b.StartTime.UTC().Format(time.RFC3339),
			EndUtc:   b.EndTime.UTC().Format(time.RFC3339),
		})
	}
	return resp, nil
}
