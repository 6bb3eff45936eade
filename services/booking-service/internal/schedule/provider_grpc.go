//go:build protogen

package schedule

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/SamuelAtedla/heartcare/libs/grpcx"
	clinicv1 "github.com/SamuelAtedla/heartcare/protos/gen/clinic/v1"
)

type grpcProvider struct {
	conn   *grpc.ClientConn
	client clinicv1.ClinicServiceClient
}

// NewProvider connects to the clinic service when addr is set and falls back
// to the env-configured static schedule otherwise.
func NewProvider(ctx context.Context, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProviderFromEnv(), nil
	}
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{})
	if err != nil {
		return nil, fmt.Errorf("dial clinic service: %w", err)
	}
	return &grpcProvider{conn: conn, client: clinicv1.NewClinicServiceClient(conn)}, nil
}

func (p *grpcProvider) DayConfig(ctx context.Context, doctorID, date string) (DayConfig, error) {
	resp, err := p.client.GetDayAvailability(ctx, &clinicv1.DayAvailabilityRequest{
		DoctorId: doctorID,
		Date:     date,
	})
	if err != nil {
		return DayConfig{}, fmt.Errorf("get day availability: %w", err)
	}

	cfg := DayConfig{
		Active:      resp.GetIsActive(),
		StartMinute: int(resp.GetStartMinute()),
		EndMinute:   int(resp.GetEndMinute()),
		SlotMinutes: int(resp.GetSlotMinutes()),
		Timezone:    resp.GetTimezone(),
		FeeCents:    resp.GetConsultationFeeCents(),
	}
	for _, b := range resp.GetBlocks() {
		start, err := time.Parse(time.RFC3339, b.GetStartUtc())
		if err != nil {
			continue
		}
		end, err := time.Parse(time.RFC3339, b.GetEndUtc())
		if err != nil {
			continue
		}
		cfg.Blocks = append(cfg.Blocks, Block{Start: start, End: end})
	}
	return cfg, nil
}
