//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/grpcx"
	directoryv1 "github.com/Aquahulk/HealTara-sub003/protos/gen/directory/v1"
)

// Schedule is a doctor's bookable configuration for one date as served by
// the directory service.
type Schedule struct {
	IsWorking     bool
	Windows       []ScheduleWindow
	PeriodMinutes int
}

type ScheduleWindow struct {
	Start string // HH:MM
	End   string // HH:MM
}

type Provider interface {
	GetDoctorSchedule(ctx context.Context, doctorID, date string) (Schedule, error)
}

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

func NewProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) GetDoctorSchedule(ctx context.Context, doctorID, date string) (Schedule, error) {
	resp, err := p.client.GetDoctorSchedule(ctx, &directoryv1.DoctorScheduleRequest{
		DoctorId: doctorID,
		Date:     date,
	})
	if err != nil {
		return Schedule{}, err
	}
	s := Schedule{
		IsWorking:     resp.GetIsWorking(),
		PeriodMinutes: int(resp.GetPeriodMinutes()),
	}
	for _, w := range resp.GetWindows() {
		s.Windows = append(s.Windows, ScheduleWindow{
			Start: w.GetStart(),
			End:   w.GetEnd(),
		})
	}
	return s, nil
}
