//go:build !protogen

package directory

import "context"

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

// Provider fetches doctor schedules from the directory service over gRPC.
// The generated client is gated behind the protogen build tag; without it
// the provider is absent and callers fall back to the local projection.
type Provider interface {
	GetDoctorSchedule(ctx context.Context, doctorID, date string) (Schedule, error)
}

func NewProvider(_ string) (Provider, error) {
	return nil, nil
}
