package model

import "time"

// Appointment statuses. CANCELLED is reachable from any non-terminal state
// and is terminal; cancelled rows are never deleted.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Local is the single clinic timezone. The platform does not do
// multi-timezone booking; every date and HH:MM in the system is IST.
var Local = time.FixedZone("IST", 5*3600+30*60)

type Appointment struct {
	ID          string
	DoctorID    string
	PatientID   string
	Date        string // DateLayout
	Time        string // TimeLayout
	Status      string
	Reason      string
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// WorkingHours is one recurring weekly open window. A doctor has at most one
// row per day of week.
type WorkingHours struct {
	DoctorID  string
	DayOfWeek int    // 0 = Sunday .. 6 = Saturday
	StartTime string // TimeLayout
	EndTime   string // TimeLayout
}

// SlotPeriod is the doctor-configured booking granularity in minutes. A
// hospital-scoped row overrides the doctor-wide default.
type SlotPeriod struct {
	DoctorID   string
	HospitalID string // empty for the doctor-wide row
	Minutes    int
}

const DefaultSlotPeriodMinutes = 15

// CanTransition reports whether an appointment may move from one status to
// another. Transitions are monotonic except cancellation.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func Terminal(status string) bool {
	return status == StatusCancelled || status == StatusCompleted
}
