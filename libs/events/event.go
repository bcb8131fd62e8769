package events

// Event types pushed to room subscribers. Updated/cancelled are emitted
// after commit; the optimistic variant is a pre-commit hint that clients
// may render but must never treat as authoritative.
const (
	TypeAppointmentUpdated           = "appointment-updated"
	TypeAppointmentUpdatedOptimistic = "appointment-updated-optimistic"
	TypeAppointmentCancelled         = "appointment-cancelled"
)

// Payload carries the fields that changed. Cancellation events carry the
// appointment id only.
type Payload struct {
	DoctorID string `json:"doctor_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
}

// Event is the envelope published to a room. Events are advisory: a viewer
// that misses one self-heals on its next availability fetch.
type Event struct {
	EventID string   `json:"event_id"`
	Type    string   `json:"type"`
	ID      string   `json:"id"`
	Payload *Payload `json:"payload,omitempty"`
}

// DoctorRoom is the fan-out scope for viewers watching a single doctor.
func DoctorRoom(doctorID string) string { return "room:doctor:" + doctorID }

// HospitalRoom is the fan-out scope for a hospital staff dashboard.
func HospitalRoom(hospitalID string) string { return "room:hospital:" + hospitalID }
