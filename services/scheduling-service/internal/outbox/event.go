package outbox

// Kafka topics carrying durable appointment events. The topic name equals
// the event type; downstream consumers (analytics, notification pipelines)
// subscribe per topic.
const (
	TopicAppointmentUpdated   = "scheduling.appointment.updated.v1"
	TopicAppointmentCancelled = "scheduling.appointment.cancelled.v1"
)

// Event is the envelope written to the outbox table inside the mutating
// transaction, so a committed appointment change and its event are atomic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
