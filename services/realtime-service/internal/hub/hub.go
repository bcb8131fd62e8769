package hub

import (
	"context"
	"errors"
	"strings"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
)

var ErrBadRoom = errors.New("unknown room")

// Hub is the subscription front for the realtime transports. Both the
// websocket and the SSE handler go through it so room validation and the
// subscriber gauge live in one place.
type Hub struct {
	bus events.Bus
}

func New(bus events.Bus) *Hub {
	return &Hub{bus: bus}
}

// ValidRoom accepts only the room shapes the scheduling service publishes
// to. Anything else would subscribe to dead channels forever.
func ValidRoom(room string) bool {
	if strings.HasPrefix(room, "room:doctor:") {
		return len(room) > len("room:doctor:")
	}
	if strings.HasPrefix(room, "room:hospital:") {
		return len(room) > len("room:hospital:")
	}
	return false
}

// Subscribe joins a room until ctx is cancelled. The returned release
// function must be called when the consumer goes away.
func (h *Hub) Subscribe(ctx context.Context, room string) (<-chan events.Event, func(), error) {
	if !ValidRoom(room) {
		return nil, nil, ErrBadRoom
	}
	ch, err := h.bus.Subscribe(ctx, room)
	if err != nil {
		return nil, nil, err
	}
	metrics.RealtimeSubscribers.Inc()
	return ch, func() { metrics.RealtimeSubscribers.Dec() }, nil
}
