package events

import (
	"context"
	"testing"
	"time"
)

func TestLocalBusFanOut(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := DoctorRoom("doc-1")
	a, err := bus.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	b, err := bus.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	other, err := bus.Subscribe(ctx, DoctorRoom("doc-2"))
	if err != nil {
		t.Fatalf("subscribe other: %v", err)
	}

	evt := Event{
		Type: TypeAppointmentUpdated,
		ID:   "appt-1",
		Payload: &Payload{
			DoctorID: "doc-1",
			Status:   "PENDING",
			Date:     "2026-09-01",
			Time:     "09:15",
		},
	}
	if err := bus.Publish(ctx, room, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.ID != "appt-1" || got.Type != TypeAppointmentUpdated {
				t.Fatalf("subscriber %s got wrong event: %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}

	select {
	case got := <-other:
		t.Fatalf("doc-2 subscriber should not receive doc-1 events, got %+v", got)
	default:
	}
}

func TestLocalBusUnsubscribeOnContextCancel(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	room := DoctorRoom("doc-1")
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed after context cancel")
		}
	}
}

func TestLocalBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	room := DoctorRoom("doc-1")
	ch, err := bus.Subscribe(ctx, room)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Nobody drains; publishing past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			_ = bus.Publish(ctx, room, Event{Type: TypeAppointmentCancelled, ID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}
	if len(ch) == 0 {
		t.Fatal("expected buffered events")
	}
}
