package hub

import (
	"context"
	"testing"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
)

func TestValidRoom(t *testing.T) {
	cases := map[string]bool{
		"room:doctor:doc-1":    true,
		"room:hospital:hosp-9": true,
		"room:doctor:":         false,
		"room:hospital:":       false,
		"doctor:doc-1":         false,
		"":                     false,
		"room:admin:x":         false,
	}
	for room, want := range cases {
		if got := ValidRoom(room); got != want {
			t.Fatalf("ValidRoom(%q) = %v, want %v", room, got, want)
		}
	}
}

func TestSubscribeRejectsBadRoom(t *testing.T) {
	h := New(events.NewLocalBus())
	if _, _, err := h.Subscribe(context.Background(), "room:doctor:"); err != ErrBadRoom {
		t.Fatalf("err = %v, want ErrBadRoom", err)
	}
}

func TestSubscribeDelivers(t *testing.T) {
	bus := events.NewLocalBus()
	h := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, release, err := h.Subscribe(ctx, "room:doctor:doc-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer release()

	evt := events.Event{Type: events.TypeAppointmentUpdated, ID: "appt-1"}
	if err := bus.Publish(ctx, "room:doctor:doc-1", evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != "appt-1" {
			t.Fatalf("got event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
