package client

import (
	"testing"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
)

func seededCache(t *testing.T) *AvailabilityCache {
	t.Helper()
	c := NewAvailabilityCache(time.Minute)
	seq := c.BeginFetch("doc-1", "2026-09-01")
	ok := c.ApplyFetch("doc-1", "2026-09-01", seq, Combined{
		Slots: []Slot{
			{ID: "a1", Date: "2026-09-01", Time: "10:00", Status: "CONFIRMED"},
		},
		Availability: Availability{
			PeriodMinutes: 15,
			Hours: []HourBucket{
				{Hour: 10, Capacity: 4, BookedCount: 1, LabelFrom: "10:00", LabelTo: "11:00"},
				{Hour: 11, Capacity: 4, BookedCount: 0, LabelFrom: "11:00", LabelTo: "12:00"},
			},
		},
	})
	if !ok {
		t.Fatal("seed fetch not applied")
	}
	return c
}

func TestStaleFetchDiscarded(t *testing.T) {
	c := NewAvailabilityCache(time.Minute)

	first := c.BeginFetch("doc-1", "2026-09-01")
	second := c.BeginFetch("doc-1", "2026-09-01")

	if c.ApplyFetch("doc-1", "2026-09-01", second, Combined{Availability: Availability{PeriodMinutes: 15}}) != true {
		t.Fatal("latest fetch rejected")
	}
	if c.ApplyFetch("doc-1", "2026-09-01", first, Combined{Availability: Availability{PeriodMinutes: 30}}) {
		t.Fatal("stale fetch applied")
	}

	got, ok := c.Get("doc-1", "2026-09-01")
	if !ok || got.Availability.PeriodMinutes != 15 {
		t.Fatalf("cache holds %+v, want latest fetch", got)
	}
}

func TestGetHonorsTTL(t *testing.T) {
	c := seededCache(t)
	if _, ok := c.Get("doc-1", "2026-09-01"); !ok {
		t.Fatal("fresh entry missed")
	}
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, ok := c.Get("doc-1", "2026-09-01"); ok {
		t.Fatal("expired entry served")
	}
}

func TestEventPatchesBucket(t *testing.T) {
	c := seededCache(t)

	// A booking event from another viewer's tab lands in the shared cache.
	c.ApplyEvent(events.Event{
		EventID: "e1",
		Type:    events.TypeAppointmentUpdated,
		ID:      "a2",
		Payload: &events.Payload{
			DoctorID: "doc-1",
			Status:   "PENDING",
			Date:     "2026-09-01",
			Time:     "10:15",
		},
	})

	got, ok := c.Get("doc-1", "2026-09-01")
	if !ok {
		t.Fatal("entry gone")
	}
	if len(got.Slots) != 2 {
		t.Fatalf("slots = %d, want 2", len(got.Slots))
	}
	if got.Availability.Hours[0].BookedCount != 2 {
		t.Fatalf("hour 10 booked = %d, want 2", got.Availability.Hours[0].BookedCount)
	}
	if got.Availability.Hours[0].IsFull {
		t.Fatal("hour 10 should not be full at 2/4")
	}

	// Duplicate delivery of the same appointment must not double count.
	c.ApplyEvent(events.Event{
		EventID: "e2",
		Type:    events.TypeAppointmentUpdated,
		ID:      "a2",
		Payload: &events.Payload{DoctorID: "doc-1", Status: "CONFIRMED", Date: "2026-09-01", Time: "10:15"},
	})
	got, _ = c.Get("doc-1", "2026-09-01")
	if got.Availability.Hours[0].BookedCount != 2 {
		t.Fatalf("booked = %d after duplicate, want 2", got.Availability.Hours[0].BookedCount)
	}
}

func TestRescheduleEventMovesBucket(t *testing.T) {
	c := seededCache(t)

	// The seeded appointment moves from 10:00 to 11:00.
	c.ApplyEvent(events.Event{
		EventID: "e1",
		Type:    events.TypeAppointmentUpdated,
		ID:      "a1",
		Payload: &events.Payload{
			DoctorID: "doc-1",
			Status:   "CONFIRMED",
			Date:     "2026-09-01",
			Time:     "11:00",
		},
	})

	got, ok := c.Get("doc-1", "2026-09-01")
	if !ok {
		t.Fatal("entry gone")
	}
	if got.Availability.Hours[0].BookedCount != 0 {
		t.Fatalf("hour 10 booked = %d, want 0", got.Availability.Hours[0].BookedCount)
	}
	if got.Availability.Hours[1].BookedCount != 1 {
		t.Fatalf("hour 11 booked = %d, want 1", got.Availability.Hours[1].BookedCount)
	}
	if got.Slots[0].Time != "11:00" {
		t.Fatalf("slot time = %q, want 11:00", got.Slots[0].Time)
	}

	// A status flip at the new time moves no counts.
	c.ApplyEvent(events.Event{
		EventID: "e2",
		Type:    events.TypeAppointmentUpdated,
		ID:      "a1",
		Payload: &events.Payload{DoctorID: "doc-1", Status: "COMPLETED", Date: "2026-09-01", Time: "11:00"},
	})
	got, _ = c.Get("doc-1", "2026-09-01")
	if got.Availability.Hours[1].BookedCount != 1 {
		t.Fatalf("hour 11 booked = %d after status flip, want 1", got.Availability.Hours[1].BookedCount)
	}
	if got.Slots[0].Status != "COMPLETED" {
		t.Fatalf("slot status = %q, want COMPLETED", got.Slots[0].Status)
	}
}

func TestRescheduleEventAcrossDates(t *testing.T) {
	c := seededCache(t)
	seq := c.BeginFetch("doc-1", "2026-09-02")
	if !c.ApplyFetch("doc-1", "2026-09-02", seq, Combined{
		Availability: Availability{
			PeriodMinutes: 15,
			Hours:         []HourBucket{{Hour: 9, Capacity: 4, LabelFrom: "09:00", LabelTo: "10:00"}},
		},
	}) {
		t.Fatal("second day fetch not applied")
	}

	c.ApplyEvent(events.Event{
		EventID: "e1",
		Type:    events.TypeAppointmentUpdated,
		ID:      "a1",
		Payload: &events.Payload{
			DoctorID: "doc-1",
			Status:   "CONFIRMED",
			Date:     "2026-09-02",
			Time:     "09:00",
		},
	})

	old, _ := c.Get("doc-1", "2026-09-01")
	if len(old.Slots) != 0 {
		t.Fatalf("old day slots = %d, want 0", len(old.Slots))
	}
	if old.Availability.Hours[0].BookedCount != 0 {
		t.Fatalf("old day hour 10 booked = %d, want 0", old.Availability.Hours[0].BookedCount)
	}

	moved, _ := c.Get("doc-1", "2026-09-02")
	if len(moved.Slots) != 1 || moved.Slots[0].Time != "09:00" {
		t.Fatalf("new day slots = %+v, want a1 at 09:00", moved.Slots)
	}
	if moved.Availability.Hours[0].BookedCount != 1 {
		t.Fatalf("new day hour 9 booked = %d, want 1", moved.Availability.Hours[0].BookedCount)
	}
}

func TestEventFillsBucket(t *testing.T) {
	c := seededCache(t)
	for i, clock := range []string{"10:15", "10:30", "10:45"} {
		c.ApplyEvent(events.Event{
			Type:    events.TypeAppointmentUpdated,
			ID:      "x" + string(rune('a'+i)),
			Payload: &events.Payload{DoctorID: "doc-1", Status: "PENDING", Date: "2026-09-01", Time: clock},
		})
	}
	got, _ := c.Get("doc-1", "2026-09-01")
	if got.Availability.Hours[0].BookedCount != 4 || !got.Availability.Hours[0].IsFull {
		t.Fatalf("hour 10 = %+v, want full 4/4", got.Availability.Hours[0])
	}
}

func TestCancelEventReleasesBucket(t *testing.T) {
	c := seededCache(t)

	c.ApplyEvent(events.Event{
		EventID: "e1",
		Type:    events.TypeAppointmentCancelled,
		ID:      "a1",
	})

	got, ok := c.Get("doc-1", "2026-09-01")
	if !ok {
		t.Fatal("entry gone")
	}
	if len(got.Slots) != 0 {
		t.Fatalf("slots = %d, want 0", len(got.Slots))
	}
	if got.Availability.Hours[0].BookedCount != 0 {
		t.Fatalf("hour 10 booked = %d, want 0", got.Availability.Hours[0].BookedCount)
	}

	// Cancelling an unknown appointment is a no-op.
	c.ApplyEvent(events.Event{Type: events.TypeAppointmentCancelled, ID: "ghost"})
	if got, _ := c.Get("doc-1", "2026-09-01"); got.Availability.Hours[0].BookedCount != 0 {
		t.Fatal("ghost cancel changed counts")
	}
}

func TestInvalidateKeepsSequence(t *testing.T) {
	c := seededCache(t)

	seq := c.BeginFetch("doc-1", "2026-09-01")
	c.Invalidate("doc-1", "2026-09-01")

	if _, ok := c.Get("doc-1", "2026-09-01"); ok {
		t.Fatal("invalidated entry served")
	}
	if !c.ApplyFetch("doc-1", "2026-09-01", seq, Combined{Availability: Availability{PeriodMinutes: 15}}) {
		t.Fatal("in-flight fetch rejected after invalidate")
	}
}
