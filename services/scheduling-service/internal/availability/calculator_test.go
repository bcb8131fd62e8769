package availability

import (
	"reflect"
	"testing"
)

func TestComputeSingleHourFillsUp(t *testing.T) {
	windows := []Window{{Start: "09:00", End: "10:00"}}

	snap := Compute(windows, 15, nil)
	if len(snap.Hours) != 1 {
		t.Fatalf("expected 1 hour bucket, got %d", len(snap.Hours))
	}
	h := snap.Hours[0]
	if h.Hour != 9 || h.Capacity != 4 || h.BookedCount != 0 || h.IsFull {
		t.Fatalf("unexpected bucket: %+v", h)
	}
	if h.LabelFrom != "09:00" || h.LabelTo != "10:00" {
		t.Fatalf("unexpected labels: %+v", h)
	}

	snap = Compute(windows, 15, []string{"09:00", "09:15", "09:30"})
	h = snap.Hours[0]
	if h.BookedCount != 3 || h.IsFull {
		t.Fatalf("expected booked=3 not full, got %+v", h)
	}

	snap = Compute(windows, 15, []string{"09:00", "09:15", "09:30", "09:45"})
	h = snap.Hours[0]
	if h.BookedCount != 4 || !h.IsFull {
		t.Fatalf("expected booked=4 full, got %+v", h)
	}
}

func TestComputeNoWorkingHours(t *testing.T) {
	snap := Compute(nil, 15, nil)
	if len(snap.Hours) != 0 {
		t.Fatalf("expected empty hour list, got %d buckets", len(snap.Hours))
	}
}

func TestComputeClippedWindow(t *testing.T) {
	// Window starts mid-hour: hour 9 has only 30 clipped minutes.
	windows := []Window{{Start: "09:30", End: "11:00"}}

	snap := Compute(windows, 15, nil)
	if len(snap.Hours) != 2 {
		t.Fatalf("expected 2 buckets, got %+v", snap.Hours)
	}
	first := snap.Hours[0]
	if first.Hour != 9 || first.Capacity != 2 {
		t.Fatalf("clipped capacity must come from clipped minutes: %+v", first)
	}
	if first.LabelFrom != "09:30" || first.LabelTo != "10:00" {
		t.Fatalf("labels must clip to the window: %+v", first)
	}
	full := snap.Hours[1]
	if full.Hour != 10 || full.Capacity != 4 || full.LabelFrom != "10:00" || full.LabelTo != "11:00" {
		t.Fatalf("unexpected full-hour bucket: %+v", full)
	}
}

func TestComputeBookedSumMatchesAppointments(t *testing.T) {
	windows := []Window{{Start: "09:00", End: "12:00"}}
	booked := []string{"09:00", "09:30", "10:15", "11:45"}

	snap := Compute(windows, 15, booked)
	sum := 0
	for _, h := range snap.Hours {
		sum += h.BookedCount
		if h.IsFull != (h.BookedCount == h.Capacity) {
			t.Fatalf("isFull invariant broken: %+v", h)
		}
	}
	if sum != len(booked) {
		t.Fatalf("sum of booked counts = %d, want %d", sum, len(booked))
	}
}

func TestComputeSplitWindows(t *testing.T) {
	windows := []Window{
		{Start: "09:00", End: "12:00"},
		{Start: "14:00", End: "16:00"},
	}
	snap := Compute(windows, 30, nil)
	var hours []int
	for _, h := range snap.Hours {
		hours = append(hours, h.Hour)
		if h.Capacity != 2 {
			t.Fatalf("expected capacity 2 with 30-minute period, got %+v", h)
		}
	}
	if !reflect.DeepEqual(hours, []int{9, 10, 11, 14, 15}) {
		t.Fatalf("unexpected covered hours: %v", hours)
	}
}

func TestSlotTimes(t *testing.T) {
	windows := []Window{{Start: "09:30", End: "11:00"}}

	if got := SlotTimes(windows, 15, 9); !reflect.DeepEqual(got, []string{"09:30", "09:45"}) {
		t.Fatalf("clipped hour: got %v", got)
	}
	if got := SlotTimes(windows, 15, 10); !reflect.DeepEqual(got, []string{"10:00", "10:15", "10:30", "10:45"}) {
		t.Fatalf("full hour: got %v", got)
	}
	if got := SlotTimes(windows, 15, 12); got != nil {
		t.Fatalf("uncovered hour must have no slots, got %v", got)
	}

	// len(SlotTimes) always equals the hour capacity.
	snap := Compute(windows, 15, nil)
	for _, h := range snap.Hours {
		if n := len(SlotTimes(windows, 15, h.Hour)); n != h.Capacity {
			t.Fatalf("hour %d: %d slot times but capacity %d", h.Hour, n, h.Capacity)
		}
	}
}

func TestHourOf(t *testing.T) {
	if HourOf("09:45") != 9 {
		t.Fatal("expected hour 9")
	}
	if HourOf("9:45") != -1 || HourOf("bogus") != -1 || HourOf("24:00") != -1 {
		t.Fatal("malformed times must return -1")
	}
}
