package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/auth"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/availability"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
)

func fixedCoordinator(now time.Time) *Coordinator {
	return &Coordinator{now: func() time.Time { return now }}
}

func TestRejectPast(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 30, 0, 0, model.Local)
	c := fixedCoordinator(now)

	yesterday := time.Date(2026, 8, 31, 0, 0, 0, 0, model.Local)
	if err := c.rejectPast(yesterday, "09:00"); !IsValidation(err) {
		t.Fatalf("past date must be a validation error, got %v", err)
	}

	today := time.Date(2026, 9, 1, 0, 0, 0, 0, model.Local)
	if err := c.rejectPast(today, "10:15"); !IsValidation(err) {
		t.Fatalf("earlier time today must be rejected, got %v", err)
	}
	if err := c.rejectPast(today, "10:45"); err != nil {
		t.Fatalf("later time today must pass, got %v", err)
	}

	tomorrow := today.AddDate(0, 0, 1)
	if err := c.rejectPast(tomorrow, "00:15"); err != nil {
		t.Fatalf("tomorrow must pass, got %v", err)
	}
}

func TestSlotCandidatesExplicitTime(t *testing.T) {
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, model.Local)
	c := fixedCoordinator(now)
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, model.Local)
	windows := []availability.Window{{Start: "09:00", End: "10:00"}}

	got, err := c.slotCandidates(windows, 15, BookRequest{Time: "09:15"}, day)
	if err != nil || len(got) != 1 || got[0] != "09:15" {
		t.Fatalf("expected single candidate 09:15, got %v err %v", got, err)
	}

	// Aligned but outside the window: no slot exists to reserve.
	if _, err := c.slotCandidates(windows, 15, BookRequest{Time: "11:00"}, day); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("out-of-window time must conflict, got %v", err)
	}
	// Misaligned time inside the window.
	if _, err := c.slotCandidates(windows, 15, BookRequest{Time: "09:10"}, day); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("misaligned time must conflict, got %v", err)
	}
	// No working hours that day at all.
	if _, err := c.slotCandidates(nil, 15, BookRequest{Time: "09:15"}, day); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("day without working hours must conflict, got %v", err)
	}
}

func TestSlotCandidatesByHour(t *testing.T) {
	now := time.Date(2026, 9, 1, 9, 20, 0, 0, model.Local)
	c := fixedCoordinator(now)
	windows := []availability.Window{{Start: "09:00", End: "11:00"}}
	hour := 9

	// Future date: the full hour in lexicographic order.
	day := time.Date(2026, 9, 2, 0, 0, 0, 0, model.Local)
	got, err := c.slotCandidates(windows, 15, BookRequest{Hour: &hour}, day)
	if err != nil {
		t.Fatalf("slotCandidates: %v", err)
	}
	want := []string{"09:00", "09:15", "09:30", "09:45"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	// Today at 09:20: only slots strictly after now remain.
	today := time.Date(2026, 9, 1, 0, 0, 0, 0, model.Local)
	got, err = c.slotCandidates(windows, 15, BookRequest{Hour: &hour}, today)
	if err != nil {
		t.Fatalf("slotCandidates today: %v", err)
	}
	if len(got) != 2 || got[0] != "09:30" || got[1] != "09:45" {
		t.Fatalf("expected [09:30 09:45], got %v", got)
	}

	// An hour that is entirely elapsed today.
	eight := 8
	if _, err := c.slotCandidates(windows, 15, BookRequest{Hour: &eight}, today); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("elapsed hour must conflict, got %v", err)
	}
}

func TestEnsureStaffScope(t *testing.T) {
	c := fixedCoordinator(time.Now())
	ctx := context.Background()

	if err := c.ensureStaffScope(ctx, &auth.Claims{Role: auth.RoleAdmin}, "doc-1"); err != nil {
		t.Fatalf("admin must pass any scope, got %v", err)
	}
	if err := c.ensureStaffScope(ctx, &auth.Claims{Role: auth.RoleDoctor, DoctorID: "doc-1"}, "doc-1"); err != nil {
		t.Fatalf("doctor must pass own scope, got %v", err)
	}
	if err := c.ensureStaffScope(ctx, &auth.Claims{Role: auth.RoleDoctor, DoctorID: "doc-2"}, "doc-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("doctor must not pass another doctor's scope, got %v", err)
	}
	if err := c.ensureStaffScope(ctx, &auth.Claims{Role: auth.RolePatient, Sub: "pat-1"}, "doc-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient is not staff, got %v", err)
	}
}

func TestParseDateAndClock(t *testing.T) {
	if _, err := parseDate("2026-09-01"); err != nil {
		t.Fatalf("valid date rejected: %v", err)
	}
	for _, bad := range []string{"", "2026-13-01", "01-09-2026", "2026-09-1"} {
		if _, err := parseDate(bad); !IsValidation(err) {
			t.Fatalf("parseDate(%q) must fail validation, got %v", bad, err)
		}
	}
	if _, err := parseClock("09:05"); err != nil {
		t.Fatalf("valid clock rejected: %v", err)
	}
	for _, bad := range []string{"", "9:05", "25:00", "09:61", "0905"} {
		if _, err := parseClock(bad); !IsValidation(err) {
			t.Fatalf("parseClock(%q) must fail validation, got %v", bad, err)
		}
	}
}
