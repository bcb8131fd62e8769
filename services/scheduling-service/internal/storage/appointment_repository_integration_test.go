package storage

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Aquahulk/HealTara-sub003/libs/db"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
)

// These tests run against a real Postgres because the slot guarantees live in
// the partial unique index, not in Go. Point TEST_DATABASE_URL at a throwaway
// database to enable them.
func testRepo(t *testing.T) (*AppointmentRepository, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
			doctor_id text NOT NULL,
			patient_id text NOT NULL,
			date date NOT NULL,
			time_slot time NOT NULL,
			status text NOT NULL,
			reason text,
			created_at timestamptz NOT NULL DEFAULT now(),
			cancelled_at timestamptz
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS appointments_slot_key
			ON appointments (doctor_id, date, time_slot)
			WHERE status <> 'CANCELLED'`,
		`CREATE TABLE IF NOT EXISTS booking_idempotency_keys (
			patient_id text NOT NULL,
			idempotency_key text NOT NULL,
			appointment_id uuid,
			status_code int,
			response_payload jsonb,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz,
			PRIMARY KEY (patient_id, idempotency_key)
		)`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return NewAppointmentRepository(pool), ctx
}

func reserveCommitted(t *testing.T, ctx context.Context, repo *AppointmentRepository, doctorID, date, clock string) string {
	t.Helper()
	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	id, err := repo.Reserve(ctx, tx, &model.Appointment{
		DoctorID:  doctorID,
		PatientID: "pat-" + uuid.NewString(),
		Date:      date,
		Time:      clock,
	})
	if err != nil {
		_ = tx.Rollback(ctx)
		t.Fatalf("reserve %s: %v", clock, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return id
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	repo, ctx := testRepo(t)
	doctorID := "doc-" + uuid.NewString()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := repo.Begin(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			_, err = repo.Reserve(ctx, tx, &model.Appointment{
				DoctorID:  doctorID,
				PatientID: "pat-" + uuid.NewString(),
				Date:      "2026-09-01",
				Time:      "10:00",
			})
			if err != nil {
				_ = tx.Rollback(ctx)
				errs[i] = err
				return
			}
			errs[i] = tx.Commit(ctx)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case IsConflict(err):
		default:
			t.Fatalf("writer %d failed with %v, want nil or conflict", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	appts, err := repo.ListByDoctorDate(ctx, doctorID, "2026-09-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("committed rows = %d, want 1", len(appts))
	}
}

func TestRescheduleConflictRollsBack(t *testing.T) {
	repo, ctx := testRepo(t)
	doctorID := "doc-" + uuid.NewString()

	reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:00")
	moving := reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:15")

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.Move(ctx, tx, moving, "2026-09-01", "10:00"); !IsConflict(err) {
		_ = tx.Rollback(ctx)
		t.Fatalf("move onto held slot: %v, want conflict", err)
	}
	_ = tx.Rollback(ctx)

	got, err := repo.Get(ctx, moving)
	if err != nil {
		t.Fatalf("get after rollback: %v", err)
	}
	if got.Time != "10:15" || got.Date != "2026-09-01" {
		t.Fatalf("appointment moved to %s %s despite conflict, want 2026-09-01 10:15", got.Date, got.Time)
	}
}

func TestCancelFreesOnlyItsSlot(t *testing.T) {
	repo, ctx := testRepo(t)
	doctorID := "doc-" + uuid.NewString()

	cancelled := reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:00")
	reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:15")

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := repo.Cancel(ctx, tx, cancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit cancel: %v", err)
	}

	// The freed key is bookable again.
	reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:00")

	// The neighbouring key is still held.
	tx, err = repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = repo.Reserve(ctx, tx, &model.Appointment{
		DoctorID:  doctorID,
		PatientID: "pat-" + uuid.NewString(),
		Date:      "2026-09-01",
		Time:      "10:15",
	})
	_ = tx.Rollback(ctx)
	if !IsConflict(err) {
		t.Fatalf("reserve of held neighbour: %v, want conflict", err)
	}
}

func TestIdempotencyKeyReplaysCommittedBooking(t *testing.T) {
	repo, ctx := testRepo(t)
	doctorID := "doc-" + uuid.NewString()
	patientID := "pat-" + uuid.NewString()
	key := uuid.NewString()

	apptID := reserveCommitted(t, ctx, repo, doctorID, "2026-09-01", "10:00")

	tx, err := repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, _, err := repo.LockIdempotencyKey(ctx, tx, patientID, key); err != nil {
		_ = tx.Rollback(ctx)
		t.Fatalf("lock key: %v", err)
	}
	if err := repo.FinalizeIdempotency(ctx, tx, patientID, key, apptID, 201, []byte(`{}`)); err != nil {
		_ = tx.Rollback(ctx)
		t.Fatalf("finalize: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx, err = repo.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	rec, _, err := repo.LockIdempotencyKey(ctx, tx, patientID, key)
	if err != nil {
		t.Fatalf("relock key: %v", err)
	}
	if !rec.Replays() || rec.AppointmentID != apptID {
		t.Fatalf("record = %+v, want replay of %s", rec, apptID)
	}
}
