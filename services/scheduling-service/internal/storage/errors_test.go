package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsConflict(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !IsConflict(unique) {
		t.Fatal("unique violation must map to conflict")
	}
	if !IsConflict(fmt.Errorf("insert: %w", unique)) {
		t.Fatal("wrapped unique violation must map to conflict")
	}
	if !IsConflict(&pgconn.PgError{Code: "23P01"}) {
		t.Fatal("exclusion violation must map to conflict")
	}
	if IsConflict(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a slot conflict")
	}
	if IsConflict(errors.New("boom")) {
		t.Fatal("plain errors are not conflicts")
	}
}

func TestIdempotencyRecordReplays(t *testing.T) {
	// A key row inserted by a concurrent booking that committed first
	// carries the appointment id even though this attempt created no row
	// itself, so replay hinges on the id alone.
	raced := IdempotencyRecord{PatientID: "p1", IdempotencyKey: "k1", AppointmentID: "a1", StatusCode: 201}
	if !raced.Replays() {
		t.Fatal("finalized record must replay")
	}
	pending := IdempotencyRecord{PatientID: "p1", IdempotencyKey: "k1"}
	if pending.Replays() {
		t.Fatal("unfinalized record must not replay")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(pgx.ErrNoRows) {
		t.Fatal("pgx.ErrNoRows must map to not found")
	}
	if !IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped ErrNoRows must map to not found")
	}
	if IsNotFound(errors.New("boom")) {
		t.Fatal("plain errors are not not-found")
	}
}
