package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Aquahulk/HealTara-sub003/libs/db"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
)

// AppointmentRepository owns appointment rows and is the slot allocator.
// At most one non-cancelled row may exist per (doctor_id, date, time_slot),
// enforced by the partial unique index
//
//	appointments_slot_key ON appointments (doctor_id, date, time_slot)
//	WHERE status <> 'CANCELLED'
//
// so of two concurrent writers for the same key exactly one commits and the
// other observes a deterministic 23505, surfaced through IsConflict. The
// appointment row itself is the reservation; releasing a slot is a status
// flip to CANCELLED, which the index ignores.
type AppointmentRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	PatientID       string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// Replays reports whether the record already points at a committed
// appointment. The key row may have been inserted by a concurrent
// attempt that finished while this one waited for the row lock, so
// callers must not gate replay on whether they saw the row first.
func (r IdempotencyRecord) Replays() bool {
	return r.AppointmentID != ""
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Reserve inserts the appointment in PENDING, claiming its slot. The caller
// must map IsConflict errors to a SlotConflict.
func (r *AppointmentRepository) Reserve(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, date, time_slot, status, reason)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING id
	`, appt.DoctorID, appt.PatientID, appt.Date, appt.Time, model.StatusPending, appt.Reason).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Move points an existing appointment at a new (date, time) key. The slot
// index fires on conflict, rolling the whole transaction back, which is what
// makes reschedule atomic: the old key stays held and the row unchanged.
func (r *AppointmentRepository) Move(ctx context.Context, tx pgx.Tx, id, newDate, newTime string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET date = $2::date, time_slot = $3::time
		WHERE id = $1
	`, id, newDate, newTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) SetStatus(ctx context.Context, tx pgx.Tx, id, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Cancel releases the slot. Only the one row changes; every other key is
// untouched.
func (r *AppointmentRepository) Cancel(ctx context.Context, tx pgx.Tx, id string) (time.Time, error) {
	var cancelledAt time.Time
	err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, cancelled_at = now()
		WHERE id = $1
		RETURNING cancelled_at
	`, id, model.StatusCancelled).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *AppointmentRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, selectAppointment+`WHERE id = $1 FOR UPDATE`, id))
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, selectAppointment+`WHERE id = $1`, id))
}

// ListByDoctorDate returns the non-cancelled appointments for one doctor and
// date, ordered by time. This feeds both the combined availability response
// and the booked counts of the calculator.
func (r *AppointmentRepository) ListByDoctorDate(ctx context.Context, doctorID, date string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, selectAppointment+`
		WHERE doctor_id = $1
			AND date = $2::date
			AND status <> $3
		ORDER BY time_slot
	`, doctorID, date, model.StatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// TakenTimesInHour returns the held HH:MM keys inside one clock hour, used
// to pick the earliest free candidate. Racing writers that slip between this
// read and the insert are still caught by the slot index.
func (r *AppointmentRepository) TakenTimesInHour(ctx context.Context, tx pgx.Tx, doctorID, date string, hour int) (map[string]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT to_char(time_slot, 'HH24:MI')
		FROM appointments
		WHERE doctor_id = $1
			AND date = $2::date
			AND status <> $3
			AND extract(hour FROM time_slot) = $4
	`, doctorID, date, model.StatusCancelled, hour)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		taken[t] = true
	}
	return taken, rows.Err()
}

func (r *AppointmentRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, patientID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, patientID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (patient_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (patient_id, idempotency_key) DO NOTHING
	`, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, patientID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *AppointmentRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, patientID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key, nullIfEmpty(appointmentID), statusCode, response)
	return err
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 23505 unique violation (slot index), 23P01 exclusion violation.
	return pgErr.Code == "23505" || pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const selectAppointment = `
	SELECT id, doctor_id, patient_id,
		to_char(date, 'YYYY-MM-DD'),
		to_char(time_slot, 'HH24:MI'),
		status, COALESCE(reason, ''), created_at, cancelled_at
	FROM appointments
`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.DoctorID,
		&appt.PatientID,
		&appt.Date,
		&appt.Time,
		&appt.Status,
		&appt.Reason,
		&appt.CreatedAt,
		&cancelledAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func (r *AppointmentRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, patientID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT patient_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE patient_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, patientID, key).Scan(
		&rec.PatientID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
