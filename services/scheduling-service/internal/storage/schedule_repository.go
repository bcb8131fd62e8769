package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Aquahulk/HealTara-sub003/libs/db"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
)

// ScheduleRepository reads and maintains the local projection of doctor
// schedules: working hours, slot periods and hospital-doctor links. Rows are
// upserted from directory events; reads are authoritative for availability.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// WorkingHoursForDay returns the doctor's open windows for one day of week
// (0 = Sunday). An empty result means the doctor does not work that day.
func (r *ScheduleRepository) WorkingHoursForDay(ctx context.Context, doctorID string, dayOfWeek int) ([]model.WorkingHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, day_of_week,
			to_char(start_time, 'HH24:MI'),
			to_char(end_time, 'HH24:MI')
		FROM working_hours
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hours []model.WorkingHours
	for rows.Next() {
		var wh model.WorkingHours
		if err := rows.Scan(&wh.DoctorID, &wh.DayOfWeek, &wh.StartTime, &wh.EndTime); err != nil {
			return nil, err
		}
		hours = append(hours, wh)
	}
	return hours, rows.Err()
}

// SlotPeriodMinutes resolves the booking granularity for a doctor. A
// hospital-scoped row wins over the doctor-wide row; absent both, the
// platform default applies.
func (r *ScheduleRepository) SlotPeriodMinutes(ctx context.Context, doctorID, hospitalID string) (int, error) {
	var minutes int
	err := r.pool.QueryRow(ctx, `
		SELECT minutes
		FROM slot_periods
		WHERE doctor_id = $1
			AND (hospital_id = $2 OR hospital_id IS NULL)
		ORDER BY hospital_id NULLS LAST
		LIMIT 1
	`, doctorID, nullIfEmpty(hospitalID)).Scan(&minutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultSlotPeriodMinutes, nil
	}
	if err != nil {
		return 0, err
	}
	if minutes <= 0 {
		return model.DefaultSlotPeriodMinutes, nil
	}
	return minutes, nil
}

// ReplaceWorkingHours swaps a doctor's full weekly schedule inside tx. The
// directory event carries the complete set, so replace is the natural shape.
func (r *ScheduleRepository) ReplaceWorkingHours(ctx context.Context, tx pgx.Tx, doctorID string, hours []model.WorkingHours) error {
	if _, err := tx.Exec(ctx, `DELETE FROM working_hours WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	for _, wh := range hours {
		_, err := tx.Exec(ctx, `
			INSERT INTO working_hours (doctor_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3::time, $4::time)
			ON CONFLICT (doctor_id, day_of_week) DO UPDATE
			SET start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time
		`, doctorID, wh.DayOfWeek, wh.StartTime, wh.EndTime)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ScheduleRepository) UpsertSlotPeriod(ctx context.Context, tx pgx.Tx, sp model.SlotPeriod) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO slot_periods (doctor_id, hospital_id, minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, COALESCE(hospital_id, '')) DO UPDATE
		SET minutes = EXCLUDED.minutes
	`, sp.DoctorID, nullIfEmpty(sp.HospitalID), sp.Minutes)
	return err
}

func (r *ScheduleRepository) UpsertHospitalDoctor(ctx context.Context, tx pgx.Tx, hospitalID, doctorID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO hospital_doctors (hospital_id, doctor_id)
		VALUES ($1, $2)
		ON CONFLICT (hospital_id, doctor_id) DO NOTHING
	`, hospitalID, doctorID)
	return err
}

// HospitalsForDoctor lists the hospitals a doctor is linked to, used to fan
// events out to hospital dashboard rooms.
func (r *ScheduleRepository) HospitalsForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT hospital_id FROM hospital_doctors WHERE doctor_id = $1
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hospitals []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hospitals = append(hospitals, h)
	}
	return hospitals, rows.Err()
}

// DoctorInHospital bounds hospital-admin mutations to doctors linked to
// their hospital.
func (r *ScheduleRepository) DoctorInHospital(ctx context.Context, doctorID, hospitalID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM hospital_doctors
			WHERE hospital_id = $1 AND doctor_id = $2
		)
	`, hospitalID, doctorID).Scan(&exists)
	return exists, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
