package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Aquahulk/HealTara-sub003/libs/auth"
	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/availability"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/cache"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/directory"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/outbox"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/storage"
)

// Coordinator is the sole mutation entry point for appointment state. It
// validates against the calculator, commits through the slot index, writes
// the durable outbox event inside the same transaction, and pushes advisory
// events to the realtime bus after commit. A failed broadcast never rolls
// back a committed mutation.
type Coordinator struct {
	appts     *storage.AppointmentRepository
	schedule  *storage.ScheduleRepository
	outbox    *outbox.Repository
	bus       events.Bus
	avail     *cache.AvailabilityCache
	directory directory.Provider
	logger    *slog.Logger
	now       func() time.Time
}

func NewCoordinator(
	appts *storage.AppointmentRepository,
	schedule *storage.ScheduleRepository,
	outboxRepo *outbox.Repository,
	bus events.Bus,
	avail *cache.AvailabilityCache,
	directoryProvider directory.Provider,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		appts:     appts,
		schedule:  schedule,
		outbox:    outboxRepo,
		bus:       bus,
		avail:     avail,
		directory: directoryProvider,
		logger:    logger,
		now:       time.Now,
	}
}

type BookRequest struct {
	DoctorID  string
	PatientID string
	Date      string // YYYY-MM-DD
	// Time is the exact slot. When empty and Hour is set, the earliest free
	// time inside that hour is chosen.
	Time           string
	Hour           *int
	Reason         string
	IdempotencyKey string
}

type SlotView struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Status string `json:"status"`
}

// Combined is the availability response: the raw non-cancelled slots plus
// the derived hour buckets.
type Combined struct {
	Slots        []SlotView            `json:"slots"`
	Availability availability.Snapshot `json:"availability"`
}

// CombinedAvailability returns the serialized combined view for one
// (doctor, date), served from the short-TTL cache when fresh.
func (c *Coordinator) CombinedAvailability(ctx context.Context, doctorID, date string) ([]byte, error) {
	if doctorID == "" {
		return nil, invalid("doctor_id", "required")
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	if data, ok := c.avail.Get(ctx, doctorID, date); ok {
		return data, nil
	}

	windows, period, err := c.resolveSchedule(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	appts, err := c.appts.ListByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	combined := Combined{Slots: []SlotView{}}
	times := make([]string, 0, len(appts))
	for _, a := range appts {
		times = append(times, a.Time)
		combined.Slots = append(combined.Slots, SlotView{ID: a.ID, Date: a.Date, Time: a.Time, Status: a.Status})
	}
	combined.Availability = availability.Compute(windows, period, times)

	data, err := json.Marshal(combined)
	if err != nil {
		return nil, err
	}
	c.avail.Set(ctx, doctorID, date, data)
	return data, nil
}

// Book creates a PENDING appointment on a free slot. Two concurrent calls
// for the same key cannot both succeed: the slot index decides the winner.
func (c *Coordinator) Book(ctx context.Context, caller *auth.Claims, req BookRequest) (model.Appointment, error) {
	if caller == nil {
		return model.Appointment{}, ErrForbidden
	}
	if caller.Role == auth.RolePatient {
		req.PatientID = caller.Sub
	}
	if req.PatientID == "" {
		return model.Appointment{}, invalid("patient_id", "required")
	}
	if req.DoctorID == "" {
		return model.Appointment{}, invalid("doctor_id", "required")
	}
	day, err := parseDate(req.Date)
	if err != nil {
		countBooking("invalid")
		return model.Appointment{}, err
	}
	if req.Time != "" {
		if _, err := parseClock(req.Time); err != nil {
			countBooking("invalid")
			return model.Appointment{}, err
		}
	} else if req.Hour == nil {
		countBooking("invalid")
		return model.Appointment{}, invalid("time", "time or hour required")
	}
	if err := c.rejectPast(day, req.Time); err != nil {
		countBooking("invalid")
		return model.Appointment{}, err
	}

	windows, period, err := c.resolveSchedule(ctx, req.DoctorID, day)
	if err != nil {
		return model.Appointment{}, err
	}
	candidates, err := c.slotCandidates(windows, period, req, day)
	if err != nil {
		countBooking("conflict")
		return model.Appointment{}, err
	}

	tx, err := c.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.IdempotencyKey != "" {
		rec, _, err := c.appts.LockIdempotencyKey(ctx, tx, req.PatientID, req.IdempotencyKey)
		if err != nil {
			return model.Appointment{}, fmt.Errorf("idempotency lock: %w", err)
		}
		if rec.Replays() {
			// The earlier attempt committed, possibly while we were
			// blocked acquiring the key row.
			return c.appts.Get(ctx, rec.AppointmentID)
		}
	}

	appt := model.Appointment{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Status:    model.StatusPending,
		Reason:    req.Reason,
	}
	hour := availability.HourOf(candidates[0])
	taken, err := c.appts.TakenTimesInHour(ctx, tx, req.DoctorID, req.Date, hour)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load taken times: %w", err)
	}
	id, slotTime, err := c.reserveFirstFree(ctx, tx, &appt, candidates, taken)
	if err != nil {
		if err == ErrSlotConflict {
			countBooking("conflict")
		}
		return model.Appointment{}, err
	}
	appt.ID = id
	appt.Time = slotTime
	appt.CreatedAt = c.now()

	if err := c.insertUpdatedEvent(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}
	if req.IdempotencyKey != "" {
		if err := c.appts.FinalizeIdempotency(ctx, tx, req.PatientID, req.IdempotencyKey, id, 201, nil); err != nil {
			return model.Appointment{}, fmt.Errorf("idempotency finalize: %w", err)
		}
	}

	// Early hint for open viewers; advisory only, may describe a commit
	// that ends up failing.
	c.publish(ctx, events.TypeAppointmentUpdatedOptimistic, appt)

	if err := tx.Commit(ctx); err != nil {
		countBooking("error")
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}

	countBooking("created")
	c.publish(ctx, events.TypeAppointmentUpdated, appt)
	c.avail.Invalidate(ctx, appt.DoctorID, appt.Date)
	return appt, nil
}

// UpdateStatus applies a staff status transition. Cancellation requests are
// routed through Cancel so the slot release logic has one home.
func (c *Coordinator) UpdateStatus(ctx context.Context, caller *auth.Claims, apptID, status string) (model.Appointment, error) {
	if status == model.StatusCancelled {
		return c.Cancel(ctx, caller, apptID)
	}
	if status != model.StatusConfirmed && status != model.StatusCompleted {
		return model.Appointment{}, invalid("status", "unknown status "+status)
	}
	if caller == nil || !caller.IsStaff() {
		return model.Appointment{}, ErrForbidden
	}

	tx, err := c.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := c.appts.GetForUpdate(ctx, tx, apptID)
	if err != nil {
		return model.Appointment{}, mapStorageErr(err)
	}
	if err := c.ensureStaffScope(ctx, caller, appt.DoctorID); err != nil {
		return model.Appointment{}, err
	}
	if !model.CanTransition(appt.Status, status) {
		return model.Appointment{}, ErrInvalidTransition
	}

	if err := c.appts.SetStatus(ctx, tx, apptID, status); err != nil {
		return model.Appointment{}, mapStorageErr(err)
	}
	appt.Status = status
	if err := c.insertUpdatedEvent(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}

	c.publish(ctx, events.TypeAppointmentUpdated, appt)
	c.avail.Invalidate(ctx, appt.DoctorID, appt.Date)
	return appt, nil
}

// Reschedule moves an appointment to a new key atomically: the move commits
// only if the new key is free, and on conflict the transaction rolls back
// leaving the original row byte-identical.
func (c *Coordinator) Reschedule(ctx context.Context, caller *auth.Claims, apptID, newDate, newTime string) (model.Appointment, error) {
	if caller == nil || !caller.IsStaff() {
		return model.Appointment{}, ErrForbidden
	}
	day, err := parseDate(newDate)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := parseClock(newTime); err != nil {
		return model.Appointment{}, err
	}
	if err := c.rejectPast(day, newTime); err != nil {
		return model.Appointment{}, err
	}

	tx, err := c.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := c.appts.GetForUpdate(ctx, tx, apptID)
	if err != nil {
		return model.Appointment{}, mapStorageErr(err)
	}
	if err := c.ensureStaffScope(ctx, caller, appt.DoctorID); err != nil {
		return model.Appointment{}, err
	}
	if model.Terminal(appt.Status) {
		return model.Appointment{}, ErrInvalidTransition
	}

	windows, period, err := c.resolveSchedule(ctx, appt.DoctorID, day)
	if err != nil {
		return model.Appointment{}, err
	}
	if !containsTime(availability.SlotTimes(windows, period, availability.HourOf(newTime)), newTime) {
		metrics.ReschedulesTotal.WithLabelValues("conflict").Inc()
		return model.Appointment{}, ErrSlotConflict
	}

	oldDate := appt.Date
	if err := c.appts.Move(ctx, tx, apptID, newDate, newTime); err != nil {
		if storage.IsConflict(err) {
			metrics.ReschedulesTotal.WithLabelValues("conflict").Inc()
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, mapStorageErr(err)
	}
	appt.Date = newDate
	appt.Time = newTime
	if err := c.insertUpdatedEvent(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		metrics.ReschedulesTotal.WithLabelValues("error").Inc()
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}

	metrics.ReschedulesTotal.WithLabelValues("moved").Inc()
	c.publish(ctx, events.TypeAppointmentUpdated, appt)
	c.avail.Invalidate(ctx, appt.DoctorID, oldDate, newDate)
	return appt, nil
}

// Cancel releases the appointment's slot. Patients may cancel their own;
// staff cancel within their scope. Cancelling twice is a no-op.
func (c *Coordinator) Cancel(ctx context.Context, caller *auth.Claims, apptID string) (model.Appointment, error) {
	if caller == nil {
		return model.Appointment{}, ErrForbidden
	}

	tx, err := c.appts.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := c.appts.GetForUpdate(ctx, tx, apptID)
	if err != nil {
		return model.Appointment{}, mapStorageErr(err)
	}
	if caller.Role == auth.RolePatient {
		if appt.PatientID != caller.Sub {
			return model.Appointment{}, ErrForbidden
		}
	} else if err := c.ensureStaffScope(ctx, caller, appt.DoctorID); err != nil {
		return model.Appointment{}, err
	}

	if appt.Status == model.StatusCancelled {
		return appt, nil
	}
	if appt.Status == model.StatusCompleted {
		return model.Appointment{}, ErrInvalidTransition
	}

	cancelledAt, err := c.appts.Cancel(ctx, tx, apptID)
	if err != nil {
		return model.Appointment{}, mapStorageErr(err)
	}
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"date":           appt.Date,
		"time":           appt.Time,
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if err := c.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.TopicAppointmentCancelled,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, fmt.Errorf("outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, fmt.Errorf("commit: %w", err)
	}

	metrics.CancellationsTotal.Inc()
	c.publishCancelled(ctx, appt)
	c.avail.Invalidate(ctx, appt.DoctorID, appt.Date)
	return appt, nil
}

// ListForDoctor is the staff dashboard view of one doctor's day.
func (c *Coordinator) ListForDoctor(ctx context.Context, caller *auth.Claims, doctorID, date string) ([]model.Appointment, error) {
	if caller == nil || !caller.IsStaff() {
		return nil, ErrForbidden
	}
	if err := c.ensureStaffScope(ctx, caller, doctorID); err != nil {
		return nil, err
	}
	if _, err := parseDate(date); err != nil {
		return nil, err
	}
	return c.appts.ListByDoctorDate(ctx, doctorID, date)
}

// resolveSchedule prefers the directory gRPC provider when wired and falls
// back to the local projection.
func (c *Coordinator) resolveSchedule(ctx context.Context, doctorID string, day time.Time) ([]availability.Window, int, error) {
	if c.directory != nil {
		reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		sched, err := c.directory.GetDoctorSchedule(reqCtx, doctorID, day.Format(model.DateLayout))
		if err == nil {
			if !sched.IsWorking {
				return nil, sched.PeriodMinutes, nil
			}
			windows := make([]availability.Window, 0, len(sched.Windows))
			for _, w := range sched.Windows {
				windows = append(windows, availability.Window{Start: w.Start, End: w.End})
			}
			return windows, sched.PeriodMinutes, nil
		}
		c.logger.Warn("directory provider failed; using local projection", "err", err)
	}

	hours, err := c.schedule.WorkingHoursForDay(ctx, doctorID, int(day.Weekday()))
	if err != nil {
		return nil, 0, fmt.Errorf("working hours: %w", err)
	}
	period, err := c.schedule.SlotPeriodMinutes(ctx, doctorID, "")
	if err != nil {
		return nil, 0, fmt.Errorf("slot period: %w", err)
	}
	windows := make([]availability.Window, 0, len(hours))
	for _, wh := range hours {
		windows = append(windows, availability.Window{Start: wh.StartTime, End: wh.EndTime})
	}
	return windows, period, nil
}

// slotCandidates resolves the request to an ordered list of target times.
// A well-formed time that matches no bookable slot is a conflict, not a
// validation error: there is simply no slot to reserve.
func (c *Coordinator) slotCandidates(windows []availability.Window, period int, req BookRequest, day time.Time) ([]string, error) {
	if len(windows) == 0 {
		return nil, ErrSlotConflict
	}
	if req.Time != "" {
		hour := availability.HourOf(req.Time)
		if !containsTime(availability.SlotTimes(windows, period, hour), req.Time) {
			return nil, ErrSlotConflict
		}
		return []string{req.Time}, nil
	}

	candidates := availability.SlotTimes(windows, period, *req.Hour)
	if c.isToday(day) {
		candidates = futureOnly(candidates, c.now().In(model.Local).Format(model.TimeLayout))
	}
	if len(candidates) == 0 {
		return nil, ErrSlotConflict
	}
	return candidates, nil
}

// reserveFirstFree walks the candidates in lexicographic order. Each insert
// attempt runs in a savepoint so a losing race does not abort the outer
// transaction.
func (c *Coordinator) reserveFirstFree(ctx context.Context, tx pgx.Tx, appt *model.Appointment, candidates []string, taken map[string]bool) (string, string, error) {
	for _, t := range candidates {
		if taken[t] {
			continue
		}
		appt.Time = t
		sp, err := tx.Begin(ctx)
		if err != nil {
			return "", "", fmt.Errorf("savepoint: %w", err)
		}
		id, err := c.appts.Reserve(ctx, sp, appt)
		if err != nil {
			_ = sp.Rollback(ctx)
			if storage.IsConflict(err) {
				continue
			}
			return "", "", fmt.Errorf("reserve: %w", err)
		}
		if err := sp.Commit(ctx); err != nil {
			return "", "", fmt.Errorf("savepoint commit: %w", err)
		}
		return id, t, nil
	}
	return "", "", ErrSlotConflict
}

func (c *Coordinator) ensureStaffScope(ctx context.Context, caller *auth.Claims, doctorID string) error {
	switch caller.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleDoctor:
		if caller.DoctorID == doctorID {
			return nil
		}
	case auth.RoleHospitalAdmin:
		ok, err := c.schedule.DoctorInHospital(ctx, doctorID, caller.HospitalID)
		if err != nil {
			return fmt.Errorf("scope check: %w", err)
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden
}

func (c *Coordinator) insertUpdatedEvent(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"date":           appt.Date,
		"time":           appt.Time,
		"status":         appt.Status,
	})
	if err != nil {
		return err
	}
	if err := c.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.TopicAppointmentUpdated,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, eventType string, appt model.Appointment) {
	c.publishEvent(ctx, appt.DoctorID, events.Event{
		Type: eventType,
		ID:   appt.ID,
		Payload: &events.Payload{
			DoctorID: appt.DoctorID,
			Status:   appt.Status,
			Date:     appt.Date,
			Time:     appt.Time,
		},
	})
}

func (c *Coordinator) publishCancelled(ctx context.Context, appt model.Appointment) {
	c.publishEvent(ctx, appt.DoctorID, events.Event{
		Type: events.TypeAppointmentCancelled,
		ID:   appt.ID,
		Payload: &events.Payload{
			DoctorID: appt.DoctorID,
			Date:     appt.Date,
			Time:     appt.Time,
		},
	})
}

func (c *Coordinator) publishEvent(ctx context.Context, doctorID string, evt events.Event) {
	if c.bus == nil {
		return
	}
	metrics.BroadcastEventsTotal.WithLabelValues(evt.Type).Inc()
	if err := c.bus.Publish(ctx, events.DoctorRoom(doctorID), evt); err != nil {
		c.logger.Warn("broadcast failed", "room", events.DoctorRoom(doctorID), "err", err)
	}
	hospitals, err := c.schedule.HospitalsForDoctor(ctx, doctorID)
	if err != nil {
		c.logger.Warn("hospital rooms lookup failed", "doctor_id", doctorID, "err", err)
		return
	}
	for _, h := range hospitals {
		if err := c.bus.Publish(ctx, events.HospitalRoom(h), evt); err != nil {
			c.logger.Warn("broadcast failed", "room", events.HospitalRoom(h), "err", err)
		}
	}
}

func (c *Coordinator) rejectPast(day time.Time, clock string) error {
	now := c.now().In(model.Local)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, model.Local)
	if day.Before(today) {
		return invalid("date", "must not be in the past")
	}
	if day.Equal(today) && clock != "" && clock <= now.Format(model.TimeLayout) {
		return invalid("time", "must not be in the past")
	}
	return nil
}

func (c *Coordinator) isToday(day time.Time) bool {
	now := c.now().In(model.Local)
	return day.Year() == now.Year() && day.YearDay() == now.YearDay()
}

func parseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, model.Local)
	if err != nil {
		return time.Time{}, invalid("date", "want YYYY-MM-DD")
	}
	return day, nil
}

func parseClock(clock string) (string, error) {
	if _, err := time.Parse(model.TimeLayout, clock); err != nil || len(clock) != 5 {
		return "", invalid("time", "want HH:MM")
	}
	return clock, nil
}

func containsTime(times []string, t string) bool {
	for _, x := range times {
		if x == t {
			return true
		}
	}
	return false
}

func futureOnly(times []string, nowClock string) []string {
	var out []string
	for _, t := range times {
		if t > nowClock {
			out = append(out, t)
		}
	}
	return out
}

func mapStorageErr(err error) error {
	if storage.IsNotFound(err) {
		return ErrNotFound
	}
	return fmt.Errorf("storage: %w", err)
}

func countBooking(result string) {
	metrics.BookingsTotal.WithLabelValues(result).Inc()
}
