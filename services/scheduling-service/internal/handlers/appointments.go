package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/booking"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
)

// AppointmentHandler is the HTTP surface over the booking coordinator.
type AppointmentHandler struct {
	coord  *booking.Coordinator
	logger *slog.Logger
}

func NewAppointmentHandler(coord *booking.Coordinator, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{coord: coord, logger: logger}
}

type bookRequest struct {
	DoctorID string `json:"doctor_id"`
	// Patient is taken from the token for PATIENT callers; staff booking on
	// behalf of a patient supply it explicitly.
	PatientID string `json:"patient_id,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	Hour      *int   `json:"hour,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
}

type updateRequest struct {
	Status string `json:"status,omitempty"`
	Date   string `json:"date,omitempty"`
	Time   string `json:"time,omitempty"`
}

type appointmentView struct {
	ID          string `json:"id"`
	DoctorID    string `json:"doctor_id"`
	PatientID   string `json:"patient_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`
}

// Availability serves the combined availability query. Public: no token
// required, viewers include anonymous patients browsing the directory.
func (h *AppointmentHandler) Availability(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	data, err := h.coord.CombinedAvailability(r.Context(), doctorID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.coord.Book(r.Context(), claimsFrom(r.Context()), booking.BookRequest{
		DoctorID:       strings.TrimSpace(req.DoctorID),
		PatientID:      strings.TrimSpace(req.PatientID),
		Date:           strings.TrimSpace(req.Date),
		Time:           strings.TrimSpace(req.Time),
		Hour:           req.Hour,
		Reason:         strings.TrimSpace(req.Reason),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bookResponse{AppointmentID: appt.ID})
}

// Update handles both status transitions and reschedules on one PATCH
// surface: a body with date+time is a reschedule, a body with status is a
// transition.
func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	var (
		appt model.Appointment
		err  error
	)
	switch {
	case req.Date != "" || req.Time != "":
		appt, err = h.coord.Reschedule(r.Context(), claimsFrom(r.Context()), id, strings.TrimSpace(req.Date), strings.TrimSpace(req.Time))
	case req.Status != "":
		appt, err = h.coord.UpdateStatus(r.Context(), claimsFrom(r.Context()), id, strings.ToUpper(strings.TrimSpace(req.Status)))
	default:
		http.Error(w, "status or date+time required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toView(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	appt, err := h.coord.Cancel(r.Context(), claimsFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toView(appt))
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}

	appts, err := h.coord.ListForDoctor(r.Context(), claimsFrom(r.Context()), doctorID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		views = append(views, toView(a))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *AppointmentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case booking.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrSlotConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, "status transition not allowed", http.StatusConflict)
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrForbidden):
		http.Error(w, "not allowed", http.StatusForbidden)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *AppointmentHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toView(a model.Appointment) appointmentView {
	v := appointmentView{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Time:      a.Time,
		Status:    a.Status,
		Reason:    a.Reason,
	}
	if !a.CreatedAt.IsZero() {
		v.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if a.CancelledAt != nil {
		v.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return v
}
