package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Booking API errors. ErrOutcomeUnknown is the important one: a timed-out
// booking request may still have committed server-side, so callers must
// refetch availability instead of retrying blindly.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("slot conflict")
	ErrOutcomeUnknown = errors.New("request outcome unknown")
)

// APIError carries a non-taxonomy server response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Body)
}

// HourBucket mirrors the availability response for one hour of a day.
type HourBucket struct {
	Hour        int    `json:"hour"`
	Capacity    int    `json:"capacity"`
	BookedCount int    `json:"booked_count"`
	IsFull      bool   `json:"is_full"`
	LabelFrom   string `json:"label_from"`
	LabelTo     string `json:"label_to"`
}

// Availability is the hour-bucketed view for one (doctor, date).
type Availability struct {
	PeriodMinutes int          `json:"period_minutes"`
	Hours         []HourBucket `json:"hours"`
}

type Slot struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Status string `json:"status"`
}

// Combined is the full availability payload: raw non-cancelled slots plus
// the derived buckets.
type Combined struct {
	Slots        []Slot       `json:"slots"`
	Availability Availability `json:"availability"`
}

type BookRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	Hour      *int   `json:"hour,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// IdempotencyKey makes retries after ErrOutcomeUnknown safe.
	IdempotencyKey string `json:"-"`
}

type BookResult struct {
	AppointmentID string `json:"appointment_id"`
}

type Appointment struct {
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

// Client talks to the scheduling service. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  NewMemoryTokenStore(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Availability fetches the combined view. Public, no token needed.
func (c *Client) Availability(ctx context.Context, doctorID, date string) (Combined, error) {
	var out Combined
	q := url.Values{"doctor_id": {doctorID}, "date": {date}}
	err := c.do(ctx, http.MethodGet, "/api/v1/availability?"+q.Encode(), nil, "", &out)
	return out, err
}

// CachedAvailability serves from the cache when fresh and otherwise fetches
// through the cache's sequence protocol, so a slow response never clobbers a
// newer one started by another viewer.
func (c *Client) CachedAvailability(ctx context.Context, cache *AvailabilityCache, doctorID, date string) (Combined, error) {
	if data, ok := cache.Get(doctorID, date); ok {
		return data, nil
	}
	seq := cache.BeginFetch(doctorID, date)
	data, err := c.Availability(ctx, doctorID, date)
	if err != nil {
		return Combined{}, err
	}
	if !cache.ApplyFetch(doctorID, date, seq, data) {
		// A newer fetch superseded this one; serve whatever it stored.
		if cached, ok := cache.Get(doctorID, date); ok {
			return cached, nil
		}
	}
	return data, nil
}

// Book reserves a slot. Network failures and timeouts map to
// ErrOutcomeUnknown because the server may have committed before the
// response was lost.
func (c *Client) Book(ctx context.Context, req BookRequest) (BookResult, error) {
	var out BookResult
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments", req, req.IdempotencyKey, &out)
	if err != nil && isTransportErr(err) {
		return out, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	return out, err
}

func (c *Client) Reschedule(ctx context.Context, apptID, date, timeOfDay string) (Appointment, error) {
	var out Appointment
	body := map[string]string{"date": date, "time": timeOfDay}
	err := c.do(ctx, http.MethodPatch, "/api/v1/appointments/"+url.PathEscape(apptID), body, "", &out)
	return out, err
}

func (c *Client) UpdateStatus(ctx context.Context, apptID, status string) (Appointment, error) {
	var out Appointment
	body := map[string]string{"status": status}
	err := c.do(ctx, http.MethodPatch, "/api/v1/appointments/"+url.PathEscape(apptID), body, "", &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, apptID string) (Appointment, error) {
	var out Appointment
	err := c.do(ctx, http.MethodPost, "/api/v1/appointments/"+url.PathEscape(apptID)+"/cancel", struct{}{}, "", &out)
	return out, err
}

func (c *Client) Appointments(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	var out []Appointment
	q := url.Values{"doctor_id": {doctorID}}
	if date != "" {
		q.Set("date", date)
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/appointments?"+q.Encode(), nil, "", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return ErrUnauthorized
		case http.StatusForbidden:
			return ErrForbidden
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ErrConflict
		default:
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isTransportErr(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict):
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}
