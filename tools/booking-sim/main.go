package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Aquahulk/HealTara-sub003/client"
	"github.com/google/uuid"
)

// booking-sim fires N concurrent bookings at the same slot and reports how
// the service resolved the race. Exactly one booking should win an exact
// slot; hour-level requests should win up to the hour's capacity.
func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8091"), "scheduling service base url")
		token     = flag.String("token", getenv("TOKEN", ""), "bearer token for the booking calls")
		doctorID  = flag.String("doctor-id", getenv("DOCTOR_ID", ""), "doctor to book against")
		patientID = flag.String("patient-id", getenv("PATIENT_ID", ""), "patient_id for staff callers")
		date      = flag.String("date", "", "appointment date (YYYY-MM-DD)")
		slot      = flag.String("time", "", "exact slot (HH:MM); mutually exclusive with -hour")
		hour      = flag.Int("hour", -1, "hour-of-day for earliest-free booking")
		workers   = flag.Int("workers", 10, "concurrent booking attempts")
	)
	flag.Parse()

	if strings.TrimSpace(*token) == "" {
		fatal("TOKEN is required")
	}
	if strings.TrimSpace(*doctorID) == "" {
		fatal("DOCTOR_ID is required")
	}
	if strings.TrimSpace(*date) == "" {
		fatal("-date is required")
	}
	if (*slot == "") == (*hour < 0) {
		fatal("exactly one of -time or -hour is required")
	}

	api := client.New(*baseURL, client.WithTokenStore(client.NewMemoryTokenStore(*token)))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type outcome struct {
		apptID string
		err    error
	}
	results := make([]outcome, *workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := client.BookRequest{
				DoctorID:       *doctorID,
				PatientID:      *patientID,
				Date:           *date,
				Reason:         fmt.Sprintf("sim worker %d", i),
				IdempotencyKey: uuid.NewString(),
			}
			if *slot != "" {
				req.Time = *slot
			} else {
				h := *hour
				req.Hour = &h
			}
			res, err := api.Book(ctx, req)
			results[i] = outcome{apptID: res.AppointmentID, err: err}
		}(i)
	}
	close(start)
	wg.Wait()

	var won, conflicts, unknown, failed int
	for i, r := range results {
		switch {
		case r.err == nil:
			won++
			fmt.Printf("worker %d: booked %s\n", i, r.apptID)
		case errors.Is(r.err, client.ErrConflict):
			conflicts++
		case errors.Is(r.err, client.ErrOutcomeUnknown):
			unknown++
			fmt.Printf("worker %d: outcome unknown: %v\n", i, r.err)
		default:
			failed++
			fmt.Printf("worker %d: error: %v\n", i, r.err)
		}
	}
	fmt.Printf("won=%d conflicts=%d unknown=%d failed=%d\n", won, conflicts, unknown, failed)

	if *slot != "" && won > 1 {
		fatal(fmt.Sprintf("double booking: %d workers won the same slot", won))
	}

	combined, err := api.Availability(ctx, *doctorID, *date)
	if err != nil {
		fatal(err.Error())
	}
	for _, b := range combined.Availability.Hours {
		fmt.Printf("hour %02d: %d/%d booked full=%v\n", b.Hour, b.BookedCount, b.Capacity, b.IsFull)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "error: "+msg)
	os.Exit(1)
}
