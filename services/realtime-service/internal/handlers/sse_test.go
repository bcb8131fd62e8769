package handlers

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/Aquahulk/HealTara-sub003/services/realtime-service/internal/hub"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSSERejectsInvalidRoom(t *testing.T) {
	h := NewSSEHandler(hub.New(events.NewLocalBus()), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/stream?room=bogus", nil)
	rec := httptest.NewRecorder()
	h.Serve(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSSEStreamsRoomEvents(t *testing.T) {
	bus := events.NewLocalBus()
	h := NewSSEHandler(hub.New(bus), testLogger())

	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?room=room:doctor:doc-1", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEventLine := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
	}

	if got := readEventLine(); got != "connected" {
		t.Fatalf("first event = %q, want connected", got)
	}

	// The subscription is live once connected has been written.
	err = bus.Publish(ctx, "room:doctor:doc-1", events.Event{
		EventID: "e1",
		Type:    events.TypeAppointmentCancelled,
		ID:      "appt-1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := readEventLine(); got != events.TypeAppointmentCancelled {
		t.Fatalf("event = %q, want %q", got, events.TypeAppointmentCancelled)
	}
}
