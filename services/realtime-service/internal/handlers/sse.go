package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
	"github.com/Aquahulk/HealTara-sub003/services/realtime-service/internal/hub"
)

const heartbeatEvery = 30 * time.Second

// SSEHandler is the fallback transport for viewers whose network path blocks
// websockets. Same rooms, same event envelope, one-way only.
type SSEHandler struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func NewSSEHandler(h *hub.Hub, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{hub: h, logger: logger}
}

func (h *SSEHandler) Serve(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if !hub.ValidRoom(room) {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	ch, release, err := h.hub.Subscribe(ctx, room)
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: {\"room\":%q}\n\n", room)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Comment line keeps proxies from timing the stream out.
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
			metrics.BroadcastEventsTotal.WithLabelValues(evt.Type).Inc()
		}
	}
}
