package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
	"github.com/Aquahulk/HealTara-sub003/services/realtime-service/internal/hub"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients come from hospital and patient frontends on other
		// origins; the events are advisory and room ids carry no secrets.
		return true
	},
}

// WSHandler upgrades viewers to a websocket and forwards room events. One
// connection watches one room; clients open one socket per doctor they view.
type WSHandler struct {
	hub    *hub.Hub
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, logger: logger}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if !hub.ValidRoom(room) {
		http.Error(w, "invalid room", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	ctx := r.Context()
	ch, release, err := h.hub.Subscribe(ctx, room)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer release()
	defer func() { _ = conn.Close() }()

	// Reader only services control frames; clients never send data.
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			metrics.BroadcastEventsTotal.WithLabelValues(evt.Type).Inc()
		}
	}
}
