package client

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/gorilla/websocket"
)

// Subscriber maintains one realtime connection per room and fans received
// events into a shared in-process bus, the same-device channel every viewer
// in the process listens on. It dials the websocket endpoint first and falls
// back to the SSE stream when the socket cannot be established, retrying
// with capped backoff until the context ends.
type Subscriber struct {
	baseURL string
	local   *events.LocalBus
	cache   *AvailabilityCache
	logger  *slog.Logger
	http    *http.Client
}

func NewSubscriber(baseURL string, cache *AvailabilityCache, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		local:   events.NewLocalBus(),
		cache:   cache,
		logger:  logger,
		http:    &http.Client{},
	}
}

// Events exposes the same-device channel for a room. All tabs of one device
// share the subscriber, so one network connection serves them all.
func (s *Subscriber) Events(ctx context.Context, room string) (<-chan events.Event, error) {
	return s.local.Subscribe(ctx, room)
}

// Run keeps the connection for one room alive until ctx is done.
func (s *Subscriber) Run(ctx context.Context, room string) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runWebsocket(ctx, room)
		if err != nil {
			s.logger.Debug("websocket transport failed; trying sse", "room", room, "err", err)
			err = s.runSSE(ctx, room)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("realtime connection lost", "room", room, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *Subscriber) runWebsocket(ctx context.Context, room string) error {
	wsURL := "ws" + strings.TrimPrefix(s.baseURL, "http")
	u := wsURL + "/ws?room=" + url.QueryEscape(room)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(ctx, room, data)
	}
}

func (s *Subscriber) runSSE(ctx context.Context, room string) error {
	u := s.baseURL + "/stream?room=" + url.QueryEscape(room)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: "sse connect failed"}
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		s.dispatch(ctx, room, []byte(strings.TrimPrefix(line, "data: ")))
	}
	return scanner.Err()
}

func (s *Subscriber) dispatch(ctx context.Context, room string, data []byte) {
	var evt events.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}
	if evt.Type == "" {
		// Connection bookkeeping frames carry no type.
		return
	}
	if s.cache != nil {
		s.cache.ApplyEvent(evt)
	}
	_ = s.local.Publish(ctx, room, evt)
}
