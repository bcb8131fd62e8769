package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBus is a Bus backed by Redis Pub/Sub, so every realtime node sees
// events published by every scheduling node. One Redis subscription is held
// per room while at least one local subscriber watches it; the subscription
// is torn down when the last one leaves.
type RedisBus struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomSub
	local *LocalBus

	ctx    context.Context
	cancel context.CancelFunc
}

type roomSub struct {
	pubsub *redis.PubSub
	refs   int
}

func NewRedisBus(rdb *redis.Client, logger *slog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisBus{
		rdb:    rdb,
		logger: logger,
		rooms:  make(map[string]*roomSub),
		local:  NewLocalBus(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *RedisBus) Publish(ctx context.Context, room string, evt Event) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, room, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", room, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, room string) (<-chan Event, error) {
	ch, err := b.local.Subscribe(ctx, room)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	sub, ok := b.rooms[room]
	if !ok {
		sub = &roomSub{pubsub: b.rdb.Subscribe(b.ctx, room)}
		b.rooms[room] = sub
		go b.pump(room, sub.pubsub)
	}
	sub.refs++
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.release(room)
	}()
	return ch, nil
}

// release drops one subscriber reference for a room and closes the Redis
// subscription once nobody local is left watching it.
func (b *RedisBus) release(room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.rooms[room]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs <= 0 {
		_ = sub.pubsub.Close()
		delete(b.rooms, room)
	}
}

func (b *RedisBus) Close() error {
	b.cancel()
	b.mu.Lock()
	for room, sub := range b.rooms {
		_ = sub.pubsub.Close()
		delete(b.rooms, room)
	}
	b.mu.Unlock()
	return b.local.Close()
}

// pump forwards Redis messages for one room into the local fan-out.
func (b *RedisBus) pump(room string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Error("bad event payload", "room", room, "err", err)
				continue
			}
			_ = b.local.Publish(b.ctx, room, evt)
		}
	}
}
