package events

import (
	"context"
	"sync"
)

// Bus fans booking-state-change events out to room subscribers. It is never
// the source of truth; delivery is best-effort.
type Bus interface {
	Publish(ctx context.Context, room string, evt Event) error
	Subscribe(ctx context.Context, room string) (<-chan Event, error)
	Close() error
}

// LocalBus is an in-process Bus. It backs single-node deployments and the
// client SDK's same-device channel, where every viewer in one process shares
// the events received over a single network connection.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	closed      bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subscribers: make(map[string]map[chan Event]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, room string, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[room] {
		select {
		case ch <- evt:
		default:
			// Subscriber buffer full: drop. The viewer reconciles on its
			// next fetch.
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, room string) (<-chan Event, error) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	if b.subscribers[room] == nil {
		b.subscribers[room] = make(map[chan Event]struct{})
	}
	b.subscribers[room][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.removeSubscriber(room, ch)
	}()
	return ch, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for room, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, room)
	}
	return nil
}

func (b *LocalBus) removeSubscriber(room string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.subscribers[room]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, room)
	}
}
