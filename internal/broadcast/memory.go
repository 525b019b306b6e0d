package broadcast

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing messages rather than blocking the room.
const subscriberBuffer = 64

// MemoryBroker is a single-process Broker. Suitable for tests and
// single-node deployments.
type MemoryBroker struct {
	mu     sync.RWMutex
	rooms  map[string]map[*memorySub]struct{}
	closed bool
	log    *slog.Logger
}

type memorySub struct {
	ch   chan []byte
	once sync.Once
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker(log *slog.Logger) *MemoryBroker {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBroker{
		rooms: make(map[string]map[*memorySub]struct{}),
		log:   log,
	}
}

// Publish implements Broker. Slow subscribers are skipped, not awaited.
func (b *MemoryBroker) Publish(_ context.Context, room string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	for sub := range b.rooms[room] {
		select {
		case sub.ch <- payload:
		default:
			b.log.Warn("dropping event for slow subscriber", "room", room)
		}
	}
	return nil
}

// Subscribe implements Broker.
func (b *MemoryBroker) Subscribe(_ context.Context, room string) (*Subscription, error) {
	sub := &memorySub{ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*memorySub]struct{})
	}
	b.rooms[room][sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		close: func() {
			b.mu.Lock()
			if subs, ok := b.rooms[room]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(b.rooms, room)
				}
			}
			b.mu.Unlock()
			sub.once.Do(func() { close(sub.ch) })
		},
	}, nil
}

// Close implements Broker.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for room, subs := range b.rooms {
		for sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.rooms, room)
	}
	return nil
}
