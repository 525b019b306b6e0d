// Package broadcast delivers transcript events to WebSocket subscribers.
//
// Events flow through a Broker (in-memory for a single process, Redis pub/sub
// for multi-node deployments) into per-room fan-out. A subscriber attaching to
// a transcript room first receives the full persisted event history in
// insertion order, then the live stream. Delivery is at-most-once per
// connection; ordering is guaranteed per publisher only.
package broadcast

import (
	"context"
	"encoding/json"

	"github.com/reflector-media/reflector/pkg/types"
)

// TranscriptRoom returns the room name for a transcript's event stream.
// Format: "ts:{transcript_id}".
func TranscriptRoom(transcriptID string) string {
	return "ts:" + transcriptID
}

// Envelope is the wire shape of every broadcast event. Seq is the persisted
// log sequence for events that also live in the transcript's event log, and 0
// for live-only events such as DAG_STATUS snapshots.
type Envelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// Subscription is a live feed of messages for one room. C is closed when the
// subscription ends, either via Close or because the broker shuts down.
type Subscription struct {
	C     <-chan []byte
	close func()
}

// Close terminates the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.close != nil {
		s.close()
		s.close = nil
	}
}

// Broker moves raw event payloads between publishers and room subscribers.
//
// Implementations must not block a publisher on a slow subscriber: a
// subscriber whose buffer is full loses messages instead of stalling the
// room.
type Broker interface {
	// Publish delivers payload to all current subscribers of room.
	Publish(ctx context.Context, room string, payload []byte) error

	// Subscribe opens a feed for room. The caller must Close the returned
	// subscription when done.
	Subscribe(ctx context.Context, room string) (*Subscription, error)

	// Close shuts the broker down and ends all subscriptions.
	Close() error
}

// History provides the persisted event log of a transcript for replay to
// late subscribers. Implemented by the transcript store.
type History interface {
	Events(ctx context.Context, transcriptID string) ([]types.TranscriptEvent, error)
}
