package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingJoins tracks join intents that have not yet turned into a platform
// session. Each intent is a redis key with a TTL, so a crashed client's
// grace expires on its own.
type PendingJoins struct {
	client redis.UniversalClient
	grace  time.Duration
}

// NewPendingJoins creates a PendingJoins with the given grace window.
func NewPendingJoins(client redis.UniversalClient, grace time.Duration) *PendingJoins {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &PendingJoins{client: client, grace: grace}
}

func joinKey(meetingID, connectionID string) string {
	return "pending_join:" + meetingID + ":" + connectionID
}

// Add registers a join intent. Concurrent joins for the same meeting use
// distinct connection IDs and so coexist.
func (p *PendingJoins) Add(ctx context.Context, meetingID, connectionID string) error {
	if err := p.client.SetNX(ctx, joinKey(meetingID, connectionID), "1", p.grace).Err(); err != nil {
		return fmt.Errorf("presence: add pending join: %w", err)
	}
	return nil
}

// Remove drops a join intent, normally because the participant showed up.
// Removing an expired or unknown intent is a no-op.
func (p *PendingJoins) Remove(ctx context.Context, meetingID, connectionID string) error {
	if err := p.client.Del(ctx, joinKey(meetingID, connectionID)).Err(); err != nil {
		return fmt.Errorf("presence: remove pending join: %w", err)
	}
	return nil
}

// Any reports whether at least one join intent is live for the meeting.
func (p *PendingJoins) Any(ctx context.Context, meetingID string) (bool, error) {
	iter := p.client.Scan(ctx, 0, joinKey(meetingID, "*"), 32).Iterator()
	if iter.Next(ctx) {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("presence: scan pending joins: %w", err)
	}
	return false, nil
}
