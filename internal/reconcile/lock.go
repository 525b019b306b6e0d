package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token, so
// an expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NamedLock is a best-effort cross-process mutex on a single redis key,
// used to keep the poller a singleton across replicas. The TTL bounds how
// long a crashed holder blocks the others.
type NamedLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	token  string
}

// NewNamedLock creates a lock on "lock:<name>".
func NewNamedLock(client redis.UniversalClient, name string, ttl time.Duration) *NamedLock {
	return &NamedLock{client: client, key: "lock:" + name, ttl: ttl}
}

// TryAcquire attempts to take the lock without blocking. Returns false when
// another process holds it.
func (l *NamedLock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock %s: acquire: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release frees the lock if this instance still holds it. Releasing a lock
// that expired or was never acquired is a no-op.
func (l *NamedLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("lock %s: release: %w", l.key, err)
	}
	return nil
}
