package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker distributes events across nodes via Redis pub/sub. Each room
// maps to one Redis channel.
type RedisBroker struct {
	client *redis.Client
	log    *slog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(cfg RedisConfig, log *slog.Logger) (*RedisBroker, error) {
	if log == nil {
		log = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broadcast: redis connection failed: %w", err)
	}

	log.Info("connected to redis broker", "addr", cfg.Addr, "db", cfg.DB)
	return &RedisBroker{client: client, log: log}, nil
}

// NewRedisBrokerFromClient wraps an existing client. Used by tests.
func NewRedisBrokerFromClient(client *redis.Client, log *slog.Logger) *RedisBroker {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{client: client, log: log}
}

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	if err := b.client.Publish(ctx, room, payload).Err(); err != nil {
		return fmt.Errorf("broadcast: publish to %s: %w", room, err)
	}
	return nil
}

// Subscribe implements Broker. The feed runs until Close is called on the
// returned subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, room string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, room)

	// Force the SUBSCRIBE round-trip so a broken connection surfaces here
	// instead of as a silently empty feed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("broadcast: subscribe to %s: %w", room, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default:
				b.log.Warn("dropping event for slow subscriber", "room", room)
			}
		}
	}()

	return &Subscription{
		C: out,
		close: func() {
			_ = pubsub.Close()
		},
	}, nil
}

// Close implements Broker.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
