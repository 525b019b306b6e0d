package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBrokerFromClient(client, nil)
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	b := setupRedisBroker(t)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "ts:abc")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := b.Publish(ctx, "ts:abc", []byte(`{"event":"TOPIC"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := string(recvPayload(t, sub)); got != `{"event":"TOPIC"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestRedisBrokerRoomsAreIsolated(t *testing.T) {
	b := setupRedisBroker(t)
	ctx := context.Background()

	subA, err := b.Subscribe(ctx, "ts:a")
	if err != nil {
		t.Fatal(err)
	}
	defer subA.Close()
	subB, err := b.Subscribe(ctx, "ts:b")
	if err != nil {
		t.Fatal(err)
	}
	defer subB.Close()

	if err := b.Publish(ctx, "ts:b", []byte("for-b")); err != nil {
		t.Fatal(err)
	}
	if got := string(recvPayload(t, subB)); got != "for-b" {
		t.Errorf("subB payload = %s", got)
	}
	select {
	case p := <-subA.C:
		t.Errorf("subA received %q from another room", p)
	default:
	}
}

func TestRedisBrokerSubscriptionClose(t *testing.T) {
	b := setupRedisBroker(t)
	sub, err := b.Subscribe(context.Background(), "ts:abc")
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}
