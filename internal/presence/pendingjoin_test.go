package presence_test

import (
	"context"
	"testing"
	"time"
)

func TestPendingJoinsLifecycle(t *testing.T) {
	joins, _ := newTestJoins(t, time.Minute)
	ctx := context.Background()

	any, err := joins.Any(ctx, "m1")
	if err != nil {
		t.Fatalf("Any: %v", err)
	}
	if any {
		t.Fatal("fresh store must have no pending joins")
	}

	if err := joins.Add(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if any, _ = joins.Any(ctx, "m1"); !any {
		t.Fatal("added join not visible")
	}
	if any, _ = joins.Any(ctx, "m2"); any {
		t.Fatal("join leaked to another meeting")
	}

	if err := joins.Remove(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if any, _ = joins.Any(ctx, "m1"); any {
		t.Fatal("removed join still visible")
	}

	// Removing again is a no-op.
	if err := joins.Remove(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestPendingJoinsConcurrentConnections(t *testing.T) {
	joins, _ := newTestJoins(t, time.Minute)
	ctx := context.Background()

	if err := joins.Add(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := joins.Add(ctx, "m1", "conn-2"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Dropping one connection keeps the other's grace alive.
	if err := joins.Remove(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	any, err := joins.Any(ctx, "m1")
	if err != nil {
		t.Fatalf("Any: %v", err)
	}
	if !any {
		t.Fatal("remaining connection must still count")
	}
}

func TestPendingJoinsExpire(t *testing.T) {
	joins, mr := newTestJoins(t, time.Minute)
	ctx := context.Background()

	if err := joins.Add(ctx, "m1", "conn-1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	any, err := joins.Any(ctx, "m1")
	if err != nil {
		t.Fatalf("Any: %v", err)
	}
	if any {
		t.Fatal("join must expire with its TTL")
	}
}
