package redisbucket

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T) *Bucket {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestIncrement_UnderLimit(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := b.Increment(ctx, "tenant-1", 1000, 10)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if !ok {
			t.Fatalf("increment %d should be under limit", i)
		}
	}
}

func TestIncrement_RejectsOverLimit(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, err := b.Increment(ctx, "tenant-1", 2000, 3); err != nil || !ok {
			t.Fatalf("increment %d: ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := b.Increment(ctx, "tenant-1", 2000, 3)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if ok {
		t.Fatal("4th increment should exceed limit of 3")
	}
}

func TestIncrement_DoesNotLeakCountOnRejection(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	if ok, _ := b.Increment(ctx, "tenant-1", 3000, 1); !ok {
		t.Fatal("first increment should succeed")
	}
	if ok, _ := b.Increment(ctx, "tenant-1", 3000, 1); ok {
		t.Fatal("second increment should be rejected")
	}
	// A third call must still see count==1 from the rolled-back decrement,
	// not a runaway counter, so it is rejected the same way as the second.
	if ok, _ := b.Increment(ctx, "tenant-1", 3000, 1); ok {
		t.Fatal("third increment should still be rejected")
	}
}

func TestIncrement_DistinctScopesAreIndependent(t *testing.T) {
	b := newTestBucket(t)
	ctx := context.Background()

	if ok, _ := b.Increment(ctx, "tenant-1", 4000, 1); !ok {
		t.Fatal("tenant-1 first increment should succeed")
	}
	if ok, _ := b.Increment(ctx, "tenant-2", 4000, 1); !ok {
		t.Fatal("tenant-2 first increment should succeed independently")
	}
}

func TestReady(t *testing.T) {
	b := newTestBucket(t)
	if err := b.Ready(context.Background()); err != nil {
		t.Errorf("Ready: %v", err)
	}
}
