package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDisabledCacheMisses(t *testing.T) {
	c := New("", "", 0, time.Minute)
	if c.Enabled() {
		t.Fatalf("empty addr must disable the cache")
	}
	var out map[string]int
	if err := c.GetJSON(context.Background(), "k", &out); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := c.SetJSON(context.Background(), "k", map[string]int{"a": 1}); err != nil {
		t.Fatalf("disabled set must be a no-op, got %v", err)
	}
	if err := c.Invalidate(context.Background(), "k"); err != nil {
		t.Fatalf("disabled invalidate must be a no-op, got %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("disabled ping must be a no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("disabled close must be a no-op, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	c := New("127.0.0.1:6379", "", 0, time.Minute)
	if err := c.Ping(context.Background()); err != nil {
		t.Skipf("skipping: redis not reachable: %v", err)
	}
	defer func() { _ = c.Close() }()

	key := "cardflow:test:" + time.Now().Format("150405.000000000")
	in := map[string]int{"total": 42}
	if err := c.SetJSON(context.Background(), key, in); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out map[string]int
	if err := c.GetJSON(context.Background(), key, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out["total"] != 42 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if err := c.Invalidate(context.Background(), key); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := c.GetJSON(context.Background(), key, &out); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after invalidate, got %v", err)
	}
}
