package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_AllowAndDeny(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	rl := NewRateLimiterWithNow(2, time.Minute, func() time.Time { return clock })
	defer rl.Stop()

	if !rl.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if !rl.Allow("ip") {
		t.Fatalf("expected allow")
	}
	if rl.Allow("ip") {
		t.Fatalf("expected deny")
	}
	if !rl.Allow("other") {
		t.Fatalf("expected other key to have its own budget")
	}

	clock = clock.Add(time.Minute + time.Second)
	if !rl.Allow("ip") {
		t.Fatalf("expected allow after window")
	}
}

func TestRateLimiter_WaitBlocksUntilWindowResets(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Stop()

	ctx := context.Background()
	start := time.Now()
	if err := rl.Wait(ctx, "k"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := rl.Wait(ctx, "k"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected second Wait to block for the window, took %v", elapsed)
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	if err := rl.Wait(context.Background(), "k"); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRateLimiter_ZeroLimitNeverBlocks(t *testing.T) {
	rl := NewRateLimiter(0, time.Hour)
	defer rl.Stop()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(context.Background(), "k"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	rl.Stop()
}
