package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllow(t *testing.T) {
	ctx := context.Background()

	t.Run("burst allows immediate events", func(t *testing.T) {
		limiter := NewTokenBucket(1, 3)
		for i := 0; i < 3; i++ {
			if !limiter.Allow(ctx) {
				t.Fatalf("expected burst token %d to be available", i)
			}
		}
		if limiter.Allow(ctx) {
			t.Error("expected bucket to be empty after burst")
		}
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		limiter := NewTokenBucket(100, 1)
		if !limiter.Allow(ctx) {
			t.Fatal("expected first token")
		}
		time.Sleep(25 * time.Millisecond) // ~2.5 tokens at 100/s, burst caps at 1
		if !limiter.Allow(ctx) {
			t.Error("expected token after refill")
		}
	})
}

func TestTokenBucketWait(t *testing.T) {
	t.Run("wait returns when token available", func(t *testing.T) {
		limiter := NewTokenBucket(1000, 1)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := limiter.Wait(ctx); err != nil {
			t.Errorf("Wait failed: %v", err)
		}
	})

	t.Run("wait respects cancelled context", func(t *testing.T) {
		limiter := NewTokenBucket(0.001, 1)
		limiter.Allow(context.Background()) // drain

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := limiter.Wait(ctx); err == nil {
			t.Error("expected context error from Wait")
		}
	})
}

func TestTokenBucketReserve(t *testing.T) {
	limiter := NewTokenBucket(10, 1)
	ctx := context.Background()

	r1 := limiter.Reserve(ctx)
	if !r1.OK() {
		t.Fatal("expected first reservation to succeed")
	}
	if r1.Delay() != 0 {
		t.Errorf("expected no delay for first reservation, got %v", r1.Delay())
	}

	r2 := limiter.Reserve(ctx)
	if !r2.OK() {
		t.Fatal("expected second reservation to succeed")
	}
	if r2.Delay() == 0 {
		t.Error("expected delay for second reservation")
	}
	r2.Cancel()
}

func TestTokenBucketDynamicConfig(t *testing.T) {
	limiter := NewTokenBucket(10, 5)

	limiter.SetLimit(20)
	if limiter.Limit() != 20 {
		t.Errorf("expected limit 20, got %v", limiter.Limit())
	}

	limiter.SetBurst(7)
	if limiter.Burst() != 7 {
		t.Errorf("expected burst 7, got %d", limiter.Burst())
	}
}
