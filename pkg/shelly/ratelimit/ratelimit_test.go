package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitSpacesCallsToSameDevice(t *testing.T) {
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, "10.0.0.1"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("3 calls should take at least 2 intervals, took %v", elapsed)
	}
}

func TestWaitDoesNotSerializeDevices(t *testing.T) {
	l := New(time.Second)
	ctx := context.Background()

	start := time.Now()
	_ = l.Wait(ctx, "10.0.0.1")
	_ = l.Wait(ctx, "10.0.0.2")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("distinct devices should not wait for each other, took %v", elapsed)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(time.Hour)
	_ = l.Wait(context.Background(), "dev")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "dev"); err == nil {
		t.Error("expected the context error")
	}
}

func TestNilLimiterNeverWaits(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background(), "dev"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
	if l.MinInterval() != 0 {
		t.Error("nil limiter has an interval")
	}
}
