package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter spaces calls to the same device by at least a minimum interval, measured from
// the start of one call to the start of the next. Calls to different devices do not wait
// for each other. A nil Limiter or a zero interval never waits.
type Limiter struct {
	minInterval time.Duration
	devices     sync.Map // address -> *deviceLimiter
}

type deviceLimiter struct {
	mu       sync.Mutex
	lastCall time.Time
}

func New(minInterval time.Duration) *Limiter {
	return &Limiter{minInterval: minInterval}
}

// Wait blocks until a call to the given device may start, or until ctx is done.
func (l *Limiter) Wait(ctx context.Context, device string) error {
	if l == nil || l.minInterval <= 0 {
		return nil
	}

	dl := l.deviceLimiter(device)

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if elapsed := time.Since(dl.lastCall); elapsed < l.minInterval {
		timer := time.NewTimer(l.minInterval - elapsed)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// Stamp before unlocking so that queued callers measure from this call.
	dl.lastCall = time.Now()
	return nil
}

// Forget drops the pacing state of a device, e.g. when its address changed.
func (l *Limiter) Forget(device string) {
	if l == nil {
		return
	}
	l.devices.Delete(device)
}

func (l *Limiter) deviceLimiter(device string) *deviceLimiter {
	if dl, ok := l.devices.Load(device); ok {
		return dl.(*deviceLimiter)
	}
	actual, _ := l.devices.LoadOrStore(device, &deviceLimiter{})
	return actual.(*deviceLimiter)
}

func (l *Limiter) MinInterval() time.Duration {
	if l == nil {
		return 0
	}
	return l.minInterval
}
