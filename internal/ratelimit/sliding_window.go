// Package ratelimit counts events per key over a sliding time window.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	events     []time.Time
	lastAccess time.Time
}

// SlidingWindow allows at most limit events per key within any window of
// the configured duration. Idle keys are dropped by a background sweep.
type SlidingWindow struct {
	buckets sync.Map // string -> *bucket
	window  time.Duration
	limit   int
	now     func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// Decision is the outcome of recording or checking a key.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Stats describes the limiter's current state.
type Stats struct {
	ActiveKeys  int
	TotalEvents int
	Window      time.Duration
	Limit       int
}

// NewSlidingWindow starts a limiter. Call Stop to end the sweep goroutine.
func NewSlidingWindow(window time.Duration, limit int, sweepInterval time.Duration) *SlidingWindow {
	sw := &SlidingWindow{
		window: window,
		limit:  limit,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	sw.wg.Add(1)
	go sw.sweepLoop(sweepInterval)
	return sw
}

// Allow records an event for key unless the key is already at its limit.
func (sw *SlidingWindow) Allow(key string) Decision {
	now := sw.now()
	v, _ := sw.buckets.LoadOrStore(key, &bucket{lastAccess: now})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAccess = now
	sw.trim(b, now)

	if len(b.events) >= sw.limit {
		return sw.denied(b, now)
	}
	b.events = append(b.events, now)
	return Decision{
		Allowed:   true,
		Remaining: sw.limit - len(b.events),
		ResetAt:   b.events[0].Add(sw.window),
	}
}

// Check reports whether key could record another event, without recording.
func (sw *SlidingWindow) Check(key string) Decision {
	now := sw.now()
	v, ok := sw.buckets.Load(key)
	if !ok {
		return Decision{Allowed: true, Remaining: sw.limit, ResetAt: now.Add(sw.window)}
	}
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	sw.trim(b, now)

	if len(b.events) >= sw.limit {
		return sw.denied(b, now)
	}
	reset := now.Add(sw.window)
	if len(b.events) > 0 {
		reset = b.events[0].Add(sw.window)
	}
	return Decision{Allowed: true, Remaining: sw.limit - len(b.events), ResetAt: reset}
}

// Reset forgets key.
func (sw *SlidingWindow) Reset(key string) {
	sw.buckets.Delete(key)
}

func (sw *SlidingWindow) denied(b *bucket, now time.Time) Decision {
	reset := now.Add(sw.window)
	if len(b.events) > 0 {
		reset = b.events[0].Add(sw.window)
	}
	retry := reset.Sub(now).Round(time.Second)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{ResetAt: reset, RetryAfter: retry}
}

// trim drops events older than the window. Events are kept in order.
func (sw *SlidingWindow) trim(b *bucket, now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(b.events) && !b.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.events = append([]time.Time(nil), b.events[i:]...)
	}
}

func (sw *SlidingWindow) sweepLoop(interval time.Duration) {
	defer sw.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweep()
		case <-sw.stop:
			return
		}
	}
}

// sweep removes keys idle for two windows.
func (sw *SlidingWindow) sweep() {
	cutoff := sw.now().Add(-2 * sw.window)
	sw.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := b.lastAccess.Before(cutoff)
		b.mu.Unlock()
		if idle {
			sw.buckets.Delete(key)
		}
		return true
	})
}

// Stop ends the sweep goroutine.
func (sw *SlidingWindow) Stop() {
	close(sw.stop)
	sw.wg.Wait()
}

// Stats returns a point-in-time view of the limiter.
func (sw *SlidingWindow) Stats() Stats {
	s := Stats{Window: sw.window, Limit: sw.limit}
	sw.buckets.Range(func(_, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		s.ActiveKeys++
		s.TotalEvents += len(b.events)
		b.mu.Unlock()
		return true
	})
	return s
}
