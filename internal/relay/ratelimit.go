// Package relay implements the fixed-window message rate limiter that
// protects rooms from message floods.
package relay

import (
	"sync"
	"time"
)

type rateRecord struct {
	count         int
	windowResetAt time.Time
}

// RateLimiter counts messages per identity in fixed windows. Identities are
// derived from room id plus peer host, so multiple connections from the same
// address into the same room share one budget. That is an intentional soft
// per-peer throttle rather than a strictly per-connection one.
type RateLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	records  map[string]*rateRecord
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter allowing maxMessages per window for each
// identity and starts the background sweep that evicts idle records.
func NewRateLimiter(maxMessages int, window time.Duration) *RateLimiter {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if window <= 0 {
		window = time.Second
	}

	rl := &RateLimiter{
		max:     maxMessages,
		window:  window,
		records: make(map[string]*rateRecord),
		stop:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether the identity may send another message right now.
// The message that rolls a window over is always allowed, including exactly
// at the boundary. Rejected messages leave the record untouched, so the
// per-record count is capped at the configured maximum.
func (rl *RateLimiter) Allow(id string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.records[id]
	if !ok {
		rl.records[id] = &rateRecord{count: 1, windowResetAt: now.Add(rl.window)}
		return true
	}

	if !now.Before(rec.windowResetAt) {
		rec.count = 1
		rec.windowResetAt = now.Add(rl.window)
		return true
	}

	if rec.count >= rl.max {
		return false
	}

	rec.count++
	return true
}

// Stop terminates the background sweep goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stop)
	})
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			rl.removeExpired(now)
		case <-rl.stop:
			return
		}
	}
}

// removeExpired drops records whose window has already passed. Pure
// housekeeping: a stale record also self-heals on the identity's next
// message via the rollover branch in Allow.
func (rl *RateLimiter) removeExpired(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, rec := range rl.records {
		if !now.Before(rec.windowResetAt) {
			delete(rl.records, id)
			removed++
		}
	}
	return removed
}
