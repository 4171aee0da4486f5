package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks the remaining tokens for one limit key — an agent address
// on the staking/claim/proposal write paths, a client IP on the token
// exchange.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is the in-process Limiter: one token bucket per key,
// refilled continuously at the configured rate. Suitable for a single
// server instance; a multi-instance deployment would need a shared
// backend behind the same interface.
type MemoryLimiter struct {
	rate  float64 // tokens added per second
	burst float64 // bucket capacity

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a token bucket limiter allowing rate requests
// per second per key with bursts up to burst. A janitor goroutine drops
// keys idle past idleEviction so a churn of one-shot agents cannot grow
// the map without bound; Close stops it.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow consumes one token for key, reporting whether the request may
// proceed. A key's first request starts from a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		m.buckets[key] = &bucket{tokens: m.burst - 1, lastSeen: now}
		return true, nil
	}

	// Continuous refill since the key was last seen, capped at capacity.
	b.tokens += now.Sub(b.lastSeen).Seconds() * m.rate
	if b.tokens > m.burst {
		b.tokens = m.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the janitor. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// idleEviction is how long a key may sit unused before the janitor drops
// its bucket. Idle keys are back at full burst anyway, so eviction never
// grants extra tokens.
const idleEviction = 10 * time.Minute

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *MemoryLimiter) sweepIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-idleEviction)
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
