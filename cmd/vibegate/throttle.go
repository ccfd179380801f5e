package main

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// clientRecord tracks one client's activity inside the current window.
type clientRecord struct {
	windowStart    time.Time
	requestCount   int
	providerCounts map[string]int
	blockedUntil   time.Time
}

// Decision is the outcome of a throttle check. RetryAfter is in whole
// seconds, rounded up, and only meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter int
}

// ClientThrottle counts requests per client in fixed windows and blocks
// clients that exceed the cap. Provider sub-quotas share the same record
// and the same window; they never open a window of their own.
//
// A single mutex guards the record map, so a check-and-increment is atomic
// with respect to concurrent requests for the same client and with respect
// to the janitor sweep.
type ClientThrottle struct {
	mu       sync.Mutex
	records  map[string]*clientRecord
	policy   ThrottlePolicy
	window   time.Duration
	blockFor time.Duration

	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func newClientThrottle(policy ThrottlePolicy) *ClientThrottle {
	return &ClientThrottle{
		records:  make(map[string]*clientRecord),
		policy:   policy,
		window:   time.Duration(policy.WindowSeconds) * time.Second,
		blockFor: time.Duration(policy.BlockSeconds) * time.Second,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// CheckRequest runs the general per-client check-and-record operation.
func (t *ClientThrottle) CheckRequest(clientID string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.records[clientID]
	if !ok {
		rec = &clientRecord{windowStart: now, providerCounts: make(map[string]int)}
		t.records[clientID] = rec
	}

	if rec.blockedUntil.After(now) {
		return Decision{RetryAfter: ceilSeconds(rec.blockedUntil.Sub(now))}
	}

	t.resetIfExpired(rec, now)

	if rec.requestCount >= t.policy.MaxRequests {
		rec.blockedUntil = now.Add(t.blockFor)
		return Decision{RetryAfter: ceilSeconds(t.blockFor)}
	}

	rec.requestCount++
	return Decision{Allowed: true}
}

// CheckProvider enforces a provider's sub-quota against the client's
// existing record. A client with no record is allowed unconditionally:
// provider quotas layer on the general throttle, and without a general
// record there is nothing to rate against. A provider with no configured
// cap is likewise unrestricted.
func (t *ClientThrottle) CheckProvider(clientID, provider string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[clientID]
	if !ok {
		return Decision{Allowed: true}
	}

	limit, ok := t.policy.Providers[provider]
	if !ok {
		return Decision{Allowed: true}
	}

	t.resetIfExpired(rec, t.now())

	if rec.providerCounts[provider] >= limit {
		return Decision{RetryAfter: 60}
	}

	rec.providerCounts[provider]++
	return Decision{Allowed: true}
}

// resetIfExpired performs the lazy window reset: counters back to zero,
// provider counters dropped, block cleared. Caller holds the lock.
func (t *ClientThrottle) resetIfExpired(rec *clientRecord, now time.Time) {
	if now.Sub(rec.windowStart) > t.window {
		rec.windowStart = now
		rec.requestCount = 0
		rec.providerCounts = make(map[string]int)
		rec.blockedUntil = time.Time{}
	}
}

// Sweep removes records whose window is older than twice the window length,
// bounding memory for abandoned clients. Returns the number removed.
func (t *ClientThrottle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-2 * t.window)
	removed := 0
	for id, rec := range t.records {
		if rec.windowStart.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}

// StartJanitor runs Sweep on a fixed interval until Close is called.
func (t *ClientThrottle) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				if n := t.Sweep(); n > 0 {
					logger.Debug("swept stale throttle records", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Close stops the janitor goroutine. Safe to call more than once.
func (t *ClientThrottle) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Policy returns a copy of the current policy.
func (t *ClientThrottle) Policy() ThrottlePolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyPolicy(t.policy)
}

// SetPolicy replaces the policy. Existing records keep their counts; the
// new caps apply from the next check.
func (t *ClientThrottle) SetPolicy(policy ThrottlePolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policy = copyPolicy(policy)
	t.window = time.Duration(policy.WindowSeconds) * time.Second
	t.blockFor = time.Duration(policy.BlockSeconds) * time.Second
}

// ActiveClients reports how many client records are currently held.
func (t *ClientThrottle) ActiveClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

func copyPolicy(p ThrottlePolicy) ThrottlePolicy {
	out := p
	out.Providers = make(map[string]int, len(p.Providers))
	for name, limit := range p.Providers {
		out.Providers[name] = limit
	}
	return out
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
