package main

import (
	"sync"
	"time"
)

// connRecord tracks connection attempts from one remote address.
type connRecord struct {
	lastConnection  time.Time
	connectionCount int
	blocked         bool
	unblock         *time.Timer
}

// ConnThrottle rejects reconnect storms on the WebSocket endpoint. A burst
// of more than maxBurst attempts inside the reconnect window blocks the
// address; the block clears itself after the cooldown, independent of any
// further attempts.
type ConnThrottle struct {
	mu       sync.Mutex
	records  map[string]*connRecord
	window   time.Duration
	maxBurst int
	cooldown time.Duration
	now      func() time.Time
	closed   bool
}

func newConnThrottle(window, cooldown time.Duration, maxBurst int) *ConnThrottle {
	return &ConnThrottle{
		records:  make(map[string]*connRecord),
		window:   window,
		maxBurst: maxBurst,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Check records a connection attempt from addr and reports whether it may
// proceed. The returned error, when non-nil, is pipeline-ready.
func (c *ConnThrottle) Check(addr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	rec, ok := c.records[addr]
	if !ok {
		c.records[addr] = &connRecord{lastConnection: now, connectionCount: 1}
		return nil
	}

	if rec.blocked {
		return newRateLimitError("Too many connection attempts, try again later", ceilSeconds(c.cooldown))
	}

	if now.Sub(rec.lastConnection) < c.window {
		rec.connectionCount++
		if rec.connectionCount > c.maxBurst {
			c.block(addr, rec)
			rec.lastConnection = now
			return newRateLimitError("Too many connection attempts, try again later", ceilSeconds(c.cooldown))
		}
	} else {
		// Gap at or above the window: treat as a fresh burst.
		rec.connectionCount = 1
	}

	rec.lastConnection = now
	return nil
}

// block marks the record and arms the self-clearing cooldown timer.
// Caller holds the lock.
func (c *ConnThrottle) block(addr string, rec *connRecord) {
	rec.blocked = true
	rec.unblock = time.AfterFunc(c.cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		if r, ok := c.records[addr]; ok {
			r.blocked = false
			r.connectionCount = 0
			r.unblock = nil
		}
	})
}

// Blocked reports whether addr is currently blocked.
func (c *ConnThrottle) Blocked(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[addr]
	return ok && rec.blocked
}

// Close cancels all pending unblock timers.
func (c *ConnThrottle) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, rec := range c.records {
		if rec.unblock != nil {
			rec.unblock.Stop()
			rec.unblock = nil
		}
	}
}
