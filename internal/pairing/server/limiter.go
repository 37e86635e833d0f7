package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle remote host keeps its bucket.
const limiterTTL = 5 * time.Minute

// hostLimiter rate-limits accepted connections per remote host, so one noisy
// device on the LAN cannot starve the others.
type hostLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*hostBucket
}

type hostBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newHostLimiter(limit rate.Limit, burst int, ttl time.Duration) *hostLimiter {
	return &hostLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*hostBucket),
	}
}

func (h *hostLimiter) allow(addr net.Addr) bool {
	key := hostOf(addr)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.entries[key]
	if b == nil {
		b = &hostBucket{lim: rate.NewLimiter(h.limit, h.burst)}
		h.entries[key] = b
	}
	b.lastSeen = now

	for k, v := range h.entries {
		if now.Sub(v.lastSeen) > h.ttl {
			delete(h.entries, k)
		}
	}
	return b.lim.AllowN(now, 1)
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
