package http

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter rate limits by client IP. Stale entries are evicted on a
// coarse sweep so the map cannot grow without bound.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipClient
	rpm     int
	burst   int
	sweep   time.Time
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(rpm int) *ipLimiter {
	if rpm <= 0 {
		rpm = 30
	}
	return &ipLimiter{
		clients: map[string]*ipClient{},
		rpm:     rpm,
		burst:   rpm,
		sweep:   time.Now(),
	}
}

// Allow reports whether the request's client IP is within its budget.
func (l *ipLimiter) Allow(r *http.Request) bool {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.sweep) > 10*time.Minute {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) > 10*time.Minute {
				delete(l.clients, key)
			}
		}
		l.sweep = now
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &ipClient{limiter: rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}
