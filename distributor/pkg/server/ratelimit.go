package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const limiterIdle = 5 * time.Minute

// RateLimitError is the 429 body.
type RateLimitError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	clock clockwork.Clock
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(clock clockwork.Clock, limit rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		clock:   clock,
		limit:   limit,
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) Allow(client string) bool {
	ok, _ := rl.Reserve(client)
	return ok
}

// Reserve takes a token for client. When none is available it returns false and how long
// until one will be.
func (rl *RateLimiter) Reserve(client string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = now

	r := b.tokens.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Run forgets clients idle for longer than five minutes until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := rl.clock.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			rl.forget(now.Add(-limiterIdle))
		}
	}
}

func (rl *RateLimiter) forget(before time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for client, b := range rl.buckets {
		if b.lastSeen.Before(before) {
			delete(rl.buckets, client)
			n++
		}
	}
	return n
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Reserve(remoteHost(r))
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		secs := max(int(wait.Seconds()), 1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(RateLimitError{
			Error:      "rate_limit_exceeded",
			Message:    "Too many crank requests. Please slow down.",
			RetryAfter: secs,
		})
	})
}

// remoteHost relies on chi's RealIP having rewritten RemoteAddr.
func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
