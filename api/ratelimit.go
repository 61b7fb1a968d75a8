package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	bucketIdleThreshold = time.Hour
	cleanupInterval     = 30 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key. Each bucket holds
// capacity tokens and refills one token every window/capacity.
type RateLimiter struct {
	mu       sync.Mutex
	capacity int
	every    rate.Limit
	window   time.Duration
	clients  map[string]*clientBucket
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter starts a limiter with a background cleanup loop.
// Call Stop to release it.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	every := rate.Limit(0)
	if capacity > 0 && window > 0 {
		every = rate.Every(window / time.Duration(capacity))
	}
	rl := &RateLimiter{
		capacity: capacity,
		every:    every,
		window:   window,
		clients:  make(map[string]*clientBucket),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.clients {
		if now.Sub(b.lastSeen) > bucketIdleThreshold {
			delete(rl.clients, key)
		}
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Allow takes one token for key. When the bucket is empty it returns false
// and how long until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	now := rl.now()
	b, ok := rl.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.every, rl.capacity)}
		rl.clients[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, rl.window
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Limit rejects requests over the limit with 429. Authenticated callers are
// keyed by subject; everyone else by remote IP.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, wait := rl.Allow(clientKey(r)); !ok {
			w.Header().Set("Retry-After", retryAfter(wait))
			writeError(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok && p.SubjectID != "" {
		return string(p.Kind) + ":" + p.SubjectID
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return "ip:" + ip
}

// retryAfter renders a wait as whole seconds, rounded up, at least 1.
func retryAfter(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
