package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManualLimiter(t *testing.T, capacity int, window time.Duration) (*RateLimiter, *time.Time) {
	t.Helper()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(capacity, window)
	rl.now = func() time.Time { return now }
	t.Cleanup(rl.Stop)
	return rl, &now
}

func assertDuration(t *testing.T, want, got time.Duration) {
	t.Helper()
	assert.InDelta(t, float64(want), float64(got), float64(time.Millisecond), "want %s, got %s", want, got)
}

func TestRateLimiter_RefillsOneTokenAtATime(t *testing.T) {
	rl, now := newManualLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := rl.Allow("member:m-1")
		require.True(t, ok, "request %d", i+1)
	}
	ok, wait := rl.Allow("member:m-1")
	assert.False(t, ok)
	assertDuration(t, 20*time.Second, wait)

	// A refused request does not use up the next token.
	*now = now.Add(21 * time.Second)
	ok, _ = rl.Allow("member:m-1")
	assert.True(t, ok)
	ok, wait = rl.Allow("member:m-1")
	assert.False(t, ok)
	assertDuration(t, 19*time.Second, wait)

	ok, _ = rl.Allow("member:m-2")
	assert.True(t, ok, "buckets are per client")
}

func TestRateLimiter_ZeroCapacityRefusesEverything(t *testing.T) {
	rl, _ := newManualLimiter(t, 0, time.Minute)

	ok, wait := rl.Allow("ip:10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, wait)
}

func TestRateLimiter_CleanupDropsIdleClients(t *testing.T) {
	rl, now := newManualLimiter(t, 1, time.Minute)
	rl.Allow("ip:10.0.0.1")
	*now = now.Add(30 * time.Minute)
	rl.Allow("ip:10.0.0.2")

	*now = now.Add(45 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "ip:10.0.0.1")
	assert.Contains(t, rl.clients, "ip:10.0.0.2")
}

func TestRateLimiter_LimitSetsRetryAfter(t *testing.T) {
	rl, _ := newManualLimiter(t, 1, 90*time.Second)
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/calculator", nil)
	req.RemoteAddr = "10.0.0.9:5123"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(0))
	assert.Equal(t, "1", retryAfter(300*time.Millisecond))
	assert.Equal(t, "30", retryAfter(29*time.Second+time.Millisecond))
}
