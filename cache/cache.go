// Package cache keeps computed amortization schedules so repeated calculator
// requests for the same terms skip the arithmetic.
//
// Two backends: an in-process expirable LRU (default) and Redis, for when
// several API instances should share one cache. Both are best-effort: a
// backend failure is a miss, never a request failure.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/warp/vsla-engine/amortization"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsla_schedule_cache_hits_total",
		Help: "Schedule cache hits.",
	}, []string{"backend"})
	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsla_schedule_cache_misses_total",
		Help: "Schedule cache misses.",
	}, []string{"backend"})
)

// Cache stores opaque values by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
	Name() string
}

// =============================================================================
// LRU
// =============================================================================

type LRU struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRU creates an in-process cache holding up to size entries for ttl.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

func (c *LRU) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

func (c *LRU) Name() string { return "lru" }

func (c *LRU) Len() int { return c.lru.Len() }

// =============================================================================
// REDIS
// =============================================================================

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects lazily; the first command dials.
func NewRedis(addr, password string, db int, ttl time.Duration) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 2 * time.Second,
	}), ttl)
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: "vsla:", ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.prefix+key, value, r.ttl).Err()
}

func (r *Redis) Name() string { return "redis" }

// Ping checks the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.client.Close() }

// =============================================================================
// SCHEDULES
// =============================================================================

// Schedules computes amortization schedules through a cache.
type Schedules struct {
	Cache Cache
}

// Key identifies a schedule by its normalized terms and rounding.
func Key(e amortization.Engine, t amortization.LoanTerms) string {
	return fmt.Sprintf("schedule:%d:%s:%s:%d",
		e.Places, t.Principal.String(), t.AnnualRatePercent.String(), t.TermMonths)
}

// Compute returns the schedule for t and whether it came from the cache.
// Invalid terms are never cached.
func (s Schedules) Compute(ctx context.Context, e amortization.Engine, t amortization.LoanTerms) (amortization.Schedule, bool, error) {
	if s.Cache == nil {
		sched, err := e.Compute(t)
		return sched, false, err
	}

	key := Key(e, t)
	if raw, ok := s.Cache.Get(ctx, key); ok {
		var sched amortization.Schedule
		if err := json.Unmarshal(raw, &sched); err == nil {
			hitsTotal.WithLabelValues(s.Cache.Name()).Inc()
			return sched, true, nil
		}
	}
	missesTotal.WithLabelValues(s.Cache.Name()).Inc()

	sched, err := e.Compute(t)
	if err != nil {
		return amortization.Schedule{}, false, err
	}
	if raw, err := json.Marshal(sched); err == nil {
		// Best-effort; a failed write only costs a recomputation.
		_ = s.Cache.Set(ctx, key, raw)
	}
	return sched, false, nil
}
