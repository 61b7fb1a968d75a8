package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/vsla-engine/amortization"
)

func terms(principal string, rate int64, months int) amortization.LoanTerms {
	return amortization.LoanTerms{
		Principal:         decimal.RequireFromString(principal),
		AnnualRatePercent: decimal.NewFromInt(rate),
		TermMonths:        months,
	}
}

func TestSchedules_LRUHit(t *testing.T) {
	lru := NewLRU(16, time.Minute)
	s := Schedules{Cache: lru}
	ctx := context.Background()

	first, cached, err := s.Compute(ctx, amortization.Default, terms("1200000", 12, 12))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 1, lru.Len())

	second, cached, err := s.Compute(ctx, amortization.Default, terms("1200000", 12, 12))
	require.NoError(t, err)
	assert.True(t, cached)
	assert.True(t, first.MonthlyPayment.Equal(second.MonthlyPayment))
	assert.True(t, first.TotalInterest.Equal(second.TotalInterest))
	require.Len(t, second.Entries, 12)
	assert.True(t, first.Entries[11].RemainingBalance.Equal(second.Entries[11].RemainingBalance))
}

func TestSchedules_KeyIncludesRounding(t *testing.T) {
	tm := terms("1200000", 12, 12)
	assert.NotEqual(t, Key(amortization.Default, tm), Key(amortization.ForCurrency("UGX"), tm))
}

func TestSchedules_InvalidTermsNotCached(t *testing.T) {
	lru := NewLRU(16, time.Minute)
	s := Schedules{Cache: lru}

	_, _, err := s.Compute(context.Background(), amortization.Default, terms("0", 12, 12))
	assert.ErrorIs(t, err, amortization.ErrInvalidLoanTerms)
	assert.Equal(t, 0, lru.Len())
}

func TestSchedules_NoCache(t *testing.T) {
	sched, cached, err := Schedules{}.Compute(context.Background(), amortization.Default, terms("1000", 0, 4))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.True(t, decimal.NewFromInt(250).Equal(sched.MonthlyPayment))
}

func TestRedis_UnreachableIsAMiss(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	}), time.Minute)
	t.Cleanup(func() { r.Close() })
	ctx := context.Background()

	_, ok := r.Get(ctx, "anything")
	assert.False(t, ok)
	assert.Error(t, r.Set(ctx, "k", []byte("v")))

	// The calculator still answers.
	sched, cached, err := Schedules{Cache: r}.Compute(ctx, amortization.Default, terms("1000", 0, 4))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, sched.Entries, 4)
}
