package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/k-iijima/hiveforge/internal/ratelimit"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	l := ratelimit.New("test:model", ratelimit.Limits{
		RequestsPerMinute: 600,
		Burst:             5,
		MaxConcurrent:     2,
	})
	ctx := context.Background()
	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	lease.Release()
}

func TestAcquireRespectsConcurrencyLimit(t *testing.T) {
	l := ratelimit.New("test:model", ratelimit.Limits{
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxConcurrent:     1,
	})
	ctx := context.Background()
	lease1, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx2)
	if err == nil {
		t.Fatalf("expected second acquire to block and time out while first lease held")
	}
	lease1.Release()
}

func TestDailyCapExceeded(t *testing.T) {
	l := ratelimit.New("test:model", ratelimit.Limits{
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxConcurrent:     10,
		DailyRequestCap:   1,
	})
	ctx := context.Background()
	lease, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	lease.Release()

	_, err = l.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected DailyLimitExceeded on second acquire")
	}
	var dailyErr *ratelimit.DailyLimitExceeded
	if !asDailyLimitExceeded(err, &dailyErr) {
		t.Fatalf("expected DailyLimitExceeded error type, got %T: %v", err, err)
	}
}

func asDailyLimitExceeded(err error, target **ratelimit.DailyLimitExceeded) bool {
	if e, ok := err.(*ratelimit.DailyLimitExceeded); ok {
		*target = e
		return true
	}
	return false
}

func TestAcquireWithTokensChargesWindow(t *testing.T) {
	l := ratelimit.New("test:model", ratelimit.Limits{
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxConcurrent:     10,
		TokensPerMinute:   100,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	lease, err := l.AcquireWithTokens(ctx, 60)
	if err != nil {
		t.Fatalf("first token acquire should succeed: %v", err)
	}
	lease.Release()

	_, err = l.AcquireWithTokens(ctx, 60)
	if err == nil {
		t.Fatalf("expected second token acquire to block past the token budget and hit context deadline")
	}
}

func TestRegistryReturnsSingleton(t *testing.T) {
	r := ratelimit.NewRegistry(nil)
	a := r.Get("anthropic-tier1", "claude")
	b := r.Get("anthropic-tier1", "claude")
	if a != b {
		t.Fatalf("expected the same limiter instance for the same provider:model key")
	}
}

func TestRegistryUnknownProviderFallsBackToDefault(t *testing.T) {
	r := ratelimit.NewRegistry(nil)
	l := r.Get("some-new-provider", "some-model")
	if l == nil {
		t.Fatalf("expected a limiter to be constructed for unknown providers")
	}
}
