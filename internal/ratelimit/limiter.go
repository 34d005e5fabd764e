// Package ratelimit implements the per-(provider, model) Rate Limiter
// (SPEC_FULL.md §4.6): a token bucket for request rate, a semaphore for
// concurrency, a rolling token-per-minute window, and a daily request cap.
// Grounded on the teacher's internal/dispatch/ratelimit.go reservation and
// rollback pattern, generalised from a single global authed-usage cap to
// one limiter instance per provider:model key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DailyLimitExceeded is returned by Wait when the daily request cap for a
// limiter has been exhausted for the remainder of the current day.
type DailyLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *DailyLimitExceeded) Error() string {
	return fmt.Sprintf("ratelimit: daily limit exceeded, retry after %s", e.RetryAfter)
}

// Limits configures one provider:model limiter.
type Limits struct {
	RequestsPerMinute int
	Burst             int
	MaxConcurrent     int
	TokensPerMinute   int
	DailyRequestCap   int
	Retry429Default   time.Duration
}

// Lease represents a held concurrency slot. Callers must call Release
// exactly once on every exit path, successful or not.
type Lease struct {
	sem *semaphore.Weighted
}

// Release frees the concurrency slot held by this lease.
func (l *Lease) Release() {
	l.sem.Release(1)
}

// Limiter guards calls to one (provider, model) pair.
type Limiter struct {
	key string
	cfg Limits

	bucket *rate.Limiter
	sem    *semaphore.Weighted

	mu             sync.Mutex
	tokenWindow    []tokenUsage
	dailyCount     int
	dailyResetDate string
}

type tokenUsage struct {
	at     time.Time
	tokens int
}

// New constructs a Limiter for one provider:model key with the given
// limits. A zero RequestsPerMinute disables the token bucket (unlimited).
func New(key string, cfg Limits) *Limiter {
	var bucket *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		bucket = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		key:    key,
		cfg:    cfg,
		bucket: bucket,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Wait suspends the caller until n bucket tokens are available, or returns
// DailyLimitExceeded if today's request cap is already spent. The daily
// check happens under the lock; the bucket wait happens after the lock is
// released, per §4.6.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if err := l.checkDaily(); err != nil {
		return err
	}
	if l.bucket == nil {
		return nil
	}
	return l.bucket.WaitN(ctx, n)
}

func (l *Limiter) checkDaily() error {
	if l.cfg.DailyRequestCap <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if l.dailyResetDate != today {
		l.dailyResetDate = today
		l.dailyCount = 0
	}
	if l.dailyCount >= l.cfg.DailyRequestCap {
		return &DailyLimitExceeded{RetryAfter: timeUntilUTCMidnight()}
	}
	return nil
}

func timeUntilUTCMidnight() time.Duration {
	now := time.Now().UTC()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return tomorrow.Sub(now)
}

// Acquire waits for both the request bucket and a concurrency slot, then
// returns a Lease the caller must release.
func (l *Limiter) Acquire(ctx context.Context) (*Lease, error) {
	if err := l.Wait(ctx, 1); err != nil {
		return nil, err
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("ratelimit: %s: acquire: %w", l.key, err)
	}
	l.recordDailyRequest()
	return &Lease{sem: l.sem}, nil
}

// AcquireWithTokens additionally charges the rolling tokens-per-minute
// window before acquiring the concurrency slot.
func (l *Limiter) AcquireWithTokens(ctx context.Context, llmTokens int) (*Lease, error) {
	if err := l.waitForTokenBudget(ctx, llmTokens); err != nil {
		return nil, err
	}
	return l.Acquire(ctx)
}

func (l *Limiter) waitForTokenBudget(ctx context.Context, tokens int) error {
	if l.cfg.TokensPerMinute <= 0 {
		return nil
	}
	for {
		wait, ok := l.tokenWaitDuration(tokens)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (l *Limiter) tokenWaitDuration(tokens int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	kept := l.tokenWindow[:0]
	used := 0
	for _, u := range l.tokenWindow {
		if u.at.After(cutoff) {
			kept = append(kept, u)
			used += u.tokens
		}
	}
	l.tokenWindow = kept

	if used+tokens <= l.cfg.TokensPerMinute {
		l.tokenWindow = append(l.tokenWindow, tokenUsage{at: time.Now(), tokens: tokens})
		return 0, true
	}
	if len(l.tokenWindow) == 0 {
		return 0, true
	}
	oldest := l.tokenWindow[0]
	return time.Until(oldest.at.Add(time.Minute)), false
}

func (l *Limiter) recordDailyRequest() {
	if l.cfg.DailyRequestCap <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dailyCount++
}

// Handle429 zeroes the bucket's reserved tokens and sleeps for retryAfter
// (or the limiter's configured default). The bucket mutex is held only
// across the zeroing step, not across the sleep, per the resolved Open
// Question in SPEC_FULL.md §9.
func (l *Limiter) Handle429(ctx context.Context, retryAfter time.Duration) error {
	wait := retryAfter
	if wait <= 0 {
		wait = l.cfg.Retry429Default
	}

	l.mu.Lock()
	if l.bucket != nil {
		l.bucket.SetBurst(0)
		l.bucket.SetBurst(l.cfg.Burst)
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
