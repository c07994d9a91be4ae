package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces outgoing requests to a provider's per-minute quota
// and keeps statistics for the status endpoint.
type RateLimiter struct {
	limiter *rate.Limiter

	mu                sync.Mutex
	requestsPerMinute float64
	totalConsumed     int64
	totalWaited       time.Duration
	total429          int64
	last429Time       time.Time
	blockedUntil      time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	RequestsPerMinute float64       `json:"requests_per_minute"`
	TokensAvailable   float64       `json:"tokens_available"`
	TotalConsumed     int64         `json:"total_consumed"`
	TotalWaited       time.Duration `json:"total_waited"`
	Total429          int64         `json:"total_429"`
	Last429Time       time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing requestsPerMinute with a burst of
// one. A non-positive rate disables limiting.
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(requestsPerMinute / 60.0)
	}
	return &RateLimiter{
		limiter:           rate.NewLimiter(limit, 1),
		requestsPerMinute: requestsPerMinute,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	r.mu.Lock()
	pause := time.Until(r.blockedUntil)
	r.mu.Unlock()
	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	waited := time.Since(start)

	r.mu.Lock()
	r.totalConsumed++
	r.totalWaited += waited
	r.mu.Unlock()
	return nil
}

// Record429 notes a throttling response. A positive retryAfter holds every
// waiter until it has elapsed.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total429++
	r.last429Time = time.Now()
	if until := r.last429Time.Add(retryAfter); retryAfter > 0 && until.After(r.blockedUntil) {
		r.blockedUntil = until
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	// an unlimited bucket reports +Inf, which JSON cannot encode
	var tokens float64
	if r.requestsPerMinute > 0 {
		tokens = r.limiter.Tokens()
	}

	return RateLimiterStatus{
		RequestsPerMinute: r.requestsPerMinute,
		TokensAvailable:   tokens,
		TotalConsumed:     r.totalConsumed,
		TotalWaited:       r.totalWaited,
		Total429:          r.total429,
		Last429Time:       r.last429Time,
	}
}
