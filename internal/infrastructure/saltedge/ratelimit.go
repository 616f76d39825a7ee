package saltedge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	rateWindow         = time.Minute
	minRequestSpacing  = 100 * time.Millisecond
	pendingMaxRequests = 15
	liveMaxRequests    = 50
)

// MaxRequestsForMode returns the per-window request budget. Pending is the
// sandbox tier and gets the tighter budget.
func MaxRequestsForMode(mode string) int {
	if mode == "pending" {
		return pendingMaxRequests
	}
	return liveMaxRequests
}

// RateLimiter bounds outbound calls with a fixed 60 second window and a
// minimum spacing between consecutive requests.
type RateLimiter struct {
	mu          sync.Mutex
	mode        string
	maxRequests int
	window      time.Duration
	requests    int
	resetAt     time.Time
	spacing     *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(mode string) *RateLimiter {
	return &RateLimiter{
		mode:        mode,
		maxRequests: MaxRequestsForMode(mode),
		window:      rateWindow,
		spacing:     rate.NewLimiter(rate.Every(minRequestSpacing), 1),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// Acquire blocks until the request is admitted. A refused request waits the
// computed duration once and is checked again; a second refusal fails with
// RATE_LIMIT.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	ok, wait := l.admit(l.now())
	if ok {
		return nil
	}

	log.Warn().
		Dur("wait", wait).
		Int("max_requests", l.maxRequests).
		Msg("saltedge rate limit reached, waiting")

	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	if ok, _ := l.admit(l.now()); !ok {
		return rateLimitError()
	}
	return nil
}

// admit records the request when it fits in the window and spacing budget.
func (l *RateLimiter) admit(now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.resetAt) {
		l.requests = 0
		l.resetAt = now.Add(l.window)
	}

	if l.requests >= l.maxRequests {
		return false, l.resetAt.Sub(now)
	}

	r := l.spacing.ReserveN(now, 1)
	if !r.OK() {
		return false, minRequestSpacing
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}

	l.requests++
	return true, 0
}

// RateLimitSnapshot is the limiter state exposed on the status endpoint.
type RateLimitSnapshot struct {
	Mode        string    `json:"mode"`
	MaxRequests int       `json:"max_requests"`
	Requests    int       `json:"requests"`
	Remaining   int       `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
}

func (l *RateLimiter) Snapshot() RateLimitSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	requests := l.requests
	if !l.now().Before(l.resetAt) {
		requests = 0
	}
	return RateLimitSnapshot{
		Mode:        l.mode,
		MaxRequests: l.maxRequests,
		Requests:    requests,
		Remaining:   l.maxRequests - requests,
		ResetAt:     l.resetAt,
	}
}

// Reset clears the window counter.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = 0
	l.resetAt = time.Time{}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
