package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
)

// ErrBudgetExhausted is returned once a capped budget has handed out all of
// its requests.
var ErrBudgetExhausted = errors.New("github request budget exhausted")

// maxRateLimitWait bounds how long Acquire sleeps for a rate-limit reset.
// Waiting longer than this fails the run instead of stalling the scheduler.
const maxRateLimitWait = 15 * time.Minute

// RequestBudget gates the GitHub requests of one scan run. It caps the total
// number of requests and, from the rate information of each response, holds
// requests back while the server's limit is spent or a Retry-After is active.
//
// One budget serves one run; create a new one per run.
type RequestBudget struct {
	mu        sync.Mutex
	limit     int
	used      int
	remaining int // -1 until a response reports it
	reset     time.Time
	retryAt   time.Time
	now       func() time.Time
}

// NewRequestBudget returns a budget capped at limit requests. A limit of 0
// means no cap beyond the server's rate limit.
func NewRequestBudget(limit int) *RequestBudget {
	return &RequestBudget{
		limit:     max(limit, 0),
		remaining: -1,
		now:       time.Now,
	}
}

// Remaining is the server-reported rate-limit allowance, or -1 if no response
// has reported it yet.
func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Used is the number of requests handed out so far.
func (b *RequestBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Acquire reserves one request. It waits out an active Retry-After or a spent
// rate limit, and fails with ErrBudgetExhausted once the cap is reached.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	if b == nil {
		return errors.New("acquire on nil RequestBudget")
	}
	for {
		b.mu.Lock()
		if b.limit > 0 && b.used >= b.limit {
			b.mu.Unlock()
			return fmt.Errorf("%w (%d requests)", ErrBudgetExhausted, b.limit)
		}
		wait := b.waitLocked()
		if wait <= 0 {
			b.used++
			if b.remaining > 0 {
				b.remaining--
			}
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		if wait > maxRateLimitWait {
			return fmt.Errorf("github rate limit resets in %s", wait.Round(time.Second))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *RequestBudget) waitLocked() time.Duration {
	now := b.now()
	if now.Before(b.retryAt) {
		return b.retryAt.Sub(now)
	}
	if b.remaining == 0 && now.Before(b.reset) {
		return b.reset.Sub(now)
	}
	return 0
}

// Observe records the rate information of a response. A nil response (for
// example after a transport error) is ignored.
func (b *RequestBudget) Observe(resp *github.Response) {
	if b == nil || resp == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if resp.Response == nil {
		return
	}
	// go-github leaves Rate zeroed when the headers are absent.
	if resp.Header.Get("X-RateLimit-Remaining") != "" {
		b.remaining = resp.Rate.Remaining
		b.reset = resp.Rate.Reset.Time
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		if until := b.now().Add(time.Duration(secs) * time.Second); until.After(b.retryAt) {
			b.retryAt = until
		}
	}
}
