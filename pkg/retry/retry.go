package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy runs an operation with bounded attempts and exponential backoff with jitter.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryable   func(error) bool
}

// Option configures a Policy.
type Option func(*Policy)

// WithRetryable overrides which errors are worth another attempt. By default every error is.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryable = fn
		}
	}
}

// WithMaxDelay caps a single backoff sleep.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// New creates a policy. maxAttempts counts the first call too.
func New(maxAttempts int, baseDelay time.Duration, opts ...Option) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	p := &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    baseDelay * 16, // Maximum 16x base delay
		retryable:   func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of attempts
// or ctx is done. The last error is returned unchanged.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !p.retryable(err) || attempt >= p.maxAttempts {
			return err
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Backoff calculates exponential backoff delay with jitter
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.baseDelay <= 0 {
		return p.baseDelay
	}

	// Exponential backoff: base * 2^(attempt-1)
	backoff := p.baseDelay * time.Duration(1<<(attempt-1))

	// Apply jitter (±25%)
	if quarter := int64(backoff / 4); quarter > 0 {
		jitter := time.Duration(rand.Int63n(quarter))
		if rand.Intn(2) == 0 {
			backoff += jitter
		} else {
			backoff -= jitter
		}
	}

	if backoff > p.maxDelay {
		backoff = p.maxDelay
	}
	return backoff
}
