package deployment

import (
	"context"
	"errors"
	"time"

	"hookbox/internal/config"
)

// Backoff modes.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy is the backoff applied to source sync. It is immutable after
// construction.
type RetryPolicy struct {
	Mode       string
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // attempts after the first failure
}

// DefaultRetryPolicy is linear, 1s initial, 30s cap, 2 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Mode: BackoffLinear, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 2}
}

// NewRetryPolicy builds a policy from configuration. Zero durations and
// unknown modes fall back to the defaults. MaxRetries is taken as given, so
// zero disables retries; only a negative value keeps the default.
func NewRetryPolicy(cfg config.Retry) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.Initial > 0 {
		p.Initial = cfg.Initial
	}
	if cfg.Max > 0 {
		p.Max = cfg.Max
	}
	switch cfg.Mode {
	case BackoffFixed, BackoffLinear, BackoffExponential:
		p.Mode = cfg.Mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the wait before retry n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	switch p.Mode {
	case BackoffFixed:
		return p.Initial
	case BackoffExponential:
		d := p.Initial
		for i := 1; i < n; i++ {
			if d > p.Max/2 {
				return p.Max
			}
			d *= 2
		}
		return min(d, p.Max)
	default:
		if p.Initial > p.Max/time.Duration(n) {
			return p.Max
		}
		return min(time.Duration(n)*p.Initial, p.Max)
	}
}

// Do calls fn until it succeeds, returns a permanent *RepositoryError, the
// retries are exhausted or ctx is done. onRetry, if set, is called before
// each wait.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		var repoErr *RepositoryError
		if errors.As(err, &repoErr) && repoErr.Permanent() {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}

		if onRetry != nil {
			onRetry(attempt+1, err)
		}
		timer := time.NewTimer(p.Delay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}
