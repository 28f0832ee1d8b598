package attendee

import (
	"context"
	"errors"
	"time"

	"github.com/h1v3-io/agora/internal/provider"
)

// RetryPolicy bounds how often a failed provider call is repeated.
// Rate-limit replies and transient failures (5xx, network) have separate
// budgets. Any other client error fails immediately.
type RetryPolicy struct {
	RateLimitRetries int           `mapstructure:"rate_limit_retries"`
	TransientRetries int           `mapstructure:"transient_retries"`
	Delay            time.Duration `mapstructure:"delay"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RateLimitRetries: 3, TransientRetries: 5, Delay: time.Second}
}

type failureClass int

const (
	failPermanent failureClass = iota
	failRateLimit
	failTransient
)

func classify(err error) failureClass {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RateLimited():
			return failRateLimit
		case apiErr.Transient():
			return failTransient
		default:
			return failPermanent
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return failPermanent
	}
	return failTransient
}

// retry runs fn until it succeeds, the policy gives up, or ctx ends.
// onRetry is called before each wait.
func (p RetryPolicy) retry(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	var rateLimited, transient int
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		switch classify(err) {
		case failRateLimit:
			rateLimited++
			if rateLimited > p.RateLimitRetries {
				return err
			}
		case failTransient:
			transient++
			if transient > p.TransientRetries {
				return err
			}
		default:
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}
		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
}
