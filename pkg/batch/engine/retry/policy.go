// Package retry provides the bounded retry policy used around transient
// infrastructure faults, such as staging transactions that lose a
// serialization race.
package retry

import (
	"context"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// RetryPolicy decides whether an error is worth another attempt and how long
// to wait before it.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// Backoff returns the waiting time before the attempt following the given
	// one. attempt starts at 1.
	Backoff(attempt int) time.Duration
	// MaxAttempts returns the total attempt budget, including the first try.
	MaxAttempts() int
}

// NewPolicy creates a RetryPolicy with an exponentially growing backoff.
// retryableNames lists error type names or message substrings that are
// retryable in addition to errors already classified as temporary; names are
// matched through the exception registry.
func NewPolicy(maxAttempts int, initialBackoff time.Duration, retryableNames []string) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if initialBackoff <= 0 {
		initialBackoff = 100 * time.Millisecond
	}
	return &backoffPolicy{
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		retryableNames: retryableNames,
	}
}

type backoffPolicy struct {
	maxAttempts    int
	initialBackoff time.Duration
	retryableNames []string
}

var _ RetryPolicy = (*backoffPolicy)(nil)

func (p *backoffPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry classifies an error. A BatchError decides through its retryable
// flag, everything else through the temporary-error heuristics and the
// configured name list.
func (p *backoffPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if be, ok := err.(*exception.BatchError); ok {
		return be.IsRetryable()
	}

	if exception.IsTemporary(err) {
		return true
	}

	for _, typeName := range p.retryableNames {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}

	return false
}

// Backoff doubles the initial interval per completed attempt.
func (p *backoffPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

// Execute runs op under the policy, waiting the policy's backoff between
// attempts. The last attempt's error is returned once the budget is spent or
// the error is classified as not retryable. A context cancellation during
// backoff aborts immediately, joining the context error onto the attempt's.
func Execute(ctx context.Context, policy RetryPolicy, opName string, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxAttempts() || !policy.ShouldRetry(err) {
			return err
		}

		backoff := policy.Backoff(attempt)
		logger.Warnf("Retry: %s attempt %d/%d failed: %v. Retrying in %s.",
			opName, attempt, policy.MaxAttempts(), err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return multierror.Append(err, ctx.Err())
		case <-timer.C:
		}
	}
}
