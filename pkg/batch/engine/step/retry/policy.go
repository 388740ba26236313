// Package retry implements the classify-then-backoff loop used for remote calls.
package retry

import (
	"math"
	"time"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
)

// RetryPolicy decides whether a classified failure is retried and how long to wait.
type RetryPolicy interface {
	// ShouldRetry reports whether a failure of the given kind may be retried.
	ShouldRetry(errType model.ErrorType) bool
	// GetBackoffInterval returns the wait after the failed attempt (starting at 0).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxRetries returns the number of retries after the first attempt.
	GetMaxRetries() int
}

// ExponentialPolicy waits BaseDelay * 2^attempt and retries every kind except
// SAFETY_BLOCKED and AUTH_ERROR.
type ExponentialPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// NewPolicy builds the policy from the retry configuration.
func NewPolicy(cfg config.RetryConfig) *ExponentialPolicy {
	return &ExponentialPolicy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  time.Duration(cfg.BaseDelay * float64(time.Second)),
	}
}

// GetMaxRetries implements RetryPolicy.
func (p *ExponentialPolicy) GetMaxRetries() int {
	return p.MaxRetries
}

// ShouldRetry implements RetryPolicy.
func (p *ExponentialPolicy) ShouldRetry(errType model.ErrorType) bool {
	return errType.IsRetryable()
}

// GetBackoffInterval implements RetryPolicy.
func (p *ExponentialPolicy) GetBackoffInterval(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// Verify interfaces
var _ RetryPolicy = (*ExponentialPolicy)(nil)
