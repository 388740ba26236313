package retry

import (
	"context"
	"time"

	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

// Classifier maps an error to its kind and HTTP status (0 when unknown).
type Classifier func(err error) (model.ErrorType, int)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Event describes one failed attempt that will be retried.
type Event struct {
	Attempt    int
	ErrorType  model.ErrorType
	HTTPStatus int
	Delay      time.Duration
	Err        error
}

// Executor runs a call under a RetryPolicy.
type Executor struct {
	Policy   RetryPolicy
	Classify Classifier
	Sleep    Sleeper
	// OnRetry, when set, is called before each backoff.
	OnRetry func(Event)
}

// Outcome is the result of Do. Retries is the number of attempts consumed
// before the final one; an exhausted call reports the policy's max retries.
type Outcome[T any] struct {
	Value      T
	Retries    int
	ErrorType  model.ErrorType
	HTTPStatus int
	Err        error
}

// Failed reports whether the call ended in an error.
func (o Outcome[T]) Failed() bool {
	return o.Err != nil
}

// ContextSleeper sleeps with time.Timer and stops early when ctx is done.
func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails with a non-retryable kind, or the
// retries are exhausted. Cancellation and a BatchError that forbids retries
// stop it whatever the kind. The last error and its classification are returned.
func Do[T any](ctx context.Context, ex *Executor, fn func(ctx context.Context) (T, error)) Outcome[T] {
	sleep := ex.Sleep
	if sleep == nil {
		sleep = ContextSleeper
	}
	maxRetries := ex.Policy.GetMaxRetries()
	var out Outcome[T]
	for attempt := 0; ; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return Outcome[T]{Value: value, Retries: attempt}
		}
		errType, status := ex.Classify(err)
		out = Outcome[T]{Retries: attempt, ErrorType: errType, HTTPStatus: status, Err: err}
		if exception.IsErrorOfType(err, "context.Canceled") {
			return out
		}
		if exception.IsBatchError(err) && !exception.IsRetryable(err) {
			return out
		}
		if !ex.Policy.ShouldRetry(errType) || attempt >= maxRetries {
			return out
		}
		delay := ex.Policy.GetBackoffInterval(attempt)
		if ex.OnRetry != nil {
			ex.OnRetry(Event{Attempt: attempt, ErrorType: errType, HTTPStatus: status, Delay: delay, Err: err})
		}
		if serr := sleep(ctx, delay); serr != nil {
			return out
		}
	}
}
