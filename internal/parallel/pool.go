package parallel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default concurrency ceilings for the three fan-out levels and the timing
// knobs shared by the pool and the retry wrapper.
const (
	DefaultRegionConcurrency  = 5
	DefaultServiceConcurrency = 10
	DefaultCheckConcurrency   = 20

	DefaultOperationTimeout = 30 * time.Second
	DefaultRetryAttempts    = 3
	DefaultRetryBaseDelay   = time.Second
)

// Options tunes one pool invocation.
type Options struct {
	// Concurrency caps how many items may be in flight at once.
	Concurrency int
	// Timeout bounds one item's processor call. Zero means
	// DefaultOperationTimeout.
	Timeout time.Duration
	// OnError, when set, is invoked for each failed item.
	OnError func(err error, item interface{})
}

// ItemError pairs a failed input item with its error. Index refers to the
// item's position in the input slice.
type ItemError[T any] struct {
	Index int
	Item  T
	Err   error
}

// PoolResult carries the successes, the captured per-item failures, and the
// wall-clock duration of the whole pool run. Results carry no ordering
// guarantee; callers that need one must tag items with their index.
type PoolResult[R any] struct {
	Results  []R
	Errors   []ItemError[interface{}]
	Duration time.Duration
}

// ExecutePool fans processor out over items under a bounded concurrency
// ceiling. Each item runs under its own timeout, and a failure is captured
// per item rather than aborting siblings: the pool always drains every item
// and reports partial completion through Errors.
func ExecutePool[T, R any](ctx context.Context, items []T, processor func(ctx context.Context, item T) (R, error), opts Options) PoolResult[R] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultCheckConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOperationTimeout
	}

	start := time.Now()
	result := PoolResult[R]{
		Results: make([]R, 0, len(items)),
		Errors:  []ItemError[interface{}]{},
	}

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, item := range items {
		// A cancelled scan stops scheduling new items; in-flight ones run
		// to completion and are still accounted for.
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors = append(result.Errors, ItemError[interface{}]{Index: i, Item: item, Err: err})
			mu.Unlock()
			if opts.OnError != nil {
				opts.OnError(err, item)
			}
			continue
		}

		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			defer sem.Release(1)

			value, err := runWithTimeout(ctx, opts.Timeout, it, processor)

			mu.Lock()
			if err != nil {
				result.Errors = append(result.Errors, ItemError[interface{}]{Index: idx, Item: it, Err: err})
			} else {
				result.Results = append(result.Results, value)
			}
			mu.Unlock()

			if err != nil && opts.OnError != nil {
				opts.OnError(err, it)
			}
		}(i, item)
	}

	wg.Wait()
	result.Duration = time.Since(start)
	return result
}

// runWithTimeout races processor against the item timeout. A processor that
// ignores its context is abandoned once the deadline passes; the item is
// reported as timed out either way.
func runWithTimeout[T, R any](ctx context.Context, timeout time.Duration, item T, processor func(ctx context.Context, item T) (R, error)) (R, error) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value R
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := processor(itemCtx, item)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		// A processor that honors its context reports the deadline itself;
		// normalize so both paths surface the same timeout error.
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			var zero R
			return zero, fmt.Errorf("%w after %s", ErrCheckTimeout, timeout)
		}
		return out.value, out.err
	case <-itemCtx.Done():
		var zero R
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrCheckTimeout, timeout)
	}
}

// ExecuteWithRetry runs operation up to attempts times, sleeping
// baseDelay*2^(n-1) between attempts. Context cancellation interrupts the
// backoff wait. The last error is returned once attempts are exhausted.
func ExecuteWithRetry[R any](ctx context.Context, operation func(ctx context.Context) (R, error), label string, attempts int, baseDelay time.Duration) (R, error) {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}

	var zero R
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		value, err := operation(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		// Errors positively identified as non-retryable fail fast; unknown
		// errors get the benefit of the backoff.
		if se := ClassifyError(label, "retry", err); !se.Retryable && se.Code != "UnknownError" {
			return zero, fmt.Errorf("%s: %w", label, err)
		}

		if attempt == attempts {
			break
		}

		delay := baseDelay * (1 << (attempt - 1))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, fmt.Errorf("%s: exhausted %d attempts: %w", label, attempts, lastErr)
}
