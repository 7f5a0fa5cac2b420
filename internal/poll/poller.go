// Package poll implements bounded fixed-interval polling of long-running
// remote jobs. Fitting and analysis jobs have roughly uniform latency
// distributions, so a fixed interval without back-off keeps both the
// latency-to-detect and the code small.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultInterval is the delay between status fetches.
	DefaultInterval = 3 * time.Second
	// DefaultMaxAttempts bounds the number of status fetches (~60s budget
	// at the default interval).
	DefaultMaxAttempts = 20

	// Transport failures on a single tick are retried within this
	// sub-budget before the whole poll is abandoned. This distinguishes
	// "the remote job failed" from "we lost the ability to ask about it".
	fetchRetryAttempts  = 3
	fetchRetryBaseDelay = 200 * time.Millisecond
	fetchRetryMaxDelay  = 2 * time.Second
)

var (
	// ErrTimeout is returned when the attempt budget is exhausted without
	// the job reaching a terminal status.
	ErrTimeout = errors.New("poll: job did not reach a terminal status in time")

	// ErrCancelled is returned when the caller's context is cancelled. No
	// further attempts are scheduled once it is observed.
	ErrCancelled = errors.New("poll: cancelled")

	errTerminalRequired = errors.New("poll: IsTerminal is required")
)

// FailedError reports a job that reached a terminal non-success status.
type FailedError struct {
	Status string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("poll: job failed with terminal status %q", e.Status)
}

// TransportError reports that the status fetch itself kept failing and the
// poll was abandoned.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poll: status fetch failed %d times: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Tick is one observed job status, with whatever payload accompanied it.
type Tick[T any] struct {
	Status  string
	Payload T
}

// Options controls a single Poll run.
type Options[T any] struct {
	// Interval between status fetches. Defaults to DefaultInterval.
	Interval time.Duration
	// MaxAttempts bounds the total number of status observations,
	// including Initial. Defaults to DefaultMaxAttempts.
	MaxAttempts int
	// IsTerminal reports whether a status admits no further transitions.
	// Required. Statuses that are not terminal keep the poll running, so
	// unknown in-progress labels never abort it.
	IsTerminal func(status string) bool
	// IsSuccess reports whether a terminal status is a success. When nil,
	// every terminal status is treated as success.
	IsSuccess func(status string) bool
	// Initial, when set, is consumed as the first attempt without a fetch.
	// Callers that already hold a status from the job-creating call use
	// this to avoid a redundant round-trip.
	Initial *Tick[T]
	// FetchResult, when set, runs exactly once after a terminal success
	// and its value is returned instead of the final tick's payload. Used
	// when status and result are separate resources.
	FetchResult func(ctx context.Context) (T, error)
}

// Poll fetches the job status until it is terminal or the attempt budget is
// exhausted. On terminal success it returns the payload (or the FetchResult
// value); on terminal failure it returns a FailedError carrying the status.
func Poll[T any](ctx context.Context, fetch func(ctx context.Context) (Tick[T], error), opts Options[T]) (T, error) {
	var zero T

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if opts.IsTerminal == nil {
		return zero, errTerminalRequired
	}
	isSuccess := opts.IsSuccess
	if isSuccess == nil {
		isSuccess = func(string) bool { return true }
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var tick Tick[T]
		if attempt == 1 && opts.Initial != nil {
			tick = *opts.Initial
		} else {
			var err error
			tick, err = fetchWithRetry(ctx, fetch)
			if err != nil {
				return zero, err
			}
		}

		if opts.IsTerminal(tick.Status) {
			if !isSuccess(tick.Status) {
				return zero, &FailedError{Status: tick.Status}
			}
			if opts.FetchResult != nil {
				result, err := opts.FetchResult(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return zero, cancelled(ctx)
					}
					return zero, fmt.Errorf("fetch terminal result: %w", err)
				}
				return result, nil
			}
			return tick.Payload, nil
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, cancelled(ctx)
		case <-time.After(interval):
		}
	}

	return zero, ErrTimeout
}

// fetchWithRetry performs one polling tick, absorbing transient transport
// failures with capped exponential backoff.
func fetchWithRetry[T any](ctx context.Context, fetch func(ctx context.Context) (Tick[T], error)) (Tick[T], error) {
	var last error
	delay := fetchRetryBaseDelay

	for i := 0; i < fetchRetryAttempts; i++ {
		if ctx.Err() != nil {
			return Tick[T]{}, cancelled(ctx)
		}

		tick, err := fetch(ctx)
		if err == nil {
			return tick, nil
		}
		if ctx.Err() != nil {
			return Tick[T]{}, cancelled(ctx)
		}
		last = err

		if i < fetchRetryAttempts-1 {
			select {
			case <-ctx.Done():
				return Tick[T]{}, cancelled(ctx)
			case <-time.After(delay):
			}
			delay *= 2
			if delay > fetchRetryMaxDelay {
				delay = fetchRetryMaxDelay
			}
		}
	}

	return Tick[T]{}, &TransportError{Attempts: fetchRetryAttempts, Err: last}
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
}
