package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terminalOpts(extra func(*Options[string])) Options[string] {
	opts := Options[string]{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
		IsTerminal:  func(s string) bool { return s == "done" || s == "failed" },
		IsSuccess:   func(s string) bool { return s == "done" },
	}
	if extra != nil {
		extra(&opts)
	}
	return opts
}

func TestPollReturnsPayloadOnTerminalSuccess(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		n := calls.Add(1)
		if n < 3 {
			return Tick[string]{Status: "processing"}, nil
		}
		return Tick[string]{Status: "done", Payload: "result"}, nil
	}

	got, err := Poll(context.Background(), fetch, terminalOpts(nil))
	require.NoError(t, err)
	assert.Equal(t, "result", got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollTimesOutAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		calls.Add(1)
		return Tick[string]{Status: "processing"}, nil
	}

	_, err := Poll(context.Background(), fetch, terminalOpts(func(o *Options[string]) {
		o.MaxAttempts = 4
	}))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(4), calls.Load(), "exactly MaxAttempts fetches, no wait after the last")
}

func TestPollReportsTerminalFailure(t *testing.T) {
	fetch := func(ctx context.Context) (Tick[string], error) {
		return Tick[string]{Status: "failed"}, nil
	}

	_, err := Poll(context.Background(), fetch, terminalOpts(nil))

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "failed", failed.Status)
}

func TestPollUnknownStatusKeepsPolling(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		n := calls.Add(1)
		if n == 1 {
			return Tick[string]{Status: "warming_up"}, nil
		}
		return Tick[string]{Status: "done", Payload: "ok"}, nil
	}

	got, err := Poll(context.Background(), fetch, terminalOpts(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestPollCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		if calls.Add(1) == 1 {
			cancel()
		}
		return Tick[string]{Status: "processing"}, nil
	}

	_, err := Poll(ctx, fetch, terminalOpts(func(o *Options[string]) {
		o.Interval = time.Hour
	}))
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(1), calls.Load(), "no attempts scheduled after cancellation")
}

func TestPollRetriesTransientFetchErrors(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		if calls.Add(1) == 1 {
			return Tick[string]{}, errors.New("connection reset")
		}
		return Tick[string]{Status: "done", Payload: "ok"}, nil
	}

	got, err := Poll(context.Background(), fetch, terminalOpts(nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestPollAbandonsAfterRepeatedFetchErrors(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	fetch := func(ctx context.Context) (Tick[string], error) {
		calls.Add(1)
		return Tick[string]{}, boom
	}

	_, err := Poll(context.Background(), fetch, terminalOpts(nil))

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, fetchRetryAttempts, transport.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(fetchRetryAttempts), calls.Load())
}

func TestPollConsumesInitialTick(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		calls.Add(1)
		return Tick[string]{Status: "done", Payload: "fetched"}, nil
	}

	got, err := Poll(context.Background(), fetch, terminalOpts(func(o *Options[string]) {
		o.Initial = &Tick[string]{Status: "done", Payload: "initial"}
	}))
	require.NoError(t, err)
	assert.Equal(t, "initial", got)
	assert.Equal(t, int32(0), calls.Load(), "terminal initial tick needs no fetch")
}

func TestPollInitialCountsAgainstBudget(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		calls.Add(1)
		return Tick[string]{Status: "processing"}, nil
	}

	_, err := Poll(context.Background(), fetch, terminalOpts(func(o *Options[string]) {
		o.MaxAttempts = 3
		o.Initial = &Tick[string]{Status: "queued"}
	}))
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPollFetchResultRunsOnceOnSuccess(t *testing.T) {
	var resultCalls atomic.Int32
	fetch := func(ctx context.Context) (Tick[string], error) {
		return Tick[string]{Status: "done", Payload: "status-payload"}, nil
	}

	got, err := Poll(context.Background(), fetch, terminalOpts(func(o *Options[string]) {
		o.FetchResult = func(ctx context.Context) (string, error) {
			resultCalls.Add(1)
			return "artifact", nil
		}
	}))
	require.NoError(t, err)
	assert.Equal(t, "artifact", got)
	assert.Equal(t, int32(1), resultCalls.Load())
}

func TestPollFetchResultSkippedOnFailure(t *testing.T) {
	fetch := func(ctx context.Context) (Tick[string], error) {
		return Tick[string]{Status: "failed"}, nil
	}

	_, err := Poll(context.Background(), fetch, terminalOpts(func(o *Options[string]) {
		o.FetchResult = func(ctx context.Context) (string, error) {
			t.Fatal("FetchResult must not run for failed jobs")
			return "", nil
		}
	}))

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
}

func TestPollRequiresIsTerminal(t *testing.T) {
	fetch := func(ctx context.Context) (Tick[string], error) {
		return Tick[string]{Status: "done"}, nil
	}

	_, err := Poll(context.Background(), fetch, Options[string]{Interval: time.Millisecond})
	require.Error(t, err)
}
