package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudsign/kmssigner"
)

var fast = Policy{
	MaxAttempts: 5,
	Interval:    time.Millisecond,
	MaxInterval: 4 * time.Millisecond,
}

func transientErr() error {
	return &kmssigner.RemoteServiceError{KeyReference: "key", Call: "Sign", Transient: true, Err: errors.New("throttled")}
}

func permanentErr() error {
	return &kmssigner.RemoteServiceError{KeyReference: "key", Call: "Sign", Transient: false, Err: errors.New("denied")}
}

func TestTransientFailuresThenSuccess(t *testing.T) {
	require := require.New(t)

	calls := 0
	err := fast.Do(context.Background(), "Sign", func(context.Context) error {
		calls++
		if calls <= 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(err)
	require.Equal(4, calls)
}

func TestTransientFailuresExhaustBudget(t *testing.T) {
	require := require.New(t)

	calls := 0
	err := fast.Do(context.Background(), "Sign", func(context.Context) error {
		calls++
		return transientErr()
	})
	require.Equal(fast.MaxAttempts, calls)

	var rerr *kmssigner.RemoteServiceError
	require.ErrorAs(err, &rerr)
	require.True(rerr.Transient)
	require.True(rerr.Exhausted)
	require.Equal("Sign", rerr.Call)
}

func TestPermanentFailureNotRetried(t *testing.T) {
	require := require.New(t)

	calls := 0
	err := fast.Do(context.Background(), "Sign", func(context.Context) error {
		calls++
		return permanentErr()
	})
	require.Equal(1, calls)

	var rerr *kmssigner.RemoteServiceError
	require.ErrorAs(err, &rerr)
	require.False(rerr.Transient)
	require.False(rerr.Exhausted)
}

func TestUnclassifiedFailureNotRetried(t *testing.T) {
	require := require.New(t)

	calls := 0
	boom := errors.New("not a service error")
	err := fast.Do(context.Background(), "Sign", func(context.Context) error {
		calls++
		return boom
	})
	require.Equal(1, calls)
	require.ErrorIs(err, boom)
}

func TestCancelDuringBackoffWait(t *testing.T) {
	require := require.New(t)

	slow := Policy{MaxAttempts: 3, Interval: time.Minute, MaxInterval: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- slow.Do(ctx, "Sign", func(context.Context) error {
			calls++
			return transientErr()
		})
	}()

	// let the first attempt fail, then cancel mid-wait
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var cerr *kmssigner.CancelledError
		require.ErrorAs(err, &cerr)
		require.ErrorIs(err, context.Canceled)
		require.Equal(1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not abort the backoff wait")
	}
}

func TestElapsedBudget(t *testing.T) {
	require := require.New(t)

	bounded := Policy{MaxAttempts: 100, Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsed: 10 * time.Millisecond}
	calls := 0
	err := bounded.Do(context.Background(), "Sign", func(context.Context) error {
		calls++
		time.Sleep(5 * time.Millisecond)
		return transientErr()
	})

	var rerr *kmssigner.RemoteServiceError
	require.ErrorAs(err, &rerr)
	require.True(rerr.Exhausted)
	require.Less(calls, 100)
}
