// Package retry bounds retries of transient remote key service
// failures with exponential backoff and jitter. Only errors classified
// as transient RemoteServiceErrors are retried; everything else
// surfaces immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cloudflare/backoff"

	"github.com/cloudsign/kmssigner"
	"github.com/cloudsign/kmssigner/internal/metrics"
)

// Policy is a stateless retry policy shared by every remote call site.
type Policy struct {
	// MaxAttempts bounds the total number of calls, first try included.
	MaxAttempts int
	// Interval is the base backoff delay before the first retry.
	Interval time.Duration
	// MaxInterval caps a single backoff delay.
	MaxInterval time.Duration
	// MaxElapsed bounds the total time spent across attempts. Zero
	// means no elapsed-time bound.
	MaxElapsed time.Duration
}

// Default is the policy both the resolver and the signing engine use.
var Default = Policy{
	MaxAttempts: 5,
	Interval:    100 * time.Millisecond,
	MaxInterval: 2 * time.Second,
	MaxElapsed:  30 * time.Second,
}

// Do runs fn under the policy. A transient failure is retried after a
// jittered backoff delay until the attempt or elapsed budget runs out,
// at which point the last failure is surfaced with Exhausted set.
// Context cancellation aborts pending waits and surfaces
// CancelledError.
func (p Policy) Do(ctx context.Context, call string, fn func(context.Context) error) error {
	b := backoff.New(p.MaxInterval, p.Interval)
	start := time.Now()
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last *kmssigner.RemoteServiceError
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			metrics.LogRetry(call)
			t := time.NewTimer(b.Duration())
			select {
			case <-ctx.Done():
				t.Stop()
				metrics.LogFailure(call, "cancelled")
				return &kmssigner.CancelledError{Err: ctx.Err()}
			case <-t.C:
			}
		}

		begin := time.Now()
		err := fn(ctx)
		metrics.LogCallDuration(call, begin)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			metrics.LogFailure(call, "cancelled")
			return &kmssigner.CancelledError{Err: ctx.Err()}
		}

		var rerr *kmssigner.RemoteServiceError
		if !errors.As(err, &rerr) || !rerr.Transient {
			metrics.LogFailure(call, "permanent")
			return err
		}
		last = rerr

		if p.MaxElapsed > 0 && time.Since(start) >= p.MaxElapsed {
			break
		}
	}

	metrics.LogFailure(call, "exhausted")
	return &kmssigner.RemoteServiceError{
		KeyReference: last.KeyReference,
		Call:         last.Call,
		Transient:    true,
		Exhausted:    true,
		Err:          last.Err,
	}
}
