package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Endpoint is one client for a remote service.
type Endpoint[C any] struct {
	Name    string
	Client  C
	Breaker *CircuitBreaker
}

// Route pairs a primary endpoint with an optional fallback.
type Route[C any] struct {
	Primary  Endpoint[C]
	Fallback *Endpoint[C]
	// Timeout bounds each attempt. Zero means the caller's context alone bounds it.
	Timeout time.Duration
}

// HasFallback reports whether the route can retry elsewhere.
func (r Route[C]) HasFallback() bool { return r.Fallback != nil }

// FallbackError carries both failures of a call that exhausted its route.
// It unwraps to the fallback's error, so Classify reports the final outcome.
type FallbackError struct {
	Primary  error
	Fallback error
}

func (e *FallbackError) Error() string {
	return multierr.Combine(
		eris.Wrap(e.Primary, "primary"),
		eris.Wrap(e.Fallback, "fallback"),
	).Error()
}

func (e *FallbackError) Unwrap() error { return e.Fallback }

// Call runs fn against the route's primary endpoint and, on a timeout or
// endpoint failure, exactly once against the fallback. Application failures
// return immediately. A primary whose breaker is open is skipped and counts
// as an endpoint failure. Worst-case latency is two timeouts.
func Call[C, T any](ctx context.Context, r Route[C], op string, fn func(ctx context.Context, client C) (T, error)) (T, error) {
	var zero T

	val, err := attempt(ctx, r.Primary, r.Timeout, op, fn)
	if err == nil {
		return val, nil
	}
	if r.Fallback == nil || !ShouldFallback(err) || ctx.Err() != nil {
		return zero, err
	}

	zap.L().Debug("resilience: primary failed, trying fallback",
		zap.String("op", op),
		zap.String("primary", r.Primary.Name),
		zap.String("fallback", r.Fallback.Name),
		zap.Stringer("kind", Classify(err)),
		zap.Error(err),
	)

	val, ferr := attempt(ctx, *r.Fallback, r.Timeout, op, fn)
	if ferr == nil {
		return val, nil
	}
	return zero, &FallbackError{Primary: err, Fallback: ferr}
}

func attempt[C, T any](ctx context.Context, ep Endpoint[C], timeout time.Duration, op string, fn func(context.Context, C) (T, error)) (T, error) {
	val, err := ExecuteVal(ctx, ep.Breaker, func(ctx context.Context) (T, error) {
		return bounded(ctx, ep, timeout, op, fn)
	})
	if errors.Is(err, ErrCircuitOpen) {
		var zero T
		return zero, &EndpointError{Endpoint: ep.Name, Err: err}
	}
	return val, err
}

// bounded runs fn on its own goroutine so a client that ignores its
// context still cannot hold the caller past the deadline.
func bounded[C, T any](ctx context.Context, ep Endpoint[C], timeout time.Duration, op string, fn func(context.Context, C) (T, error)) (T, error) {
	var zero T
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: eris.Errorf("%s %s: panic: %v", ep.Name, op, p)}
			}
		}()
		v, err := fn(callCtx, ep.Client)
		done <- result{val: v, err: err}
	}()

	var res result
	select {
	case res = <-done:
		// A client that honours the deadline returns its own wrapped error.
		if res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.err = &TimeoutError{Endpoint: ep.Name, Op: op, After: timeout}
		}
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			res.err = err
		} else {
			res.err = &TimeoutError{Endpoint: ep.Name, Op: op, After: timeout}
		}
	}

	if res.err != nil {
		return zero, res.err
	}
	return res.val, nil
}
