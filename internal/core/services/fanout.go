package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// fanOutResult is one backend's answer to a fan-out.
type fanOutResult[T any] struct {
	Entry BackendEntry
	Value T
	Err   error
	// Done is false when the backend missed the deadline.
	Done bool
}

// outcome converts the result to a BackendOutcome.
func (r fanOutResult[T]) outcome() domain.BackendOutcome {
	o := domain.BackendOutcome{
		Backend:  r.Entry.Name(),
		Priority: r.Entry.Descriptor.Priority,
		Status:   domain.OutcomeSuccess,
	}
	if r.Err != nil {
		o.Status = domain.OutcomeFailure
		o.Error = r.Err.Error()
	}
	return o
}

// fanOut calls fn for every entry concurrently and collects results until
// all have answered or the deadline passes. Entries still running at the
// deadline are reported as unavailable; their context is cancelled and
// whatever they return later is discarded. Results are in entry order.
func fanOut[T any](
	ctx context.Context,
	timeout time.Duration,
	op string,
	entries []BackendEntry,
	fn func(ctx context.Context, entry BackendEntry) (T, error),
) []fanOutResult[T] {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type answer struct {
		idx   int
		value T
		err   error
	}
	// Buffered so abandoned goroutines never block on send.
	answers := make(chan answer, len(entries))

	for i, e := range entries {
		go func() {
			defer func() {
				if p := recover(); p != nil {
					answers <- answer{idx: i, err: fmt.Errorf("%w: panic: %v", domain.ErrBackendUnavailable, p)}
				}
			}()
			v, err := fn(ctx, e)
			answers <- answer{idx: i, value: v, err: domain.NewBackendError(e.Name(), op, err)}
		}()
	}

	results := make([]fanOutResult[T], len(entries))
	for i, e := range entries {
		results[i].Entry = e
	}

	for remaining := len(entries); remaining > 0; remaining-- {
		select {
		case a := <-answers:
			results[a.idx].Value = a.value
			results[a.idx].Err = a.err
			results[a.idx].Done = true
		case <-ctx.Done():
			for i := range results {
				if !results[i].Done {
					results[i].Err = domain.NewBackendError(results[i].Entry.Name(), op,
						fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, ctx.Err()))
				}
			}
			return results
		}
	}
	return results
}
