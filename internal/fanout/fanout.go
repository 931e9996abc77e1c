// Package fanout runs one task per tenant with bounded concurrency:
// tenants are partitioned into sequential batches, tasks within a
// batch run concurrently, and a shared abort flag lets an error
// handler stop the traversal without cancelling in-flight tasks.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Action is an error handler's verdict.
type Action int

const (
	Continue Action = iota
	Abort
)

// SkippedMessage is the error text reported for tenants that were
// never attempted because a previous failure aborted the run.
const SkippedMessage = "Skipped due to abort"

// DefaultConcurrency is the batch size used when none is given.
const DefaultConcurrency = 10

// Result carries one tenant's outcome. Exactly one of Value/Err is
// meaningful unless Skipped is set.
type Result[T any] struct {
	TenantID string
	Value    T
	Err      error
	Skipped  bool
	Duration time.Duration
}

// Options controls a Run.
type Options struct {
	// Concurrency is the batch size; batches never overlap.
	Concurrency int

	// OnError is consulted after each task failure. Nil means Continue.
	OnError func(tenantID string, err error) Action

	// OnProgress fires after each settled task with the running tally.
	OnProgress func(completed, total int, tenantID string)
}

type skipError struct{}

func (skipError) Error() string { return SkippedMessage }

// Run executes fn once per tenant id. Results are returned in input
// order. In-flight tasks always run to completion; an abort only
// prevents tasks that have not started.
func Run[T any](ctx context.Context, tenantIDs []string, opts Options, fn func(ctx context.Context, tenantID string) (T, error)) []Result[T] {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]Result[T], len(tenantIDs))
	var aborted atomic.Bool
	var completed atomic.Int64
	var handlerMu sync.Mutex

	for batchStart := 0; batchStart < len(tenantIDs); batchStart += concurrency {
		batchEnd := min(batchStart+concurrency, len(tenantIDs))

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := tenantIDs[i]
				r := &results[i]
				r.TenantID = id

				if aborted.Load() || ctx.Err() != nil {
					r.Skipped = true
					r.Err = skipError{}
					return
				}

				start := time.Now()
				v, err := fn(ctx, id)
				r.Duration = time.Since(start)
				r.Value = v
				r.Err = err

				done := int(completed.Add(1))
				if opts.OnProgress != nil {
					opts.OnProgress(done, len(tenantIDs), id)
				}

				if err == nil {
					return
				}
				handlerMu.Lock()
				defer handlerMu.Unlock()
				if opts.OnError != nil && opts.OnError(id, err) == Abort {
					aborted.Store(true)
				}
			}()
		}
		wg.Wait()

		// Batch k+1 starts only after every task of batch k settled.
	}
	return results
}
