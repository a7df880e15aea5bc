package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is one task's outcome from CollectAll/CollectAllWindowed: the
// Go analogue of async_simple's Try<T> — a task's own failure is
// recorded alongside its siblings' rather than aborting them. Grounded
// on original_source/thirdparty/async_simple/async_simple/coro/Collect.h's
// collectAll, which always awaits every input task to completion
// regardless of individual failures.
type Result[T any] struct {
	Value T
	Err   error
}

// CollectAll runs every task concurrently to completion and returns
// their results in input order — spec §5's "collectAll(...) on pending
// tasks" suspension point.
func CollectAll[T any](ctx context.Context, tasks ...func(context.Context) (T, error)) []Result[T] {
	return collectWindowed(ctx, 0, tasks)
}

// CollectAllWindowed is CollectAll bounded to at most maxConcurrency
// tasks in flight at a time, the Go equivalent of async_simple's
// collectAllWindowed batching. maxConcurrency <= 0 means unbounded.
func CollectAllWindowed[T any](ctx context.Context, maxConcurrency int, tasks ...func(context.Context) (T, error)) []Result[T] {
	return collectWindowed(ctx, maxConcurrency, tasks)
}

func collectWindowed[T any](ctx context.Context, maxConcurrency int, tasks []func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			v, err := task(gctx)
			results[i] = Result[T]{Value: v, Err: err}
			// A task's own error is recorded, not propagated: returning it
			// here would cancel gctx and abort the siblings still running,
			// which collectAll must not do.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// indexedResult pairs a CollectAny result with which task produced it.
type indexedResult[T any] struct {
	idx int
	res Result[T]
}

// CollectAny returns the index and result of whichever task finishes
// first (successfully or not) — the Go equivalent of async_simple's
// collectAny. The tasks that lose the race keep running to completion in
// the background; callers that need to bound that should pass a ctx they
// cancel once they have their answer.
func CollectAny[T any](ctx context.Context, tasks ...func(context.Context) (T, error)) (int, Result[T]) {
	ch := make(chan indexedResult[T], len(tasks))
	for i, task := range tasks {
		i, task := i, task
		go func() {
			v, err := task(ctx)
			ch <- indexedResult[T]{idx: i, res: Result[T]{Value: v, Err: err}}
		}()
	}
	first := <-ch
	return first.idx, first.res
}
