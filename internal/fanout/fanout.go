// Package fanout runs independent tasks concurrently under one of two
// explicit failure policies.
//
// All is all-or-nothing: the first error cancels the shared context and is
// returned. Settle isolates failures: every task runs to completion and the
// caller receives one Result per task.
package fanout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work that honours context cancellation.
type Task func(ctx context.Context) error

// Result is the outcome of one task run by Settle.
type Result struct {
	Index int
	Err   error
}

// All runs tasks concurrently and returns the first error. The context
// passed to the remaining tasks is cancelled once any task fails.
func All(ctx context.Context, tasks ...Task) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}

// Settle runs tasks concurrently, waits for all of them and returns their
// results in task order. A failing task never affects its siblings.
func Settle(ctx context.Context, tasks ...Task) []Result {
	results := make([]Result, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, task := range tasks {
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = Result{Index: i, Err: task(ctx)}
		}(i, task)
	}
	wg.Wait()
	return results
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}
