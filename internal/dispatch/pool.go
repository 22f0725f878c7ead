// Package dispatch implements the bounded worker pool that drives
// multi-profile operations. A single FIFO queue feeds min(concurrency,
// items) workers; every item produces exactly one outcome and one item's
// failure never aborts its siblings.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

// Outcome records the result of one work item. Failures carry the error;
// panics inside the task are recovered and folded in the same way.
type Outcome[T any] struct {
	Item     T
	Success  bool
	Err      error
	Duration time.Duration
}

// RunBounded drains items through at most concurrency workers and returns
// one outcome per attempted item, in completion order.
//
// The call returns only after every attempted item has an outcome. When
// ctx is cancelled mid-run, workers finish their current item, queued
// items are never started, and the partial outcomes are returned together
// with ctx.Err().
func RunBounded[T any](ctx context.Context, items []T, concurrency int, task func(context.Context, T) error) ([]Outcome[T], error) {
	if concurrency <= 0 {
		return nil, schemas.NewError(schemas.KindValidation, "concurrency must be a positive integer, got %d", concurrency)
	}
	if len(items) == 0 {
		return nil, nil
	}

	workers := concurrency
	if len(items) < workers {
		workers = len(items)
	}

	// Buffered to queue length: the feed below never blocks, and a
	// channel receive is the atomic dequeue the workers share.
	queue := make(chan T, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	results := make(chan Outcome[T], len(items))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// Checked before the select: when cancellation and a
				// pending item are both ready, cancellation must win so
				// no queued item starts after a stop.
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case item, ok := <-queue:
					if !ok {
						return
					}
					results <- runOne(ctx, item, task)
				}
			}
		}()
	}

	wg.Wait()
	close(results)

	outcomes := make([]Outcome[T], 0, len(items))
	for o := range results {
		outcomes = append(outcomes, o)
	}

	if err := ctx.Err(); err != nil && len(outcomes) < len(items) {
		return outcomes, err
	}
	return outcomes, nil
}

// runOne executes the task with panic isolation. A panicking task marks
// its own item failed and nothing else.
func runOne[T any](ctx context.Context, item T, task func(context.Context, T) error) (out Outcome[T]) {
	start := time.Now()
	out = Outcome[T]{Item: item}

	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Success = false
			out.Err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := task(ctx, item); err != nil {
		out.Err = err
		return out
	}
	out.Success = true
	return out
}
