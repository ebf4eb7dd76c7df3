// Package workerpool runs a fixed number of workers over an ordered
// task list, the way the provider SDK's download fan-out does it: a
// buffered job channel for backpressure, results written straight
// into a slice by task index, and context cancellation to stop
// early on the first error. Unlike the SDK's downloader, Run reports
// results indexed by task position so callers can reassemble order
// even though tasks complete out of order.
package workerpool

import (
	"context"
	"sync"
)

// DefaultWorkers is used when a caller passes workers <= 0.
const DefaultWorkers = 8

// Task is one unit of work submitted to Run. index is the task's
// position in the input slice, not an execution order guarantee.
type Task[T any] func(ctx context.Context, index int) (T, error)

// Run executes tasks across workers concurrent workers, returning one
// result per task in input order. The submission queue is bounded by
// queueSize (DefaultWorkers if <= 0); when full, submission blocks,
// providing backpressure against producers that build tasks lazily.
//
// The first task to return an error cancels the context passed to
// every other task and stops further submission; Run still waits for
// in-flight tasks to finish before returning, and returns that first
// error alongside whatever partial results were computed.
func Run[T any](ctx context.Context, workers, queueSize int, tasks []Task[T]) ([]T, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultWorkers
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]T, len(tasks))

	type job struct {
		index int
		task  Task[T]
	}
	jobs := make(chan job, queueSize)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	recordErr := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-runCtx.Done():
					return
				default:
				}

				v, err := j.task(runCtx, j.index)
				if err != nil {
					recordErr(err)
					continue
				}
				results[j.index] = v
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, t := range tasks {
			select {
			case <-runCtx.Done():
				return
			case jobs <- job{index: i, task: t}:
			}
		}
	}()

	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
