// Package pool executes batches of work items with bounded parallelism and
// cooperative cancellation.
package pool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"certcrawler/pkg/utils"
)

// Status is the settled outcome class of a single work item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusStopped Status = "stopped" // cancelled before or during the attempt
)

// Outcome records how one input item settled. The pool returns exactly one
// Outcome per input item, in input order.
type Outcome[T any] struct {
	Item     T
	Index    int
	Status   Status
	Err      error
	Duration time.Duration
}

// Worker processes a single item. It must observe ctx at every suspension
// point (request, navigation, delay) and return promptly once ctx is done.
type Worker[T any] func(ctx context.Context, item T) error

// Run executes worker over items keeping exactly min(concurrency,
// len(items)) workers in flight; as each finishes the next queued item is
// dispatched. Per-item failures never abort the pool: Run returns only
// after every item has settled (success, error, or stopped), and the caller
// inspects the outcomes afterward. After cancellation is observed no new
// items are dispatched; not-yet-started items settle as StatusStopped
// without running.
func Run[T any](ctx context.Context, items []T, concurrency int, worker Worker[T], log *logrus.Entry) []Outcome[T] {
	outcomes := make([]Outcome[T], len(items))
	if len(items) == 0 {
		return outcomes
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	done := make(chan int, len(items)) // indices of settled items

	dispatched := 0
	for i := range items {
		// Acquire blocks until a worker slot frees up or ctx is cancelled,
		// which is what bounds the in-flight count.
		if err := sem.Acquire(ctx, 1); err != nil {
			log.WithFields(logrus.Fields{"dispatched": dispatched, "remaining": len(items) - i}).
				Warnf("Pool cancelled while dispatching: %v", err)
			break
		}
		dispatched++

		go func(idx int) {
			defer sem.Release(1)
			start := time.Now()
			err := worker(ctx, items[idx])
			outcome := Outcome[T]{Item: items[idx], Index: idx, Duration: time.Since(start)}
			switch {
			case err == nil:
				outcome.Status = StatusSuccess
			case utils.IsStopped(err):
				outcome.Status = StatusStopped
				outcome.Err = err
			default:
				outcome.Status = StatusError
				outcome.Err = err
			}
			outcomes[idx] = outcome
			done <- idx
		}(i)
	}

	// Items never dispatched settle as stopped without running.
	for i := dispatched; i < len(items); i++ {
		outcomes[i] = Outcome[T]{
			Item:   items[i],
			Index:  i,
			Status: StatusStopped,
			Err:    utils.ErrCrawlStopped,
		}
	}

	// Wait for every in-flight worker to settle. Workers self-abort on ctx,
	// so this completes within one timeout interval of cancellation.
	for settled := 0; settled < dispatched; settled++ {
		<-done
	}

	return outcomes
}

// CountByStatus tallies outcomes per status class.
func CountByStatus[T any](outcomes []Outcome[T]) map[Status]int {
	counts := make(map[Status]int, 3)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return counts
}

// Failed returns the outcomes that settled as errors (stopped items are
// intentional and excluded).
func Failed[T any](outcomes []Outcome[T]) []Outcome[T] {
	var failed []Outcome[T]
	for _, o := range outcomes {
		if o.Status == StatusError {
			failed = append(failed, o)
		}
	}
	return failed
}
