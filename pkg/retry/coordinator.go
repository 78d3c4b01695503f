// Package retry re-runs failed work items in additional bounded rounds at a
// reduced concurrency.
package retry

import (
	"context"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/pool"
)

// FailedSet is the mutable failed-id set a retry round drains and lets the
// workers repopulate. The session owns the backing storage; the
// coordinator only snapshots and clears it.
type FailedSet[ID comparable] interface {
	// Snapshot returns the currently failed ids in a stable order.
	Snapshot() []ID
	// Clear empties the set without touching the error ledger.
	Clear()
}

// Worker processes one resolved item under a specific attempt number. The
// worker is responsible for its own per-item backoff delay and for
// repopulating the failed set (and the ledger, attempt-prefixed) when the
// attempt fails.
type Worker[T any] func(ctx context.Context, item T, attempt int) error

// Options bounds a retry run.
type Options struct {
	StartAttempt int // first retry attempt number (first pass is attempt 1)
	MaxAttempt   int // inclusive
	Concurrency  int // intentionally lower than the first-pass concurrency
}

// Rounds runs up to MaxAttempt-StartAttempt+1 retry rounds. Each round
// snapshots the failed set, clears it, and re-runs the snapshot through the
// pool; workers tag new failures with the round's attempt number. Stops
// early the moment a round ends with zero remaining failures, or when ctx
// is cancelled. Ids that resolve to no usable work item are dropped and
// logged, since they can never succeed. Returns the ids still failed.
func Rounds[ID comparable, T any](
	ctx context.Context,
	set FailedSet[ID],
	resolve func(ID) (T, bool),
	worker Worker[T],
	opts Options,
	log *logrus.Entry,
) []ID {
	for attempt := opts.StartAttempt; attempt <= opts.MaxAttempt; attempt++ {
		if ctx.Err() != nil {
			log.Warnf("Retry rounds aborted by cancellation before attempt %d", attempt)
			break
		}

		ids := set.Snapshot()
		if len(ids) == 0 {
			break
		}
		set.Clear()

		items := make([]T, 0, len(ids))
		dropped := 0
		for _, id := range ids {
			item, ok := resolve(id)
			if !ok {
				dropped++
				log.WithField("id", id).Warn("Dropping unretryable item with no usable identity")
				continue
			}
			items = append(items, item)
		}

		roundLog := log.WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_attempt": opts.MaxAttempt,
			"items":       len(items),
			"dropped":     dropped,
		})
		roundLog.Info("Starting retry round")

		outcomes := pool.Run(ctx, items, opts.Concurrency, func(ctx context.Context, item T) error {
			return worker(ctx, item, attempt)
		}, roundLog)

		counts := pool.CountByStatus(outcomes)
		roundLog.WithFields(logrus.Fields{
			"succeeded": counts[pool.StatusSuccess],
			"failed":    counts[pool.StatusError],
			"stopped":   counts[pool.StatusStopped],
		}).Info("Retry round finished")
	}

	return set.Snapshot()
}
