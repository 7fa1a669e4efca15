package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/folio/internal/store"
)

// Recover requeues a fresh run for every unsettled item that has no pending
// task, returning how many items it requeued. The queue deletes a task when
// a worker claims it, so a crash (or a shutdown that cancels a work unit
// mid-flight) can leave an item with no task that will ever run it; without
// this sweep the owning workflow would stay processing forever. Call it on
// startup before the workers begin draining.
//
// Requeued items start over with a fresh run and a zero retry counter. Any
// assistant run that was in flight when the process died is abandoned, the
// same way an unstable-response retry abandons one.
func Recover(ctx context.Context, st *store.Store, q *Queue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	items, err := st.UnsettledItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load unsettled items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	pending, err := q.PendingItemIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending tasks: %w", err)
	}

	requeued := 0
	for _, item := range items {
		if _, ok := pending[item.ID]; ok {
			continue
		}
		if err := q.EnqueueRun(ctx, item.ID, 0, 0); err != nil {
			return requeued, fmt.Errorf("failed to requeue item %s: %w", item.ID, err)
		}
		logger.Info("requeued stranded item", "item", item.ID, "status", item.Status)
		requeued++
	}
	return requeued, nil
}
