// Package syncer reconciles locally created records with the remote store.
// It runs independently from the onboarding flow; record creators that have
// already written their records remotely (or locally inside a transaction
// the remote will learn about another way) pre-register them with
// MarkAlreadySynced so the push pass never submits a duplicate.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/sparkgoals/spark/store"
)

// Pusher submits a batch of records to the remote store.
type Pusher interface {
	Push(ctx context.Context, records []*store.SyncRecord) error
}

// Store is the interface for store operations needed by the sync runner.
type Store interface {
	ListUnsyncedRecords(ctx context.Context, find *store.FindUnsyncedRecord) ([]*store.SyncRecord, error)
	MarkRecordsSynced(ctx context.Context, refs []string, syncedTs int64) error
}

type Runner struct {
	store     Store
	pusher    Pusher
	interval  time.Duration
	batchSize int
	kick      chan time.Duration
}

// NewRunner creates a background sync runner.
func NewRunner(store Store, pusher Pusher, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Runner{
		store:     store,
		pusher:    pusher,
		interval:  interval,
		batchSize: 50,
		kick:      make(chan time.Duration, 1),
	}
}

// Run starts the background task.
func (r *Runner) Run(ctx context.Context) {
	// Process once on startup
	r.processUnsynced(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ticker.C:
			r.processUnsynced(ctx)
		case delay := <-r.kick:
			timer := time.NewTimer(delay)
			pending = timer.C
		case <-pending:
			pending = nil
			r.processUnsynced(ctx)
		case <-ctx.Done():
			slog.Info("sync runner stopped")
			return
		}
	}
}

// RunOnce processes unsynced records once (for manual trigger).
func (r *Runner) RunOnce(ctx context.Context) {
	r.processUnsynced(ctx)
}

// MarkAlreadySynced stamps the given record refs as synchronized so the next
// pass skips them. Used by writers whose records must not be re-submitted.
func (r *Runner) MarkAlreadySynced(ctx context.Context, refs []string) error {
	return r.store.MarkRecordsSynced(ctx, refs, time.Now().Unix())
}

// ScheduleSync arms a one-shot sync pass after delay. Non-blocking; when a
// pass is already scheduled the call is a no-op.
func (r *Runner) ScheduleSync(delay time.Duration) {
	select {
	case r.kick <- delay:
	default:
	}
}

func (r *Runner) processUnsynced(ctx context.Context) {
	if r.pusher == nil {
		return
	}
	limit := r.batchSize * 4
	records, err := r.store.ListUnsyncedRecords(ctx, &store.FindUnsyncedRecord{Limit: &limit})
	if err != nil {
		slog.Error("failed to list unsynced records", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	slog.Info("pushing unsynced records", "count", len(records))

	for i := 0; i < len(records); i += r.batchSize {
		select {
		case <-ctx.Done():
			slog.Info("sync processing cancelled", "processed", i, "total", len(records))
			return
		default:
		}

		end := i + r.batchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		if err := r.pusher.Push(ctx, batch); err != nil {
			slog.Error("failed to push record batch", "error", err, "count", len(batch))
			return
		}

		refs := make([]string, 0, len(batch))
		for _, record := range batch {
			refs = append(refs, record.Ref())
		}
		if err := r.store.MarkRecordsSynced(ctx, refs, time.Now().Unix()); err != nil {
			slog.Error("failed to mark records synced", "error", err)
			return
		}
	}
}
