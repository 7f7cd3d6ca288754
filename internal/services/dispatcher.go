package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"welth/internal/core"
	"welth/internal/throttle"
)

// DueScanner lists recurring templates owed a processing attempt.
type DueScanner interface {
	ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error)
}

// WorkPublisher hands a due template to the worker queue.
type WorkPublisher interface {
	PublishRecurringWork(ctx context.Context, transactionID, userID string) error
}

// Processor settles one recurring work item.
type Processor interface {
	Process(ctx context.Context, transactionID string) error
}

// Dispatcher scans for due recurring templates on a fixed cadence and fans
// each one out as a work item. With no publisher configured it degrades to
// processing inline, throttled per user, so a missing broker never stalls
// recurring transactions.
type Dispatcher struct {
	store     DueScanner
	publisher WorkPublisher
	processor Processor
	limiter   *throttle.Limiter
	now       func() time.Time
}

func NewDispatcher(store DueScanner, publisher WorkPublisher, processor Processor, limiter *throttle.Limiter) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		processor: processor,
		limiter:   limiter,
		now:       time.Now,
	}
}

// DispatchDue emits one work item per due template. Every due template at
// scan time gets exactly one dispatch attempt; per-item failures are logged
// and do not block the rest of the scan.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	now := d.now()

	due, err := d.store.ListDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("scan due recurring transactions: %w", err)
	}

	slog.InfoContext(ctx, "Dispatching due recurring transactions",
		"due", len(due),
		"scan_time", now.Format(time.RFC3339))

	dispatched := 0
	for _, template := range due {
		if d.publisher != nil {
			if err := d.publisher.PublishRecurringWork(ctx, template.ID, template.UserID); err != nil {
				slog.ErrorContext(ctx, "Failed to publish work item",
					"transaction_id", template.ID,
					"user_id", template.UserID,
					"error", err)
				continue
			}
			dispatched++
			continue
		}

		// Inline fallback: the per-user cap applies here because no worker
		// queue is smoothing the load.
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, template.UserID); err != nil {
				return dispatched, err
			}
		}
		if err := d.processor.Process(ctx, template.ID); err != nil {
			slog.ErrorContext(ctx, "Inline processing failed",
				"transaction_id", template.ID,
				"error", err)
			continue
		}
		dispatched++
	}

	slog.InfoContext(ctx, "Dispatch complete",
		"dispatched", dispatched,
		"total_due", len(due))

	return dispatched, nil
}
