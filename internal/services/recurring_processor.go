// Package services holds the scheduling core: processing recurring
// transactions, dispatching due work, evaluating budget thresholds, and
// generating monthly reports. Every unit of work is independent; failures are
// isolated per unit and logged rather than propagated across the batch.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"welth/internal/core"
	"welth/internal/storage"
)

// TemplateStore is the slice of the data store the processor needs.
type TemplateStore interface {
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)
	ApplyOccurrence(ctx context.Context, template, occurrence core.Transaction, next, processedAt time.Time) error
}

// RecurringProcessor handles one due recurring template per invocation:
// it clones the template into a new occurrence, applies the balance effect,
// and advances the template's schedule, all in one atomic store operation.
type RecurringProcessor struct {
	store TemplateStore
	now   func() time.Time
}

func NewRecurringProcessor(store TemplateStore) *RecurringProcessor {
	return &RecurringProcessor{store: store, now: time.Now}
}

// Process executes one work item. Work may be delivered more than once; the
// re-fetch here plus the store's due-ness predicate make duplicates harmless.
// A nil return means the item is settled (processed, already processed, or
// abandoned as bad data); an error means the item should be retried.
func (p *RecurringProcessor) Process(ctx context.Context, transactionID string) error {
	now := p.now()

	template, err := p.store.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.WarnContext(ctx, "Recurring template missing, abandoning work item",
				"transaction_id", transactionID)
			return nil
		}
		return fmt.Errorf("fetch template: %w", err)
	}

	if !template.IsRecurring || template.Status != core.Completed {
		slog.WarnContext(ctx, "Transaction is not an active recurring template, skipping",
			"transaction_id", transactionID,
			"recurring", template.IsRecurring,
			"status", template.Status)
		return nil
	}

	if !template.RecurringInterval.Valid() {
		slog.ErrorContext(ctx, "Recurring template has an invalid interval, abandoning",
			"transaction_id", transactionID,
			"interval", template.RecurringInterval)
		return nil
	}

	if !template.IsDue(now) {
		slog.InfoContext(ctx, "Template no longer due, skipping",
			"transaction_id", transactionID,
			"next_recurring_date", template.NextRecurringDate)
		return nil
	}

	occurrence := core.Transaction{
		ID:          uuid.New().String(),
		UserID:      template.UserID,
		AccountID:   template.AccountID,
		Type:        template.Type,
		Amount:      template.Amount,
		Description: template.Description + " (Recurring)",
		Category:    template.Category,
		Date:        now,
		Status:      core.Completed,
	}
	next := core.NextOccurrence(now, template.RecurringInterval)

	if err := p.store.ApplyOccurrence(ctx, *template, occurrence, next, now); err != nil {
		if errors.Is(err, storage.ErrNotDue) {
			slog.InfoContext(ctx, "Template already advanced by a concurrent worker",
				"transaction_id", transactionID)
			return nil
		}
		return fmt.Errorf("apply occurrence: %w", err)
	}

	slog.InfoContext(ctx, "Recurring occurrence created",
		"template_id", template.ID,
		"occurrence_id", occurrence.ID,
		"amount", template.Amount.String(),
		"type", template.Type,
		"next_recurring_date", next.Format("2006-01-02"))

	return nil
}
