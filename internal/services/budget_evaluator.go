package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"welth/internal/core"
	"welth/internal/notify"
	"welth/internal/storage"
)

// alertThreshold is the percentage of the budget at which an alert fires.
var alertThreshold = decimal.NewFromInt(80)

// BudgetStore is the slice of the data store the evaluator needs.
type BudgetStore interface {
	ListBudgets(ctx context.Context) ([]storage.BudgetContext, error)
	SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error)
	SetBudgetLastAlert(ctx context.Context, budgetID string, at time.Time) error
}

// BudgetEvaluator checks every budget against the current month's spending on
// the user's default account and emails an alert when usage crosses the
// threshold. At most one alert goes out per budget per calendar month.
type BudgetEvaluator struct {
	store  BudgetStore
	mailer notify.Mailer
	now    func() time.Time
}

func NewBudgetEvaluator(store BudgetStore, mailer notify.Mailer) *BudgetEvaluator {
	return &BudgetEvaluator{store: store, mailer: mailer, now: time.Now}
}

// EvaluateAll runs one evaluation pass and returns the number of alerts sent.
// A failure on one budget is logged and does not stop the rest.
func (e *BudgetEvaluator) EvaluateAll(ctx context.Context) (int, error) {
	budgets, err := e.store.ListBudgets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list budgets: %w", err)
	}

	alerts := 0
	for _, bc := range budgets {
		sent, err := e.evaluate(ctx, bc)
		if err != nil {
			slog.ErrorContext(ctx, "Budget evaluation failed",
				"budget_id", bc.Budget.ID,
				"user_id", bc.Budget.UserID,
				"error", err)
			continue
		}
		if sent {
			alerts++
		}
	}

	slog.InfoContext(ctx, "Budget evaluation complete",
		"budgets", len(budgets),
		"alerts_sent", alerts)

	return alerts, nil
}

func (e *BudgetEvaluator) evaluate(ctx context.Context, bc storage.BudgetContext) (bool, error) {
	if bc.DefaultAccount == nil {
		slog.WarnContext(ctx, "Budget has no default account, skipping",
			"budget_id", bc.Budget.ID,
			"user_id", bc.Budget.UserID)
		return false, nil
	}

	now := e.now()
	start, end := core.MonthWindow(now)

	spent, err := e.store.SumExpenses(ctx, bc.DefaultAccount.ID, start, end)
	if err != nil {
		return false, fmt.Errorf("sum expenses: %w", err)
	}

	percent := core.PercentUsed(spent, bc.Budget.Amount)
	if percent.LessThan(alertThreshold) {
		return false, nil
	}
	if bc.Budget.LastAlertSent != nil && core.SameMonth(*bc.Budget.LastAlertSent, now) {
		return false, nil
	}

	html, err := notify.RenderBudgetAlert(notify.NewBudgetAlertData(
		bc.User, *bc.DefaultAccount, percent, bc.Budget.Amount, spent))
	if err != nil {
		return false, fmt.Errorf("render alert: %w", err)
	}

	subject := fmt.Sprintf("Budget Alert for %s", bc.DefaultAccount.Name)
	// The sent marker moves only after a successful delivery so a failed send
	// is retried on the next evaluation cycle.
	if err := e.mailer.Send(ctx, bc.User.Email, subject, html); err != nil {
		return false, fmt.Errorf("deliver alert: %w", err)
	}

	if err := e.store.SetBudgetLastAlert(ctx, bc.Budget.ID, now); err != nil {
		// The alert went out; at worst the user sees it again next cycle.
		slog.WarnContext(ctx, "Failed to record alert time",
			"budget_id", bc.Budget.ID,
			"error", err)
	}

	slog.InfoContext(ctx, "Budget alert sent",
		"budget_id", bc.Budget.ID,
		"user_id", bc.Budget.UserID,
		"percent_used", percent.StringFixed(1))

	return true, nil
}
