package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"welth/internal/core"
	"welth/internal/insights"
	"welth/internal/notify"
)

// ReportStore is the slice of the data store the report generator needs.
type ReportStore interface {
	ListUsers(ctx context.Context) ([]core.User, error)
	MonthlyStats(ctx context.Context, userID string, from, to time.Time) (core.MonthlyStats, error)
}

// InsightSource produces insight strings for a month's summary.
type InsightSource interface {
	MonthlyInsights(ctx context.Context, stats core.MonthlyStats, month time.Time) ([]string, error)
}

// ReportGenerator emails every user a summary of the previous calendar month.
// Users are processed concurrently up to a fixed limit; one user's failure
// never blocks the others.
type ReportGenerator struct {
	store       ReportStore
	insights    InsightSource
	mailer      notify.Mailer
	concurrency int
	now         func() time.Time
}

func NewReportGenerator(store ReportStore, source InsightSource, mailer notify.Mailer, concurrency int) *ReportGenerator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReportGenerator{
		store:       store,
		insights:    source,
		mailer:      mailer,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// GenerateAll runs one report pass over every user and returns how many
// reports were delivered.
func (g *ReportGenerator) GenerateAll(ctx context.Context) (int, error) {
	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	now := g.now()
	thisMonth, _ := core.MonthWindow(now)
	prevMonth := thisMonth.AddDate(0, -1, 0)

	slog.InfoContext(ctx, "Generating monthly reports",
		"users", len(users),
		"month", prevMonth.Format("2006-01"))

	var sent atomic.Int64
	grp := new(errgroup.Group)
	grp.SetLimit(g.concurrency)

	for _, user := range users {
		user := user
		grp.Go(func() error {
			if err := g.generateOne(ctx, user, prevMonth, thisMonth); err != nil {
				slog.ErrorContext(ctx, "Monthly report failed",
					"user_id", user.ID,
					"error", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	grp.Wait()

	slog.InfoContext(ctx, "Monthly report run complete",
		"sent", sent.Load(),
		"users", len(users))

	return int(sent.Load()), nil
}

func (g *ReportGenerator) generateOne(ctx context.Context, user core.User, from, to time.Time) error {
	stats, err := g.store.MonthlyStats(ctx, user.ID, from, to)
	if err != nil {
		return fmt.Errorf("aggregate stats: %w", err)
	}

	var lines []string
	if g.insights != nil {
		lines, err = g.insights.MonthlyInsights(ctx, stats, from)
		if err != nil {
			slog.WarnContext(ctx, "Insight generation failed, using fallback",
				"user_id", user.ID,
				"error", err)
			lines = nil
		}
	}
	if len(lines) == 0 {
		lines = insights.Fallback()
	}

	html, err := notify.RenderMonthlyReport(notify.NewMonthlyReportData(user, from, stats, lines))
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	subject := fmt.Sprintf("Your %s financial report", from.Format("January 2006"))
	if err := g.mailer.Send(ctx, user.Email, subject, html); err != nil {
		return fmt.Errorf("deliver report: %w", err)
	}

	return nil
}
