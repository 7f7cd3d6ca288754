package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"welth/internal/core"
	"welth/internal/insights"
)

type fakeReportStore struct {
	mu         sync.Mutex
	users      []core.User
	listErr    error
	stats      map[string]core.MonthlyStats
	statErrFor map[string]error

	gotFrom time.Time
	gotTo   time.Time
}

func (s *fakeReportStore) ListUsers(context.Context) ([]core.User, error) {
	return s.users, s.listErr
}

func (s *fakeReportStore) MonthlyStats(_ context.Context, userID string, from, to time.Time) (core.MonthlyStats, error) {
	s.mu.Lock()
	s.gotFrom, s.gotTo = from, to
	s.mu.Unlock()
	if err := s.statErrFor[userID]; err != nil {
		return core.MonthlyStats{}, err
	}
	return s.stats[userID], nil
}

type fakeInsightSource struct {
	lines []string
	err   error
}

func (s *fakeInsightSource) MonthlyInsights(context.Context, core.MonthlyStats, time.Time) ([]string, error) {
	return s.lines, s.err
}

func reportStats() core.MonthlyStats {
	return core.MonthlyStats{
		TotalIncome:   decimal.RequireFromString("3000"),
		TotalExpenses: decimal.RequireFromString("1200"),
		ByCategory: map[string]decimal.Decimal{
			"groceries": decimal.RequireFromString("1200"),
		},
		TransactionCount: 8,
	}
}

func TestGenerateAllSendsReports(t *testing.T) {
	store := &fakeReportStore{
		users: []core.User{{ID: "user-1", Email: "ada@example.com", Name: "Ada"}},
		stats: map[string]core.MonthlyStats{"user-1": reportStats()},
	}
	source := &fakeInsightSource{lines: []string{"Groceries dominated your spending."}}
	mailer := &fakeMailer{}

	gen := NewReportGenerator(store, source, mailer, 4)
	gen.now = func() time.Time {
		return time.Date(2024, time.March, 1, 2, 0, 0, 0, time.UTC)
	}

	n, err := gen.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if n != 1 || len(mailer.sent) != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}

	mail := mailer.sent[0]
	if mail.to != "ada@example.com" {
		t.Errorf("to = %q", mail.to)
	}
	if !strings.Contains(mail.subject, "February 2024") {
		t.Errorf("subject = %q, want previous month", mail.subject)
	}
	if !strings.Contains(mail.body, "Groceries dominated") {
		t.Error("body missing generated insight")
	}

	// Stats must cover exactly the previous calendar month.
	wantFrom := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	if !store.gotFrom.Equal(wantFrom) || !store.gotTo.Equal(wantTo) {
		t.Errorf("stats window = [%v, %v), want [%v, %v)", store.gotFrom, store.gotTo, wantFrom, wantTo)
	}
}

func TestGenerateAllFallsBackOnInsightFailure(t *testing.T) {
	store := &fakeReportStore{
		users: []core.User{{ID: "user-1", Email: "ada@example.com"}},
		stats: map[string]core.MonthlyStats{"user-1": reportStats()},
	}
	source := &fakeInsightSource{err: errors.New("model quota exceeded")}
	mailer := &fakeMailer{}

	gen := NewReportGenerator(store, source, mailer, 1)

	n, err := gen.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if n != 1 || len(mailer.sent) != 1 {
		t.Fatalf("report must still go out on insight failure, sent = %d", n)
	}
	if !strings.Contains(mailer.sent[0].body, insights.Fallback()[0]) {
		t.Error("body missing fallback insight")
	}
}

func TestGenerateAllWithoutInsightSource(t *testing.T) {
	store := &fakeReportStore{
		users: []core.User{{ID: "user-1", Email: "ada@example.com"}},
		stats: map[string]core.MonthlyStats{"user-1": reportStats()},
	}
	mailer := &fakeMailer{}

	gen := NewReportGenerator(store, nil, mailer, 1)

	n, err := gen.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
	if !strings.Contains(mailer.sent[0].body, insights.Fallback()[0]) {
		t.Error("body missing fallback insight")
	}
}

func TestGenerateAllIsolatesUserFailures(t *testing.T) {
	store := &fakeReportStore{
		users: []core.User{
			{ID: "user-1", Email: "ada@example.com"},
			{ID: "user-2", Email: "bob@example.com"},
			{ID: "user-3", Email: "eve@example.com"},
		},
		stats: map[string]core.MonthlyStats{
			"user-1": reportStats(),
			"user-3": reportStats(),
		},
		statErrFor: map[string]error{"user-2": errors.New("query failed")},
	}
	mailer := &fakeMailer{failFor: map[string]error{"eve@example.com": errors.New("mailbox full")}}

	gen := NewReportGenerator(store, &fakeInsightSource{lines: []string{"ok"}}, mailer, 2)

	n, err := gen.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if n != 1 {
		t.Errorf("sent = %d, want only the healthy user", n)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "ada@example.com" {
		t.Errorf("sent = %+v", mailer.sent)
	}
}
