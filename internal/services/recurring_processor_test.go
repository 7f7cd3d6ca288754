package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"welth/internal/core"
	"welth/internal/storage"
)

type appliedCall struct {
	template    core.Transaction
	occurrence  core.Transaction
	next        time.Time
	processedAt time.Time
}

type fakeTemplateStore struct {
	templates map[string]core.Transaction
	applyErr  error
	getErr    error
	applied   []appliedCall
}

func (s *fakeTemplateStore) GetTransaction(_ context.Context, id string) (*core.Transaction, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	t, ok := s.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (s *fakeTemplateStore) ApplyOccurrence(_ context.Context, template, occurrence core.Transaction, next, processedAt time.Time) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, appliedCall{template, occurrence, next, processedAt})
	return nil
}

func dueTemplate() core.Transaction {
	return core.Transaction{
		ID:                "tmpl-1",
		UserID:            "user-1",
		AccountID:         "acct-1",
		Type:              core.Expense,
		Amount:            decimal.RequireFromString("50.00"),
		Description:       "Netflix",
		Category:          "entertainment",
		Status:            core.Completed,
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
	}
}

func TestProcessCreatesOccurrence(t *testing.T) {
	store := &fakeTemplateStore{templates: map[string]core.Transaction{"tmpl-1": dueTemplate()}}
	proc := NewRecurringProcessor(store)
	now := time.Date(2024, time.January, 31, 9, 0, 0, 0, time.UTC)
	proc.now = func() time.Time { return now }

	if err := proc.Process(context.Background(), "tmpl-1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(store.applied) != 1 {
		t.Fatalf("ApplyOccurrence called %d times, want 1", len(store.applied))
	}

	call := store.applied[0]
	occ := call.occurrence
	if occ.ID == "" || occ.ID == "tmpl-1" {
		t.Errorf("occurrence must get a fresh id, got %q", occ.ID)
	}
	if occ.Description != "Netflix (Recurring)" {
		t.Errorf("Description = %q", occ.Description)
	}
	if occ.IsRecurring {
		t.Error("occurrence must not itself be recurring")
	}
	if occ.Status != core.Completed {
		t.Errorf("Status = %q", occ.Status)
	}
	if !occ.Amount.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("Amount = %s", occ.Amount)
	}
	if !occ.Date.Equal(now) {
		t.Errorf("Date = %v, want %v", occ.Date, now)
	}

	// Jan 31 monthly advances to the clamped end of February.
	wantNext := time.Date(2024, time.February, 29, 9, 0, 0, 0, time.UTC)
	if !call.next.Equal(wantNext) {
		t.Errorf("next = %v, want %v", call.next, wantNext)
	}
	if !call.processedAt.Equal(now) {
		t.Errorf("processedAt = %v, want %v", call.processedAt, now)
	}
}

func TestProcessSkips(t *testing.T) {
	future := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	processed := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	notYetDue := dueTemplate()
	notYetDue.LastProcessed = &processed
	notYetDue.NextRecurringDate = &future

	nonRecurring := dueTemplate()
	nonRecurring.IsRecurring = false
	nonRecurring.RecurringInterval = ""

	pending := dueTemplate()
	pending.Status = core.Pending

	badInterval := dueTemplate()
	badInterval.RecurringInterval = "FORTNIGHTLY"

	tests := []struct {
		name     string
		template core.Transaction
	}{
		{"not yet due", notYetDue},
		{"not recurring", nonRecurring},
		{"pending template", pending},
		{"invalid interval", badInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeTemplateStore{templates: map[string]core.Transaction{tt.template.ID: tt.template}}
			proc := NewRecurringProcessor(store)

			if err := proc.Process(context.Background(), tt.template.ID); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(store.applied) != 0 {
				t.Errorf("ApplyOccurrence called %d times, want 0", len(store.applied))
			}
		})
	}
}

func TestProcessMissingTemplateIsSettled(t *testing.T) {
	store := &fakeTemplateStore{templates: map[string]core.Transaction{}}
	proc := NewRecurringProcessor(store)

	if err := proc.Process(context.Background(), "gone"); err != nil {
		t.Fatalf("missing template should settle without error, got %v", err)
	}
}

func TestProcessConcurrentAdvanceIsSettled(t *testing.T) {
	store := &fakeTemplateStore{
		templates: map[string]core.Transaction{"tmpl-1": dueTemplate()},
		applyErr:  storage.ErrNotDue,
	}
	proc := NewRecurringProcessor(store)

	if err := proc.Process(context.Background(), "tmpl-1"); err != nil {
		t.Fatalf("lost race should settle without error, got %v", err)
	}
}

func TestProcessStoreErrorsAreRetryable(t *testing.T) {
	storeErr := errors.New("disk on fire")

	t.Run("fetch fails", func(t *testing.T) {
		store := &fakeTemplateStore{getErr: storeErr}
		if err := NewRecurringProcessor(store).Process(context.Background(), "tmpl-1"); !errors.Is(err, storeErr) {
			t.Errorf("err = %v, want wrapped store error", err)
		}
	})

	t.Run("apply fails", func(t *testing.T) {
		store := &fakeTemplateStore{
			templates: map[string]core.Transaction{"tmpl-1": dueTemplate()},
			applyErr:  storeErr,
		}
		if err := NewRecurringProcessor(store).Process(context.Background(), "tmpl-1"); !errors.Is(err, storeErr) {
			t.Errorf("err = %v, want wrapped store error", err)
		}
	})
}
