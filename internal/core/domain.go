package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Pending   TransactionStatus = "PENDING"
	Completed TransactionStatus = "COMPLETED"
	Failed    TransactionStatus = "FAILED"
)

const (
	Daily   RecurringInterval = "DAILY"
	Weekly  RecurringInterval = "WEEKLY"
	Monthly RecurringInterval = "MONTHLY"
	Yearly  RecurringInterval = "YEARLY"
)

type (
	TransactionType   string
	TransactionStatus string
	RecurringInterval string

	// Account holds a user's balance. At most one account per user carries
	// IsDefault; the storage layer keeps that invariant on writes.
	Account struct {
		ID        string
		UserID    string
		Name      string
		Balance   decimal.Decimal
		IsDefault bool
	}

	// Transaction is a single ledger entry. A transaction with IsRecurring set
	// is a template: it spawns occurrence rows on a schedule and is never
	// itself a final spend record.
	Transaction struct {
		ID                string
		UserID            string
		AccountID         string
		Type              TransactionType
		Amount            decimal.Decimal
		Description       string
		Category          string
		Date              time.Time
		Status            TransactionStatus
		IsRecurring       bool
		RecurringInterval RecurringInterval
		NextRecurringDate *time.Time
		LastProcessed     *time.Time
	}

	// Budget is a user's monthly spending cap. LastAlertSent gates the
	// threshold alert to one email per calendar month.
	Budget struct {
		ID            string
		UserID        string
		Amount        decimal.Decimal
		LastAlertSent *time.Time
	}

	User struct {
		ID    string
		Email string
		Name  string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidType      = errors.New("invalid transaction type")
	ErrInvalidInterval  = errors.New("invalid recurring interval")
	ErrEmptyAccount     = errors.New("empty account id")
	ErrEmptyUser        = errors.New("empty user id")
	ErrEmptyDescription = errors.New("empty description")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

func (s TransactionStatus) Valid() bool {
	return s == Pending || s == Completed || s == Failed
}

func (i RecurringInterval) Valid() bool {
	switch i {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	// Amounts are stored unsigned; the sign is derived from the type.
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if t.IsRecurring && !t.RecurringInterval.Valid() {
		return ErrInvalidInterval
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	if !b.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// IsDue reports whether a recurring template is owed a processing attempt:
// never processed, or its next occurrence date has arrived.
func (t Transaction) IsDue(now time.Time) bool {
	if !t.IsRecurring {
		return false
	}
	if t.LastProcessed == nil {
		return true
	}
	return t.NextRecurringDate != nil && !t.NextRecurringDate.After(now)
}
