package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"welth/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotDue is returned by ApplyOccurrence when the template was already
	// processed by a concurrent invocation; the whole unit rolls back.
	ErrNotDue = errors.New("recurring template is not due")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// _time_format=sqlite stores timestamps in a fixed lexicographically
	// ordered layout, which the due-ness and date-range predicates rely on.
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under
	// concurrent workers while reads stay cheap.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser inserts a user, generating an ID when none is set.
func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.Name)
	if err != nil {
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, email, name FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateAccount inserts an account. When the account is flagged default, any
// previous default for the same user is cleared in the same transaction so the
// one-default-per-user invariant holds.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Account{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if a.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET is_default = 0 WHERE user_id = ? AND is_default = 1`,
			a.UserID); err != nil {
			return core.Account{}, fmt.Errorf("clear previous default account: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, balance_cents, is_default)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, core.DecimalToCents(a.Balance), boolToInt(a.IsDefault))
	if err != nil {
		return core.Account{}, fmt.Errorf("create account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Account{}, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, balance_cents, is_default FROM accounts WHERE id = ?`, id)

	var a core.Account
	var balanceCents int64
	var isDefault int
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &balanceCents, &isDefault); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Balance = core.CentsToDecimal(balanceCents)
	a.IsDefault = isDefault == 1
	return &a, nil
}

// CreateTransaction inserts a transaction row and applies its balance effect
// to the account in one atomic unit. For recurring templates the first
// next_recurring_date is derived from the transaction date and interval.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = core.Completed
	}
	if t.IsRecurring && t.NextRecurringDate == nil {
		next := core.NextOccurrence(t.Date, t.RecurringInterval)
		t.NextRecurringDate = &next
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertTransaction(ctx, tx, t); err != nil {
		return core.Transaction{}, err
	}
	if err := applyBalanceDelta(ctx, tx, t.AccountID, core.BalanceDeltaCents(t.Amount, t.Type)); err != nil {
		return core.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.Transaction{}, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"id", t.ID,
		"account_id", t.AccountID,
		"type", t.Type,
		"amount", t.Amount.String(),
		"recurring", t.IsRecurring)

	return t, nil
}

const transactionColumns = `id, user_id, account_id, type, amount_cents, description, category,
	date, status, is_recurring, recurring_interval, next_recurring_date, last_processed`

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ListDueRecurring returns every completed recurring template that has never
// been processed or whose next occurrence date has arrived.
func (r *SQLiteRepository) ListDueRecurring(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE is_recurring = 1
		   AND status = ?
		   AND (last_processed IS NULL OR next_recurring_date <= ?)
		 ORDER BY user_id, date`,
		core.Completed, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due recurring: %w", err)
	}
	defer rows.Close()

	var due []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due transaction: %w", err)
		}
		due = append(due, *t)
	}
	return due, rows.Err()
}

// ApplyOccurrence executes one recurring cycle as a single atomic unit:
// bump the template's bookkeeping fields, insert the occurrence row, and move
// the account balance. The template update carries the due-ness predicate, so
// a template already advanced by a concurrent worker rolls the whole unit
// back with ErrNotDue instead of double-applying.
func (r *SQLiteRepository) ApplyOccurrence(ctx context.Context, template core.Transaction, occurrence core.Transaction, next time.Time, processedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE transactions
		 SET last_processed = ?, next_recurring_date = ?
		 WHERE id = ?
		   AND is_recurring = 1
		   AND (last_processed IS NULL OR next_recurring_date <= ?)`,
		processedAt.UTC(), next.UTC(), template.ID, processedAt.UTC())
	if err != nil {
		return fmt.Errorf("advance template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance template rows: %w", err)
	}
	if affected == 0 {
		return ErrNotDue
	}

	if err := insertTransaction(ctx, tx, occurrence); err != nil {
		return err
	}
	if err := applyBalanceDelta(ctx, tx, occurrence.AccountID, core.BalanceDeltaCents(occurrence.Amount, occurrence.Type)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit occurrence: %w", err)
	}
	return nil
}

// UpsertBudget creates or replaces the single budget a user may hold.
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, amount_cents, last_alert_sent)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   amount_cents = excluded.amount_cents,
		   updated_at = CURRENT_TIMESTAMP`,
		b.ID, b.UserID, core.DecimalToCents(b.Amount), nullTime(b.LastAlertSent))
	if err != nil {
		return core.Budget{}, fmt.Errorf("upsert budget: %w", err)
	}
	return b, nil
}

// BudgetContext is a budget joined with its owner and the owner's default
// account, which is the only account the alert evaluator considers.
type BudgetContext struct {
	Budget         core.Budget
	User           core.User
	DefaultAccount *core.Account
}

// ListBudgets returns every budget with its user and default account. Budgets
// whose user has no default account come back with DefaultAccount nil.
func (r *SQLiteRepository) ListBudgets(ctx context.Context) ([]BudgetContext, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.user_id, b.amount_cents, b.last_alert_sent,
		        u.email, u.name,
		        a.id, a.name, a.balance_cents
		 FROM budgets b
		 JOIN users u ON u.id = b.user_id
		 LEFT JOIN accounts a ON a.user_id = b.user_id AND a.is_default = 1`)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []BudgetContext
	for rows.Next() {
		var bc BudgetContext
		var amountCents int64
		var lastAlert sql.NullTime
		var acctID, acctName sql.NullString
		var acctBalance sql.NullInt64

		if err := rows.Scan(
			&bc.Budget.ID, &bc.Budget.UserID, &amountCents, &lastAlert,
			&bc.User.Email, &bc.User.Name,
			&acctID, &acctName, &acctBalance); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}

		bc.User.ID = bc.Budget.UserID
		bc.Budget.Amount = core.CentsToDecimal(amountCents)
		if lastAlert.Valid {
			t := lastAlert.Time
			bc.Budget.LastAlertSent = &t
		}
		if acctID.Valid {
			bc.DefaultAccount = &core.Account{
				ID:        acctID.String,
				UserID:    bc.Budget.UserID,
				Name:      acctName.String,
				Balance:   core.CentsToDecimal(acctBalance.Int64),
				IsDefault: true,
			}
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

// SetBudgetLastAlert records the moment an alert was delivered.
func (r *SQLiteRepository) SetBudgetLastAlert(ctx context.Context, budgetID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE budgets SET last_alert_sent = ? WHERE id = ?`, at.UTC(), budgetID)
	if err != nil {
		return fmt.Errorf("set budget last alert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	return nil
}

// SumExpenses totals EXPENSE transactions on one account within [from, to).
func (r *SQLiteRepository) SumExpenses(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	var cents sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT SUM(amount_cents)
		 FROM transactions
		 WHERE account_id = ? AND type = ? AND date >= ? AND date < ?`,
		accountID, core.Expense, from.UTC(), to.UTC()).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum expenses: %w", err)
	}
	return core.CentsToDecimal(cents.Int64), nil
}

// MonthlyStats aggregates one user's transactions within [from, to) into the
// totals the report generator needs.
func (r *SQLiteRepository) MonthlyStats(ctx context.Context, userID string, from, to time.Time) (core.MonthlyStats, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT type, category, SUM(amount_cents), COUNT(*)
		 FROM transactions
		 WHERE user_id = ? AND date >= ? AND date < ?
		 GROUP BY type, category`,
		userID, from.UTC(), to.UTC())
	if err != nil {
		return core.MonthlyStats{}, fmt.Errorf("monthly stats: %w", err)
	}
	defer rows.Close()

	stats := core.MonthlyStats{ByCategory: map[string]decimal.Decimal{}}
	for rows.Next() {
		var typ core.TransactionType
		var category string
		var cents int64
		var count int
		if err := rows.Scan(&typ, &category, &cents, &count); err != nil {
			return core.MonthlyStats{}, fmt.Errorf("scan stats: %w", err)
		}

		amount := core.CentsToDecimal(cents)
		stats.TransactionCount += count
		switch typ {
		case core.Income:
			stats.TotalIncome = stats.TotalIncome.Add(amount)
		case core.Expense:
			stats.TotalExpenses = stats.TotalExpenses.Add(amount)
			stats.ByCategory[category] = stats.ByCategory[category].Add(amount)
		}
	}
	return stats, rows.Err()
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t core.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, user_id, account_id, type, amount_cents, description, category,
		  date, status, is_recurring, recurring_interval, next_recurring_date, last_processed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, t.Type, core.DecimalToCents(t.Amount),
		t.Description, t.Category, t.Date.UTC(), t.Status, boolToInt(t.IsRecurring),
		nullString(string(t.RecurringInterval)), nullTime(t.NextRecurringDate), nullTime(t.LastProcessed))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// applyBalanceDelta moves the account balance with an increment-style update,
// never a read-then-write, so concurrent units cannot lose each other's
// effects.
func applyBalanceDelta(ctx context.Context, tx *sql.Tx, accountID string, deltaCents int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ? WHERE id = ?`,
		deltaCents, accountID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("account %s: %w", accountID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var t core.Transaction
	var amountCents int64
	var isRecurring int
	var interval sql.NullString
	var nextDate, lastProcessed sql.NullTime

	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Type, &amountCents,
		&t.Description, &t.Category, &t.Date, &t.Status, &isRecurring,
		&interval, &nextDate, &lastProcessed)
	if err != nil {
		return nil, err
	}

	t.Amount = core.CentsToDecimal(amountCents)
	t.IsRecurring = isRecurring == 1
	if interval.Valid {
		t.RecurringInterval = core.RecurringInterval(interval.String)
	}
	if nextDate.Valid {
		d := nextDate.Time
		t.NextRecurringDate = &d
	}
	if lastProcessed.Valid {
		p := lastProcessed.Time
		t.LastProcessed = &p
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
