// Package core holds the domain types and the pure scheduling arithmetic:
// money handling, recurrence calculation, and ledger balance application.
package core

import "github.com/shopspring/decimal"

// Monetary values are decimal.Decimal in the domain and integer cents in the
// store. Cents keep SQLite arithmetic exact; decimals keep the domain free of
// floating point.

// CentsToDecimal converts stored cents to a two-place decimal amount.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DecimalToCents converts an amount to cents with half-up rounding on any
// third decimal place.
func DecimalToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// ApplyToBalance returns the balance after applying a transaction amount:
// expenses subtract, income adds. The caller must persist the result in the
// same atomic unit as the transaction row itself.
func ApplyToBalance(balance, amount decimal.Decimal, typ TransactionType) decimal.Decimal {
	if typ == Expense {
		return balance.Sub(amount)
	}
	return balance.Add(amount)
}

// BalanceDeltaCents is the signed cent delta a transaction contributes to its
// account balance, suitable for an increment-style UPDATE.
func BalanceDeltaCents(amount decimal.Decimal, typ TransactionType) int64 {
	cents := DecimalToCents(amount)
	if typ == Expense {
		return -cents
	}
	return cents
}

// PercentUsed returns spent/limit*100 as an exact decimal. A non-positive
// limit yields zero rather than a division error.
func PercentUsed(spent, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() {
		return decimal.Zero
	}
	return spent.Div(limit).Mul(decimal.NewFromInt(100))
}
