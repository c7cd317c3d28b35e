package ledger

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned when a debit would take a balance
// below zero. No mutation is committed in that case.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// BalanceLedger stores per-user balances, one pool per mode ("real"/"demo").
// The engine never persists balances itself; all reads and writes go
// through this interface.
type BalanceLedger interface {
	GetBalance(ctx context.Context, userID, mode string) (float64, error)
	// AdjustBalance applies delta (negative for a debit) and returns the
	// new balance. A debit past zero fails with ErrInsufficientFunds and
	// leaves the balance untouched.
	AdjustBalance(ctx context.Context, userID, mode string, delta float64) (float64, error)
}

// BankLedger holds the casino's own reserves per mode. Bank health bounds
// how aggressively the engine pays out.
type BankLedger interface {
	GetBankBalance(ctx context.Context, mode string) (float64, error)
	AdjustBankBalance(ctx context.Context, mode string, delta float64) (float64, error)
}

// TransactionRecorder is a fire-and-forget audit log. A recording failure
// must never roll back a balance change that was already applied.
type TransactionRecorder interface {
	RecordTransaction(ctx context.Context, userID string, amount float64, kind, mode string)
}

// NopRecorder discards transactions. Used when no audit store is configured.
type NopRecorder struct{}

func (NopRecorder) RecordTransaction(context.Context, string, float64, string, string) {}
