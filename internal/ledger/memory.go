package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is an in-process BalanceLedger + BankLedger. It backs the
// engine tests and lets the server run without Redis in demo setups.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	banks    map[string]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]float64),
		banks:    make(map[string]float64),
	}
}

func (l *MemoryLedger) GetBalance(_ context.Context, userID, mode string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[mode+":"+userID], nil
}

func (l *MemoryLedger) AdjustBalance(_ context.Context, userID, mode string, delta float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := mode + ":" + userID
	next := l.balances[key] + delta
	if next < 0 {
		return 0, ErrInsufficientFunds
	}
	l.balances[key] = next
	return next, nil
}

func (l *MemoryLedger) SetBalance(_ context.Context, userID, mode string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[mode+":"+userID] = amount
	return nil
}

func (l *MemoryLedger) GetBankBalance(_ context.Context, mode string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.banks[mode], nil
}

func (l *MemoryLedger) AdjustBankBalance(_ context.Context, mode string, delta float64) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.banks[mode] += delta
	return l.banks[mode], nil
}

func (l *MemoryLedger) SetBankBalance(_ context.Context, mode string, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.banks[mode] = amount
	return nil
}
