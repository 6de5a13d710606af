package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"market_sales/internal/sales"

	"go.uber.org/zap"
)

// ErrInsufficientFunds is returned when an account cannot cover a collection.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrEscrowShort is returned when escrow cannot cover a payment.
var ErrEscrowShort = errors.New("escrow cannot cover payment")

// ErrOverflow is returned when a balance would exceed the representable range.
var ErrOverflow = errors.New("balance overflow")

// Ledger keeps account balances and the market escrow in memory.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]sales.Amount
	escrow   sales.Amount
	logger   *zap.Logger
}

// New creates an empty ledger.
func New(logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		balances: map[string]sales.Amount{},
		logger:   logger,
	}
}

// Fund credits an account from outside the market and returns the new balance.
func (l *Ledger) Fund(account string, amount sales.Amount) (sales.Amount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := l.balances[account] + amount
	if balance < amount {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, account)
	}
	l.balances[account] = balance
	return balance, nil
}

func (l *Ledger) Balance(account string) sales.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Escrow returns the amount currently held by the market.
func (l *Ledger) Escrow() sales.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.escrow
}

func (l *Ledger) Collect(ctx context.Context, from string, amount sales.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, l.balances[from], amount)
	}
	if l.escrow+amount < l.escrow {
		return fmt.Errorf("%w: escrow", ErrOverflow)
	}
	l.balances[from] -= amount
	l.escrow += amount
	l.logger.Debug("funds collected", zap.String("from", from), zap.Uint64("amount", uint64(amount)))
	return nil
}

func (l *Ledger) Pay(ctx context.Context, to string, amount sales.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.escrow < amount {
		return fmt.Errorf("%w: escrow %d, payment %d", ErrEscrowShort, l.escrow, amount)
	}
	if l.balances[to]+amount < amount {
		return fmt.Errorf("%w: %s", ErrOverflow, to)
	}
	l.escrow -= amount
	l.balances[to] += amount
	l.logger.Debug("funds paid", zap.String("to", to), zap.Uint64("amount", uint64(amount)))
	return nil
}
