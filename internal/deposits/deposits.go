package deposits

import (
	"sync"

	"market_sales/internal/sales"
)

// ListingCounter counts the live listings of an account.
type ListingCounter interface {
	ListingCount(owner string) int
}

// Ledger records the storage deposits accounts have prepaid for their listings.
type Ledger struct {
	mu       sync.RWMutex
	minimum  sales.Amount
	deposits map[string]sales.Amount
	counter  ListingCounter
}

// New creates a ledger requiring minimum per listing.
func New(minimum sales.Amount, counter ListingCounter) *Ledger {
	return &Ledger{
		minimum:  minimum,
		deposits: map[string]sales.Amount{},
		counter:  counter,
	}
}

// Deposit adds amount to the account's storage deposit and returns the new total.
// The total saturates instead of wrapping.
func (l *Ledger) Deposit(account string, amount sales.Amount) sales.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.deposits[account] + amount
	if total < amount {
		total = ^sales.Amount(0)
	}
	l.deposits[account] = total
	return total
}

// Withdraw releases the part of the deposit not needed by the account's live
// listings and returns it. The market calls it through sales.Service.WithdrawStorage
// so it never runs inside an approval.
func (l *Ledger) Withdraw(account string) sales.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	locked := sales.Amount(l.counter.ListingCount(account)) * l.minimum
	paid := l.deposits[account]
	if paid <= locked {
		return 0
	}
	l.deposits[account] = locked
	if locked == 0 {
		delete(l.deposits, account)
	}
	return paid - locked
}

func (l *Ledger) MinimumListingDeposit() sales.Amount {
	return l.minimum
}

func (l *Ledger) DepositedAmount(account string) sales.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deposits[account]
}

func (l *Ledger) ListingCount(account string) int {
	return l.counter.ListingCount(account)
}
