package sales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

const (
	operator = "operator"
	treasury = "treasury"
	svc1     = "svc1"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testFunds is an in-memory Funds that records every movement.
type testFunds struct {
	mu        sync.Mutex
	balances  map[string]Amount
	escrow    Amount
	collected map[string]Amount
	paid      map[string]Amount
	failFor   map[string]bool
}

func newTestFunds() *testFunds {
	return &testFunds{
		balances:  map[string]Amount{},
		collected: map[string]Amount{},
		paid:      map[string]Amount{},
		failFor:   map[string]bool{},
	}
}

func (f *testFunds) fund(account string, amount Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] += amount
}

func (f *testFunds) balance(account string) Amount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account]
}

func (f *testFunds) paidTo(account string) Amount {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paid[account]
}

func (f *testFunds) Collect(_ context.Context, from string, amount Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[from] < amount {
		return errors.New("insufficient funds")
	}
	f.balances[from] -= amount
	f.escrow += amount
	f.collected[from] += amount
	return nil
}

func (f *testFunds) Pay(_ context.Context, to string, amount Amount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[to] {
		return fmt.Errorf("account %s rejects payments", to)
	}
	if f.escrow < amount {
		return errors.New("escrow short")
	}
	f.escrow -= amount
	f.balances[to] += amount
	f.paid[to] += amount
	return nil
}

type testDeposits struct {
	minimum  Amount
	paid     map[string]Amount
	registry *Registry
	// onRead runs every time a deposit is read.
	onRead func(account string)
}

func (d *testDeposits) MinimumListingDeposit() Amount   { return d.minimum }
func (d *testDeposits) ListingCount(account string) int { return d.registry.ListingCount(account) }

func (d *testDeposits) DepositedAmount(account string) Amount {
	if d.onRead != nil {
		d.onRead(account)
	}
	return d.paid[account]
}

func (d *testDeposits) Withdraw(account string) Amount {
	locked := Amount(d.ListingCount(account)) * d.minimum
	paid := d.paid[account]
	if paid <= locked {
		return 0
	}
	d.paid[account] = locked
	return paid - locked
}

// testCustody answers transfer requests with a fixed response.
type testCustody struct {
	mu       sync.Mutex
	requests []TransferRequest
	response []byte
	err      error
}

func (c *testCustody) respond(response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = []byte(response)
	c.err = nil
}

func (c *testCustody) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = nil
	c.err = err
}

func (c *testCustody) TransferPayout(_ context.Context, req TransferRequest) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return c.response, c.err
}

// deferredExecutor holds custody calls until run is called.
type deferredExecutor struct {
	mu    sync.Mutex
	queue []func()
}

func (e *deferredExecutor) execute(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, f)
}

func (e *deferredExecutor) run() {
	e.mu.Lock()
	queue := e.queue
	e.queue = nil
	e.mu.Unlock()
	for _, f := range queue {
		f()
	}
}

type fixture struct {
	svc      *Service
	storage  *LocalStorage
	registry *Registry
	funds    *testFunds
	deposits *testDeposits
	custody  *testCustody
	clock    *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &testClock{now: t0}
	logger := zaptest.NewLogger(t)
	storage := NewLocalStorage()
	registry := NewRegistry(storage, logger, clock.Now)
	funds := newTestFunds()
	deposits := &testDeposits{minimum: 10, paid: map[string]Amount{}, registry: registry}
	custody := &testCustody{}

	opts = append([]Option{
		WithClock(clock.Now),
		WithExecutor(func(f func()) { f() }),
	}, opts...)
	svc := NewService(registry, custody, funds, deposits, Settings{
		Operator:        operator,
		Treasury:        treasury,
		FeeBPS:          500,
		MinBidIncrement: 10,
	}, logger, opts...)

	return &fixture{
		svc:      svc,
		storage:  storage,
		registry: registry,
		funds:    funds,
		deposits: deposits,
		custody:  custody,
		clock:    clock,
	}
}

func (f *fixture) listFixed(t *testing.T, assetID, owner string, price Amount) Key {
	t.Helper()
	f.deposits.paid[owner] += f.deposits.minimum
	_, err := f.svc.Approve(context.Background(), Approval{
		Caller:             svc1,
		Signer:             owner,
		AssetID:            assetID,
		Owner:              owner,
		AuthorizationToken: 7,
		Message:            fmt.Sprintf(`{"price":"%d","is_auction":false}`, price),
	})
	if err != nil {
		t.Fatalf("listing %s failed: %v", assetID, err)
	}
	return Key{ServiceID: svc1, AssetID: assetID}
}

func (f *fixture) listAuction(t *testing.T, assetID, owner string, reserve Amount, start, end time.Time) Key {
	t.Helper()
	f.deposits.paid[owner] += f.deposits.minimum
	_, err := f.svc.Approve(context.Background(), Approval{
		Caller:             svc1,
		Signer:             owner,
		AssetID:            assetID,
		Owner:              owner,
		AuthorizationToken: 9,
		Message: fmt.Sprintf(`{"price":"%d","is_auction":true,"start_time":%q,"end_time":%q}`,
			reserve, start.Format(time.RFC3339), end.Format(time.RFC3339)),
	})
	if err != nil {
		t.Fatalf("listing auction %s failed: %v", assetID, err)
	}
	return Key{ServiceID: svc1, AssetID: assetID}
}
