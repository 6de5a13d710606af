package sales

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Settings holds the market parameters of a Service.
type Settings struct {
	// Operator may cancel any sale at any time.
	Operator string
	// Treasury receives the market fee.
	Treasury string
	// FeeBPS is the market fee in basis points of the price.
	FeeBPS uint64
	// MinBidIncrement is the absolute amount a bid must add over the previous one.
	MinBidIncrement Amount
	// SettlementRetention is how long a resolved settlement stays queryable.
	// Zero keeps results for the life of the process.
	SettlementRetention time.Duration
}

// Service runs the market: listing intake, auctions and purchase settlement.
// Every entry point is serialised, so each call observes and commits a consistent
// registry. Custody calls run outside the lock.
type Service struct {
	mu sync.Mutex

	registry *Registry
	custody  CustodyService
	funds    Funds
	deposits StorageDeposits
	settings Settings
	logger   *zap.Logger

	notifier Notifier
	metrics  Metrics
	now      func() time.Time
	execute  func(func())

	pending map[string]*pendingSettlement
	results map[string]*SettlementResult
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithExecutor replaces the function used to run custody calls, a new goroutine by default.
func WithExecutor(execute func(func())) Option {
	return func(s *Service) { s.execute = execute }
}

// WithNotifier routes transfer outcomes through n instead of resolving them in process.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a new Service.
func NewService(
	registry *Registry,
	custody CustodyService,
	funds Funds,
	deposits StorageDeposits,
	settings Settings,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	s := &Service{
		registry: registry,
		custody:  custody,
		funds:    funds,
		deposits: deposits,
		settings: settings,
		logger:   logger,
		metrics:  nopMetrics{},
		now:      time.Now,
		execute:  func(f func()) { go f() },
		pending:  map[string]*pendingSettlement{},
		results:  map[string]*SettlementResult{},
	}
	s.notifier = directNotifier{s}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sale returns the live sale for key.
func (s *Service) Sale(key Key) (*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(key)
}

// Sales returns a page of every live sale. A zero limit means no limit.
func (s *Service) Sales(from, limit int) ([]*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.registry.All()
	if err != nil {
		return nil, err
	}
	start, end := page(len(all), from, limit)
	return all[start:end], nil
}

func (s *Service) SalesByOwner(owner string, from, limit int) ([]*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.SalesByOwner(owner, from, limit)
}

func (s *Service) SalesByService(serviceID string, from, limit int) ([]*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.SalesByService(serviceID, from, limit)
}

// Settlement returns the current state of a settlement.
func (s *Service) Settlement(token string) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[token]
	if !ok {
		return nil, ErrUnknownSettlement
	}
	c := *res
	return &c, nil
}

// EvictSettlements forgets the resolved settlements older than the retention window
// and returns how many were dropped. Pending settlements are always kept.
func (s *Service) EvictSettlements() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings.SettlementRetention <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.settings.SettlementRetention)
	evicted := 0
	for token, res := range s.results {
		if res.ResolvedAt == nil || res.ResolvedAt.After(cutoff) {
			continue
		}
		delete(s.results, token)
		evicted++
	}
	if evicted > 0 {
		s.logger.Debug("settlements evicted", zap.Int("count", evicted), zap.Int("kept", len(s.results)))
	}
	return evicted
}

// pay transfers out of escrow. Failures are logged and never retried.
func (s *Service) pay(ctx context.Context, to string, amount Amount, reason string) {
	if amount == 0 {
		return
	}
	if err := s.funds.Pay(ctx, to, amount); err != nil {
		s.metrics.PaymentFailed()
		s.logger.Error("payment failed",
			zap.String("to", to),
			zap.Uint64("amount", uint64(amount)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("payment sent",
		zap.String("to", to),
		zap.Uint64("amount", uint64(amount)),
		zap.String("reason", reason),
	)
}

func addAmounts(a, b Amount) (Amount, bool) {
	sum := a + b
	return sum, sum >= a
}
