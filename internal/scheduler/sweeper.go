package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Market is the housekeeping surface of the sales service.
type Market interface {
	// EndDueAuctions ends the auctions that are past their end time.
	EndDueAuctions(ctx context.Context) (int, error)
	// EvictSettlements drops resolved settlements past their retention.
	EvictSettlements() int
}

// Sweeper periodically ends expired auctions so winning bids settle without anyone
// calling end on them, and forgets old settlement results.
type Sweeper struct {
	scheduler *gocron.Scheduler
	market    Market
	interval  time.Duration
	logger    *zap.Logger
}

func NewSweeper(market Market, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Sweeper{
		scheduler: s,
		market:    market,
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules the sweep and returns immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", s.interval)
	}
	if _, err := s.scheduler.Every(s.interval).Do(s.Sweep, ctx); err != nil {
		return fmt.Errorf("failed to schedule auction sweep: %w", err)
	}
	s.scheduler.StartAsync()
	s.logger.Info("auction sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Sweep ends due auctions and evicts expired settlements once.
func (s *Sweeper) Sweep(ctx context.Context) {
	if evicted := s.market.EvictSettlements(); evicted > 0 {
		s.logger.Info("evicted settlements", zap.Int("count", evicted))
	}

	ended, err := s.market.EndDueAuctions(ctx)
	if err != nil {
		s.logger.Error("auction sweep failed", zap.Error(err))
		return
	}
	if ended > 0 {
		s.logger.Info("ended due auctions", zap.Int("count", ended))
	}
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}
