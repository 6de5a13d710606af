package sales

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// PlaceBid escrows amount from bidder and makes it the standing bid. The previous
// bidder, if any, is refunded in full once the new bid is committed.
func (s *Service) PlaceBid(ctx context.Context, key Key, bidder string, amount Amount) (*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if !sale.IsAuction() {
		return nil, ErrNotAuction
	}
	if state := sale.Auction.StateAt(s.now()); state != StateOpen {
		return nil, fmt.Errorf("%w: auction is %s", ErrAuctionNotOpen, state)
	}
	if bidder == sale.Owner {
		return nil, ErrSelfBid
	}
	if amount == 0 {
		return nil, ErrZeroDeposit
	}

	previous := sale.Auction.Bid
	if err := s.checkBid(sale, amount); err != nil {
		return nil, err
	}

	if err := s.funds.Collect(ctx, bidder, amount); err != nil {
		return nil, fmt.Errorf("failed to escrow bid: %w", err)
	}
	sale.Auction.Bid = &Bid{Bidder: bidder, Amount: amount}
	if err := s.registry.Update(sale); err != nil {
		s.pay(ctx, bidder, amount, "bid not recorded")
		return nil, fmt.Errorf("failed to record bid: %w", err)
	}
	if previous != nil {
		s.pay(ctx, previous.Bidder, previous.Amount, "outbid refund")
	}

	s.metrics.BidPlaced()
	s.logger.Info("bid placed",
		zap.String("key", key.String()),
		zap.String("bidder", bidder),
		zap.Uint64("amount", uint64(amount)),
	)
	return sale, nil
}

func (s *Service) checkBid(sale *Sale, amount Amount) error {
	previous := sale.Auction.Bid
	if previous == nil {
		least, ok := addAmounts(sale.Price, s.settings.MinBidIncrement)
		if !ok || amount < least {
			return fmt.Errorf("%w: must be at least reserve %d plus increment %d",
				ErrBidTooLow, sale.Price, s.settings.MinBidIncrement)
		}
		return nil
	}
	least, ok := addAmounts(previous.Amount, s.settings.MinBidIncrement)
	if !ok || amount < least {
		return fmt.Errorf("%w: must be at least current bid %d plus increment %d",
			ErrBidTooLow, previous.Amount, s.settings.MinBidIncrement)
	}
	if amount <= sale.Price {
		return fmt.Errorf("%w: must exceed reserve %d", ErrBidTooLow, sale.Price)
	}
	return nil
}

// EndAuction closes an auction once its end time is reached. A standing bid is settled
// like a purchase and the pending settlement is returned; without a bid the sale is
// just removed and the result is nil.
func (s *Service) EndAuction(ctx context.Context, key Key) (*SettlementResult, error) {
	p, err := s.endAuction(key)
	if err != nil || p == nil {
		return nil, err
	}
	res := p.result()
	s.dispatch(ctx, p)
	return res, nil
}

func (s *Service) endAuction(key Key) (*pendingSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if !sale.IsAuction() {
		return nil, ErrNotAuction
	}
	if s.now().Before(sale.Auction.End) {
		return nil, ErrTooEarly
	}

	if bid := sale.Auction.Bid; bid != nil {
		return s.initiate(key, bid.Amount, bid.Bidder)
	}

	if _, err := s.registry.Remove(key); err != nil {
		return nil, err
	}
	s.metrics.SaleRemoved("expired")
	s.logger.Info("auction ended without bids", zap.String("key", key.String()))
	return nil, nil
}

// Cancel removes a sale. The owner may cancel while no bid is escrowed or before the
// auction ends; the operator may cancel at any time. An escrowed bid is refunded.
func (s *Service) Cancel(ctx context.Context, key Key, caller string) (*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}
	isOperator := caller == s.settings.Operator
	if caller != sale.Owner && !isOperator {
		return nil, ErrUnauthorized
	}

	var bid *Bid
	if sale.IsAuction() {
		bid = sale.Auction.Bid
	}
	if bid != nil && !isOperator && !s.now().Before(sale.Auction.End) {
		return nil, ErrAuctionOver
	}

	removed, err := s.registry.Remove(key)
	if err != nil {
		return nil, err
	}
	if bid != nil {
		s.pay(ctx, bid.Bidder, bid.Amount, "auction cancelled")
	}

	s.metrics.SaleRemoved("cancelled")
	s.logger.Info("sale cancelled",
		zap.String("key", key.String()),
		zap.String("caller", caller),
		zap.Bool("refunded_bid", bid != nil),
	)
	return removed, nil
}

// EndDueAuctions ends every auction whose end time has passed and returns how many
// were ended.
func (s *Service) EndDueAuctions(ctx context.Context) (int, error) {
	s.mu.Lock()
	all, err := s.registry.All()
	now := s.now()
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	ended := 0
	for _, sale := range all {
		if !sale.IsAuction() || now.Before(sale.Auction.End) {
			continue
		}
		if _, err := s.EndAuction(ctx, sale.Key()); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			s.logger.Warn("failed to end auction", zap.String("key", sale.Key().String()), zap.Error(err))
			continue
		}
		ended++
	}
	return ended, nil
}
