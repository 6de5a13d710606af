package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pendingSettlement is a sale removed from the registry while its custody transfer is
// in flight.
type pendingSettlement struct {
	token string
	sale  *Sale
	buyer string
	price Amount
}

func (p *pendingSettlement) result() *SettlementResult {
	return &SettlementResult{
		Token:  p.token,
		Key:    p.sale.Key(),
		Buyer:  p.buyer,
		Status: StatusPending,
		Amount: p.price,
	}
}

// Buy purchases a fixed-price sale with deposit, which must cover the price. The whole
// deposit is the purchase price handed to the custody service.
func (s *Service) Buy(ctx context.Context, key Key, buyer string, deposit Amount) (*SettlementResult, error) {
	p, err := s.buy(ctx, key, buyer, deposit)
	if err != nil {
		return nil, err
	}
	res := p.result()
	s.dispatch(ctx, p)
	return res, nil
}

func (s *Service) buy(ctx context.Context, key Key, buyer string, deposit Amount) (*pendingSettlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if deposit == 0 {
		return nil, ErrZeroDeposit
	}
	sale, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if buyer == sale.Owner {
		return nil, ErrSelfBid
	}
	if sale.IsAuction() {
		return nil, ErrIsAuction
	}
	if deposit < sale.Price {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientDeposit, deposit, sale.Price)
	}

	if err := s.funds.Collect(ctx, buyer, deposit); err != nil {
		return nil, fmt.Errorf("failed to collect deposit: %w", err)
	}
	p, err := s.initiate(key, deposit, buyer)
	if err != nil {
		s.pay(ctx, buyer, deposit, "purchase not started")
		return nil, err
	}
	return p, nil
}

// initiate removes the sale before anything else, so a concurrent purchase, auction
// end or cancellation observes ErrNotFound. Callers hold s.mu and dispatch the
// returned settlement after releasing it.
func (s *Service) initiate(key Key, price Amount, buyer string) (*pendingSettlement, error) {
	sale, err := s.registry.Remove(key)
	if err != nil {
		return nil, err
	}

	p := &pendingSettlement{
		token: uuid.NewString(),
		sale:  sale,
		buyer: buyer,
		price: price,
	}
	s.pending[p.token] = p
	s.results[p.token] = p.result()

	s.metrics.SaleRemoved("sold")
	s.metrics.SettlementStarted()
	s.logger.Info("settlement started",
		zap.String("token", p.token),
		zap.String("key", key.String()),
		zap.String("buyer", buyer),
		zap.Uint64("price", uint64(price)),
	)
	return p, nil
}

// dispatch runs the custody transfer and hands its outcome to the notifier.
func (s *Service) dispatch(ctx context.Context, p *pendingSettlement) {
	ctx = context.WithoutCancel(ctx)
	req := TransferRequest{
		ServiceID:          p.sale.ServiceID,
		Receiver:           p.buyer,
		AssetID:            p.sale.AssetID,
		AuthorizationToken: p.sale.AuthorizationToken,
		Memo:               PayoutMemo,
		Price:              p.price,
		MaxPayees:          MaxPayees,
	}

	s.execute(func() {
		outcome := TransferOutcome{Token: p.token}
		resp, err := s.custody.TransferPayout(ctx, req)
		if err != nil {
			outcome.Err = err.Error()
		} else {
			outcome.Response = resp
		}

		if err := s.notifier.Publish(ctx, outcome); err != nil {
			s.logger.Error("failed to publish transfer outcome, resolving in process",
				zap.String("token", p.token), zap.Error(err))
			if _, err := s.ResolvePurchase(ctx, outcome); err != nil {
				s.logger.Error("failed to resolve purchase", zap.String("token", p.token), zap.Error(err))
			}
		}
	})
}

// ResolvePurchase completes a settlement once its custody transfer is known. A payout
// that is missing, unparsable or does not add up to the price refunds the buyer in full.
// Otherwise every recipient is paid and the market fee is taken from the seller's share.
// Each token resolves once; later calls return ErrUnknownSettlement.
func (s *Service) ResolvePurchase(ctx context.Context, outcome TransferOutcome) (*SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[outcome.Token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSettlement, outcome.Token)
	}
	delete(s.pending, outcome.Token)
	res := s.results[outcome.Token]

	shares, err := validateOutcome(outcome, p.price)
	if err != nil {
		s.logger.Warn("invalid settlement, refunding buyer",
			zap.String("token", p.token),
			zap.String("key", p.sale.Key().String()),
			zap.String("buyer", p.buyer),
			zap.Error(err),
		)
		s.pay(ctx, p.buyer, p.price, "invalid settlement")
		res.Status = StatusRefunded
	} else {
		s.distribute(ctx, p, shares)
		res.Status = StatusDistributed
	}

	resolvedAt := s.now()
	res.ResolvedAt = &resolvedAt

	s.metrics.SettlementResolved(res.Status)
	s.logger.Info("settlement resolved",
		zap.String("token", p.token),
		zap.String("status", string(res.Status)),
		zap.Uint64("amount", uint64(res.Amount)),
	)
	c := *res
	return &c, nil
}

func validateOutcome(outcome TransferOutcome, price Amount) ([]Share, error) {
	if outcome.Err != "" {
		return nil, errors.New(outcome.Err)
	}
	shares, err := ParsePayout(outcome.Response)
	if err != nil {
		return nil, err
	}
	if err := ValidatePayout(shares, price); err != nil {
		return nil, err
	}
	return shares, nil
}

func (s *Service) distribute(ctx context.Context, p *pendingSettlement, shares []Share) {
	fee := Fee(p.price, s.settings.FeeBPS)
	for _, share := range shares {
		if share.Recipient != p.sale.Owner {
			s.pay(ctx, share.Recipient, share.Amount, "payout")
			continue
		}
		// the fee never exceeds the seller's share
		ownerFee := min(fee, share.Amount)
		s.pay(ctx, share.Recipient, share.Amount-ownerFee, "seller payout")
		if ownerFee != 0 {
			s.pay(ctx, s.settings.Treasury, ownerFee, "market fee")
		}
	}
}

type directNotifier struct {
	s *Service
}

func (d directNotifier) Publish(ctx context.Context, outcome TransferOutcome) error {
	_, err := d.s.ResolvePurchase(ctx, outcome)
	return err
}
