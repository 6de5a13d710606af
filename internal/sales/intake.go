package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"math/bits"
	"time"

	"go.uber.org/zap"
)

// Approval is the notice a custody service sends when an owner authorises the
// market to transfer an asset. Caller is the custody service, Signer the account that
// signed the originating transaction.
type Approval struct {
	Caller             string
	Signer             string
	AssetID            string
	Owner              string
	AuthorizationToken uint64
	Message            string
}

// SaleMessage is the JSON document carried by an approval.
type SaleMessage struct {
	Price     Amount     `json:"price"`
	IsAuction bool       `json:"is_auction"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// ParseSaleMessage decodes the message of an approval.
func ParseSaleMessage(msg string) (SaleMessage, error) {
	var m SaleMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return SaleMessage{}, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return m, nil
}

// Approve lists the approved asset. The approval must be relayed by a custody service
// for the signing owner, and the owner must have paid storage for one more listing.
func (s *Service) Approve(ctx context.Context, a Approval) (*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Signer == "" || a.Owner == "" {
		return nil, fmt.Errorf("%w: approval has no signer or owner", ErrUntrusted)
	}
	if a.Caller == a.Signer {
		return nil, fmt.Errorf("%w: approval was not relayed", ErrUntrusted)
	}
	if a.Owner != a.Signer {
		return nil, fmt.Errorf("%w: owner %q did not sign", ErrUntrusted, a.Owner)
	}
	if err := s.checkStorage(a.Signer); err != nil {
		return nil, err
	}
	msg, err := ParseSaleMessage(a.Message)
	if err != nil {
		return nil, err
	}

	sale, replaced, err := s.registry.CreateOrRefresh(Listing{
		ServiceID:          a.Caller,
		AssetID:            a.AssetID,
		Owner:              a.Owner,
		AuthorizationToken: a.AuthorizationToken,
		Price:              msg.Price,
		IsAuction:          msg.IsAuction,
		Start:              msg.StartTime,
		End:                msg.EndTime,
	})
	if err != nil {
		return nil, err
	}

	// a bid dropped by the re-listing goes back to its bidder
	if replaced != nil && replaced.IsAuction() && replaced.Auction.Bid != nil &&
		(!sale.IsAuction() || sale.Auction.Bid == nil) {
		bid := replaced.Auction.Bid
		s.pay(ctx, bid.Bidder, bid.Amount, "auction replaced")
	}

	s.metrics.SaleListed(sale.IsAuction())
	s.logger.Info("sale approved",
		zap.String("key", sale.Key().String()),
		zap.String("owner", sale.Owner),
		zap.Uint64("price", uint64(sale.Price)),
		zap.Bool("auction", sale.IsAuction()),
	)
	return sale, nil
}

func (s *Service) checkStorage(account string) error {
	perSale := s.deposits.MinimumListingDeposit()
	count := s.deposits.ListingCount(account)
	paid := s.deposits.DepositedAmount(account)

	hi, required := bits.Mul64(uint64(count)+1, uint64(perSale))
	if hi != 0 || paid < Amount(required) {
		return fmt.Errorf("%w: paid %d, need %d for %d sales at %d per sale",
			ErrInsufficientStorage, paid, required, count+1, perSale)
	}
	return nil
}

// WithdrawStorage releases the part of the account's storage deposit that its live
// listings do not lock. It runs under the service lock, so it cannot interleave with
// the deposit check of a listing being approved.
func (s *Service) WithdrawStorage(account string) Amount {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := s.deposits.Withdraw(account)
	if released > 0 {
		s.logger.Info("storage deposit withdrawn",
			zap.String("account", account),
			zap.Uint64("amount", uint64(released)),
		)
	}
	return released
}

// UpdatePrice changes the price of a fixed-price sale. Only the owner may do it.
func (s *Service) UpdatePrice(ctx context.Context, key Key, caller string, price Amount) (*Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if sale.IsAuction() {
		return nil, fmt.Errorf("%w: cannot update the price of an auction", ErrIsAuction)
	}
	if caller != sale.Owner {
		return nil, ErrUnauthorized
	}

	sale.Price = price
	if err := s.registry.Update(sale); err != nil {
		return nil, fmt.Errorf("failed to update price: %w", err)
	}
	s.logger.Info("price updated", zap.String("key", key.String()), zap.Uint64("price", uint64(price)))
	return sale, nil
}
