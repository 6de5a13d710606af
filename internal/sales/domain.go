package sales

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Amount is a value in minor units.
type Amount uint64

// UnmarshalJSON accepts both a JSON number and a decimal string, custody services
// usually quote large amounts.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	*a = Amount(v)
	return nil
}

// Sale represents one asset listed on the market.
// A nil Auction means the sale is fixed-price.
type Sale struct {
	Owner              string   `json:"owner"`
	AuthorizationToken uint64   `json:"authorization_token"`
	ServiceID          string   `json:"service_id"`
	AssetID            string   `json:"asset_id"`
	Price              Amount   `json:"price"`
	Auction            *Auction `json:"auction,omitempty"`
}

// Key returns the composite key of the sale.
func (s *Sale) Key() Key {
	return Key{ServiceID: s.ServiceID, AssetID: s.AssetID}
}

// IsAuction reports whether the sale is an English auction.
func (s *Sale) IsAuction() bool {
	return s.Auction != nil
}

// Auction holds the bidding window and the single escrowed bid.
type Auction struct {
	Start time.Time `json:"start_time"`
	End   time.Time `json:"end_time"`
	Bid   *Bid      `json:"bid,omitempty"`
}

// State is the auction phase at a given instant.
type State string

const (
	StatePending State = "pending"
	StateOpen    State = "open"
	StateClosed  State = "closed"
)

// StateAt returns the auction phase at now.
func (a *Auction) StateAt(now time.Time) State {
	switch {
	case now.Before(a.Start):
		return StatePending
	case now.Before(a.End):
		return StateOpen
	default:
		return StateClosed
	}
}

// HasBidFrom reports whether account holds the standing bid.
func (a *Auction) HasBidFrom(account string) bool {
	return a.Bid != nil && a.Bid.Bidder == account
}

// Bid is an escrowed offer against an auction.
type Bid struct {
	Bidder string `json:"bidder"`
	Amount Amount `json:"amount"`
}

// Listing is what an approval asks the registry to list.
type Listing struct {
	ServiceID          string
	AssetID            string
	Owner              string
	AuthorizationToken uint64
	Price              Amount
	IsAuction          bool
	Start              *time.Time
	End                *time.Time
}

// SettlementStatus tells how a settlement ended.
type SettlementStatus string

const (
	StatusPending     SettlementStatus = "pending"
	StatusDistributed SettlementStatus = "distributed"
	StatusRefunded    SettlementStatus = "refunded"
)

// SettlementResult is the outcome of a purchase. Amount is the nominal price on
// both the distribution and the refund path.
type SettlementResult struct {
	Token  string           `json:"token"`
	Key    Key              `json:"key"`
	Buyer  string           `json:"buyer"`
	Status SettlementStatus `json:"status"`
	Amount Amount           `json:"amount"`
	// ResolvedAt is set once the settlement leaves the pending state.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
