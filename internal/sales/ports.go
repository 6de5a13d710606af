package sales

import "context"

// MaxPayees caps the number of recipients a custody service may return in a payout.
const MaxPayees = 10

// PayoutMemo is attached to every transfer request.
const PayoutMemo = "payout from market"

// TransferRequest asks a custody service to move an asset to the buyer and to split
// the price among at most MaxPayees recipients.
type TransferRequest struct {
	ServiceID          string `json:"-"`
	Receiver           string `json:"receiver_id"`
	AssetID            string `json:"token_id"`
	AuthorizationToken uint64 `json:"approval_id"`
	Memo               string `json:"memo"`
	Price              Amount `json:"balance,string"`
	MaxPayees          int    `json:"max_len_payout"`
}

// CustodyService executes transfers on behalf of the market. The raw response is
// returned untouched; validating it is the market's job.
type CustodyService interface {
	TransferPayout(ctx context.Context, req TransferRequest) ([]byte, error)
}

// Funds moves value between accounts and the market's escrow.
type Funds interface {
	// Collect moves amount from an account into escrow.
	Collect(ctx context.Context, from string, amount Amount) error
	// Pay moves amount from escrow to an account.
	Pay(ctx context.Context, to string, amount Amount) error
}

// StorageDeposits tells how many listings an account has paid storage for.
type StorageDeposits interface {
	MinimumListingDeposit() Amount
	DepositedAmount(account string) Amount
	ListingCount(account string) int
	// Withdraw releases the deposit not locked by live listings and returns it.
	Withdraw(account string) Amount
}

// TransferOutcome is the completion notice of a custody call. Err is empty on success.
type TransferOutcome struct {
	Token    string `json:"token"`
	Response []byte `json:"response,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Notifier delivers transfer outcomes to ResolvePurchase.
type Notifier interface {
	Publish(ctx context.Context, outcome TransferOutcome) error
}

// Metrics records market activity.
type Metrics interface {
	SaleListed(auction bool)
	SaleRemoved(reason string)
	BidPlaced()
	SettlementStarted()
	SettlementResolved(status SettlementStatus)
	PaymentFailed()
}

type nopMetrics struct{}

func (nopMetrics) SaleListed(bool)                     {}
func (nopMetrics) SaleRemoved(string)                  {}
func (nopMetrics) BidPlaced()                          {}
func (nopMetrics) SettlementStarted()                  {}
func (nopMetrics) SettlementResolved(SettlementStatus) {}
func (nopMetrics) PaymentFailed()                      {}
