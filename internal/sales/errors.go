package sales

import "errors"

// ErrNotFound is returned when no live sale exists for a key.
var ErrNotFound = errors.New("sale not found")

// ErrInvalidKey is returned when a composite key has an empty component.
var ErrInvalidKey = errors.New("invalid sale key")

var (
	ErrInvalidAuctionWindow = errors.New("invalid auction window")
	ErrNotAuction           = errors.New("sale is not an auction")
	ErrIsAuction            = errors.New("sale is an auction, place a bid instead")
	ErrSelfBid              = errors.New("cannot bid on your own sale")
	ErrAuctionNotOpen       = errors.New("auction is not open for bids")
	ErrBidTooLow            = errors.New("bid too low")
	ErrTooEarly             = errors.New("cannot end auction before its end time")
	ErrAuctionOver          = errors.New("auction end time has passed, end it instead")
	ErrUnauthorized         = errors.New("must be sale owner or market operator")
	ErrZeroDeposit          = errors.New("attached deposit must be greater than zero")
	ErrInsufficientDeposit  = errors.New("attached deposit is below the price")
)

var (
	ErrUntrusted           = errors.New("approval must come from a custody service on behalf of the owner")
	ErrInsufficientStorage = errors.New("insufficient storage deposit")
	ErrInvalidMessage      = errors.New("invalid sale message")
)

// ErrUnknownSettlement is returned when a transfer outcome does not match a pending
// settlement, either because it was never started or because it already resolved.
var ErrUnknownSettlement = errors.New("unknown settlement")

// ErrInvalidPayout is returned when a payout decomposition fails validation.
var ErrInvalidPayout = errors.New("invalid payout")
