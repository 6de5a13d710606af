package sales

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"slices"
	"strings"
)

// Share is one recipient's part of a payout.
type Share struct {
	Recipient string
	Amount    Amount
}

type payoutResponse struct {
	Payout map[string]Amount `json:"payout"`
}

// ParsePayout decodes a custody service response of the form
// {"payout": {"account": "amount", ...}}. Shares are ordered by recipient.
func ParsePayout(raw []byte) ([]Share, error) {
	var resp payoutResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayout, err)
	}
	shares := make([]Share, 0, len(resp.Payout))
	for recipient, amount := range resp.Payout {
		shares = append(shares, Share{Recipient: recipient, Amount: amount})
	}
	slices.SortFunc(shares, func(a, b Share) int { return strings.Compare(a.Recipient, b.Recipient) })
	return shares, nil
}

// ValidatePayout checks that shares split price among 1 to MaxPayees recipients,
// leaving at most one unit unallocated for rounding.
func ValidatePayout(shares []Share, price Amount) error {
	if len(shares) == 0 || len(shares) > MaxPayees {
		return fmt.Errorf("%w: %d recipients, want 1 to %d", ErrInvalidPayout, len(shares), MaxPayees)
	}
	remainder := price
	for _, share := range shares {
		if share.Amount > remainder {
			return fmt.Errorf("%w: shares exceed price %d", ErrInvalidPayout, price)
		}
		remainder -= share.Amount
	}
	if remainder > 1 {
		return fmt.Errorf("%w: %d of %d left unallocated", ErrInvalidPayout, remainder, price)
	}
	return nil
}

// Fee returns price * bps / 10000, rounded down. bps above 10000 is capped.
func Fee(price Amount, bps uint64) Amount {
	if bps > 10_000 {
		bps = 10_000
	}
	hi, lo := bits.Mul64(uint64(price), bps)
	fee, _ := bits.Div64(hi, lo, 10_000)
	return Amount(fee)
}
