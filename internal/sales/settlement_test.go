package sales

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyDistributesPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1500)
	f.custody.respond(`{"payout":{"alice":"1000"}}`)

	res, err := f.svc.Buy(ctx, key, "bob", 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, key, res.Key)

	require.Len(t, f.custody.requests, 1)
	assert.Equal(t, TransferRequest{
		ServiceID:          svc1,
		Receiver:           "bob",
		AssetID:            "tok1",
		AuthorizationToken: 7,
		Memo:               PayoutMemo,
		Price:              1000,
		MaxPayees:          MaxPayees,
	}, f.custody.requests[0])

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, settled.Status)
	assert.Equal(t, Amount(1000), settled.Amount)

	assert.Equal(t, Amount(950), f.funds.paidTo("alice"))
	assert.Equal(t, Amount(50), f.funds.paidTo(treasury))
	assert.Equal(t, Amount(500), f.funds.balance("bob"))
	assert.Zero(t, f.funds.escrow)
	assert.Equal(t, 0, f.registry.ListingCount("alice"))
}

func TestBuyPaysRoyalties(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.custody.respond(`{"payout":{"alice":"900","carol":100}}`)

	_, err := f.svc.Buy(context.Background(), key, "bob", 1000)
	require.NoError(t, err)

	assert.Equal(t, Amount(850), f.funds.paidTo("alice"))
	assert.Equal(t, Amount(100), f.funds.paidTo("carol"))
	assert.Equal(t, Amount(50), f.funds.paidTo(treasury))
	assert.Zero(t, f.funds.escrow)
}

func TestBuyFeeCappedAtSellerShare(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.custody.respond(`{"payout":{"alice":"20","carol":"980"}}`)

	_, err := f.svc.Buy(context.Background(), key, "bob", 1000)
	require.NoError(t, err)

	assert.Zero(t, f.funds.paidTo("alice"))
	assert.Equal(t, Amount(20), f.funds.paidTo(treasury))
	assert.Equal(t, Amount(980), f.funds.paidTo("carol"))
}

func TestBuyRefundsTooManyRecipients(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1100)
	f.funds.fund("bob", 1100)

	parts := make([]string, 0, 11)
	for i := range 11 {
		parts = append(parts, fmt.Sprintf(`"r%02d":"100"`, i))
	}
	f.custody.respond(`{"payout":{` + strings.Join(parts, ",") + `}}`)

	res, err := f.svc.Buy(context.Background(), key, "bob", 1100)
	require.NoError(t, err)

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, settled.Status)
	assert.Equal(t, Amount(1100), settled.Amount)
	assert.Equal(t, Amount(1100), f.funds.balance("bob"))
	assert.Zero(t, f.funds.paidTo("alice"))
	assert.Zero(t, f.funds.paidTo(treasury))
	assert.Zero(t, f.funds.escrow)
}

func TestSettlementRemainderTolerance(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     SettlementStatus
	}{
		{name: "exact", response: `{"payout":{"alice":"600","carol":"400"}}`, want: StatusDistributed},
		{name: "one unit short", response: `{"payout":{"alice":"600","carol":"399"}}`, want: StatusDistributed},
		{name: "two units short", response: `{"payout":{"alice":"600","carol":"398"}}`, want: StatusRefunded},
		{name: "over the price", response: `{"payout":{"alice":"600","carol":"401"}}`, want: StatusRefunded},
		{name: "no recipients", response: `{"payout":{}}`, want: StatusRefunded},
		{name: "malformed json", response: `{"payout":`, want: StatusRefunded},
		{name: "negative amount", response: `{"payout":{"alice":"-1"}}`, want: StatusRefunded},
		{name: "missing payout", response: `{}`, want: StatusRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			key := f.listFixed(t, "tok1", "alice", 1000)
			f.funds.fund("bob", 1000)
			f.custody.respond(tt.response)

			res, err := f.svc.Buy(context.Background(), key, "bob", 1000)
			require.NoError(t, err)
			settled, err := f.svc.Settlement(res.Token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, settled.Status)

			if tt.want == StatusRefunded {
				assert.Equal(t, Amount(1000), f.funds.balance("bob"))
				assert.Zero(t, f.funds.paidTo("alice"))
			} else {
				assert.Zero(t, f.funds.balance("bob"))
				assert.Equal(t, Amount(50), f.funds.paidTo(treasury))
			}
		})
	}
}

func TestBuyRefundsOnCustodyError(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.custody.fail(errors.New("approval revoked"))

	res, err := f.svc.Buy(context.Background(), key, "bob", 1000)
	require.NoError(t, err)

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, settled.Status)
	assert.Equal(t, Amount(1000), f.funds.balance("bob"))

	// the sale is not restored
	_, err = f.svc.Sale(key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuyWholeDepositIsThePrice(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1200)
	f.custody.respond(`{"payout":{"alice":"1200"}}`)

	res, err := f.svc.Buy(context.Background(), key, "bob", 1200)
	require.NoError(t, err)
	assert.Equal(t, Amount(1200), res.Amount)
	assert.Equal(t, Amount(1200), f.custody.requests[0].Price)
	assert.Equal(t, Amount(1140), f.funds.paidTo("alice"))
	assert.Equal(t, Amount(60), f.funds.paidTo(treasury))
}

func TestBuyPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fixed := f.listFixed(t, "tok1", "alice", 1000)
	auction := f.listAuction(t, "tok2", "alice", 500, t0, t0.Add(time.Hour))
	f.funds.fund("bob", 5000)

	tests := []struct {
		name    string
		key     Key
		buyer   string
		deposit Amount
		wantErr error
	}{
		{name: "zero deposit", key: fixed, buyer: "bob", deposit: 0, wantErr: ErrZeroDeposit},
		{name: "unknown sale", key: Key{svc1, "missing"}, buyer: "bob", deposit: 1000, wantErr: ErrNotFound},
		{name: "own sale", key: fixed, buyer: "alice", deposit: 1000, wantErr: ErrSelfBid},
		{name: "auction", key: auction, buyer: "bob", deposit: 1000, wantErr: ErrIsAuction},
		{name: "below price", key: fixed, buyer: "bob", deposit: 999, wantErr: ErrInsufficientDeposit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Buy(ctx, tt.key, tt.buyer, tt.deposit)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := f.svc.Buy(ctx, fixed, "dave", 1000)
	assert.Error(t, err, "unfunded buyer")

	_, err = f.svc.Sale(fixed)
	assert.NoError(t, err)
	assert.Equal(t, Amount(5000), f.funds.balance("bob"))
	assert.Empty(t, f.custody.requests)
}

func TestSettlementIsExclusiveWhilePending(t *testing.T) {
	exec := &deferredExecutor{}
	f := newFixture(t, WithExecutor(exec.execute))
	ctx := context.Background()
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.funds.fund("carol", 1000)
	f.custody.respond(`{"payout":{"alice":"1000"}}`)

	res, err := f.svc.Buy(ctx, key, "bob", 1000)
	require.NoError(t, err)

	// the sale is gone while the transfer is in flight
	_, err = f.svc.Buy(ctx, key, "carol", 1000)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Cancel(ctx, key, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, Amount(1000), f.funds.balance("carol"))

	pending, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Empty(t, f.custody.requests)

	exec.run()

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, settled.Status)
	assert.Equal(t, Amount(950), f.funds.paidTo("alice"))
}

func TestResolvePurchaseExactlyOnce(t *testing.T) {
	exec := &deferredExecutor{}
	f := newFixture(t, WithExecutor(exec.execute))
	ctx := context.Background()
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)

	res, err := f.svc.Buy(ctx, key, "bob", 1000)
	require.NoError(t, err)

	outcome := TransferOutcome{Token: res.Token, Response: []byte(`{"payout":{"alice":"1000"}}`)}
	first, err := f.svc.ResolvePurchase(ctx, outcome)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, first.Status)

	_, err = f.svc.ResolvePurchase(ctx, outcome)
	assert.ErrorIs(t, err, ErrUnknownSettlement)
	_, err = f.svc.ResolvePurchase(ctx, TransferOutcome{Token: "nope"})
	assert.ErrorIs(t, err, ErrUnknownSettlement)
	_, err = f.svc.Settlement("nope")
	assert.ErrorIs(t, err, ErrUnknownSettlement)

	// the late custody callback is rejected too
	exec.run()
	assert.Equal(t, Amount(950), f.funds.paidTo("alice"))
	assert.Equal(t, Amount(50), f.funds.paidTo(treasury))
}

func TestEvictSettlements(t *testing.T) {
	exec := &deferredExecutor{}
	f := newFixture(t, WithExecutor(exec.execute))
	f.svc.settings.SettlementRetention = time.Hour
	ctx := context.Background()
	sold := f.listFixed(t, "tok1", "alice", 1000)
	open := f.listFixed(t, "tok2", "alice", 1000)
	f.funds.fund("bob", 2000)
	f.custody.respond(`{"payout":{"alice":"1000"}}`)

	done, err := f.svc.Buy(ctx, sold, "bob", 1000)
	require.NoError(t, err)
	exec.run()

	f.clock.Set(t0.Add(30 * time.Minute))
	inFlight, err := f.svc.Buy(ctx, open, "bob", 1000)
	require.NoError(t, err)

	settled, err := f.svc.Settlement(done.Token)
	require.NoError(t, err)
	require.NotNil(t, settled.ResolvedAt)
	assert.True(t, settled.ResolvedAt.Equal(t0))
	assert.Zero(t, f.svc.EvictSettlements())

	// resolved results expire, pending ones stay however old they are
	f.clock.Set(t0.Add(3 * time.Hour))
	assert.Equal(t, 1, f.svc.EvictSettlements())
	_, err = f.svc.Settlement(done.Token)
	assert.ErrorIs(t, err, ErrUnknownSettlement)
	pending, err := f.svc.Settlement(inFlight.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Nil(t, pending.ResolvedAt)

	exec.run()
	resolved, err := f.svc.Settlement(inFlight.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, resolved.Status)
	assert.Zero(t, f.svc.EvictSettlements())
}

func TestEvictSettlementsDisabledWithoutRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.custody.respond(`{"payout":{"alice":"1000"}}`)

	res, err := f.svc.Buy(ctx, key, "bob", 1000)
	require.NoError(t, err)

	f.clock.Set(t0.Add(1000 * time.Hour))
	assert.Zero(t, f.svc.EvictSettlements())
	_, err = f.svc.Settlement(res.Token)
	assert.NoError(t, err)
}

func TestFailedPaymentDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.funds.failFor["carol"] = true
	f.custody.respond(`{"payout":{"alice":"500","carol":"500"}}`)

	res, err := f.svc.Buy(context.Background(), key, "bob", 1000)
	require.NoError(t, err)

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, settled.Status)
	assert.Equal(t, Amount(450), f.funds.paidTo("alice"))
	assert.Equal(t, Amount(50), f.funds.paidTo(treasury))
	assert.Zero(t, f.funds.paidTo("carol"))
}

type failingNotifier struct{}

func (failingNotifier) Publish(context.Context, TransferOutcome) error {
	return errors.New("bus closed")
}

func TestDispatchFallsBackWhenPublishFails(t *testing.T) {
	f := newFixture(t, WithNotifier(failingNotifier{}))
	key := f.listFixed(t, "tok1", "alice", 1000)
	f.funds.fund("bob", 1000)
	f.custody.respond(`{"payout":{"alice":"1000"}}`)

	res, err := f.svc.Buy(context.Background(), key, "bob", 1000)
	require.NoError(t, err)

	settled, err := f.svc.Settlement(res.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, settled.Status)
}

func TestParsePayout(t *testing.T) {
	shares, err := ParsePayout([]byte(`{"payout":{"zed":"1","alice":2,"bob":"18446744073709551615"}}`))
	require.NoError(t, err)
	assert.Equal(t, []Share{
		{Recipient: "alice", Amount: 2},
		{Recipient: "bob", Amount: 18446744073709551615},
		{Recipient: "zed", Amount: 1},
	}, shares)

	_, err = ParsePayout([]byte(`{"payout":{"alice":"1.5"}}`))
	assert.ErrorIs(t, err, ErrInvalidPayout)
	_, err = ParsePayout([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayout)
}

func TestValidatePayoutOverflow(t *testing.T) {
	top := Amount(math.MaxUint64)
	err := ValidatePayout([]Share{{"a", top}, {"b", top}}, top)
	assert.ErrorIs(t, err, ErrInvalidPayout)
	assert.NoError(t, ValidatePayout([]Share{{"a", top - 1}}, top))
}

func TestFee(t *testing.T) {
	assert.Equal(t, Amount(50), Fee(1000, 500))
	assert.Equal(t, Amount(27), Fee(550, 500))
	assert.Equal(t, Amount(0), Fee(19, 500))
	assert.Equal(t, Amount(1000), Fee(1000, 20_000))
	assert.Equal(t, Amount(922337203685477580), Fee(18446744073709551615, 500))
}
