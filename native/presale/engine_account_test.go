package presale

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// aggregateConfig mirrors the original deployment: 1000 wei minimum, a hard
// cap of 1500 units and a 1e9 price divisor.
func aggregateConfig() SaleConfig {
	cfg := testConfig(ModeAggregate)
	cfg.HardCap = big.NewInt(1500)
	return cfg
}

func TestBuyAssignsBalanceAndLock(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	f.activate(t)
	ctx := context.Background()
	purchase := big.NewInt(1_000_000_000 * 100)

	acc, err := f.engine.Buy(ctx, alice, purchase)
	require.NoError(t, err)
	require.Equal(t, "100", acc.Balance.String())
	require.Equal(t, f.now+AggregateLockDuration, acc.LockedUntil)
	firstLock := acc.LockedUntil

	// A later contribution adds to the balance without extending the lock.
	f.now += 30 * secondsPerDay
	acc, err = f.engine.Buy(ctx, alice, purchase)
	require.NoError(t, err)
	require.Equal(t, "200", acc.Balance.String())
	require.Equal(t, firstLock, acc.LockedUntil)
	require.Equal(t, "200000000000", acc.Contributed.String())

	balance, err := f.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, "200", balance.String())
	lock, err := f.engine.AccountLockup(alice)
	require.NoError(t, err)
	require.Equal(t, firstLock, lock)

	sold, err := f.engine.Sold()
	require.NoError(t, err)
	require.Equal(t, "200", sold.String())
	require.Len(t, f.custodian.forwards, 2)
	require.Equal(t, []string{EventTypeActivated, EventTypeAccountPurchased, EventTypeAccountPurchased}, f.emitted.eventTypes())
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	ctx := context.Background()

	_, err := f.engine.Buy(ctx, alice, big.NewInt(25))
	require.ErrorIs(t, err, ErrSaleInactive)

	f.activate(t)

	_, err = f.engine.Buy(ctx, alice, big.NewInt(20))
	require.ErrorIs(t, err, ErrBelowMinimum)

	_, err = f.engine.Buy(ctx, alice, big.NewInt(10_000))
	require.ErrorIs(t, err, ErrZeroValuation)

	_, err = f.engine.Buy(ctx, alice, ether(80))
	require.ErrorIs(t, err, ErrExceedsHardCap)

	_, err = f.engine.Buy(ctx, saleToken, ether(1))
	require.ErrorIs(t, err, ErrTokenCaller)

	_, err = f.engine.Purchase(ctx, alice, TierShort, ether(1))
	require.ErrorIs(t, err, ErrWrongMode)
	_, err = f.engine.Grant(1)
	require.ErrorIs(t, err, ErrWrongMode)

	balance, err := f.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
	require.Empty(t, f.custodian.forwards)
}

func TestRedeemAccount(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	f.activate(t)
	ctx := context.Background()

	_, err := f.engine.RedeemAccount(ctx, alice)
	require.ErrorIs(t, err, ErrNothingToRedeem)

	acc, err := f.engine.Buy(ctx, alice, big.NewInt(1_000_000_000*100))
	require.NoError(t, err)

	f.now = acc.LockedUntil - 1
	_, err = f.engine.RedeemAccount(ctx, alice)
	require.ErrorIs(t, err, ErrLockNotExpired)

	f.now = acc.LockedUntil
	amount, err := f.engine.RedeemAccount(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, "100", amount.String())
	require.Len(t, f.custodian.payouts, 1)
	require.Equal(t, alice, f.custodian.payouts[0].to)

	balance, err := f.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	_, err = f.engine.RedeemAccount(ctx, alice)
	require.ErrorIs(t, err, ErrNothingToRedeem)

	// A fresh contribution on an emptied balance arms a new lock.
	f.now += secondsPerDay
	again, err := f.engine.Buy(ctx, alice, big.NewInt(1_000_000_000*5))
	require.NoError(t, err)
	require.Equal(t, f.now+AggregateLockDuration, again.LockedUntil)
}

func TestRedeemAccountRollsBackOnPayoutFailure(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	f.activate(t)
	ctx := context.Background()
	acc, err := f.engine.Buy(ctx, alice, big.NewInt(1_000_000_000*100))
	require.NoError(t, err)

	f.now = acc.LockedUntil
	f.custodian.fail = errors.New("custody offline")
	_, err = f.engine.RedeemAccount(ctx, alice)
	require.ErrorIs(t, err, ErrPayoutFailed)

	balance, err := f.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, "100", balance.String())
}

func TestBuyRollsBackOnForwardFailure(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	f.activate(t)
	f.custodian.fail = errors.New("treasury unreachable")

	_, err := f.engine.Buy(context.Background(), alice, big.NewInt(1_000_000_000*100))
	require.ErrorIs(t, err, ErrForwardFailed)

	balance, err := f.engine.BalanceOf(alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
	sold, err := f.engine.Sold()
	require.NoError(t, err)
	require.Zero(t, sold.Sign())
	accounts, err := f.engine.Accounts()
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestAggregateQuoteIgnoresTier(t *testing.T) {
	f := newFixture(t, aggregateConfig())
	quote, err := f.engine.Quote(0, big.NewInt(1_000_000_000*7))
	require.NoError(t, err)
	require.Equal(t, "7", quote.Amount.String())
	require.Equal(t, AggregateLockDuration, quote.LockDuration)
}
