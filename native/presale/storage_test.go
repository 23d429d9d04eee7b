package presale_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rados-io/saturn-presale/core/state"
	"github.com/rados-io/saturn-presale/native/presale"
	"github.com/rados-io/saturn-presale/storage"
)

type funcCustodian struct {
	failForward error
	failPayout  error
	paid        *big.Int
}

func (c *funcCustodian) Payout(_ context.Context, _, _ [20]byte, amount *big.Int) error {
	if c.failPayout != nil {
		return c.failPayout
	}
	if c.paid == nil {
		c.paid = big.NewInt(0)
	}
	c.paid.Add(c.paid, amount)
	return nil
}

func (c *funcCustodian) Forward(context.Context, [20]byte, [20]byte, *big.Int) error {
	return c.failForward
}

func addr(fill byte) [20]byte {
	var out [20]byte
	copy(out[:], bytes.Repeat([]byte{fill}, 20))
	return out
}

func config() presale.SaleConfig {
	return presale.SaleConfig{
		SaleToken:        addr(0x01),
		Treasury:         addr(0x02),
		Owner:            addr(0x03),
		MinContribution:  big.NewInt(1000),
		HardCap:          big.NewInt(10_000_000_000),
		BasePriceDivisor: big.NewInt(1_000_000_000),
		Mode:             presale.ModeTiered,
	}
}

func openEngine(t *testing.T, db storage.Database, custodian *funcCustodian, now *int64) *presale.Engine {
	t.Helper()
	cfg := config()
	manager := state.NewManager(db)
	require.NoError(t, manager.EnsureStateVersion())
	require.NoError(t, manager.PresaleEnsureConfig(cfg))
	engine, err := presale.NewEngine(cfg)
	require.NoError(t, err)
	engine.SetState(manager)
	engine.SetTokenPayout(custodian)
	engine.SetValueForwarder(custodian)
	engine.SetNowFunc(func() int64 { return *now })
	return engine
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	now := int64(1_700_000_000)
	custodian := &funcCustodian{}
	ctx := context.Background()

	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	engine := openEngine(t, db, custodian, &now)
	require.NoError(t, engine.Deposit(addr(0x01), addr(0x03), big.NewInt(10_000_000_000)))
	grant, err := engine.Purchase(ctx, addr(0xA1), presale.TierShort, big.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, err)
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	engine = openEngine(t, db, custodian, &now)

	active, err := engine.Active()
	require.NoError(t, err)
	require.True(t, active)
	amount, err := engine.AmountOf(grant.ID)
	require.NoError(t, err)
	require.Equal(t, "550000000", amount.String())

	next, err := engine.Purchase(ctx, addr(0xB0), presale.TierLong, big.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, err)
	require.Equal(t, grant.ID+1, next.ID)

	now = grant.RedeemAt
	_, err = engine.Redeem(ctx, grant.ID, addr(0xA1))
	require.NoError(t, err)
	require.Equal(t, "550000000", custodian.paid.String())
}

func TestStoreRollbackOnCollaboratorFailure(t *testing.T) {
	now := int64(1_700_000_000)
	custodian := &funcCustodian{}
	ctx := context.Background()
	engine := openEngine(t, storage.NewMemDB(), custodian, &now)
	require.NoError(t, engine.Deposit(addr(0x01), addr(0x03), big.NewInt(10_000_000_000)))

	custodian.failForward = errors.New("treasury down")
	_, err := engine.Purchase(ctx, addr(0xA1), presale.TierMedium, big.NewInt(1_000_000_000_000_000_000))
	require.ErrorIs(t, err, presale.ErrForwardFailed)
	count, err := engine.GrantCount()
	require.NoError(t, err)
	require.Zero(t, count)
	_, err = engine.Grant(1)
	require.ErrorIs(t, err, presale.ErrUnknownGrant)

	custodian.failForward = nil
	grant, err := engine.Purchase(ctx, addr(0xA1), presale.TierMedium, big.NewInt(1_000_000_000_000_000_000))
	require.NoError(t, err)

	now = grant.RedeemAt
	custodian.failPayout = errors.New("custody down")
	_, err = engine.Redeem(ctx, grant.ID, addr(0xA1))
	require.ErrorIs(t, err, presale.ErrPayoutFailed)
	claimed, err := engine.IsClaimed(grant.ID)
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestRestartWithDifferentConfigFails(t *testing.T) {
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	require.NoError(t, manager.PresaleEnsureConfig(config()))

	changed := config()
	changed.Owner = addr(0x04)
	require.ErrorIs(t, manager.PresaleEnsureConfig(changed), state.ErrConfigMismatch)
}
