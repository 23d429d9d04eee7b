package state

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rados-io/saturn-presale/native/presale"
	"github.com/rados-io/saturn-presale/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func testConfig() presale.SaleConfig {
	return presale.SaleConfig{
		SaleToken:        testAddr(0x01),
		Treasury:         testAddr(0x02),
		Owner:            testAddr(0x03),
		MinContribution:  big.NewInt(1000),
		HardCap:          big.NewInt(1500),
		BasePriceDivisor: big.NewInt(1_000_000_000),
		Mode:             presale.ModeTiered,
	}
}

func TestPresaleStateDefaultsWhenEmpty(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	st, err := m.PresaleStateGet()
	require.NoError(t, err)
	require.False(t, st.Active)
	require.Equal(t, uint64(1), st.NextGrantID)
	require.Zero(t, st.Sold.Sign())

	_, ok, err := m.PresaleGrantGet(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPresaleApplyAndUndo(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	first := &presale.SaleState{Active: true, Sold: big.NewInt(0), NextGrantID: 1, ActivatedAt: 100}
	_, err := m.PresaleApply(&presale.ChangeSet{State: first})
	require.NoError(t, err)

	grant := &presale.Grant{
		ID:          1,
		Owner:       testAddr(0xAA),
		Purchaser:   testAddr(0xAA),
		Tier:        presale.TierLong,
		Amount:      big.NewInt(750),
		Value:       big.NewInt(1000),
		PurchasedAt: 200,
		RedeemAt:    200 + 52*7*24*3600,
	}
	acc := &presale.Account{Address: testAddr(0xBB), Balance: big.NewInt(5), Contributed: big.NewInt(5000), LockedUntil: 900}
	second := &presale.SaleState{Active: true, Sold: big.NewInt(750), NextGrantID: 2, ActivatedAt: 100}
	undo, err := m.PresaleApply(&presale.ChangeSet{State: second, Grants: []*presale.Grant{grant}, Accounts: []*presale.Account{acc}})
	require.NoError(t, err)

	st, err := m.PresaleStateGet()
	require.NoError(t, err)
	require.Equal(t, "750", st.Sold.String())
	require.Equal(t, uint64(2), st.NextGrantID)

	got, ok, err := m.PresaleGrantGet(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, grant.Owner, got.Owner)
	require.Equal(t, presale.TierLong, got.Tier)
	require.Equal(t, grant.RedeemAt, got.RedeemAt)
	require.Equal(t, "1000", got.Value.String())

	gotAcc, ok, err := m.PresaleAccountGet(acc.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(900), gotAcc.LockedUntil)

	require.NoError(t, undo())
	require.NoError(t, undo())

	st, err = m.PresaleStateGet()
	require.NoError(t, err)
	require.Zero(t, st.Sold.Sign())
	require.Equal(t, uint64(1), st.NextGrantID)
	require.True(t, st.Active)

	_, ok, err = m.PresaleGrantGet(1)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = m.PresaleAccountGet(acc.Address)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPresaleApplyRejectsZeroGrantID(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	_, err := m.PresaleApply(&presale.ChangeSet{Grants: []*presale.Grant{{ID: 0, Tier: presale.TierShort}}})
	require.Error(t, err)
}

func TestPresaleGrantIterateInIDOrder(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	for _, id := range []uint64{300, 2, 1} {
		_, err := m.PresaleApply(&presale.ChangeSet{Grants: []*presale.Grant{{ID: id, Tier: presale.TierShort, Amount: big.NewInt(1)}}})
		require.NoError(t, err)
	}
	var ids []uint64
	require.NoError(t, m.PresaleGrantIterate(func(g *presale.Grant) error {
		ids = append(ids, g.ID)
		return nil
	}))
	require.Equal(t, []uint64{1, 2, 300}, ids)
}

func TestPresaleEnsureConfig(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	cfg := testConfig()
	require.NoError(t, m.PresaleEnsureConfig(cfg))
	require.NoError(t, m.PresaleEnsureConfig(cfg.Clone()))

	changed := cfg.Clone()
	changed.HardCap = big.NewInt(1501)
	require.ErrorIs(t, m.PresaleEnsureConfig(changed), ErrConfigMismatch)

	otherTreasury := cfg.Clone()
	otherTreasury.Treasury = testAddr(0x09)
	require.ErrorIs(t, NewManager(db).PresaleEnsureConfig(otherTreasury), ErrConfigMismatch)
}

func TestEnsureStateVersion(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	require.NoError(t, m.EnsureStateVersion())
	version, ok, err := m.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, m.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, m.EnsureStateVersion(), ErrStateVersionMismatch)
}
