package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/rados-io/saturn-presale/native/presale"
)

// ErrConfigMismatch is returned when the configured sale parameters differ
// from the ones the database was initialised with.
var ErrConfigMismatch = errors.New("state: presale config does not match stored fingerprint")

type storedSaleConfig struct {
	SaleToken        [20]byte
	Treasury         [20]byte
	Owner            [20]byte
	MinContribution  *big.Int
	HardCap          *big.Int
	BasePriceDivisor *big.Int
	Mode             uint8
}

type storedConfigRecord struct {
	Fingerprint [32]byte
	Config      storedSaleConfig
}

type storedSaleState struct {
	Active      bool
	Ended       bool
	Sold        *big.Int
	NextGrantID uint64
	ActivatedAt uint64
	EndedAt     uint64
}

type storedGrant struct {
	ID          uint64
	Owner       [20]byte
	Purchaser   [20]byte
	Tier        uint8
	Amount      *big.Int
	Value       *big.Int
	PurchasedAt uint64
	RedeemAt    uint64
	Claimed     bool
	ClaimedAt   uint64
}

type storedAccount struct {
	Address     [20]byte
	Balance     *big.Int
	Contributed *big.Int
	LockedUntil uint64
	RedeemedAt  uint64
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredSaleConfig(cfg presale.SaleConfig) storedSaleConfig {
	return storedSaleConfig{
		SaleToken:        cfg.SaleToken,
		Treasury:         cfg.Treasury,
		Owner:            cfg.Owner,
		MinContribution:  nonNil(cfg.MinContribution),
		HardCap:          nonNil(cfg.HardCap),
		BasePriceDivisor: nonNil(cfg.BasePriceDivisor),
		Mode:             uint8(cfg.Mode),
	}
}

func newStoredSaleState(st *presale.SaleState) *storedSaleState {
	return &storedSaleState{
		Active:      st.Active,
		Ended:       st.Ended,
		Sold:        nonNil(st.Sold),
		NextGrantID: st.NextGrantID,
		ActivatedAt: uint64(st.ActivatedAt),
		EndedAt:     uint64(st.EndedAt),
	}
}

func (s *storedSaleState) toSaleState() *presale.SaleState {
	return &presale.SaleState{
		Active:      s.Active,
		Ended:       s.Ended,
		Sold:        nonNil(s.Sold),
		NextGrantID: s.NextGrantID,
		ActivatedAt: int64(s.ActivatedAt),
		EndedAt:     int64(s.EndedAt),
	}
}

func newStoredGrant(g *presale.Grant) *storedGrant {
	return &storedGrant{
		ID:          g.ID,
		Owner:       g.Owner,
		Purchaser:   g.Purchaser,
		Tier:        uint8(g.Tier),
		Amount:      nonNil(g.Amount),
		Value:       nonNil(g.Value),
		PurchasedAt: uint64(g.PurchasedAt),
		RedeemAt:    uint64(g.RedeemAt),
		Claimed:     g.Claimed,
		ClaimedAt:   uint64(g.ClaimedAt),
	}
}

func (s *storedGrant) toGrant() (*presale.Grant, error) {
	tier := presale.Tier(s.Tier)
	if !tier.Valid() {
		return nil, fmt.Errorf("state: grant %d has invalid tier %d", s.ID, s.Tier)
	}
	return &presale.Grant{
		ID:          s.ID,
		Owner:       s.Owner,
		Purchaser:   s.Purchaser,
		Tier:        tier,
		Amount:      nonNil(s.Amount),
		Value:       nonNil(s.Value),
		PurchasedAt: int64(s.PurchasedAt),
		RedeemAt:    int64(s.RedeemAt),
		Claimed:     s.Claimed,
		ClaimedAt:   int64(s.ClaimedAt),
	}, nil
}

func newStoredAccount(a *presale.Account) *storedAccount {
	return &storedAccount{
		Address:     a.Address,
		Balance:     nonNil(a.Balance),
		Contributed: nonNil(a.Contributed),
		LockedUntil: uint64(a.LockedUntil),
		RedeemedAt:  uint64(a.RedeemedAt),
	}
}

func (s *storedAccount) toAccount() *presale.Account {
	return &presale.Account{
		Address:     s.Address,
		Balance:     nonNil(s.Balance),
		Contributed: nonNil(s.Contributed),
		LockedUntil: int64(s.LockedUntil),
		RedeemedAt:  int64(s.RedeemedAt),
	}
}

// PresaleConfigFingerprint hashes the identities and limits of cfg.
func PresaleConfigFingerprint(cfg presale.SaleConfig) ([32]byte, error) {
	encoded, err := rlp.EncodeToBytes(newStoredSaleConfig(cfg))
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(encoded))
	return out, nil
}

// PresaleEnsureConfig pins cfg on first use and afterwards rejects any
// configuration whose fingerprint differs from the stored one.
func (m *Manager) PresaleEnsureConfig(cfg presale.SaleConfig) error {
	fingerprint, err := PresaleConfigFingerprint(cfg)
	if err != nil {
		return err
	}
	var record storedConfigRecord
	ok, err := m.KVGet(presaleConfigKey, &record)
	if err != nil {
		return err
	}
	if !ok {
		return m.KVPut(presaleConfigKey, &storedConfigRecord{Fingerprint: fingerprint, Config: newStoredSaleConfig(cfg)})
	}
	if !bytes.Equal(record.Fingerprint[:], fingerprint[:]) {
		return fmt.Errorf("%w: stored %x, configured %x", ErrConfigMismatch, record.Fingerprint, fingerprint)
	}
	return nil
}

// PresaleStateGet returns the stored sale state or the initial state when the
// ledger has never been written.
func (m *Manager) PresaleStateGet() (*presale.SaleState, error) {
	var stored storedSaleState
	ok, err := m.KVGet(presaleStateKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return presale.NewSaleState(), nil
	}
	return stored.toSaleState(), nil
}

// PresaleGrantGet loads a grant by id.
func (m *Manager) PresaleGrantGet(id uint64) (*presale.Grant, bool, error) {
	var stored storedGrant
	ok, err := m.KVGet(presaleGrantKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	grant, err := stored.toGrant()
	if err != nil {
		return nil, false, err
	}
	return grant, true, nil
}

// PresaleGrantIterate visits every grant in id order.
func (m *Manager) PresaleGrantIterate(fn func(*presale.Grant) error) error {
	return m.db.Iterate(presaleGrantPrefix, func(_, value []byte) error {
		var stored storedGrant
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		grant, err := stored.toGrant()
		if err != nil {
			return err
		}
		return fn(grant)
	})
}

// PresaleAccountGet loads the aggregate account of addr.
func (m *Manager) PresaleAccountGet(addr [20]byte) (*presale.Account, bool, error) {
	var stored storedAccount
	ok, err := m.KVGet(presaleAccountKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toAccount(), true, nil
}

// PresaleAccountIterate visits every aggregate account in address order.
func (m *Manager) PresaleAccountIterate(fn func(*presale.Account) error) error {
	return m.db.Iterate(presaleAccountPrefix, func(_, value []byte) error {
		var stored storedAccount
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		return fn(stored.toAccount())
	})
}

// PresaleApply writes every record of cs in a single batch. The returned
// function restores the records that were replaced.
func (m *Manager) PresaleApply(cs *presale.ChangeSet) (func() error, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager unavailable")
	}
	if cs == nil {
		return func() error { return nil }, nil
	}
	j := m.newJournal()
	if cs.State != nil {
		if err := j.put(presaleStateKey, newStoredSaleState(cs.State)); err != nil {
			return nil, err
		}
	}
	for _, grant := range cs.Grants {
		if grant == nil {
			continue
		}
		if grant.ID == 0 {
			return nil, fmt.Errorf("state: grant id must be non-zero")
		}
		if err := j.put(presaleGrantKey(grant.ID), newStoredGrant(grant)); err != nil {
			return nil, err
		}
	}
	for _, acc := range cs.Accounts {
		if acc == nil {
			continue
		}
		if err := j.put(presaleAccountKey(acc.Address), newStoredAccount(acc)); err != nil {
			return nil, err
		}
	}
	return j.commit()
}
