package presale

import (
	"fmt"
	"math/big"
	"strings"
)

// Tier selects the price multiplier and lock duration applied to a tiered
// purchase.
type Tier uint8

const (
	TierShort Tier = iota + 1
	TierMedium
	TierLong
)

// Valid reports whether the tier is one of the supported values.
func (t Tier) Valid() bool {
	switch t {
	case TierShort, TierMedium, TierLong:
		return true
	default:
		return false
	}
}

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierMedium:
		return "medium"
	case TierLong:
		return "long"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// ParseTier resolves the textual tier name used by the API and exports.
func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "short":
		return TierShort, nil
	case "medium":
		return TierMedium, nil
	case "long":
		return TierLong, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
}

// Mode determines which purchase model a ledger runs. A ledger never switches
// modes once its state has been initialised.
type Mode uint8

const (
	ModeTiered Mode = iota + 1
	ModeAggregate
)

func (m Mode) Valid() bool { return m == ModeTiered || m == ModeAggregate }

func (m Mode) String() string {
	switch m {
	case ModeTiered:
		return "tiered"
	case ModeAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps the configuration value onto a Mode. Empty input selects the
// tiered model.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "tiered":
		return ModeTiered, nil
	case "aggregate":
		return ModeAggregate, nil
	default:
		return 0, fmt.Errorf("presale: unknown mode %q", raw)
	}
}

// SaleConfig holds the identities and limits fixed at construction.
type SaleConfig struct {
	SaleToken        [20]byte
	Treasury         [20]byte
	Owner            [20]byte
	MinContribution  *big.Int
	HardCap          *big.Int
	BasePriceDivisor *big.Int
	Mode             Mode
}

// Clone returns a deep copy of the configuration.
func (c SaleConfig) Clone() SaleConfig {
	clone := c
	clone.MinContribution = cloneBigInt(c.MinContribution)
	clone.HardCap = cloneBigInt(c.HardCap)
	clone.BasePriceDivisor = cloneBigInt(c.BasePriceDivisor)
	return clone
}

// Validate enforces the construction invariants.
func (c SaleConfig) Validate() error {
	var zero [20]byte
	if c.SaleToken == zero {
		return fmt.Errorf("%w: sale token must be set", ErrInvalidConfig)
	}
	if c.Treasury == zero {
		return fmt.Errorf("%w: treasury must be set", ErrInvalidConfig)
	}
	if c.Owner == zero {
		return fmt.Errorf("%w: owner must be set", ErrInvalidConfig)
	}
	if c.HardCap == nil || c.HardCap.Sign() <= 0 {
		return fmt.Errorf("%w: hard cap must be positive", ErrInvalidConfig)
	}
	if c.MinContribution != nil && c.MinContribution.Sign() < 0 {
		return fmt.Errorf("%w: minimum contribution must not be negative", ErrInvalidConfig)
	}
	if c.BasePriceDivisor == nil || c.BasePriceDivisor.Sign() <= 0 {
		return fmt.Errorf("%w: base price divisor must be positive", ErrInvalidConfig)
	}
	if c.BasePriceDivisor.BitLen() > maxDivisorBits {
		return fmt.Errorf("%w: base price divisor too large", ErrInvalidConfig)
	}
	if c.HardCap.BitLen() > 256 || (c.MinContribution != nil && c.MinContribution.BitLen() > 256) {
		return fmt.Errorf("%w: limits exceed 256 bits", ErrInvalidConfig)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("%w: mode must be tiered or aggregate", ErrInvalidConfig)
	}
	return nil
}

// SaleState is the mutable sale record. Sold only grows inside a successful
// purchase and never exceeds the hard cap.
type SaleState struct {
	Active      bool
	Ended       bool
	Sold        *big.Int
	NextGrantID uint64
	ActivatedAt int64
	EndedAt     int64
}

// Clone returns a deep copy of the sale state.
func (s *SaleState) Clone() *SaleState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Sold = cloneBigInt(s.Sold)
	return &clone
}

// NewSaleState returns the initial, inactive state. Grant identifiers start
// at one so the zero id never resolves.
func NewSaleState() *SaleState {
	return &SaleState{Sold: big.NewInt(0), NextGrantID: 1}
}

// Grant records a single tiered purchase.
type Grant struct {
	ID          uint64
	Owner       [20]byte
	Purchaser   [20]byte
	Tier        Tier
	Amount      *big.Int
	Value       *big.Int
	PurchasedAt int64
	RedeemAt    int64
	Claimed     bool
	ClaimedAt   int64
}

// Clone returns a deep copy of the grant.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Amount = cloneBigInt(g.Amount)
	clone.Value = cloneBigInt(g.Value)
	return &clone
}

// Redeemable reports whether the lock has elapsed at the supplied timestamp.
func (g *Grant) Redeemable(now int64) bool {
	return g != nil && !g.Claimed && now >= g.RedeemAt
}

// Account is the per-address balance kept by the aggregate model.
type Account struct {
	Address     [20]byte
	Balance     *big.Int
	Contributed *big.Int
	LockedUntil int64
	RedeemedAt  int64
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Balance = cloneBigInt(a.Balance)
	clone.Contributed = cloneBigInt(a.Contributed)
	return &clone
}

// ChangeSet is the unit of state written by a single transition. The state
// backend applies it atomically and hands back an undo function restoring the
// previous records.
type ChangeSet struct {
	State    *SaleState
	Grants   []*Grant
	Accounts []*Account
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
