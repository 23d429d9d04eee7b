package presale

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay

	// AggregateLockDuration is the single lock applied by the aggregate model.
	AggregateLockDuration int64 = 365 * secondsPerDay

	maxDivisorBits = 192
)

// TierTerms describes the price multiplier (as a fraction) and lock duration
// of a tier. Longer locks price more favourably for the buyer.
type TierTerms struct {
	Tier         Tier
	Numerator    uint64
	Denominator  uint64
	LockDuration int64
}

var tierSchedule = map[Tier]TierTerms{
	TierShort:  {Tier: TierShort, Numerator: 11, Denominator: 20, LockDuration: 12 * secondsPerWeek},
	TierMedium: {Tier: TierMedium, Numerator: 5, Denominator: 8, LockDuration: 24 * secondsPerWeek},
	TierLong:   {Tier: TierLong, Numerator: 3, Denominator: 4, LockDuration: 52 * secondsPerWeek},
}

// TermsFor returns the pricing terms of the tier.
func TermsFor(tier Tier) (TierTerms, error) {
	terms, ok := tierSchedule[tier]
	if !ok {
		return TierTerms{}, fmt.Errorf("%w: %s", ErrInvalidTier, tier)
	}
	return terms, nil
}

// Quote is the outcome of pricing a contribution.
type Quote struct {
	Tier         Tier
	Value        *big.Int
	Amount       *big.Int
	LockDuration int64
}

// PriceTier converts value into sale token units under the tier's terms:
// floor(value * numerator / (denominator * divisor)). A zero result is
// reported as ErrZeroValuation.
func PriceTier(tier Tier, value, divisor *big.Int) (Quote, error) {
	terms, err := TermsFor(tier)
	if err != nil {
		return Quote{}, err
	}
	val, div, err := pricingOperands(value, divisor)
	if err != nil {
		return Quote{}, err
	}
	denominator, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(terms.Denominator), div)
	if overflow {
		return Quote{}, ErrValueOverflow
	}
	amount, overflow := new(uint256.Int).MulDivOverflow(val, uint256.NewInt(terms.Numerator), denominator)
	if overflow {
		return Quote{}, ErrValueOverflow
	}
	if amount.IsZero() {
		return Quote{}, ErrZeroValuation
	}
	return Quote{Tier: tier, Value: cloneBigInt(value), Amount: amount.ToBig(), LockDuration: terms.LockDuration}, nil
}

// PriceFlat applies the aggregate model's baseline conversion value / divisor.
func PriceFlat(value, divisor *big.Int) (Quote, error) {
	val, div, err := pricingOperands(value, divisor)
	if err != nil {
		return Quote{}, err
	}
	amount := new(uint256.Int).Div(val, div)
	if amount.IsZero() {
		return Quote{}, ErrZeroValuation
	}
	return Quote{Value: cloneBigInt(value), Amount: amount.ToBig(), LockDuration: AggregateLockDuration}, nil
}

func pricingOperands(value, divisor *big.Int) (*uint256.Int, *uint256.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, nil, ErrValueOverflow
	}
	if divisor == nil || divisor.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: base price divisor must be positive", ErrInvalidConfig)
	}
	val, overflow := uint256.FromBig(value)
	if overflow {
		return nil, nil, ErrValueOverflow
	}
	div, overflow := uint256.FromBig(divisor)
	if overflow {
		return nil, nil, fmt.Errorf("%w: base price divisor too large", ErrInvalidConfig)
	}
	return val, div, nil
}
