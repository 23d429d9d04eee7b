package presale

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func TestPriceTierSchedule(t *testing.T) {
	divisor := big.NewInt(1_000_000_000)
	cases := []struct {
		tier   Tier
		amount string
		lock   int64
	}{
		{TierShort, "550000000", 12 * 7 * 24 * 3600},
		{TierMedium, "625000000", 24 * 7 * 24 * 3600},
		{TierLong, "750000000", 52 * 7 * 24 * 3600},
	}
	for _, tc := range cases {
		t.Run(tc.tier.String(), func(t *testing.T) {
			quote, err := PriceTier(tc.tier, ether(1), divisor)
			require.NoError(t, err)
			require.Equal(t, tc.amount, quote.Amount.String())
			require.Equal(t, tc.lock, quote.LockDuration)
			require.Equal(t, tc.tier, quote.Tier)
		})
	}
}

func TestPriceTierFloors(t *testing.T) {
	// 1999 * 11 / (20 * 100) = 10.9945
	quote, err := PriceTier(TierShort, big.NewInt(1999), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, "10", quote.Amount.String())
}

func TestPriceTierRejectsZeroValuation(t *testing.T) {
	_, err := PriceTier(TierShort, big.NewInt(10_000), big.NewInt(1_000_000_000))
	require.ErrorIs(t, err, ErrZeroValuation)
	require.Equal(t, KindBounds, KindOf(err))
}

func TestPriceTierRejectsInvalidInput(t *testing.T) {
	_, err := PriceTier(Tier(9), big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidTier)

	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = PriceTier(TierLong, tooLarge, big.NewInt(1))
	require.ErrorIs(t, err, ErrValueOverflow)

	_, err = PriceTier(TierLong, big.NewInt(-1), big.NewInt(1))
	require.ErrorIs(t, err, ErrValueOverflow)
}

func TestPriceTierHandlesFullWidthValues(t *testing.T) {
	// The intermediate product exceeds 256 bits but the quotient does not.
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	quote, err := PriceTier(TierLong, max, big.NewInt(1))
	require.NoError(t, err)
	want := new(big.Int).Div(new(big.Int).Mul(max, big.NewInt(3)), big.NewInt(4))
	require.Equal(t, want.String(), quote.Amount.String())
}

func TestPriceFlat(t *testing.T) {
	quote, err := PriceFlat(big.NewInt(100_000_000_000), big.NewInt(1_000_000_000))
	require.NoError(t, err)
	require.Equal(t, "100", quote.Amount.String())
	require.Equal(t, int64(31_536_000), quote.LockDuration)

	_, err = PriceFlat(big.NewInt(10_000), big.NewInt(1_000_000_000))
	require.ErrorIs(t, err, ErrZeroValuation)
}

func TestParseTierAndMode(t *testing.T) {
	tier, err := ParseTier(" Medium ")
	require.NoError(t, err)
	require.Equal(t, TierMedium, tier)
	_, err = ParseTier("forever")
	require.ErrorIs(t, err, ErrInvalidTier)

	mode, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeTiered, mode)
	mode, err = ParseMode("AGGREGATE")
	require.NoError(t, err)
	require.Equal(t, ModeAggregate, mode)
	_, err = ParseMode("hybrid")
	require.Error(t, err)
}
