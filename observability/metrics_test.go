package observability

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rados-io/saturn-presale/core/types"
	"github.com/rados-io/saturn-presale/native/presale"
)

type payload struct{ evt *types.Event }

func (p payload) EventType() string   { return p.evt.Type }
func (p payload) Event() *types.Event { return p.evt }

func TestPresaleMetricsFromEvents(t *testing.T) {
	m := Presale()
	before := testutil.ToFloat64(m.purchases.WithLabelValues("long"))
	m.Emit(payload{evt: presale.NewPurchasedEvent(&presale.Grant{ID: 1, Tier: presale.TierLong, Amount: big.NewInt(1)})})
	require.Equal(t, before+1, testutil.ToFloat64(m.purchases.WithLabelValues("long")))

	beforeAgg := testutil.ToFloat64(m.redemptions.WithLabelValues("aggregate"))
	m.Emit(payload{evt: presale.NewAccountRedeemedEvent(&presale.Account{Balance: big.NewInt(0)}, big.NewInt(5))})
	require.Equal(t, beforeAgg+1, testutil.ToFloat64(m.redemptions.WithLabelValues("aggregate")))

	m.Emit(payload{evt: presale.NewEndedEvent([20]byte{}, big.NewInt(0), big.NewInt(0), 0)})
	require.Equal(t, float64(0), testutil.ToFloat64(m.active))
}

func TestPresaleMetricsSupplyAndRejections(t *testing.T) {
	m := Presale()
	m.SetSupply(true, big.NewInt(400), big.NewInt(1500))
	require.Equal(t, float64(400), testutil.ToFloat64(m.sold))
	require.Equal(t, float64(1100), testutil.ToFloat64(m.remaining))
	require.Equal(t, float64(1), testutil.ToFloat64(m.active))

	before := testutil.ToFloat64(m.custody.WithLabelValues("payout"))
	m.RecordRejection("redeem", fmt.Errorf("%w: %w", presale.ErrPayoutFailed, errors.New("offline")))
	require.Equal(t, before+1, testutil.ToFloat64(m.custody.WithLabelValues("payout")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rejections.WithLabelValues("redeem", "payout_failed")))

	var nilMetrics *PresaleMetrics
	nilMetrics.RecordRejection("redeem", presale.ErrNotOwner)
	nilMetrics.SetSupply(true, big.NewInt(1), big.NewInt(1))
}

func TestHTTPMetricsObserve(t *testing.T) {
	m := HTTP()
	m.Observe("/v1/sale", "GET", 0, time.Millisecond)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.requests.WithLabelValues("/v1/sale", "GET", "200")), float64(1))
	m.Throttled("/v1/purchases")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.throttle.WithLabelValues("/v1/purchases")), float64(1))
}
