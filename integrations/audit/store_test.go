package audit

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rados-io/saturn-presale/core/events"
	"github.com/rados-io/saturn-presale/core/types"
	"github.com/rados-io/saturn-presale/native/presale"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

type ledgerEvent struct{ evt *types.Event }

func (e ledgerEvent) EventType() string   { return e.evt.Type }
func (e ledgerEvent) Event() *types.Event { return e.evt }

func payloadEvent(evt *types.Event) events.Event { return ledgerEvent{evt: evt} }

func grant(id uint64, owner byte) *presale.Grant {
	return &presale.Grant{
		ID:        id,
		Owner:     [20]byte{19: owner},
		Purchaser: [20]byte{19: owner},
		Tier:      presale.TierMedium,
		Amount:    big.NewInt(625),
		Value:     big.NewInt(1000),
	}
}

func TestStoreAppendsFromEmitter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	hub := events.Fanout{store}

	hub.Emit(payloadEvent(presale.NewPurchasedEvent(grant(1, 0xA1))))
	hub.Emit(payloadEvent(presale.NewPurchasedEvent(grant(2, 0xB2))))
	hub.Emit(payloadEvent(presale.NewRedeemedEvent(grant(1, 0xA1))))

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		require.EqualValues(t, i+1, rec.Sequence)
	}

	byGrant, err := store.List(ctx, Query{GrantID: 1})
	require.NoError(t, err)
	require.Len(t, byGrant, 2)
	require.Equal(t, presale.EventTypeRedeemed, byGrant[1].Type)

	owner := byGrant[0]
	attrs, err := owner.DecodeAttributes()
	require.NoError(t, err)
	require.Equal(t, "625", attrs["amount"])

	bySubject, err := store.List(ctx, Query{Subject: attrs["owner"]})
	require.NoError(t, err)
	require.Len(t, bySubject, 2)

	purchases, err := store.Count(ctx, presale.EventTypePurchased)
	require.NoError(t, err)
	require.EqualValues(t, 2, purchases)

	after, err := store.List(ctx, Query{AfterSequence: 2})
	require.NoError(t, err)
	require.Len(t, after, 1)
}

func TestStoreLimitsResults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, presale.EventTypeAccountPurchased, map[string]string{"address": "0xabc"})
		require.NoError(t, err)
	}
	page, err := store.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.EqualValues(t, 2, page[1].Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
