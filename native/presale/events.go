package presale

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rados-io/saturn-presale/core/types"
)

const (
	EventTypeActivated        = "presale.activated"
	EventTypePurchased        = "presale.purchased"
	EventTypeGrantTransferred = "presale.grant.transferred"
	EventTypeRedeemed         = "presale.redeemed"
	EventTypeEnded            = "presale.ended"
	EventTypeAccountPurchased = "presale.account.purchased"
	EventTypeAccountRedeemed  = "presale.account.redeemed"
)

// NewActivatedEvent is emitted once the hard-cap deposit lands.
func NewActivatedEvent(token, from [20]byte, amount *big.Int, at int64) *types.Event {
	return &types.Event{
		Type: EventTypeActivated,
		Attributes: map[string]string{
			"token":       formatAddress(token),
			"from":        formatAddress(from),
			"amount":      formatAmount(amount),
			"activatedAt": strconv.FormatInt(at, 10),
		},
	}
}

// NewPurchasedEvent carries the purchase record for external observers.
func NewPurchasedEvent(g *Grant) *types.Event {
	return newGrantEvent(EventTypePurchased, g)
}

// NewRedeemedEvent is emitted after the payout for a grant succeeded.
func NewRedeemedEvent(g *Grant) *types.Event {
	return newGrantEvent(EventTypeRedeemed, g)
}

func NewGrantTransferredEvent(g *Grant, from [20]byte) *types.Event {
	evt := newGrantEvent(EventTypeGrantTransferred, g)
	if evt != nil {
		evt.Attributes["from"] = formatAddress(from)
	}
	return evt
}

func NewEndedEvent(owner [20]byte, sold, unsold *big.Int, at int64) *types.Event {
	return &types.Event{
		Type: EventTypeEnded,
		Attributes: map[string]string{
			"owner":   formatAddress(owner),
			"sold":    formatAmount(sold),
			"unsold":  formatAmount(unsold),
			"endedAt": strconv.FormatInt(at, 10),
		},
	}
}

func NewAccountPurchasedEvent(acc *Account, value, amount *big.Int) *types.Event {
	evt := newAccountEvent(EventTypeAccountPurchased, acc)
	if evt != nil {
		evt.Attributes["value"] = formatAmount(value)
		evt.Attributes["amount"] = formatAmount(amount)
	}
	return evt
}

func NewAccountRedeemedEvent(acc *Account, amount *big.Int) *types.Event {
	evt := newAccountEvent(EventTypeAccountRedeemed, acc)
	if evt != nil {
		evt.Attributes["amount"] = formatAmount(amount)
	}
	return evt
}

func newGrantEvent(eventType string, g *Grant) *types.Event {
	if g == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":          strconv.FormatUint(g.ID, 10),
			"owner":       formatAddress(g.Owner),
			"purchaser":   formatAddress(g.Purchaser),
			"tier":        g.Tier.String(),
			"amount":      formatAmount(g.Amount),
			"value":       formatAmount(g.Value),
			"purchasedAt": strconv.FormatInt(g.PurchasedAt, 10),
			"redeemAt":    strconv.FormatInt(g.RedeemAt, 10),
			"claimed":     strconv.FormatBool(g.Claimed),
		},
	}
}

func newAccountEvent(eventType string, acc *Account) *types.Event {
	if acc == nil {
		return nil
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"address":     formatAddress(acc.Address),
			"balance":     formatAmount(acc.Balance),
			"lockedUntil": strconv.FormatInt(acc.LockedUntil, 10),
		},
	}
}

func formatAddress(addr [20]byte) string {
	return common.BytesToAddress(addr[:]).Hex()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
