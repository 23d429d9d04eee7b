package presale

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
)

// Purchase prices value under tier and records a new grant owned by sender.
// The grant and sold counter are committed before the value is forwarded to
// the treasury; a forwarding failure restores both.
func (e *Engine) Purchase(ctx context.Context, sender [20]byte, tier Tier, value *big.Int) (*Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMode(ModeTiered); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.checkContribution(st, sender, value); err != nil {
		return nil, err
	}
	quote, err := PriceTier(tier, value, e.cfg.BasePriceDivisor)
	if err != nil {
		return nil, err
	}
	sold, err := e.reserve(st, quote.Amount)
	if err != nil {
		return nil, err
	}

	now := e.now()
	grant := &Grant{
		ID:          st.NextGrantID,
		Owner:       sender,
		Purchaser:   sender,
		Tier:        tier,
		Amount:      quote.Amount,
		Value:       cloneBigInt(value),
		PurchasedAt: now,
		RedeemAt:    now + quote.LockDuration,
	}
	next := st.Clone()
	next.Sold = sold
	next.NextGrantID = st.NextGrantID + 1

	undo, err := e.state.PresaleApply(&ChangeSet{State: next, Grants: []*Grant{grant}})
	if err != nil {
		return nil, err
	}
	if err := e.forward(ctx, sender, value); err != nil {
		return nil, e.rollback(undo, err)
	}
	e.logger.Info("presale purchase",
		slog.Uint64("grant", grant.ID),
		slog.String("owner", formatAddress(sender)),
		slog.String("tier", tier.String()),
		slog.String("amount", grant.Amount.String()))
	e.emit(NewPurchasedEvent(grant))
	return grant.Clone(), nil
}

// TransferGrant reassigns an unclaimed grant to recipient. The lock is left
// untouched.
func (e *Engine) TransferGrant(id uint64, sender, recipient [20]byte) (*Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grant, err := e.loadGrant(id)
	if err != nil {
		return nil, err
	}
	if grant.Owner != sender {
		return nil, ErrNotOwner
	}
	if grant.Claimed {
		return nil, ErrAlreadyClaimed
	}
	var zero [20]byte
	if recipient == zero {
		return nil, ErrInvalidRecipient
	}
	updated := grant.Clone()
	updated.Owner = recipient
	if _, err := e.state.PresaleApply(&ChangeSet{Grants: []*Grant{updated}}); err != nil {
		return nil, err
	}
	e.emit(NewGrantTransferredEvent(updated, sender))
	return updated.Clone(), nil
}

// Redeem releases the grant's tokens to its owner once the lock elapsed. The
// claimed flag is committed before the payout and restored if it fails, which
// leaves the grant redeemable on a later attempt.
func (e *Engine) Redeem(ctx context.Context, id uint64, sender [20]byte) (*Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	grant, err := e.loadGrant(id)
	if err != nil {
		return nil, err
	}
	if grant.Owner != sender {
		return nil, ErrNotOwner
	}
	if grant.Claimed {
		return nil, ErrAlreadyClaimed
	}
	now := e.now()
	if now < grant.RedeemAt {
		return nil, ErrLockNotExpired
	}
	claimed := grant.Clone()
	claimed.Claimed = true
	claimed.ClaimedAt = now

	undo, err := e.state.PresaleApply(&ChangeSet{Grants: []*Grant{claimed}})
	if err != nil {
		return nil, err
	}
	if err := e.pay(ctx, claimed.Owner, claimed.Amount); err != nil {
		return nil, e.rollback(undo, err)
	}
	e.logger.Info("presale redemption",
		slog.Uint64("grant", claimed.ID),
		slog.String("owner", formatAddress(claimed.Owner)),
		slog.String("amount", claimed.Amount.String()))
	e.emit(NewRedeemedEvent(claimed))
	return claimed.Clone(), nil
}

func (e *Engine) loadGrant(id uint64) (*Grant, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireMode(ModeTiered); err != nil {
		return nil, err
	}
	grant, ok, err := e.state.PresaleGrantGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || grant == nil {
		return nil, ErrUnknownGrant
	}
	return grant, nil
}

// Grant returns a snapshot of the grant.
func (e *Engine) Grant(id uint64) (*Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	grant, err := e.loadGrant(id)
	if err != nil {
		return nil, err
	}
	return grant.Clone(), nil
}

func (e *Engine) AmountOf(id uint64) (*big.Int, error) {
	grant, err := e.Grant(id)
	if err != nil {
		return nil, err
	}
	return grant.Amount, nil
}

// LockupOf returns the unix timestamp at which the grant becomes redeemable.
func (e *Engine) LockupOf(id uint64) (int64, error) {
	grant, err := e.Grant(id)
	if err != nil {
		return 0, err
	}
	return grant.RedeemAt, nil
}

func (e *Engine) OwnerOf(id uint64) ([20]byte, error) {
	grant, err := e.Grant(id)
	if err != nil {
		return [20]byte{}, err
	}
	return grant.Owner, nil
}

func (e *Engine) IsClaimed(id uint64) (bool, error) {
	grant, err := e.Grant(id)
	if err != nil {
		return false, err
	}
	return grant.Claimed, nil
}

// GrantCount returns the number of grants created so far.
func (e *Engine) GrantCount() (uint64, error) {
	st, err := e.State()
	if err != nil {
		return 0, err
	}
	if st.NextGrantID == 0 {
		return 0, nil
	}
	return st.NextGrantID - 1, nil
}

// Grants returns every grant ordered by id.
func (e *Engine) Grants() ([]*Grant, error) {
	return e.collectGrants(func(*Grant) bool { return true })
}

// GrantsOf returns the grants currently owned by owner ordered by id.
func (e *Engine) GrantsOf(owner [20]byte) ([]*Grant, error) {
	return e.collectGrants(func(g *Grant) bool { return g.Owner == owner })
}

func (e *Engine) collectGrants(keep func(*Grant) bool) ([]*Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireMode(ModeTiered); err != nil {
		return nil, err
	}
	out := make([]*Grant, 0)
	err := e.state.PresaleGrantIterate(func(g *Grant) error {
		if g != nil && keep(g) {
			out = append(out, g.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
