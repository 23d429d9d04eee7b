package presale

import (
	"bytes"
	"context"
	"log/slog"
	"math/big"
	"sort"
)

// Buy credits sender with value / divisor tokens under the aggregate model.
// The lock is armed when the contribution lands on an empty balance and is not
// extended by later contributions.
func (e *Engine) Buy(ctx context.Context, sender [20]byte, value *big.Int) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMode(ModeAggregate); err != nil {
		return nil, err
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.checkContribution(st, sender, value); err != nil {
		return nil, err
	}
	quote, err := PriceFlat(value, e.cfg.BasePriceDivisor)
	if err != nil {
		return nil, err
	}
	sold, err := e.reserve(st, quote.Amount)
	if err != nil {
		return nil, err
	}
	acc, err := e.loadAccount(sender)
	if err != nil {
		return nil, err
	}
	updated := acc.Clone()
	if updated.Balance.Sign() == 0 {
		updated.LockedUntil = e.now() + quote.LockDuration
	}
	updated.Balance.Add(updated.Balance, quote.Amount)
	updated.Contributed.Add(updated.Contributed, value)

	next := st.Clone()
	next.Sold = sold

	undo, err := e.state.PresaleApply(&ChangeSet{State: next, Accounts: []*Account{updated}})
	if err != nil {
		return nil, err
	}
	if err := e.forward(ctx, sender, value); err != nil {
		return nil, e.rollback(undo, err)
	}
	e.logger.Info("presale contribution",
		slog.String("address", formatAddress(sender)),
		slog.String("amount", quote.Amount.String()),
		slog.Int64("lockedUntil", updated.LockedUntil))
	e.emit(NewAccountPurchasedEvent(updated, value, quote.Amount))
	return updated.Clone(), nil
}

// RedeemAccount pays out the sender's whole balance once its lock elapsed and
// zeroes the balance.
func (e *Engine) RedeemAccount(ctx context.Context, sender [20]byte) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireMode(ModeAggregate); err != nil {
		return nil, err
	}
	acc, err := e.loadAccount(sender)
	if err != nil {
		return nil, err
	}
	if acc.Balance.Sign() == 0 {
		return nil, ErrNothingToRedeem
	}
	now := e.now()
	if now < acc.LockedUntil {
		return nil, ErrLockNotExpired
	}
	amount := cloneBigInt(acc.Balance)
	updated := acc.Clone()
	updated.Balance = big.NewInt(0)
	updated.RedeemedAt = now

	undo, err := e.state.PresaleApply(&ChangeSet{Accounts: []*Account{updated}})
	if err != nil {
		return nil, err
	}
	if err := e.pay(ctx, sender, amount); err != nil {
		return nil, e.rollback(undo, err)
	}
	e.logger.Info("presale account redemption",
		slog.String("address", formatAddress(sender)),
		slog.String("amount", amount.String()))
	e.emit(NewAccountRedeemedEvent(updated, amount))
	return amount, nil
}

func (e *Engine) loadAccount(addr [20]byte) (*Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, ok, err := e.state.PresaleAccountGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || acc == nil {
		return &Account{Address: addr, Balance: big.NewInt(0), Contributed: big.NewInt(0)}, nil
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	if acc.Contributed == nil {
		acc.Contributed = big.NewInt(0)
	}
	return acc, nil
}

// Account returns the aggregate record for addr. Unknown addresses yield an
// empty account.
func (e *Engine) Account(addr [20]byte) (*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireMode(ModeAggregate); err != nil {
		return nil, err
	}
	acc, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

func (e *Engine) BalanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// AccountLockup returns the unix timestamp gating the address' redemption.
// It carries no meaning once the balance has been redeemed.
func (e *Engine) AccountLockup(addr [20]byte) (int64, error) {
	acc, err := e.Account(addr)
	if err != nil {
		return 0, err
	}
	return acc.LockedUntil, nil
}

// Accounts returns every aggregate account ordered by address.
func (e *Engine) Accounts() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if err := e.requireMode(ModeAggregate); err != nil {
		return nil, err
	}
	out := make([]*Account, 0)
	err := e.state.PresaleAccountIterate(func(acc *Account) error {
		if acc != nil {
			out = append(out, acc.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0 })
	return out, nil
}
