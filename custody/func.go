package custody

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PayoutFunc adapts a function to the ledger's token payout interface.
type PayoutFunc func(ctx context.Context, token, to [20]byte, amount *big.Int) error

// Payout calls f.
func (f PayoutFunc) Payout(ctx context.Context, token, to [20]byte, amount *big.Int) error {
	return f(ctx, token, to, amount)
}

// ForwardFunc adapts a function to the ledger's value forwarding interface.
type ForwardFunc func(ctx context.Context, treasury, from [20]byte, amount *big.Int) error

// Forward calls f.
func (f ForwardFunc) Forward(ctx context.Context, treasury, from [20]byte, amount *big.Int) error {
	return f(ctx, treasury, from, amount)
}

// DryRun returns collaborators that accept every transfer and only log it.
func DryRun(logger *slog.Logger) (PayoutFunc, ForwardFunc) {
	if logger == nil {
		logger = slog.Default()
	}
	payout := func(_ context.Context, token, to [20]byte, amount *big.Int) error {
		logger.Warn("custody dry run: payout",
			slog.String("token", common.BytesToAddress(token[:]).Hex()),
			slog.String("to", common.BytesToAddress(to[:]).Hex()),
			slog.String("amount", amountString(amount)))
		return nil
	}
	forward := func(_ context.Context, treasury, from [20]byte, amount *big.Int) error {
		logger.Warn("custody dry run: forward",
			slog.String("treasury", common.BytesToAddress(treasury[:]).Hex()),
			slog.String("from", common.BytesToAddress(from[:]).Hex()),
			slog.String("amount", amountString(amount)))
		return nil
	}
	return payout, forward
}
