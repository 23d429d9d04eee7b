package presale

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/rados-io/saturn-presale/core/events"
	"github.com/rados-io/saturn-presale/core/types"
)

// TokenPayout pays sale tokens out of custody. It is only invoked from
// redemption; an error aborts the redemption.
type TokenPayout interface {
	Payout(ctx context.Context, token, to [20]byte, amount *big.Int) error
}

// ValueForwarder moves contributed native value to the treasury. An error
// aborts the purchase.
type ValueForwarder interface {
	Forward(ctx context.Context, treasury, from [20]byte, amount *big.Int) error
}

type engineState interface {
	PresaleStateGet() (*SaleState, error)
	PresaleGrantGet(id uint64) (*Grant, bool, error)
	PresaleGrantIterate(fn func(*Grant) error) error
	PresaleAccountGet(addr [20]byte) (*Account, bool, error)
	PresaleAccountIterate(fn func(*Account) error) error
	// PresaleApply writes the change set atomically and returns a function
	// restoring the records it replaced.
	PresaleApply(cs *ChangeSet) (func() error, error)
}

type presaleEvent struct {
	evt *types.Event
}

func (e presaleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e presaleEvent) Event() *types.Event { return e.evt }

// Engine is the sale ledger. Every call runs to completion under the engine
// lock so that collaborator transfers never interleave with balance checks.
type Engine struct {
	mu        sync.Mutex
	cfg       SaleConfig
	state     engineState
	payout    TokenPayout
	forwarder ValueForwarder
	emitter   events.Emitter
	logger    *slog.Logger
	nowFn     func() int64
}

// NewEngine validates cfg and returns an engine with a no-op emitter. State
// and collaborators must be configured before any mutating call.
func NewEngine(cfg SaleConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg.Clone(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenPayout configures the custodian used to release redeemed tokens.
func (e *Engine) SetTokenPayout(p TokenPayout) { e.payout = p }

// SetValueForwarder configures the channel forwarding contributions to the
// treasury.
func (e *Engine) SetValueForwarder(f ValueForwarder) { e.forwarder = f }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(presaleEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadState() (*SaleState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st, err := e.state.PresaleStateGet()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return NewSaleState(), nil
	}
	if st.Sold == nil {
		st.Sold = big.NewInt(0)
	}
	return st, nil
}

func (e *Engine) requireMode(mode Mode) error {
	if e.cfg.Mode != mode {
		return fmt.Errorf("%w: ledger runs in %s mode", ErrWrongMode, e.cfg.Mode)
	}
	return nil
}

// rollback restores the records replaced by a commit after a collaborator
// refused the transfer. The returned error always wraps cause.
func (e *Engine) rollback(undo func() error, cause error) error {
	if undo == nil {
		return cause
	}
	if err := undo(); err != nil {
		e.logger.Error("presale rollback failed", slog.Any("cause", cause), slog.Any("error", err))
		return fmt.Errorf("%w (rollback failed: %w)", cause, err)
	}
	return cause
}

// Deposit handles the custodian's notification that amount units of token were
// transferred into custody by from. The sale activates when exactly the hard
// cap of the sale token arrives while inactive.
func (e *Engine) Deposit(token, from [20]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if token != e.cfg.SaleToken {
		return ErrWrongToken
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.Ended {
		return ErrSaleClosed
	}
	if st.Active {
		return ErrAlreadyActive
	}
	if amount == nil || amount.Cmp(e.cfg.HardCap) != 0 {
		return ErrWrongAmount
	}
	next := st.Clone()
	next.Active = true
	next.ActivatedAt = e.now()
	if _, err := e.state.PresaleApply(&ChangeSet{State: next}); err != nil {
		return err
	}
	e.logger.Info("presale activated",
		slog.String("token", formatAddress(token)),
		slog.String("from", formatAddress(from)),
		slog.String("amount", amount.String()))
	e.emit(NewActivatedEvent(token, from, amount, next.ActivatedAt))
	return nil
}

// EndPresale closes the sale. Existing grants stay redeemable and unsold tokens
// remain with the custodian.
func (e *Engine) EndPresale(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return ErrNotOwner
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if !st.Active {
		return ErrNotActive
	}
	next := st.Clone()
	next.Active = false
	next.Ended = true
	next.EndedAt = e.now()
	if _, err := e.state.PresaleApply(&ChangeSet{State: next}); err != nil {
		return err
	}
	unsold := new(big.Int).Sub(e.cfg.HardCap, next.Sold)
	e.logger.Info("presale ended", slog.String("sold", next.Sold.String()), slog.String("unsold", unsold.String()))
	e.emit(NewEndedEvent(caller, next.Sold, unsold, next.EndedAt))
	return nil
}

// checkContribution runs the guards shared by both purchase models, in order:
// token caller, activation, minimum contribution.
func (e *Engine) checkContribution(st *SaleState, sender [20]byte, value *big.Int) error {
	if sender == e.cfg.SaleToken {
		return ErrTokenCaller
	}
	if !st.Active {
		return ErrSaleInactive
	}
	if value == nil || value.Sign() < 0 {
		return ErrValueOverflow
	}
	if e.cfg.MinContribution != nil && value.Cmp(e.cfg.MinContribution) < 0 {
		return ErrBelowMinimum
	}
	return nil
}

// reserve returns the sold counter after adding amount, rejecting purchases
// that would overrun the hard cap.
func (e *Engine) reserve(st *SaleState, amount *big.Int) (*big.Int, error) {
	sold := new(big.Int).Add(st.Sold, amount)
	if sold.Cmp(e.cfg.HardCap) > 0 {
		return nil, ErrExceedsHardCap
	}
	return sold, nil
}

func (e *Engine) forward(ctx context.Context, sender [20]byte, value *big.Int) error {
	if e.forwarder == nil {
		return errNilForwarder
	}
	if err := e.forwarder.Forward(ctx, e.cfg.Treasury, sender, cloneBigInt(value)); err != nil {
		return fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	return nil
}

func (e *Engine) pay(ctx context.Context, to [20]byte, amount *big.Int) error {
	if e.payout == nil {
		return errNilPayout
	}
	if err := e.payout.Payout(ctx, e.cfg.SaleToken, to, cloneBigInt(amount)); err != nil {
		return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
	}
	return nil
}

// Config returns a copy of the immutable sale configuration.
func (e *Engine) Config() SaleConfig { return e.cfg.Clone() }

func (e *Engine) TokenAddress() [20]byte { return e.cfg.SaleToken }

func (e *Engine) Treasury() [20]byte { return e.cfg.Treasury }

func (e *Engine) Owner() [20]byte { return e.cfg.Owner }

func (e *Engine) HardCap() *big.Int { return cloneBigInt(e.cfg.HardCap) }

func (e *Engine) Mode() Mode { return e.cfg.Mode }

// State returns a snapshot of the sale state.
func (e *Engine) State() (*SaleState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadState()
}

func (e *Engine) Active() (bool, error) {
	st, err := e.State()
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// Ended reports whether the owner terminated the sale.
func (e *Engine) Ended() (bool, error) {
	st, err := e.State()
	if err != nil {
		return false, err
	}
	return st.Ended, nil
}

func (e *Engine) Sold() (*big.Int, error) {
	st, err := e.State()
	if err != nil {
		return nil, err
	}
	return st.Sold, nil
}

// Unsold reports hardCap - sold. The ledger never returns these tokens; the
// figure exists for the custodian's reconciliation.
func (e *Engine) Unsold() (*big.Int, error) {
	sold, err := e.Sold()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(e.cfg.HardCap, sold), nil
}

// Quote prices value without touching state. In aggregate mode the tier is
// ignored.
func (e *Engine) Quote(tier Tier, value *big.Int) (Quote, error) {
	if e.cfg.Mode == ModeAggregate {
		return PriceFlat(value, e.cfg.BasePriceDivisor)
	}
	return PriceTier(tier, value, e.cfg.BasePriceDivisor)
}
