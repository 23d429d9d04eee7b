package presale

import "errors"

var (
	ErrSaleInactive     = errors.New("presale: sale not active")
	ErrNotActive        = errors.New("presale: not active")
	ErrAlreadyActive    = errors.New("presale: already active")
	ErrSaleClosed       = errors.New("presale: sale has ended")
	ErrWrongAmount      = errors.New("presale: deposit must equal hard cap")
	ErrWrongToken       = errors.New("presale: wrong token")
	ErrNotOwner         = errors.New("presale: caller is not the owner")
	ErrAlreadyClaimed   = errors.New("presale: grant already claimed")
	ErrLockNotExpired   = errors.New("presale: lock not expired")
	ErrTokenCaller      = errors.New("presale: token contract cannot purchase")
	ErrInvalidRecipient = errors.New("presale: invalid recipient")
	ErrNothingToRedeem  = errors.New("presale: nothing to redeem")
	ErrWrongMode        = errors.New("presale: operation not available in this mode")
	ErrInvalidTier      = errors.New("presale: invalid tier")

	ErrBelowMinimum   = errors.New("presale: contribution below minimum")
	ErrExceedsHardCap = errors.New("presale: purchase exceeds hard cap")
	ErrZeroValuation  = errors.New("presale: contribution rounds to zero tokens")
	ErrValueOverflow  = errors.New("presale: contribution out of range")

	ErrUnknownGrant = errors.New("presale: unknown grant")

	ErrInvalidConfig = errors.New("presale: invalid config")
	ErrPayoutFailed  = errors.New("presale: payout failed")
	ErrForwardFailed = errors.New("presale: treasury forward failed")
	errNilState      = errors.New("presale engine: state not configured")
	errNilPayout     = errors.New("presale engine: token payout not configured")
	errNilForwarder  = errors.New("presale engine: value forwarder not configured")
)

// Kind classifies a ledger error for callers that only care about the broad
// failure category.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindBounds
	KindNotFound
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindBounds:
		return "bounds"
	case KindNotFound:
		return "not_found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

type errorClass struct {
	err  error
	kind Kind
	code string
}

var errorClasses = []errorClass{
	{ErrSaleInactive, KindPrecondition, "sale_inactive"},
	{ErrNotActive, KindPrecondition, "not_active"},
	{ErrAlreadyActive, KindPrecondition, "already_active"},
	{ErrSaleClosed, KindPrecondition, "sale_closed"},
	{ErrWrongAmount, KindPrecondition, "wrong_amount"},
	{ErrWrongToken, KindPrecondition, "wrong_token"},
	{ErrNotOwner, KindPrecondition, "not_owner"},
	{ErrAlreadyClaimed, KindPrecondition, "already_claimed"},
	{ErrLockNotExpired, KindPrecondition, "lock_not_expired"},
	{ErrTokenCaller, KindPrecondition, "token_caller"},
	{ErrInvalidRecipient, KindPrecondition, "invalid_recipient"},
	{ErrNothingToRedeem, KindPrecondition, "nothing_to_redeem"},
	{ErrWrongMode, KindPrecondition, "wrong_mode"},
	{ErrInvalidTier, KindPrecondition, "invalid_tier"},
	{ErrBelowMinimum, KindBounds, "below_minimum"},
	{ErrExceedsHardCap, KindBounds, "exceeds_hard_cap"},
	{ErrZeroValuation, KindBounds, "zero_valuation"},
	{ErrValueOverflow, KindBounds, "value_overflow"},
	{ErrUnknownGrant, KindNotFound, "unknown_grant"},
	{ErrPayoutFailed, KindInternal, "payout_failed"},
	{ErrForwardFailed, KindInternal, "forward_failed"},
}

// KindOf returns the category of err. Errors outside the ledger taxonomy are
// reported as KindInternal; nil yields KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, class := range errorClasses {
		if errors.Is(err, class.err) {
			return class.kind
		}
	}
	return KindInternal
}

// Code returns a stable identifier for err suitable for API payloads and
// metric labels.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, class := range errorClasses {
		if errors.Is(err, class.err) {
			return class.code
		}
	}
	return "internal"
}
