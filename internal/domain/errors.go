package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes; the text of each
// sentinel doubles as its machine-checkable kind.
var (
	ErrUnknownToken             = errors.New("unknown_token")
	ErrTokenAlreadyExists       = errors.New("token_already_exists")
	ErrCannotTradeQuoteAsset    = errors.New("cannot_trade_quote_asset")
	ErrInsufficientTokenBalance = errors.New("insufficient_token_balance")
	ErrInsufficientQuoteBalance = errors.New("insufficient_quote_balance")
	ErrInsufficientBalance      = errors.New("insufficient_balance")
	ErrAmountOverflow           = errors.New("amount_overflow")
	ErrSettlementFailed         = errors.New("settlement_failed")
	ErrTransferFailed           = errors.New("transfer_failed")
	ErrUnauthorized             = errors.New("unauthorized")
	ErrHalted                   = errors.New("exchange_halted")
	ErrWebhookNotFound          = errors.New("webhook_not_found")
)

// KindValidation is the kind reported for *ValidationError.
const KindValidation = "validation_error"

var kinds = []error{
	ErrUnknownToken,
	ErrTokenAlreadyExists,
	ErrCannotTradeQuoteAsset,
	ErrInsufficientTokenBalance,
	ErrInsufficientQuoteBalance,
	ErrInsufficientBalance,
	ErrAmountOverflow,
	ErrSettlementFailed,
	ErrTransferFailed,
	ErrUnauthorized,
	ErrHalted,
	ErrWebhookNotFound,
}

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Kind returns the machine-checkable kind of err, or "internal_error" when
// err does not wrap any known domain error.
func Kind(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal_error"
}
