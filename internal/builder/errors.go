package builder

import "errors"

var (
	// ErrMissingRequiredField is returned when a launch request lacks name or symbol.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrQuoteUnavailable is returned when a quoting or minting collaborator
	// fails. The user may retry.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrUnsupportedPair is returned for unresolvable tokens and same-token swaps.
	ErrUnsupportedPair = errors.New("unsupported pair")

	// ErrInvalidAmount is returned when the amount is not a positive number
	// representable in the input token's base units.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrActionDisabled is returned for actions whose collaborator is not configured.
	ErrActionDisabled = errors.New("action disabled")
)
