package custom_err

import "errors"

var (
	// Wallet / settlement errors
	ErrNotFound               = errors.New("resource not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientLiquidity  = errors.New("insufficient pool liquidity")
	ErrIneligibleForInstant   = errors.New("not eligible for instant settlement")
	ErrInvalidStateTransition = errors.New("invalid transaction state transition")
	ErrConcurrencyConflict    = errors.New("concurrent modification conflict")
	ErrDuplicateRequest       = errors.New("duplicate request")
	ErrRetryExhausted         = errors.New("retry attempts exhausted")

	// Provider errors
	ErrProviderFailure = errors.New("payment provider failure")
	ErrProviderTimeout = errors.New("payment provider timeout")

	// User errors
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenNotActive     = errors.New("token not active yet")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidAmount   = errors.New("invalid amount")
)
