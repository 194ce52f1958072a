package ports

import "errors"

// Standard application-level errors.
// Adapters and core services wrap underlying failures with these sentinels so
// callers can branch with errors.Is instead of string matching.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrValidation         = errors.New("invalid command parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	// ErrFatal marks a broken programming invariant (e.g. confidence outside
	// [0,1]). It must propagate to the caller, never be silently repaired.
	ErrFatal = errors.New("fatal invariant violation")

	// Engine Errors
	ErrRiskRejected   = errors.New("risk check rejected the order")
	ErrAlreadyPending = errors.New("trade already has an outstanding order")
	ErrNotCancelable  = errors.New("trade is not in a cancelable state")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrExchangeRejected     = errors.New("exchange rejected the order")
	// ErrExchangeTimeout is an ambiguous outcome: the order may or may not
	// have filled. The trade stays pending until reconciled.
	ErrExchangeTimeout    = errors.New("exchange did not answer before the deadline")
	ErrOrderNotFound      = errors.New("order not found on the exchange")
	ErrOrderAlreadyFilled = errors.New("order already filled, cancel impossible")

	// Market Data Errors
	ErrStaleData     = errors.New("no fresh market data within the configured interval")
	ErrFeedExhausted = errors.New("market data feed has no more points")

	// Ledger / Database Errors
	// ErrLedgerConflict signals a duplicate fill. Applying it is a no-op;
	// the ledger state is unchanged.
	ErrLedgerConflict = errors.New("fill already applied to ledger")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)
