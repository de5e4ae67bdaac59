package amm

import "errors"

// Domain errors: the caller supplied inputs outside the engine's domain.
var (
	ErrTokensUnsorted     = errors.New("pool tokens must be strictly ordered token0 < token1")
	ErrInvalidFee         = errors.New("fee must be below the fee denominator")
	ErrInvalidTickSpacing = errors.New("tick spacing must be non-negative")
	ErrInvalidTickBounds  = errors.New("tick bounds must satisfy lower < upper within the tick domain")
	ErrTickNotAligned     = errors.New("tick bounds must be aligned to the pool's tick spacing")
	ErrFullRangeOnly      = errors.New("pool accepts only full-range positions")
	ErrInvalidPriceLimit  = errors.New("price limit is behind the current price in the trade direction")
	ErrDeadlineExceeded   = errors.New("operation deadline exceeded")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Resource errors: the operation cannot be satisfied by available state.
var (
	ErrInsufficientReserves = errors.New("withdrawal exceeds pool reserves")
)

// Protocol errors: the settlement or dispatch protocol was violated.
var (
	ErrInsolvent                  = errors.New("settlement session closed with nonzero ledger")
	ErrNoActiveSession            = errors.New("operation requires an active settlement session")
	ErrReentrantLock              = errors.New("settlement session already active")
	ErrPoolAlreadyInitialized     = errors.New("pool already initialized")
	ErrPoolNotInitialized         = errors.New("pool not initialized")
	ErrExtensionNotRegistered     = errors.New("pool extension is not registered")
	ErrExtensionAlreadyRegistered = errors.New("extension already registered")
	ErrPositionNotFound           = errors.New("position not found")
)
