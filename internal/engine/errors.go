package engine

import "errors"

// Sentinel errors for every failure the engine surfaces. Entrypoints wrap
// these with context via fmt.Errorf("%w"); callers match with errors.Is.
var (
	// Authorization
	ErrNotAdmin           = errors.New("caller is not the administrator")
	ErrNotPositionManager = errors.New("caller is not a position manager")
	ErrNotAuthorized      = errors.New("caller is not authorized")

	// State gates
	ErrInvalidStatus      = errors.New("operation not permitted in current status")
	ErrAlreadyInitialized = errors.New("reserves already initialized")
	ErrFundingNotDue      = errors.New("funding distribution not due yet")

	// Data integrity
	ErrPositionNotFound  = errors.New("position not found")
	ErrDirectionMismatch = errors.New("position direction mismatch")

	// Numeric and business rules
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidLeverage    = errors.New("invalid leverage")
	ErrExcessiveDecrease  = errors.New("decrease exceeds position exposure")
	ErrInsufficientMargin = errors.New("insufficient margin after removal")
	ErrMarginRatioTooHigh = errors.New("margin ratio above liquidation threshold")

	// External dependencies
	ErrStaleOracleData = errors.New("oracle data expired")
	ErrTransferFailed  = errors.New("collateral transfer failed")
)
