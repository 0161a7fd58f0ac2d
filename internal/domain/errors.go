package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPaused            = errors.New("engine paused")
	ErrInvalidInput      = errors.New("invalid input parameters")
	ErrPositionActive    = errors.New("owner already has an active position")
	ErrNoActivePosition  = errors.New("no active position")
	ErrStrategyInactive  = errors.New("strategy configuration not active")
	ErrVenueNotApproved  = errors.New("venue not in registry")
	ErrVenueCall         = errors.New("venue call failed")
	ErrSlippageExceeded  = errors.New("output below slippage floor")
	ErrHealthTooLow      = errors.New("health ratio below minimum")
	ErrFlashShortfall    = errors.New("flash loan repayment shortfall")
	ErrLockHeld          = errors.New("lock already held")
	ErrLedgerDrift       = errors.New("ledger does not reconcile with venue balance")
	ErrTokenBacksOpenPos = errors.New("token backs open positions")
)
