package vesting

import "errors"

var (
	ErrCapExceeded       = errors.New("vesting: cap exceeded")
	ErrRoundFinished     = errors.New("vesting: round finished")
	ErrRoundNotFinished  = errors.New("vesting: round has not finished yet")
	ErrNotBeneficiary    = errors.New("vesting: account is not beneficiary")
	ErrInsufficientFunds = errors.New("vesting: insufficient funds")
	ErrUnauthorized      = errors.New("vesting: unauthorized account")
	ErrDuplicateAction   = errors.New("vesting: action already scheduled")
	ErrUnknownAction     = errors.New("vesting: unknown action")
	ErrNotReady          = errors.New("vesting: action not ready")
	ErrAlreadyExecuted   = errors.New("vesting: action already executed")
	ErrActionCancelled   = errors.New("vesting: action cancelled")

	ErrInvalidAmount    = errors.New("vesting: amount must be positive")
	ErrAmountOverflow   = errors.New("vesting: amount exceeds 256 bits")
	ErrAlreadyWithdrawn = errors.New("vesting: unpurchased funds already withdrawn")
	ErrUnsupportedCurve = errors.New("vesting: operation not supported by curve")
	ErrInvalidCurve     = errors.New("vesting: invalid curve parameters")
	ErrPoolNotFound     = errors.New("vesting: pool not initialised")
	ErrPoolExists       = errors.New("vesting: pool already initialised")
	ErrNilState         = errors.New("vesting: state not configured")
	ErrNilToken         = errors.New("vesting: token not configured")
)
