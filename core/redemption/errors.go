package redemption

import "errors"

var (
	// Authorization failures.
	ErrUnauthorized       = errors.New("redemption: caller is not the owner")
	ErrInvalidSigner      = errors.New("redemption: signer must not be the zero address")
	ErrMalformedSignature = errors.New("redemption: malformed signature")
	ErrInvalidSignature   = errors.New("redemption: signature does not recover to the global signer")

	// State preconditions.
	ErrEventExists        = errors.New("redemption: event already exists")
	ErrEventNotFound      = errors.New("redemption: event not found")
	ErrEventNotActive     = errors.New("redemption: event not active")
	ErrEventAlreadyActive = errors.New("redemption: event already active")
	ErrEventStillActive   = errors.New("redemption: event still active")
	ErrEventNotStarted    = errors.New("redemption: event not started")
	ErrInvalidSchedule    = errors.New("redemption: scheduled start must be in the future")
	ErrInvalidLimits      = errors.New("redemption: max limit below min limit")
	ErrTokenExists        = errors.New("redemption: token already added")
	ErrTokenNotFound      = errors.New("redemption: token not found")

	// Replay protection.
	ErrFingerprintUsed = errors.New("redemption: claim fingerprint already used")

	// Accounting.
	ErrInvalidAmount         = errors.New("redemption: amount must be positive")
	ErrInvalidRate           = errors.New("redemption: rate must be positive")
	ErrRateMismatch          = errors.New("redemption: amount does not match points conversion")
	ErrInsufficientRemaining = errors.New("redemption: insufficient remaining balance")
	ErrBelowMinimum          = errors.New("redemption: cumulative total below per-address minimum")
	ErrExceedsMaximum        = errors.New("redemption: cumulative total exceeds per-address maximum")
	ErrEscrowMismatch        = errors.New("redemption: escrow value does not match total amount")
	ErrNothingToWithdraw     = errors.New("redemption: nothing to withdraw")
	ErrInvalidRange          = errors.New("redemption: invalid event range")

	// Transfers and concurrency.
	ErrTransferFailed = errors.New("redemption: asset transfer failed")
	ErrReentrantCall  = errors.New("redemption: reentrant call")
)
