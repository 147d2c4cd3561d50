package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrDuplicateTransaction = errors.New("transaction already processed")
	ErrAccountNotDeclared   = errors.New("account not declared by transaction")
	ErrAccountTypeMismatch  = errors.New("account type mismatch")
	ErrAccountNotEmpty      = errors.New("account balance is not zero")
	ErrAccountClosed        = errors.New("account closed")
	ErrMissingSignature     = errors.New("missing required signature")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInvalidInstruction   = errors.New("invalid instruction")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrSigningFailed        = errors.New("signing failed")
	ErrLockHeld             = errors.New("lock already held")
)

// ErrorKind groups engine errors by the reason a transaction was rejected.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindState         ErrorKind = "state"
	KindAuthorization ErrorKind = "authorization"
	KindResource      ErrorKind = "resource"
)

// EscrowError is a named, numbered rejection raised by the escrow program.
// Values are compared by identity, so wrapped errors still satisfy errors.Is.
type EscrowError struct {
	Code    uint32
	Name    string
	Message string
	Kind    ErrorKind
}

// Error implements error.
func (e *EscrowError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

const escrowErrorBase = 6000

var (
	ErrInvalidFeePercentage   = &EscrowError{escrowErrorBase + 0, "InvalidFeePercentage", "Fee percentage must be between 0 and 100", KindValidation}
	ErrInvalidStakeAmount     = &EscrowError{escrowErrorBase + 1, "InvalidStakeAmount", "Stake amount must be greater than 0", KindValidation}
	ErrStakeTooLow            = &EscrowError{escrowErrorBase + 2, "StakeTooLow", "Stake is below the minimum", KindValidation}
	ErrGameNotAvailable       = &EscrowError{escrowErrorBase + 3, "GameNotAvailable", "Game is not available to join", KindState}
	ErrCannotPlaySelf         = &EscrowError{escrowErrorBase + 4, "CannotPlaySelf", "Cannot play against yourself", KindAuthorization}
	ErrGameNotInProgress      = &EscrowError{escrowErrorBase + 5, "GameNotInProgress", "Game is not in progress", KindState}
	ErrInvalidWinner          = &EscrowError{escrowErrorBase + 6, "InvalidWinner", "Invalid winner address", KindAuthorization}
	ErrCannotCancelInProgress = &EscrowError{escrowErrorBase + 7, "CannotCancelInProgress", "Cannot cancel game in progress", KindState}
	ErrUnauthorized           = &EscrowError{escrowErrorBase + 8, "Unauthorized", "Unauthorized access", KindAuthorization}
	ErrInsufficientFees       = &EscrowError{escrowErrorBase + 9, "InsufficientFees", "Insufficient fees to withdraw", KindResource}
)

// EscrowErrors lists every program error in code order.
var EscrowErrors = []*EscrowError{
	ErrInvalidFeePercentage,
	ErrInvalidStakeAmount,
	ErrStakeTooLow,
	ErrGameNotAvailable,
	ErrCannotPlaySelf,
	ErrGameNotInProgress,
	ErrInvalidWinner,
	ErrCannotCancelInProgress,
	ErrUnauthorized,
	ErrInsufficientFees,
}

// AsEscrowError extracts the program error from err's chain, if any.
func AsEscrowError(err error) (*EscrowError, bool) {
	var ee *EscrowError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
