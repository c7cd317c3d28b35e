package game

import "errors"

// Rejection taxonomy. Every error here is a synchronous, user-facing
// rejection; none of them are fatal to the round.
var (
	// ErrInvalidState means the operation is not valid for the current phase
	// (e.g. a bet while the round is flying).
	ErrInvalidState = errors.New("operation not valid in current round phase")

	// ErrDuplicateAction means the user already placed a bet or already
	// cashed out this round.
	ErrDuplicateAction = errors.New("action already performed this round")

	// ErrInsufficientFunds means the ledger refused the debit.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrWindowClosed means the bet arrived after the betting window ended,
	// even if the round status has not flipped to flying yet.
	ErrWindowClosed = errors.New("betting window closed")

	// ErrNotFound means a cashout was requested with no prior bet.
	ErrNotFound = errors.New("no bet found for this round")
)
