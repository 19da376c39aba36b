package engine

import "errors"

// Business errors surfaced to callers. Storage failures are wrapped and
// returned as-is; everything here is a rule violation the caller can act on.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPayoutNotFound      = errors.New("payout request not found")
	ErrNotReviewable       = errors.New("payout request is no longer reviewable")
	ErrNotAuthorized       = errors.New("user is not authorized to review payouts")
	ErrSelfTransfer        = errors.New("sender and receiver must differ")
	ErrAmountMismatch      = errors.New("confirmed amount does not match the initiated deposit")
)
