package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EntryType is the closed set of ledger entry kinds. All balance derivation
// goes through Direction so the credit/debit classification cannot drift
// between call sites.
type EntryType string

const (
	EntryDeposit             EntryType = "deposit"
	EntryWithdrawal          EntryType = "withdrawal"
	EntryTransferIn          EntryType = "transfer_in"
	EntryTransferOut         EntryType = "transfer_out"
	EntrySwapCredit          EntryType = "swap_credit"
	EntrySwapDebit           EntryType = "swap_debit"
	EntryFee                 EntryType = "fee"
	EntryPayout              EntryType = "payout"
	EntryAffiliateCommission EntryType = "affiliate_commission"
	EntrySubscriptionCharge  EntryType = "subscription_payment"
	EntryAdjustment          EntryType = "adjustment"
)

// EntryDirection classifies an entry type as a credit or a debit.
type EntryDirection int

const (
	DirectionCredit EntryDirection = iota
	DirectionDebit
	// DirectionSigned marks types whose direction follows the amount sign
	// (adjustments, and legs that appear on both sides of a move).
	DirectionSigned
)

// Direction returns the canonical classification for the entry type.
func (t EntryType) Direction() EntryDirection {
	switch t {
	case EntryDeposit, EntryTransferIn, EntrySwapCredit, EntryAffiliateCommission:
		return DirectionCredit
	case EntryWithdrawal, EntryTransferOut, EntrySwapDebit:
		return DirectionDebit
	default:
		return DirectionSigned
	}
}

// Valid reports whether t is a member of the closed set.
func (t EntryType) Valid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntryTransferIn, EntryTransferOut,
		EntrySwapCredit, EntrySwapDebit, EntryFee, EntryPayout,
		EntryAffiliateCommission, EntrySubscriptionCharge, EntryAdjustment:
		return true
	}
	return false
}

// EntryStatus is the lifecycle of a ledger entry. Pending debits reserve
// funds (reduce available) without touching total; confirmed entries count
// toward total; failed entries count toward nothing.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryConfirmed EntryStatus = "confirmed"
	EntryFailed    EntryStatus = "failed"
)

// LedgerEntry is one immutable signed-amount record against a wallet.
// Entries are never updated or deleted once confirmed; reversing an effect
// appends a new offsetting entry. The only permitted mutation is resolving a
// pending entry to confirmed or failed (the payout review step).
//
// A unique index on (reference, wallet_id, type) makes a retried posting a
// no-op instead of a double post.
type LedgerEntry struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID   int64              `bson:"user_id" json:"user_id"`
	WalletID primitive.ObjectID `bson:"wallet_id" json:"wallet_id"`
	Currency string             `bson:"currency" json:"currency"`

	// Amount is signed: positive credits the wallet, negative debits it.
	// Debit legs already include the fee charged on the operation.
	Amount decimal.Decimal `bson:"amount" json:"amount"`
	Type   EntryType       `bson:"type" json:"type"`
	Status EntryStatus     `bson:"status" json:"status"`

	// Reference is the TransactionID of the causing transaction.
	Reference string `bson:"reference" json:"reference"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// NewLedgerEntry builds an entry and enforces that the amount sign agrees
// with the type's canonical direction.
func NewLedgerEntry(userID int64, walletID primitive.ObjectID, currency string, amount decimal.Decimal, typ EntryType, status EntryStatus, reference string) (*LedgerEntry, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown entry type %q", typ)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("entry amount cannot be zero")
	}
	switch typ.Direction() {
	case DirectionCredit:
		if amount.IsNegative() {
			return nil, fmt.Errorf("%s entries must be positive", typ)
		}
	case DirectionDebit:
		if amount.IsPositive() {
			return nil, fmt.Errorf("%s entries must be negative", typ)
		}
	}
	if reference == "" {
		return nil, fmt.Errorf("entry reference is required")
	}
	return &LedgerEntry{
		UserID:    userID,
		WalletID:  walletID,
		Currency:  currency,
		Amount:    amount,
		Type:      typ,
		Status:    status,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// IsDebit reports whether the entry removes funds from the wallet.
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount.IsNegative()
}
