package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PlatformUserID owns the fee-collection wallets. Regular users always have
// positive IDs.
const PlatformUserID int64 = 0

// Wallet is one balance-bearing account per (user, currency) pair.
//
// The embedded Balance is a cached projection maintained after every ledger
// write. It is never the system of record: the authoritative balance is
// always the fold over the wallet's ledger entries, and the cache can be
// rebuilt from zero at any time.
type Wallet struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID   int64              `bson:"user_id" json:"user_id"`
	Currency string             `bson:"currency" json:"currency"`
	Address  string             `bson:"address" json:"address"`
	Frozen   bool               `bson:"frozen" json:"frozen"`

	Balance Balance `bson:"balance" json:"balance"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Balance is the cached projection of a wallet's ledger.
type Balance struct {
	Total     decimal.Decimal `bson:"total" json:"total"`
	Available decimal.Decimal `bson:"available" json:"available"`
}

// NewWallet creates a wallet with a zero cached projection. Wallets are
// created lazily on first need (first deposit, subscription charge or
// referral payout) and never deleted while ledger entries reference them.
func NewWallet(userID int64, currency string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		UserID:   userID,
		Currency: currency,
		Address:  fmt.Sprintf("ACC-%d-%s-%d", userID, currency, now.Unix()),
		Balance: Balance{
			Total:     decimal.Zero,
			Available: decimal.Zero,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPlatform reports whether this is a fee-collection wallet.
func (w *Wallet) IsPlatform() bool {
	return w.UserID == PlatformUserID
}

// Validate checks the wallet invariants that do not require the ledger.
func (w *Wallet) Validate() error {
	if w.UserID < 0 {
		return fmt.Errorf("invalid user ID %d", w.UserID)
	}
	if w.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if w.Balance.Available.GreaterThan(w.Balance.Total) {
		return fmt.Errorf("available balance exceeds total balance")
	}
	return nil
}
