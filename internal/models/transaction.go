package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TransactionType is the business event a transaction header records.
type TransactionType string

const (
	TxDeposit             TransactionType = "deposit"
	TxWithdrawal          TransactionType = "withdrawal"
	TxTransfer            TransactionType = "transfer"
	TxSwap                TransactionType = "swap"
	TxPayout              TransactionType = "payout"
	TxSubscription        TransactionType = "subscription_payment"
	TxAffiliateCommission TransactionType = "affiliate_commission"
	TxAdjustment          TransactionType = "adjustment"
)

// TransactionStatus transitions are monotonic: PENDING may become COMPLETED,
// FAILED or CANCELLED; terminal states never change again.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed || s == TxCancelled
}

// Transaction is one logical business event. It may fan out into multiple
// ledger entries (a transfer posts a sender debit, a receiver credit and a
// platform fee credit, all referencing this header).
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	UserID        int64              `bson:"user_id" json:"user_id"`
	Type          TransactionType    `bson:"type" json:"type"`
	Status        TransactionStatus  `bson:"status" json:"status"`

	Currency     string          `bson:"currency" json:"currency"`
	ToCurrency   string          `bson:"to_currency,omitempty" json:"to_currency,omitempty"`
	Amount       decimal.Decimal `bson:"amount" json:"amount"`
	ToAmount     decimal.Decimal `bson:"to_amount,omitempty" json:"to_amount,omitempty"`
	Fee          decimal.Decimal `bson:"fee" json:"fee"`
	ExchangeRate decimal.Decimal `bson:"exchange_rate,omitempty" json:"exchange_rate,omitempty"`
	Spread       decimal.Decimal `bson:"spread,omitempty" json:"spread,omitempty"`

	// IdempotencyKey is unique (partial index); a retried client request
	// resolves to this header instead of re-executing.
	IdempotencyKey string `bson:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`

	Provider          string `bson:"provider,omitempty" json:"provider,omitempty"`
	ProviderReference string `bson:"provider_reference,omitempty" json:"provider_reference,omitempty"`
	ExternalHash      string `bson:"external_hash,omitempty" json:"external_hash,omitempty"`

	CounterpartyID int64                  `bson:"counterparty_id,omitempty" json:"counterparty_id,omitempty"`
	Label          string                 `bson:"label,omitempty" json:"label,omitempty"`
	Metadata       map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	FailedAt    *time.Time `bson:"failed_at,omitempty" json:"failed_at,omitempty"`
	CancelledAt *time.Time `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
}

// NewTransaction creates a PENDING header with a generated TransactionID.
func NewTransaction(userID int64, typ TransactionType, currency string, amount, fee decimal.Decimal) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		TransactionID: fmt.Sprintf("TXN-%s", uuid.NewString()),
		UserID:        userID,
		Type:          typ,
		Status:        TxPending,
		Currency:      currency,
		Amount:        amount,
		Fee:           fee,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// MarkCompleted transitions the header to COMPLETED.
func (t *Transaction) MarkCompleted() error {
	return t.transition(TxCompleted)
}

// MarkFailed transitions the header to FAILED.
func (t *Transaction) MarkFailed() error {
	return t.transition(TxFailed)
}

// MarkCancelled transitions the header to CANCELLED.
func (t *Transaction) MarkCancelled() error {
	return t.transition(TxCancelled)
}

func (t *Transaction) transition(next TransactionStatus) error {
	if t.Status == next {
		return nil
	}
	if t.Status.Terminal() {
		return fmt.Errorf("transaction %s is %s and cannot become %s", t.TransactionID, t.Status, next)
	}
	now := time.Now().UTC()
	t.Status = next
	t.UpdatedAt = now
	switch next {
	case TxCompleted:
		t.CompletedAt = &now
	case TxFailed:
		t.FailedAt = &now
	case TxCancelled:
		t.CancelledAt = &now
	}
	return nil
}

// Validate checks the header before it is persisted.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("transaction ID is required")
	}
	if t.UserID < 0 {
		return fmt.Errorf("invalid user ID")
	}
	if t.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("transaction amount must be positive")
	}
	if t.Fee.IsNegative() {
		return fmt.Errorf("fee cannot be negative")
	}
	if t.Type == TxSwap {
		if t.ToCurrency == "" || !t.ToAmount.IsPositive() {
			return fmt.Errorf("swap requires a destination currency and amount")
		}
		if !t.ExchangeRate.IsPositive() {
			return fmt.Errorf("swap requires the applied exchange rate")
		}
	}
	return nil
}
