package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PayoutStatus is the review state machine: pending_review is the only
// state an admin decision is accepted in; approved and rejected are
// terminal for the review step, completed marks settlement of an approved
// payout by the external rail.
type PayoutStatus string

const (
	PayoutPendingReview PayoutStatus = "pending_review"
	PayoutApproved      PayoutStatus = "approved"
	PayoutRejected      PayoutStatus = "rejected"
	PayoutCompleted     PayoutStatus = "completed"
)

// PayoutMethod describes the external destination kind.
type PayoutMethod string

const (
	PayoutBank        PayoutMethod = "bank"
	PayoutCrypto      PayoutMethod = "crypto"
	PayoutMobileMoney PayoutMethod = "mobile_money"
)

// PayoutRequest gates a withdrawal behind manual review. At most one
// outstanding request references a given transaction (unique index on
// transaction_id).
type PayoutRequest struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	PayoutID string             `bson:"payout_id" json:"payout_id"`
	UserID   int64              `bson:"user_id" json:"user_id"`
	WalletID primitive.ObjectID `bson:"wallet_id" json:"wallet_id"`

	Currency string `bson:"currency" json:"currency"`

	// Amount is what the destination receives; the fee is charged on top,
	// so NetAmount (amount plus fee) is what leaves the wallet.
	Amount    decimal.Decimal `bson:"amount" json:"amount"`
	Fee       decimal.Decimal `bson:"fee" json:"fee"`
	NetAmount decimal.Decimal `bson:"net_amount" json:"net_amount"`

	Method      PayoutMethod `bson:"method" json:"method"`
	Destination string       `bson:"destination" json:"destination"`

	Status        PayoutStatus `bson:"status" json:"status"`
	TransactionID string       `bson:"transaction_id" json:"transaction_id"`

	ReviewerID int64      `bson:"reviewer_id,omitempty" json:"reviewer_id,omitempty"`
	ReviewNote string     `bson:"review_note,omitempty" json:"review_note,omitempty"`
	ReviewedAt *time.Time `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewPayoutRequest creates a request in pending_review linked to the
// reserving transaction.
func NewPayoutRequest(userID int64, walletID primitive.ObjectID, currency string, amount, fee decimal.Decimal, method PayoutMethod, destination, transactionID string) *PayoutRequest {
	now := time.Now().UTC()
	return &PayoutRequest{
		PayoutID:      fmt.Sprintf("PAY-%s", uuid.NewString()),
		UserID:        userID,
		WalletID:      walletID,
		Currency:      currency,
		Amount:        amount,
		Fee:           fee,
		NetAmount:     amount.Add(fee),
		Method:        method,
		Destination:   destination,
		Status:        PayoutPendingReview,
		TransactionID: transactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Reviewable reports whether an admin decision is still accepted.
func (p *PayoutRequest) Reviewable() bool {
	return p.Status == PayoutPendingReview
}

// Review applies the admin decision. It fails once the request has left
// pending_review; there is no path back.
func (p *PayoutRequest) Review(status PayoutStatus, reviewerID int64, note string) error {
	if status != PayoutApproved && status != PayoutRejected {
		return fmt.Errorf("invalid review decision %q", status)
	}
	if !p.Reviewable() {
		return fmt.Errorf("payout %s is %s and no longer reviewable", p.PayoutID, p.Status)
	}
	now := time.Now().UTC()
	p.Status = status
	p.ReviewerID = reviewerID
	p.ReviewNote = note
	p.ReviewedAt = &now
	p.UpdatedAt = now
	return nil
}

// MarkCompleted records settlement of an approved payout.
func (p *PayoutRequest) MarkCompleted() error {
	if p.Status != PayoutApproved {
		return fmt.Errorf("payout %s is %s, only approved payouts settle", p.PayoutID, p.Status)
	}
	p.Status = PayoutCompleted
	p.UpdatedAt = time.Now().UTC()
	return nil
}
