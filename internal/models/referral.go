package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AffiliateReferral links a referred user to their referrer. One row per
// referred user, created at signup; TotalEarned grows whenever the referred
// user generates fee revenue and a commission is paid out.
type AffiliateReferral struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ReferrerID     int64              `bson:"referrer_id" json:"referrer_id"`
	ReferredUserID int64              `bson:"referred_user_id" json:"referred_user_id"`

	// CommissionPercent is the referrer's cut of platform fee revenue
	// generated by the referred user, e.g. 20 means 20%.
	CommissionPercent decimal.Decimal `bson:"commission_percent" json:"commission_percent"`
	TotalEarned       decimal.Decimal `bson:"total_earned" json:"total_earned"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// CommissionOn returns the referrer's share of a fee amount.
func (r *AffiliateReferral) CommissionOn(fee decimal.Decimal) decimal.Decimal {
	return fee.Mul(r.CommissionPercent).Div(decimal.NewFromInt(100))
}
