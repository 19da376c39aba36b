package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AnyCurrency is the wildcard for commission settings that apply to every
// currency a transaction type is charged in.
const AnyCurrency = "*"

// CommissionKind selects how a setting's value is applied.
type CommissionKind string

const (
	CommissionPercent CommissionKind = "percent"
	CommissionFixed   CommissionKind = "fixed"
)

// CommissionSetting configures the platform fee for one (transaction type,
// currency) pair. Currency may be AnyCurrency; an exact currency match wins
// over the wildcard. Read-mostly, mutated only by admin action.
type CommissionSetting struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionType TransactionType    `bson:"transaction_type" json:"transaction_type"`
	Currency        string             `bson:"currency" json:"currency"`
	Kind            CommissionKind     `bson:"kind" json:"kind"`

	// Value is a percentage (e.g. 1.5 means 1.5%) for percent settings and
	// an absolute amount for fixed settings.
	Value  decimal.Decimal  `bson:"value" json:"value"`
	MinFee *decimal.Decimal `bson:"min_fee,omitempty" json:"min_fee,omitempty"`
	MaxFee *decimal.Decimal `bson:"max_fee,omitempty" json:"max_fee,omitempty"`

	Active    bool      `bson:"active" json:"active"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Validate checks a setting before an admin write.
func (s *CommissionSetting) Validate() error {
	if s.TransactionType == "" {
		return fmt.Errorf("transaction type is required")
	}
	if s.Currency == "" {
		return fmt.Errorf("currency is required (use %q for the wildcard)", AnyCurrency)
	}
	if s.Kind != CommissionPercent && s.Kind != CommissionFixed {
		return fmt.Errorf("unknown commission kind %q", s.Kind)
	}
	if s.Value.IsNegative() {
		return fmt.Errorf("commission value cannot be negative")
	}
	if s.MinFee != nil && s.MaxFee != nil && s.MinFee.GreaterThan(*s.MaxFee) {
		return fmt.Errorf("min fee exceeds max fee")
	}
	return nil
}

// SubscriptionTier scales the resolved fee for paying subscribers.
// Multiplier 1 means no discount; 0.5 halves every fee.
type SubscriptionTier struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name          string             `bson:"name" json:"name"`
	FeeMultiplier decimal.Decimal    `bson:"fee_multiplier" json:"fee_multiplier"`
	Active        bool               `bson:"active" json:"active"`
}
