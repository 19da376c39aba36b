package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

const feePrecision = 8

var hundred = decimal.NewFromInt(100)

// CommissionEngine resolves the platform fee for an operation. It is
// deterministic and side-effect free; callers record the result on the
// transaction they post.
type CommissionEngine struct {
	settings repository.CommissionRepository
}

func NewCommissionEngine(settings repository.CommissionRepository) *CommissionEngine {
	return &CommissionEngine{settings: settings}
}

// Fee computes the platform fee for amount under the most specific active
// setting (exact currency beats the wildcard). A subscription tier discount
// is applied via tierMultiplier before the min/max clamp; pass
// decimal.Decimal{} or one for no discount. No matching setting means no fee.
func (e *CommissionEngine) Fee(ctx context.Context, txType models.TransactionType, currency string, amount, tierMultiplier decimal.Decimal) (decimal.Decimal, error) {
	setting, err := e.settings.Resolve(ctx, txType, currency)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	var fee decimal.Decimal
	switch setting.Kind {
	case models.CommissionPercent:
		fee = amount.Mul(setting.Value).Div(hundred)
	case models.CommissionFixed:
		fee = setting.Value
	}

	if tierMultiplier.IsPositive() {
		fee = fee.Mul(tierMultiplier)
	}
	if setting.MinFee != nil && fee.LessThan(*setting.MinFee) {
		fee = *setting.MinFee
	}
	if setting.MaxFee != nil && fee.GreaterThan(*setting.MaxFee) {
		fee = *setting.MaxFee
	}
	return fee.Round(feePrecision), nil
}
