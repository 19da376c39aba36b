package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-api/internal/models"
)

func setting(txType models.TransactionType, currency string, kind models.CommissionKind, value string) *models.CommissionSetting {
	return &models.CommissionSetting{
		TransactionType: txType,
		Currency:        currency,
		Kind:            kind,
		Value:           dec(value),
		Active:          true,
	}
}

func newFeeEngine(t *testing.T, settings ...*models.CommissionSetting) *CommissionEngine {
	t.Helper()
	repo := newMemCommissions()
	for _, s := range settings {
		require.NoError(t, repo.Upsert(context.Background(), s))
	}
	return NewCommissionEngine(repo)
}

func TestFeePercent(t *testing.T) {
	engine := newFeeEngine(t, setting(models.TxTransfer, "USD", models.CommissionPercent, "1.5"))

	fee, err := engine.Fee(context.Background(), models.TxTransfer, "USD", dec("200"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "3", fee.String())
}

func TestFeeFixed(t *testing.T) {
	engine := newFeeEngine(t, setting(models.TxWithdrawal, "USD", models.CommissionFixed, "2.50"))

	fee, err := engine.Fee(context.Background(), models.TxWithdrawal, "USD", dec("10000"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "2.5", fee.String())
}

func TestFeeExactCurrencyBeatsWildcard(t *testing.T) {
	engine := newFeeEngine(t,
		setting(models.TxTransfer, models.AnyCurrency, models.CommissionPercent, "2"),
		setting(models.TxTransfer, "EUR", models.CommissionPercent, "1"),
	)

	fee, err := engine.Fee(context.Background(), models.TxTransfer, "EUR", dec("100"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "1", fee.String())

	fee, err = engine.Fee(context.Background(), models.TxTransfer, "GBP", dec("100"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "2", fee.String())
}

func TestFeeClamps(t *testing.T) {
	min := dec("1.00")
	max := dec("10.00")
	s := setting(models.TxTransfer, "USD", models.CommissionPercent, "1")
	s.MinFee = &min
	s.MaxFee = &max
	engine := newFeeEngine(t, s)

	fee, err := engine.Fee(context.Background(), models.TxTransfer, "USD", dec("10"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "1", fee.String(), "below the floor clamps up")

	fee, err = engine.Fee(context.Background(), models.TxTransfer, "USD", dec("5000"), decimal.Decimal{})
	require.NoError(t, err)
	assert.Equal(t, "10", fee.String(), "above the cap clamps down")
}

func TestFeeTierDiscountAppliedBeforeClamp(t *testing.T) {
	min := dec("2.00")
	s := setting(models.TxTransfer, "USD", models.CommissionPercent, "2")
	s.MinFee = &min
	engine := newFeeEngine(t, s)

	// 2% of 150 is 3; halved by the tier to 1.5, then the floor lifts it
	// back to 2.
	fee, err := engine.Fee(context.Background(), models.TxTransfer, "USD", dec("150"), dec("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "2", fee.String())
}

func TestFeeNoSettingMeansNoFee(t *testing.T) {
	engine := newFeeEngine(t)

	fee, err := engine.Fee(context.Background(), models.TxSwap, "USD", dec("100"), decimal.Decimal{})
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}

func TestFeeIgnoresInactiveSetting(t *testing.T) {
	s := setting(models.TxTransfer, "USD", models.CommissionPercent, "5")
	s.Active = false
	engine := newFeeEngine(t, s)

	fee, err := engine.Fee(context.Background(), models.TxTransfer, "USD", dec("100"), decimal.Decimal{})
	require.NoError(t, err)
	assert.True(t, fee.IsZero())
}
