package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-api/internal/models"
)

func TestTransferConservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "100.00")
	dest := h.fund(t, 2, "USD", "100.00")

	tx, err := h.orch.Transfer(ctx, TransferInput{
		FromUserID: 1,
		ToUserID:   2,
		Currency:   "USD",
		Amount:     dec("40.00"),
		Fee:        dec("2.00"),
	})
	require.NoError(t, err)
	require.Equal(t, models.TxCompleted, tx.Status)

	assert.Equal(t, "58", h.balance(t, source.ID).Total.String())
	assert.Equal(t, "140", h.balance(t, dest.ID).Total.String())

	platform, err := h.wallets.GetPlatformWallet(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "2", h.balance(t, platform.ID).Total.String())
}

func TestTransferIdempotentRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "100.00")
	h.fund(t, 2, "USD", "0.01")

	in := TransferInput{
		FromUserID:     1,
		ToUserID:       2,
		Currency:       "USD",
		Amount:         dec("10.00"),
		Fee:            dec("1.00"),
		IdempotencyKey: "retry-me",
	}
	first, err := h.orch.Transfer(ctx, in)
	require.NoError(t, err)
	second, err := h.orch.Transfer(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, h.txs.count())

	entries, err := h.entries.ListByReference(ctx, first.TransactionID)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, "89", h.balance(t, source.ID).Total.String())
}

func TestTransferInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "10.00")
	h.fund(t, 2, "USD", "0.01")

	_, err := h.orch.Transfer(ctx, TransferInput{
		FromUserID: 1,
		ToUserID:   2,
		Currency:   "USD",
		Amount:     dec("10.00"),
		Fee:        dec("1.00"),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "10", h.balance(t, source.ID).Total.String())
}

func TestTransferToSelfRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 1, "USD", "100.00")

	_, err := h.orch.Transfer(context.Background(), TransferInput{
		FromUserID: 1,
		ToUserID:   1,
		Currency:   "USD",
		Amount:     dec("5.00"),
		Fee:        dec("0"),
	})
	require.ErrorIs(t, err, ErrSelfTransfer)
}

func TestTransferFrozenWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "100.00")
	h.fund(t, 2, "USD", "0.01")
	require.NoError(t, h.wallets.SetFrozen(ctx, source.ID, true))

	_, err := h.orch.Transfer(ctx, TransferInput{
		FromUserID: 1,
		ToUserID:   2,
		Currency:   "USD",
		Amount:     dec("5.00"),
		Fee:        dec("0"),
	})
	require.ErrorIs(t, err, ErrWalletFrozen)
}

func TestTransferMissingWallet(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Transfer(context.Background(), TransferInput{
		FromUserID: 1,
		ToUserID:   2,
		Currency:   "USD",
		Amount:     dec("5.00"),
		Fee:        dec("0"),
	})
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWithdrawMovesFundsToHoldingWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wallet := h.fund(t, 1, "USD", "100.00")

	tx, err := h.orch.Withdraw(ctx, WithdrawInput{
		UserID:      1,
		Currency:    "USD",
		Amount:      dec("15.00"),
		Fee:         dec("1.00"),
		Destination: "bank:DE89370400440532013000",
	})
	require.NoError(t, err)
	require.Equal(t, models.TxCompleted, tx.Status)

	assert.Equal(t, "84", h.balance(t, wallet.ID).Total.String())

	platform, err := h.wallets.GetPlatformWallet(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "16", h.balance(t, platform.ID).Total.String())
}

func TestWithdrawInsufficientFundsLeavesBalanceUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wallet := h.fund(t, 1, "USD", "10.00")

	_, err := h.orch.Withdraw(ctx, WithdrawInput{
		UserID:   1,
		Currency: "USD",
		Amount:   dec("15.00"),
		Fee:      dec("1.00"),
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance := h.balance(t, wallet.ID)
	assert.Equal(t, "10", balance.Total.String())
	assert.Equal(t, "10", balance.Available.String())
}

func TestSwapRecordsPricing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "1000.00")

	tx, err := h.orch.Swap(ctx, SwapInput{
		UserID:       1,
		FromCurrency: "USD",
		ToCurrency:   "EUR",
		FromAmount:   dec("100.00"),
		ToAmount:     dec("91.50"),
		Rate:         dec("0.915"),
		Spread:       dec("0.005"),
		Fee:          dec("2.00"),
	})
	require.NoError(t, err)

	assert.Equal(t, "0.915", tx.ExchangeRate.String())
	assert.Equal(t, "0.005", tx.Spread.String())
	assert.Equal(t, "EUR", tx.ToCurrency)

	assert.Equal(t, "898", h.balance(t, source.ID).Total.String())

	dest, err := h.wallets.GetByUserAndCurrency(ctx, 1, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "91.5", h.balance(t, dest.ID).Total.String())

	platform, err := h.wallets.GetPlatformWallet(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "2", h.balance(t, platform.ID).Total.String())
}

func TestConfirmDepositIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	initiated, err := h.orch.InitiateDeposit(ctx, DepositInput{
		UserID:            1,
		Currency:          "BTC",
		Amount:            dec("0.5"),
		Provider:          "chainpay",
		ProviderReference: "cp-123",
	})
	require.NoError(t, err)
	require.Equal(t, models.TxPending, initiated.Status)

	confirm := ConfirmDepositInput{
		TransactionID: initiated.TransactionID,
		Amount:        dec("0.5"),
		ExternalHash:  "0xabc",
	}
	first, err := h.orch.ConfirmDeposit(ctx, confirm)
	require.NoError(t, err)
	require.Equal(t, models.TxCompleted, first.Status)

	second, err := h.orch.ConfirmDeposit(ctx, confirm)
	require.NoError(t, err)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	wallet, err := h.wallets.GetByUserAndCurrency(ctx, 1, "BTC")
	require.NoError(t, err)
	assert.Equal(t, "0.5", h.balance(t, wallet.ID).Total.String())
}

func TestConfirmDepositAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	initiated, err := h.orch.InitiateDeposit(ctx, DepositInput{
		UserID:   1,
		Currency: "BTC",
		Amount:   dec("0.5"),
		Provider: "chainpay",
	})
	require.NoError(t, err)

	_, err = h.orch.ConfirmDeposit(ctx, ConfirmDepositInput{
		TransactionID: initiated.TransactionID,
		Amount:        dec("0.6"),
	})
	require.ErrorIs(t, err, ErrAmountMismatch)
}

func TestConfirmDepositUnknownTransaction(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ConfirmDeposit(context.Background(), ConfirmDepositInput{
		TransactionID: "TXN-missing",
		Amount:        dec("1"),
	})
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestChargeSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wallet := h.fund(t, 1, "USD", "50.00")

	tx, err := h.orch.ChargeSubscription(ctx, SubscriptionInput{
		UserID:   1,
		Currency: "USD",
		Amount:   dec("9.99"),
		Plan:     "pro-monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, "pro-monthly", tx.Label)

	assert.Equal(t, "40.01", h.balance(t, wallet.ID).Total.String())

	platform, err := h.wallets.GetPlatformWallet(ctx, "USD")
	require.NoError(t, err)
	assert.Equal(t, "9.99", h.balance(t, platform.ID).Total.String())
}

func TestPayAffiliateCommission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.referrals.Create(ctx, &models.AffiliateReferral{
		ReferrerID:        7,
		ReferredUserID:    1,
		CommissionPercent: dec("20"),
	}))
	// Seed the platform wallet with fee revenue to pay out of.
	platform := h.fund(t, models.PlatformUserID, "USD", "100.00")

	tx, err := h.orch.PayAffiliateCommission(ctx, AffiliatePayoutInput{
		ReferredUserID:      1,
		Currency:            "USD",
		FeeRevenue:          dec("10.00"),
		SourceTransactionID: "TXN-source-1",
	})
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.TxAffiliateCommission, tx.Type)

	referrerWallet, err := h.wallets.GetByUserAndCurrency(ctx, 7, "USD")
	require.NoError(t, err)
	assert.Equal(t, "2", h.balance(t, referrerWallet.ID).Total.String())
	assert.Equal(t, "98", h.balance(t, platform.ID).Total.String())

	referral, err := h.referrals.GetByReferredUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "2", referral.TotalEarned.String())

	// A retried payout for the same source transaction resolves to the
	// original and pays nothing extra.
	again, err := h.orch.PayAffiliateCommission(ctx, AffiliatePayoutInput{
		ReferredUserID:      1,
		Currency:            "USD",
		FeeRevenue:          dec("10.00"),
		SourceTransactionID: "TXN-source-1",
	})
	require.NoError(t, err)
	assert.Equal(t, tx.TransactionID, again.TransactionID)
	assert.Equal(t, "2", h.balance(t, referrerWallet.ID).Total.String())
}

func TestPayAffiliateCommissionWithoutReferral(t *testing.T) {
	h := newHarness(t)

	tx, err := h.orch.PayAffiliateCommission(context.Background(), AffiliatePayoutInput{
		ReferredUserID:      1,
		Currency:            "USD",
		FeeRevenue:          dec("10.00"),
		SourceTransactionID: "TXN-source-1",
	})
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestConcurrentWithdrawalsNeverOverdraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wallet := h.fund(t, 1, "USD", "100.00")

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Withdraw(ctx, WithdrawInput{
				UserID:   1,
				Currency: "USD",
				Amount:   dec("30.00"),
				Fee:      dec("0"),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrInsufficientFunds):
			failed++
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, failed)

	balance := h.balance(t, wallet.ID)
	assert.Equal(t, "10", balance.Available.String())
	assert.False(t, balance.Available.IsNegative())
}

func TestProjectionMatchesFullRederivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	source := h.fund(t, 1, "USD", "500.00")
	h.fund(t, 2, "USD", "100.00")

	_, err := h.orch.Transfer(ctx, TransferInput{FromUserID: 1, ToUserID: 2, Currency: "USD", Amount: dec("50"), Fee: dec("1")})
	require.NoError(t, err)
	_, err = h.orch.Withdraw(ctx, WithdrawInput{UserID: 1, Currency: "USD", Amount: dec("20"), Fee: dec("0.5")})
	require.NoError(t, err)
	_, err = h.workflow.RequestPayout(ctx, PayoutInput{UserID: 1, Currency: "USD", Amount: dec("30"), Fee: dec("1"), Method: models.PayoutBank, Destination: "bank:x"})
	require.NoError(t, err)

	cached, err := h.wallets.GetByID(ctx, source.ID)
	require.NoError(t, err)
	rederived := h.balance(t, source.ID)
	assert.True(t, cached.Balance.Total.Equal(rederived.Total), "cached total %s, rederived %s", cached.Balance.Total, rederived.Total)
	assert.True(t, cached.Balance.Available.Equal(rederived.Available), "cached available %s, rederived %s", cached.Balance.Available, rederived.Available)
}
