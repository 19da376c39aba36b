package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestEntryTypeDirection(t *testing.T) {
	tests := []struct {
		typ      EntryType
		expected EntryDirection
	}{
		{EntryDeposit, DirectionCredit},
		{EntryTransferIn, DirectionCredit},
		{EntrySwapCredit, DirectionCredit},
		{EntryAffiliateCommission, DirectionCredit},
		{EntryWithdrawal, DirectionDebit},
		{EntryTransferOut, DirectionDebit},
		{EntrySwapDebit, DirectionDebit},
		{EntryFee, DirectionSigned},
		{EntryPayout, DirectionSigned},
		{EntrySubscriptionCharge, DirectionSigned},
		{EntryAdjustment, DirectionSigned},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.typ.Direction())
		})
	}
}

func TestNewLedgerEntryEnforcesSign(t *testing.T) {
	walletID := primitive.NewObjectID()
	one := decimal.NewFromInt(1)

	_, err := NewLedgerEntry(1, walletID, "USD", one.Neg(), EntryDeposit, EntryConfirmed, "TXN-1")
	assert.Error(t, err, "credit types reject negative amounts")

	_, err = NewLedgerEntry(1, walletID, "USD", one, EntryWithdrawal, EntryConfirmed, "TXN-1")
	assert.Error(t, err, "debit types reject positive amounts")

	_, err = NewLedgerEntry(1, walletID, "USD", decimal.Zero, EntryDeposit, EntryConfirmed, "TXN-1")
	assert.Error(t, err, "zero amounts are meaningless")

	_, err = NewLedgerEntry(1, walletID, "USD", one, EntryDeposit, EntryConfirmed, "")
	assert.Error(t, err, "every entry references its transaction")

	_, err = NewLedgerEntry(1, walletID, "USD", one, EntryType("imaginary"), EntryConfirmed, "TXN-1")
	assert.Error(t, err)

	// Signed types take either direction.
	entry, err := NewLedgerEntry(1, walletID, "USD", one.Neg(), EntryAdjustment, EntryConfirmed, "TXN-1")
	require.NoError(t, err)
	assert.True(t, entry.IsDebit())

	entry, err = NewLedgerEntry(1, walletID, "USD", one, EntryAdjustment, EntryConfirmed, "TXN-2")
	require.NoError(t, err)
	assert.False(t, entry.IsDebit())
}
