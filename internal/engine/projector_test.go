package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
)

func entry(t *testing.T, walletID primitive.ObjectID, amount string, typ models.EntryType, status models.EntryStatus, ref string) *models.LedgerEntry {
	t.Helper()
	e, err := models.NewLedgerEntry(1, walletID, "USD", dec(amount), typ, status, ref)
	require.NoError(t, err)
	return e
}

func TestFoldEmptyLedger(t *testing.T) {
	balance := Fold(nil)
	assert.True(t, balance.Total.IsZero())
	assert.True(t, balance.Available.IsZero())
}

func TestFoldConfirmedAndPending(t *testing.T) {
	walletID := primitive.NewObjectID()
	entries := []*models.LedgerEntry{
		entry(t, walletID, "100", models.EntryDeposit, models.EntryConfirmed, "TXN-1"),
		entry(t, walletID, "-41", models.EntryTransferOut, models.EntryConfirmed, "TXN-2"),
		entry(t, walletID, "25", models.EntryTransferIn, models.EntryConfirmed, "TXN-3"),
		// Reserved by an unapproved payout: reduces available only.
		entry(t, walletID, "-30", models.EntryPayout, models.EntryPending, "TXN-4"),
		// A pending credit counts toward nothing until confirmed.
		entry(t, walletID, "10", models.EntryDeposit, models.EntryPending, "TXN-5"),
	}

	balance := Fold(entries)
	assert.Equal(t, "84", balance.Total.String())
	assert.Equal(t, "54", balance.Available.String())
}

func TestFoldIgnoresFailedEntries(t *testing.T) {
	walletID := primitive.NewObjectID()
	entries := []*models.LedgerEntry{
		entry(t, walletID, "100", models.EntryDeposit, models.EntryConfirmed, "TXN-1"),
		entry(t, walletID, "-50", models.EntryPayout, models.EntryFailed, "TXN-2"),
	}

	balance := Fold(entries)
	assert.Equal(t, "100", balance.Total.String())
	assert.Equal(t, "100", balance.Available.String())
}

func TestFoldAvailableNeverExceedsTotal(t *testing.T) {
	walletID := primitive.NewObjectID()
	entries := []*models.LedgerEntry{
		entry(t, walletID, "100", models.EntryDeposit, models.EntryConfirmed, "TXN-1"),
		entry(t, walletID, "-99", models.EntryPayout, models.EntryPending, "TXN-2"),
	}

	balance := Fold(entries)
	assert.Equal(t, "100", balance.Total.String())
	assert.Equal(t, "1", balance.Available.String())
	assert.True(t, balance.Available.LessThanOrEqual(balance.Total))
}
