package engine

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-api/internal/models"
)

func TestSweepRepairsDriftedProjection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	wallet := h.fund(t, 1, "USD", "100.00")
	clean := h.fund(t, 2, "USD", "50.00")

	// Simulate a crashed refresh leaving a stale cache.
	require.NoError(t, h.wallets.UpdateProjection(ctx, wallet.ID, models.Balance{
		Total:     dec("999"),
		Available: dec("999"),
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reconciler := NewReconciler(h.wallets, h.projector, nil, logger)

	repaired, err := reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	reloaded, err := h.wallets.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", reloaded.Balance.Total.String())
	assert.Equal(t, "100", reloaded.Balance.Available.String())

	untouched, err := h.wallets.GetByID(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, "50", untouched.Balance.Total.String())

	// A second sweep finds nothing to do.
	repaired, err = reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}
