package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

const reconcilePageSize = 200

// DriftRecorder receives every repaired projection for the security
// audit log. May be nil.
type DriftRecorder interface {
	BalanceDriftRepaired(ctx context.Context, walletID string, cached, ledger models.Balance)
}

// Reconciler sweeps wallets and repairs cached projections that drifted
// from the ledger fold. Drift indicates a crashed refresh or an operator
// write; the ledger is always right.
type Reconciler struct {
	wallets   repository.WalletRepository
	projector *Projector
	drift     DriftRecorder
	logger    *logrus.Logger
}

func NewReconciler(wallets repository.WalletRepository, projector *Projector, drift DriftRecorder, logger *logrus.Logger) *Reconciler {
	return &Reconciler{wallets: wallets, projector: projector, drift: drift, logger: logger}
}

// Sweep recomputes every wallet's balance from its entries and rewrites
// any stale projection. Returns the number of wallets repaired.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	repaired := 0
	for offset := 0; ; offset += reconcilePageSize {
		wallets, err := r.wallets.ListAll(ctx, reconcilePageSize, offset)
		if err != nil {
			return repaired, err
		}
		if len(wallets) == 0 {
			return repaired, nil
		}
		for _, wallet := range wallets {
			authoritative, err := r.projector.Balance(ctx, wallet.ID)
			if err != nil {
				return repaired, err
			}
			if authoritative.Total.Equal(wallet.Balance.Total) && authoritative.Available.Equal(wallet.Balance.Available) {
				continue
			}
			r.logger.WithFields(logrus.Fields{
				"wallet_id":        wallet.ID.Hex(),
				"user_id":          wallet.UserID,
				"currency":         wallet.Currency,
				"cached_total":     wallet.Balance.Total.String(),
				"cached_available": wallet.Balance.Available.String(),
				"ledger_total":     authoritative.Total.String(),
				"ledger_available": authoritative.Available.String(),
			}).Warn("Balance projection drift detected, repairing")
			if err := r.wallets.UpdateProjection(ctx, wallet.ID, authoritative); err != nil {
				return repaired, err
			}
			if r.drift != nil {
				r.drift.BalanceDriftRepaired(ctx, wallet.ID.Hex(), wallet.Balance, authoritative)
			}
			repaired++
		}
	}
}
