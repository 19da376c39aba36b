package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// Fold derives a wallet balance from its ledger entries.
//
// Total is the sum of confirmed entry amounts. Available additionally
// subtracts funds reserved by pending debits: pending debit legs are stored
// negative with the fee already included, so adding them to the confirmed
// sum yields the reserved-aware figure. Pending credits and failed entries
// count toward nothing.
func Fold(entries []*models.LedgerEntry) models.Balance {
	total := decimal.Zero
	available := decimal.Zero
	for _, e := range entries {
		switch e.Status {
		case models.EntryConfirmed:
			total = total.Add(e.Amount)
			available = available.Add(e.Amount)
		case models.EntryPending:
			if e.IsDebit() {
				available = available.Add(e.Amount)
			}
		}
	}
	return models.Balance{Total: total, Available: available}
}

// Projector derives wallet balances from the ledger and maintains the cached
// projection on the wallet document. The cache is an optimization only; the
// fold over the entries is always the system of record.
type Projector struct {
	wallets repository.WalletRepository
	entries repository.EntryRepository
}

func NewProjector(wallets repository.WalletRepository, entries repository.EntryRepository) *Projector {
	return &Projector{wallets: wallets, entries: entries}
}

// Balance recomputes the authoritative balance from scratch.
func (p *Projector) Balance(ctx context.Context, walletID primitive.ObjectID) (models.Balance, error) {
	entries, err := p.entries.ListByWallet(ctx, walletID)
	if err != nil {
		return models.Balance{}, err
	}
	return Fold(entries), nil
}

// Refresh recomputes the balance and writes it to the wallet's cached
// projection. Callers hold the wallet lock.
func (p *Projector) Refresh(ctx context.Context, walletID primitive.ObjectID) (models.Balance, error) {
	balance, err := p.Balance(ctx, walletID)
	if err != nil {
		return models.Balance{}, err
	}
	if err := p.wallets.UpdateProjection(ctx, walletID, balance); err != nil {
		return models.Balance{}, err
	}
	return balance, nil
}
