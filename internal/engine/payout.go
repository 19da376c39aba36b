package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// Authorizer decides whether a user may review payout requests. A single
// injected capability replaces per-operation role checks.
type Authorizer interface {
	CanReviewPayouts(ctx context.Context, userID int64) bool
}

// PayoutWorkflow gates high-risk withdrawals behind manual review.
//
// Requesting a payout posts a pending debit that reserves the funds:
// available drops by amount+fee, total is untouched. Approval confirms the
// pending entry (total now drops too) and completes the linked transaction;
// rejection fails the entry, restoring available to its pre-request value.
// pending_review is the only state a decision is accepted in.
type PayoutWorkflow struct {
	wallets      repository.WalletRepository
	entries      repository.EntryRepository
	transactions repository.TransactionRepository
	payouts      repository.PayoutRepository
	uow          repository.UnitOfWork
	locker       repository.WalletLocker
	projector    *Projector
	auth         Authorizer
	logger       *logrus.Logger
}

func NewPayoutWorkflow(
	wallets repository.WalletRepository,
	entries repository.EntryRepository,
	transactions repository.TransactionRepository,
	payouts repository.PayoutRepository,
	uow repository.UnitOfWork,
	locker repository.WalletLocker,
	projector *Projector,
	auth Authorizer,
	logger *logrus.Logger,
) *PayoutWorkflow {
	return &PayoutWorkflow{
		wallets:      wallets,
		entries:      entries,
		transactions: transactions,
		payouts:      payouts,
		uow:          uow,
		locker:       locker,
		projector:    projector,
		auth:         auth,
		logger:       logger,
	}
}

type PayoutInput struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Method         models.PayoutMethod
	Destination    string
	IdempotencyKey string
}

// RequestPayout reserves amount+fee and creates a request in
// pending_review. No funds leave the total balance until approval.
func (w *PayoutWorkflow) RequestPayout(ctx context.Context, in PayoutInput) (*models.PayoutRequest, error) {
	if in.IdempotencyKey != "" {
		prior, err := w.transactions.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return w.payoutForTransaction(ctx, prior.TransactionID)
		}
	}

	wallet, err := w.wallets.GetByUserAndCurrency(ctx, in.UserID, in.Currency)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if wallet.Frozen {
		return nil, ErrWalletFrozen
	}

	locks, err := w.locker.LockWallets(ctx, walletLockTTL, wallet.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer w.locker.Unlock(ctx, locks...)

	gross := in.Amount.Add(in.Fee)
	balance, err := w.projector.Balance(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	if balance.Available.LessThan(gross) {
		return nil, ErrInsufficientFunds
	}

	tx := models.NewTransaction(in.UserID, models.TxPayout, in.Currency, in.Amount, in.Fee)
	tx.IdempotencyKey = in.IdempotencyKey
	tx.Label = in.Destination

	reserve, err := models.NewLedgerEntry(in.UserID, wallet.ID, in.Currency, gross.Neg(), models.EntryPayout, models.EntryPending, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	payout := models.NewPayoutRequest(in.UserID, wallet.ID, in.Currency, in.Amount, in.Fee, in.Method, in.Destination, tx.TransactionID)

	err = w.uow.Execute(ctx, func(ctx context.Context) error {
		if err := w.transactions.Create(ctx, tx); err != nil {
			return err
		}
		if err := w.entries.Append(ctx, reserve); err != nil {
			return err
		}
		if err := w.payouts.Create(ctx, payout); err != nil {
			return err
		}
		_, err := w.projector.Refresh(ctx, wallet.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) && in.IdempotencyKey != "" {
			if prior, perr := w.transactions.GetByIdempotencyKey(ctx, in.IdempotencyKey); perr == nil && prior != nil {
				return w.payoutForTransaction(ctx, prior.TransactionID)
			}
		}
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"payout_id":      payout.PayoutID,
		"transaction_id": tx.TransactionID,
		"user_id":        in.UserID,
		"currency":       in.Currency,
		"amount":         in.Amount.String(),
		"fee":            in.Fee.String(),
		"method":         in.Method,
	}).Info("Payout requested")
	return payout, nil
}

// ApprovePayout confirms the reserved debit and settles the linked
// transaction. Only accepted while the request is pending_review.
func (w *PayoutWorkflow) ApprovePayout(ctx context.Context, payoutID string, adminID int64, note string) error {
	if !w.auth.CanReviewPayouts(ctx, adminID) {
		return ErrNotAuthorized
	}

	payout, tx, release, err := w.openReview(ctx, payoutID)
	if err != nil {
		return err
	}
	defer release()

	platform, err := w.wallets.GetPlatformWallet(ctx, payout.Currency)
	if err != nil {
		return err
	}

	err = w.uow.Execute(ctx, func(ctx context.Context) error {
		if err := payout.Review(models.PayoutApproved, adminID, note); err != nil {
			return ErrNotReviewable
		}
		if err := tx.MarkCompleted(); err != nil {
			return err
		}
		if err := w.entries.ResolvePending(ctx, tx.TransactionID, payout.WalletID, models.EntryConfirmed); err != nil {
			return err
		}

		// Mirror the withdrawal posting: the paid amount lands in the
		// platform holding wallet for out-of-band settlement, the fee is
		// platform revenue.
		holding, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, payout.Currency, payout.Amount, models.EntryAdjustment, models.EntryConfirmed, tx.TransactionID)
		if err != nil {
			return err
		}
		legs := []*models.LedgerEntry{holding}
		if payout.Fee.IsPositive() {
			feeLeg, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, payout.Currency, payout.Fee, models.EntryFee, models.EntryConfirmed, tx.TransactionID)
			if err != nil {
				return err
			}
			legs = append(legs, feeLeg)
		}
		if err := w.entries.Append(ctx, legs...); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return err
		}

		if err := w.payouts.Update(ctx, payout); err != nil {
			return err
		}
		if err := w.transactions.Update(ctx, tx); err != nil {
			return err
		}
		if _, err := w.projector.Refresh(ctx, payout.WalletID); err != nil {
			return err
		}
		_, err = w.projector.Refresh(ctx, platform.ID)
		return err
	})
	if err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"payout_id":   payout.PayoutID,
		"reviewer_id": adminID,
		"amount":      payout.Amount.String(),
	}).Info("Payout approved")
	return nil
}

// RejectPayout fails the reserved debit, restoring available to its
// pre-request value. Total is never touched.
func (w *PayoutWorkflow) RejectPayout(ctx context.Context, payoutID string, adminID int64, reason string) error {
	if !w.auth.CanReviewPayouts(ctx, adminID) {
		return ErrNotAuthorized
	}

	payout, tx, release, err := w.openReview(ctx, payoutID)
	if err != nil {
		return err
	}
	defer release()

	err = w.uow.Execute(ctx, func(ctx context.Context) error {
		if err := payout.Review(models.PayoutRejected, adminID, reason); err != nil {
			return ErrNotReviewable
		}
		if err := tx.MarkCancelled(); err != nil {
			return err
		}
		if err := w.entries.ResolvePending(ctx, tx.TransactionID, payout.WalletID, models.EntryFailed); err != nil {
			return err
		}
		if err := w.payouts.Update(ctx, payout); err != nil {
			return err
		}
		if err := w.transactions.Update(ctx, tx); err != nil {
			return err
		}
		_, err := w.projector.Refresh(ctx, payout.WalletID)
		return err
	})
	if err != nil {
		return err
	}

	w.logger.WithFields(logrus.Fields{
		"payout_id":   payout.PayoutID,
		"reviewer_id": adminID,
		"reason":      reason,
	}).Info("Payout rejected")
	return nil
}

// MarkSettled records that the external rail delivered an approved payout.
func (w *PayoutWorkflow) MarkSettled(ctx context.Context, payoutID string) error {
	payout, err := w.payouts.GetByPayoutID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPayoutNotFound
		}
		return err
	}
	if err := payout.MarkCompleted(); err != nil {
		return ErrNotReviewable
	}
	return w.payouts.Update(ctx, payout)
}

// openReview loads the request and its transaction and takes the locks a
// review decision needs. The payout lock serializes concurrent reviews of
// the same request; the wallet lock covers the projection refresh.
func (w *PayoutWorkflow) openReview(ctx context.Context, payoutID string) (*models.PayoutRequest, *models.Transaction, func(), error) {
	payout, err := w.payouts.GetByPayoutID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, ErrPayoutNotFound
		}
		return nil, nil, nil, err
	}
	if !payout.Reviewable() {
		return nil, nil, nil, ErrNotReviewable
	}

	tx, err := w.transactions.GetByTransactionID(ctx, payout.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, ErrTransactionNotFound
		}
		return nil, nil, nil, err
	}

	reviewLock, err := w.locker.LockPayout(ctx, payout.PayoutID, walletLockTTL)
	if err != nil {
		return nil, nil, nil, err
	}
	walletLocks, err := w.locker.LockWallets(ctx, walletLockTTL, payout.WalletID.Hex())
	if err != nil {
		w.locker.Unlock(ctx, reviewLock)
		return nil, nil, nil, err
	}

	release := func() {
		w.locker.Unlock(ctx, walletLocks...)
		w.locker.Unlock(ctx, reviewLock)
	}
	return payout, tx, release, nil
}

func (w *PayoutWorkflow) payoutForTransaction(ctx context.Context, transactionID string) (*models.PayoutRequest, error) {
	payout, err := w.payouts.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPayoutNotFound
		}
		return nil, err
	}
	return payout, nil
}
