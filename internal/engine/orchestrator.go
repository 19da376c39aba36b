package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

const walletLockTTL = 10 * time.Second

// Orchestrator executes the money-moving operations. Every operation posts
// its transaction header and ledger entries inside one unit of work and
// refreshes the cached projection of each touched wallet before releasing
// the wallet locks. A debit with no matching credit is never observable.
type Orchestrator struct {
	wallets      repository.WalletRepository
	entries      repository.EntryRepository
	transactions repository.TransactionRepository
	referrals    repository.ReferralRepository
	uow          repository.UnitOfWork
	locker       repository.WalletLocker
	projector    *Projector
	logger       *logrus.Logger
}

func NewOrchestrator(
	wallets repository.WalletRepository,
	entries repository.EntryRepository,
	transactions repository.TransactionRepository,
	referrals repository.ReferralRepository,
	uow repository.UnitOfWork,
	locker repository.WalletLocker,
	projector *Projector,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		wallets:      wallets,
		entries:      entries,
		transactions: transactions,
		referrals:    referrals,
		uow:          uow,
		locker:       locker,
		projector:    projector,
		logger:       logger,
	}
}

type TransferInput struct {
	FromUserID     int64
	ToUserID       int64
	Currency       string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	IdempotencyKey string
	Label          string
}

// Transfer moves amount from the sender to the receiver and credits the
// platform wallet with the fee. The sender is debited amount+fee.
func (o *Orchestrator) Transfer(ctx context.Context, in TransferInput) (*models.Transaction, error) {
	if prior, err := o.replay(ctx, in.IdempotencyKey); prior != nil || err != nil {
		return prior, err
	}
	if in.FromUserID == in.ToUserID {
		return nil, ErrSelfTransfer
	}

	source, err := o.userWallet(ctx, in.FromUserID, in.Currency)
	if err != nil {
		return nil, err
	}
	dest, err := o.wallets.GetOrCreate(ctx, in.ToUserID, in.Currency)
	if err != nil {
		return nil, err
	}
	if dest.Frozen {
		return nil, ErrWalletFrozen
	}
	platform, err := o.wallets.GetPlatformWallet(ctx, in.Currency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, source.ID.Hex(), dest.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	gross := in.Amount.Add(in.Fee)
	if err := o.checkAvailable(ctx, source.ID, gross); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(in.FromUserID, models.TxTransfer, in.Currency, in.Amount, in.Fee)
	tx.IdempotencyKey = in.IdempotencyKey
	tx.CounterpartyID = in.ToUserID
	tx.Label = in.Label

	debit, err := models.NewLedgerEntry(in.FromUserID, source.ID, in.Currency, gross.Neg(), models.EntryTransferOut, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	credit, err := models.NewLedgerEntry(in.ToUserID, dest.ID, in.Currency, in.Amount, models.EntryTransferIn, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	entries := []*models.LedgerEntry{debit, credit}
	entries, err = o.withFeeLeg(entries, platform, in.Currency, in.Fee, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, tx, entries, nil, source.ID, dest.ID, platform.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.original(ctx, in.IdempotencyKey)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"from_user":      in.FromUserID,
		"to_user":        in.ToUserID,
		"currency":       in.Currency,
		"amount":         in.Amount.String(),
		"fee":            in.Fee.String(),
	}).Info("Transfer completed")
	return tx, nil
}

type WithdrawInput struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Destination    string
	IdempotencyKey string
}

// Withdraw debits the user amount+fee. There is no receiver wallet inside
// the system: the withdrawn amount lands in the platform holding wallet and
// an out-of-band rail completes settlement to the external destination.
func (o *Orchestrator) Withdraw(ctx context.Context, in WithdrawInput) (*models.Transaction, error) {
	if prior, err := o.replay(ctx, in.IdempotencyKey); prior != nil || err != nil {
		return prior, err
	}

	wallet, err := o.userWallet(ctx, in.UserID, in.Currency)
	if err != nil {
		return nil, err
	}
	platform, err := o.wallets.GetPlatformWallet(ctx, in.Currency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, wallet.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	gross := in.Amount.Add(in.Fee)
	if err := o.checkAvailable(ctx, wallet.ID, gross); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(in.UserID, models.TxWithdrawal, in.Currency, in.Amount, in.Fee)
	tx.IdempotencyKey = in.IdempotencyKey
	tx.Label = in.Destination

	debit, err := models.NewLedgerEntry(in.UserID, wallet.ID, in.Currency, gross.Neg(), models.EntryWithdrawal, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	holding, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, in.Currency, in.Amount, models.EntryAdjustment, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	entries := []*models.LedgerEntry{debit, holding}
	entries, err = o.withFeeLeg(entries, platform, in.Currency, in.Fee, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, tx, entries, nil, wallet.ID, platform.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.original(ctx, in.IdempotencyKey)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"user_id":        in.UserID,
		"currency":       in.Currency,
		"amount":         in.Amount.String(),
		"fee":            in.Fee.String(),
	}).Info("Withdrawal completed")
	return tx, nil
}

type SwapInput struct {
	UserID         int64
	FromCurrency   string
	ToCurrency     string
	FromAmount     decimal.Decimal
	ToAmount       decimal.Decimal
	Rate           decimal.Decimal
	Spread         decimal.Decimal
	Fee            decimal.Decimal
	IdempotencyKey string
}

// Swap converts between two of the user's currency wallets. The applied
// rate and spread are stored verbatim on the transaction; a swap whose
// pricing is not fully recorded is economically opaque.
func (o *Orchestrator) Swap(ctx context.Context, in SwapInput) (*models.Transaction, error) {
	if prior, err := o.replay(ctx, in.IdempotencyKey); prior != nil || err != nil {
		return prior, err
	}

	source, err := o.userWallet(ctx, in.UserID, in.FromCurrency)
	if err != nil {
		return nil, err
	}
	dest, err := o.wallets.GetOrCreate(ctx, in.UserID, in.ToCurrency)
	if err != nil {
		return nil, err
	}
	if dest.Frozen {
		return nil, ErrWalletFrozen
	}
	platform, err := o.wallets.GetPlatformWallet(ctx, in.FromCurrency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, source.ID.Hex(), dest.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	gross := in.FromAmount.Add(in.Fee)
	if err := o.checkAvailable(ctx, source.ID, gross); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(in.UserID, models.TxSwap, in.FromCurrency, in.FromAmount, in.Fee)
	tx.IdempotencyKey = in.IdempotencyKey
	tx.ToCurrency = in.ToCurrency
	tx.ToAmount = in.ToAmount
	tx.ExchangeRate = in.Rate
	tx.Spread = in.Spread

	debit, err := models.NewLedgerEntry(in.UserID, source.ID, in.FromCurrency, gross.Neg(), models.EntrySwapDebit, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	credit, err := models.NewLedgerEntry(in.UserID, dest.ID, in.ToCurrency, in.ToAmount, models.EntrySwapCredit, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	entries := []*models.LedgerEntry{debit, credit}
	entries, err = o.withFeeLeg(entries, platform, in.FromCurrency, in.Fee, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, tx, entries, nil, source.ID, dest.ID, platform.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.original(ctx, in.IdempotencyKey)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"user_id":        in.UserID,
		"from":           in.FromCurrency,
		"to":             in.ToCurrency,
		"rate":           in.Rate.String(),
	}).Info("Swap completed")
	return tx, nil
}

type DepositInput struct {
	UserID            int64
	Currency          string
	Amount            decimal.Decimal
	Provider          string
	ProviderReference string
}

// InitiateDeposit records a PENDING header for an expected external credit.
// Funds only appear once the provider confirms via ConfirmDeposit.
func (o *Orchestrator) InitiateDeposit(ctx context.Context, in DepositInput) (*models.Transaction, error) {
	if in.Provider != "" && in.ProviderReference != "" {
		existing, err := o.transactions.GetByProviderReference(ctx, in.Provider, in.ProviderReference)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	// The wallet is created eagerly so the deposit address exists before
	// funds arrive.
	if _, err := o.wallets.GetOrCreate(ctx, in.UserID, in.Currency); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(in.UserID, models.TxDeposit, in.Currency, in.Amount, decimal.Zero)
	tx.Provider = in.Provider
	tx.ProviderReference = in.ProviderReference

	if err := o.transactions.Create(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.transactions.GetByProviderReference(ctx, in.Provider, in.ProviderReference)
		}
		return nil, err
	}
	return tx, nil
}

type ConfirmDepositInput struct {
	TransactionID string
	Amount        decimal.Decimal
	ExternalHash  string
}

// ConfirmDeposit settles an initiated deposit after the external provider
// confirms it. A transaction that is already COMPLETED is a no-op and
// returns the original result.
func (o *Orchestrator) ConfirmDeposit(ctx context.Context, in ConfirmDepositInput) (*models.Transaction, error) {
	tx, err := o.transactions.GetByTransactionID(ctx, in.TransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if tx.Status == models.TxCompleted {
		return tx, nil
	}
	if !tx.Amount.Equal(in.Amount) {
		return nil, ErrAmountMismatch
	}

	wallet, err := o.wallets.GetOrCreate(ctx, tx.UserID, tx.Currency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, wallet.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	credit, err := models.NewLedgerEntry(tx.UserID, wallet.ID, tx.Currency, in.Amount, models.EntryDeposit, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	err = o.uow.Execute(ctx, func(ctx context.Context) error {
		if err := o.entries.Append(ctx, credit); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		if err := tx.MarkCompleted(); err != nil {
			return err
		}
		tx.ExternalHash = in.ExternalHash
		if err := o.transactions.Update(ctx, tx); err != nil {
			return err
		}
		_, err := o.projector.Refresh(ctx, wallet.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"user_id":        tx.UserID,
		"currency":       tx.Currency,
		"amount":         in.Amount.String(),
	}).Info("Deposit confirmed")
	return tx, nil
}

type SubscriptionInput struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Plan           string
	IdempotencyKey string
}

// ChargeSubscription debits the user's wallet and credits the platform
// wallet with the full subscription amount.
func (o *Orchestrator) ChargeSubscription(ctx context.Context, in SubscriptionInput) (*models.Transaction, error) {
	if prior, err := o.replay(ctx, in.IdempotencyKey); prior != nil || err != nil {
		return prior, err
	}

	wallet, err := o.userWallet(ctx, in.UserID, in.Currency)
	if err != nil {
		return nil, err
	}
	platform, err := o.wallets.GetPlatformWallet(ctx, in.Currency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, wallet.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	if err := o.checkAvailable(ctx, wallet.ID, in.Amount); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(in.UserID, models.TxSubscription, in.Currency, in.Amount, decimal.Zero)
	tx.IdempotencyKey = in.IdempotencyKey
	tx.Label = in.Plan

	debit, err := models.NewLedgerEntry(in.UserID, wallet.ID, in.Currency, in.Amount.Neg(), models.EntrySubscriptionCharge, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	credit, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, in.Currency, in.Amount, models.EntrySubscriptionCharge, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	if err := o.commit(ctx, tx, []*models.LedgerEntry{debit, credit}, nil, wallet.ID, platform.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.original(ctx, in.IdempotencyKey)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"user_id":        in.UserID,
		"plan":           in.Plan,
		"amount":         in.Amount.String(),
	}).Info("Subscription charged")
	return tx, nil
}

type AffiliatePayoutInput struct {
	ReferredUserID      int64
	Currency            string
	FeeRevenue          decimal.Decimal
	SourceTransactionID string
}

// PayAffiliateCommission pays the referrer their cut of fee revenue
// generated by a referred user. Returns (nil, nil) when the user has no
// referrer or the cut rounds to zero. The referrer's wallet in the target
// currency is created lazily. Retried calls for the same source transaction
// resolve to the original commission payout.
func (o *Orchestrator) PayAffiliateCommission(ctx context.Context, in AffiliatePayoutInput) (*models.Transaction, error) {
	referral, err := o.referrals.GetByReferredUser(ctx, in.ReferredUserID)
	if err != nil {
		return nil, err
	}
	if referral == nil {
		return nil, nil
	}
	commission := referral.CommissionOn(in.FeeRevenue).Round(feePrecision)
	if !commission.IsPositive() {
		return nil, nil
	}

	key := "affiliate:" + in.SourceTransactionID
	if prior, err := o.replay(ctx, key); prior != nil || err != nil {
		return prior, err
	}

	wallet, err := o.wallets.GetOrCreate(ctx, referral.ReferrerID, in.Currency)
	if err != nil {
		return nil, err
	}
	if wallet.Frozen {
		return nil, ErrWalletFrozen
	}
	platform, err := o.wallets.GetPlatformWallet(ctx, in.Currency)
	if err != nil {
		return nil, err
	}

	locks, err := o.locker.LockWallets(ctx, walletLockTTL, wallet.ID.Hex(), platform.ID.Hex())
	if err != nil {
		return nil, err
	}
	defer o.locker.Unlock(ctx, locks...)

	if err := o.checkAvailable(ctx, platform.ID, commission); err != nil {
		return nil, err
	}

	tx := models.NewTransaction(referral.ReferrerID, models.TxAffiliateCommission, in.Currency, commission, decimal.Zero)
	tx.IdempotencyKey = key
	tx.CounterpartyID = in.ReferredUserID
	tx.Metadata = map[string]interface{}{"source_transaction_id": in.SourceTransactionID}

	debit, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, in.Currency, commission.Neg(), models.EntryAdjustment, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}
	credit, err := models.NewLedgerEntry(referral.ReferrerID, wallet.ID, in.Currency, commission, models.EntryAffiliateCommission, models.EntryConfirmed, tx.TransactionID)
	if err != nil {
		return nil, err
	}

	earn := func(ctx context.Context) error {
		return o.referrals.IncrementEarned(ctx, referral.ID, commission)
	}
	if err := o.commit(ctx, tx, []*models.LedgerEntry{debit, credit}, earn, wallet.ID, platform.ID); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return o.original(ctx, key)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"referrer_id":    referral.ReferrerID,
		"referred_id":    in.ReferredUserID,
		"commission":     commission.String(),
	}).Info("Affiliate commission paid")
	return tx, nil
}

// replay returns the prior transaction for an idempotency key, if any.
func (o *Orchestrator) replay(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	return o.transactions.GetByIdempotencyKey(ctx, key)
}

// original resolves a duplicate-key hit to the first call's result. The
// pre-check in replay narrows the race window; this closes it.
func (o *Orchestrator) original(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, repository.ErrDuplicate
	}
	prior, err := o.transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, repository.ErrDuplicate
	}
	return prior, nil
}

func (o *Orchestrator) userWallet(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	wallet, err := o.wallets.GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	if wallet.Frozen {
		return nil, ErrWalletFrozen
	}
	return wallet, nil
}

// checkAvailable verifies the wallet can cover required. Callers hold the
// wallet lock so the check and the subsequent posting are one critical
// section.
func (o *Orchestrator) checkAvailable(ctx context.Context, walletID primitive.ObjectID, required decimal.Decimal) error {
	balance, err := o.projector.Balance(ctx, walletID)
	if err != nil {
		return err
	}
	if balance.Available.LessThan(required) {
		return ErrInsufficientFunds
	}
	return nil
}

func (o *Orchestrator) withFeeLeg(entries []*models.LedgerEntry, platform *models.Wallet, currency string, fee decimal.Decimal, reference string) ([]*models.LedgerEntry, error) {
	if !fee.IsPositive() {
		return entries, nil
	}
	leg, err := models.NewLedgerEntry(models.PlatformUserID, platform.ID, currency, fee, models.EntryFee, models.EntryConfirmed, reference)
	if err != nil {
		return nil, err
	}
	return append(entries, leg), nil
}

// commit posts the header and entries atomically, runs extra (if any) in
// the same unit of work, and refreshes the touched projections.
func (o *Orchestrator) commit(ctx context.Context, tx *models.Transaction, entries []*models.LedgerEntry, extra func(context.Context) error, walletIDs ...primitive.ObjectID) error {
	if err := tx.MarkCompleted(); err != nil {
		return err
	}
	return o.uow.Execute(ctx, func(ctx context.Context) error {
		if err := o.transactions.Create(ctx, tx); err != nil {
			return err
		}
		if err := o.entries.Append(ctx, entries...); err != nil {
			return err
		}
		if extra != nil {
			if err := extra(ctx); err != nil {
				return err
			}
		}
		for _, id := range walletIDs {
			if _, err := o.projector.Refresh(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}
