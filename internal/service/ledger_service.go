package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/cache"
	"ledger-api/internal/engine"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// TierResolver supplies the fee multiplier of a user's subscription tier.
type TierResolver interface {
	FeeMultiplier(ctx context.Context, userID int64) decimal.Decimal
}

// NoDiscount is the default tier resolver: everyone pays full fees.
type NoDiscount struct{}

func (NoDiscount) FeeMultiplier(context.Context, int64) decimal.Decimal {
	return decimal.NewFromInt(1)
}

// LedgerService is the API-facing surface. It quotes fees through the
// commission engine, delegates the posting to the orchestrator and payout
// workflow, and fans out the side channels (audit log, notifications,
// affiliate commissions, balance cache invalidation) that must never
// affect the outcome of the posting itself.
type LedgerService interface {
	Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error)
	Swap(ctx context.Context, req SwapRequest) (*models.Transaction, error)
	InitiateDeposit(ctx context.Context, req DepositRequest) (*models.Transaction, error)
	ChargeSubscription(ctx context.Context, req SubscriptionRequest) (*models.Transaction, error)

	RequestPayout(ctx context.Context, req PayoutRequest) (*models.PayoutRequest, error)
	ApprovePayout(ctx context.Context, payoutID string, adminID int64, note string) error
	RejectPayout(ctx context.Context, payoutID string, adminID int64, reason string) error
	ListPendingPayouts(ctx context.Context, limit, offset int) ([]*models.PayoutRequest, error)

	GetBalance(ctx context.Context, walletID primitive.ObjectID) (models.Balance, error)
	ListWallets(ctx context.Context, userID int64) ([]*models.Wallet, error)
	ListEntries(ctx context.Context, walletID primitive.ObjectID, limit, offset int) ([]*models.LedgerEntry, error)
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error)

	SetWalletFrozen(ctx context.Context, walletID primitive.ObjectID, adminID int64, frozen bool, reason string) error
}

type TransferRequest struct {
	FromUserID     int64
	ToUserID       int64
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
	Label          string
}

type WithdrawRequest struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Destination    string
	IdempotencyKey string
}

type SwapRequest struct {
	UserID         int64
	FromCurrency   string
	ToCurrency     string
	Amount         decimal.Decimal
	Rate           decimal.Decimal
	Spread         decimal.Decimal
	IdempotencyKey string
}

type DepositRequest struct {
	UserID            int64
	Currency          string
	Amount            decimal.Decimal
	Provider          string
	ProviderReference string
}

type SubscriptionRequest struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Plan           string
	IdempotencyKey string
}

type PayoutRequest struct {
	UserID         int64
	Currency       string
	Amount         decimal.Decimal
	Method         models.PayoutMethod
	Destination    string
	IdempotencyKey string
}

type ledgerService struct {
	orch      *engine.Orchestrator
	workflow  *engine.PayoutWorkflow
	fees      *engine.CommissionEngine
	projector *engine.Projector
	tiers     TierResolver
	wallets   repository.WalletRepository
	entries   repository.EntryRepository
	txs       repository.TransactionRepository
	payouts   repository.PayoutRepository
	balances  cache.BalanceCache
	audit     AuditService
	notify    NotificationPublisher
	threshold decimal.Decimal
	logger    *logrus.Logger
}

// NewLedgerService wires the service. threshold is the large-amount limit
// above which transfers and withdrawals are flagged to the audit log.
func NewLedgerService(
	orch *engine.Orchestrator,
	workflow *engine.PayoutWorkflow,
	fees *engine.CommissionEngine,
	projector *engine.Projector,
	tiers TierResolver,
	wallets repository.WalletRepository,
	entries repository.EntryRepository,
	txs repository.TransactionRepository,
	payouts repository.PayoutRepository,
	balances cache.BalanceCache,
	audit AuditService,
	notify NotificationPublisher,
	threshold decimal.Decimal,
	logger *logrus.Logger,
) LedgerService {
	return &ledgerService{
		orch:      orch,
		workflow:  workflow,
		fees:      fees,
		projector: projector,
		tiers:     tiers,
		wallets:   wallets,
		entries:   entries,
		txs:       txs,
		payouts:   payouts,
		balances:  balances,
		audit:     audit,
		notify:    notify,
		threshold: threshold,
		logger:    logger,
	}
}

func (s *ledgerService) quote(ctx context.Context, userID int64, txType models.TransactionType, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	return s.fees.Fee(ctx, txType, currency, amount, s.tiers.FeeMultiplier(ctx, userID))
}

func (s *ledgerService) Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	fee, err := s.quote(ctx, req.FromUserID, models.TxTransfer, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}
	tx, err := s.orch.Transfer(ctx, engine.TransferInput{
		FromUserID:     req.FromUserID,
		ToUserID:       req.ToUserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Fee:            fee,
		IdempotencyKey: req.IdempotencyKey,
		Label:          req.Label,
	})
	if err != nil {
		return nil, err
	}
	s.afterPosting(ctx, tx)
	return tx, nil
}

func (s *ledgerService) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error) {
	fee, err := s.quote(ctx, req.UserID, models.TxWithdrawal, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}
	tx, err := s.orch.Withdraw(ctx, engine.WithdrawInput{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Fee:            fee,
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	s.afterPosting(ctx, tx)
	return tx, nil
}

func (s *ledgerService) Swap(ctx context.Context, req SwapRequest) (*models.Transaction, error) {
	fee, err := s.quote(ctx, req.UserID, models.TxSwap, req.FromCurrency, req.Amount)
	if err != nil {
		return nil, err
	}
	// The effective rate nets out the spread; the quoted rate and spread
	// are both recorded on the transaction.
	effective := req.Rate.Mul(decimal.NewFromInt(1).Sub(req.Spread))
	toAmount := req.Amount.Mul(effective).Round(8)

	tx, err := s.orch.Swap(ctx, engine.SwapInput{
		UserID:         req.UserID,
		FromCurrency:   req.FromCurrency,
		ToCurrency:     req.ToCurrency,
		FromAmount:     req.Amount,
		ToAmount:       toAmount,
		Rate:           req.Rate,
		Spread:         req.Spread,
		Fee:            fee,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	s.afterPosting(ctx, tx)
	return tx, nil
}

func (s *ledgerService) InitiateDeposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	return s.orch.InitiateDeposit(ctx, engine.DepositInput{
		UserID:            req.UserID,
		Currency:          req.Currency,
		Amount:            req.Amount,
		Provider:          req.Provider,
		ProviderReference: req.ProviderReference,
	})
}

func (s *ledgerService) ChargeSubscription(ctx context.Context, req SubscriptionRequest) (*models.Transaction, error) {
	tx, err := s.orch.ChargeSubscription(ctx, engine.SubscriptionInput{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Plan:           req.Plan,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	s.afterPosting(ctx, tx)
	return tx, nil
}

func (s *ledgerService) RequestPayout(ctx context.Context, req PayoutRequest) (*models.PayoutRequest, error) {
	fee, err := s.quote(ctx, req.UserID, models.TxPayout, req.Currency, req.Amount)
	if err != nil {
		return nil, err
	}
	payout, err := s.workflow.RequestPayout(ctx, engine.PayoutInput{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Fee:            fee,
		Method:         req.Method,
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	s.audit.PayoutRequested(ctx, payout)
	s.invalidateUserWallet(ctx, payout.WalletID)
	return payout, nil
}

func (s *ledgerService) ApprovePayout(ctx context.Context, payoutID string, adminID int64, note string) error {
	if err := s.workflow.ApprovePayout(ctx, payoutID, adminID, note); err != nil {
		return err
	}
	s.afterReview(ctx, payoutID, models.PayoutApproved, adminID)
	return nil
}

func (s *ledgerService) RejectPayout(ctx context.Context, payoutID string, adminID int64, reason string) error {
	if err := s.workflow.RejectPayout(ctx, payoutID, adminID, reason); err != nil {
		return err
	}
	s.afterReview(ctx, payoutID, models.PayoutRejected, adminID)
	return nil
}

func (s *ledgerService) ListPendingPayouts(ctx context.Context, limit, offset int) ([]*models.PayoutRequest, error) {
	return s.payouts.ListPendingReview(ctx, clampLimit(limit), offset)
}

func (s *ledgerService) GetBalance(ctx context.Context, walletID primitive.ObjectID) (models.Balance, error) {
	if cached, err := s.balances.Get(ctx, walletID.Hex()); err == nil && cached != nil {
		return *cached, nil
	}
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.Balance{}, engine.ErrWalletNotFound
		}
		return models.Balance{}, err
	}
	balance, err := s.projector.Balance(ctx, walletID)
	if err != nil {
		return models.Balance{}, err
	}
	if err := s.balances.Set(ctx, walletID.Hex(), balance); err != nil {
		s.logger.WithError(err).Debug("Failed to cache balance")
	}
	return balance, nil
}

func (s *ledgerService) ListWallets(ctx context.Context, userID int64) ([]*models.Wallet, error) {
	return s.wallets.ListByUser(ctx, userID)
}

func (s *ledgerService) ListEntries(ctx context.Context, walletID primitive.ObjectID, limit, offset int) ([]*models.LedgerEntry, error) {
	if _, err := s.wallets.GetByID(ctx, walletID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, engine.ErrWalletNotFound
		}
		return nil, err
	}
	return s.entries.ListByWalletPaged(ctx, walletID, clampLimit(limit), offset)
}

func (s *ledgerService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	tx, err := s.txs.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, engine.ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	return s.txs.ListByUser(ctx, userID, clampLimit(limit), offset)
}

func (s *ledgerService) SetWalletFrozen(ctx context.Context, walletID primitive.ObjectID, adminID int64, frozen bool, reason string) error {
	wallet, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return engine.ErrWalletNotFound
		}
		return err
	}
	if err := s.wallets.SetFrozen(ctx, walletID, frozen); err != nil {
		return err
	}
	s.audit.WalletFrozen(ctx, walletID.Hex(), wallet.UserID, adminID, frozen, reason)
	return nil
}

// afterPosting runs the side channels of a completed posting. None of
// them can fail the posting; it already happened.
func (s *ledgerService) afterPosting(ctx context.Context, tx *models.Transaction) {
	s.notify.TransactionCompleted(ctx, tx)

	if s.threshold.IsPositive() && tx.Amount.GreaterThanOrEqual(s.threshold) {
		s.audit.LargeTransfer(ctx, tx)
		s.notify.LargeTransferAlert(ctx, tx)
	}

	if tx.Fee.IsPositive() {
		if _, err := s.orch.PayAffiliateCommission(ctx, engine.AffiliatePayoutInput{
			ReferredUserID:      tx.UserID,
			Currency:            tx.Currency,
			FeeRevenue:          tx.Fee,
			SourceTransactionID: tx.TransactionID,
		}); err != nil {
			s.logger.WithError(err).WithField("transaction_id", tx.TransactionID).Warn("Affiliate commission payout failed")
		}
	}

	s.invalidateCachesFor(ctx, tx)
}

func (s *ledgerService) afterReview(ctx context.Context, payoutID string, decision models.PayoutStatus, adminID int64) {
	payout, err := s.payouts.GetByPayoutID(ctx, payoutID)
	if err != nil {
		s.logger.WithError(err).WithField("payout_id", payoutID).Error("Failed to load payout after review")
		return
	}
	s.audit.PayoutReviewed(ctx, payout, decision, adminID)
	s.notify.PayoutDecision(ctx, payout, decision)
	s.invalidateUserWallet(ctx, payout.WalletID)
}

func (s *ledgerService) invalidateCachesFor(ctx context.Context, tx *models.Transaction) {
	ids := make([]string, 0, 3)
	if wallet, err := s.wallets.GetByUserAndCurrency(ctx, tx.UserID, tx.Currency); err == nil {
		ids = append(ids, wallet.ID.Hex())
	}
	if tx.CounterpartyID != 0 {
		if wallet, err := s.wallets.GetByUserAndCurrency(ctx, tx.CounterpartyID, tx.Currency); err == nil {
			ids = append(ids, wallet.ID.Hex())
		}
	}
	if tx.ToCurrency != "" {
		if wallet, err := s.wallets.GetByUserAndCurrency(ctx, tx.UserID, tx.ToCurrency); err == nil {
			ids = append(ids, wallet.ID.Hex())
		}
	}
	if platform, err := s.wallets.GetPlatformWallet(ctx, tx.Currency); err == nil {
		ids = append(ids, platform.ID.Hex())
	}
	if err := s.balances.Invalidate(ctx, ids...); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate balance cache")
	}
}

func (s *ledgerService) invalidateUserWallet(ctx context.Context, walletID primitive.ObjectID) {
	if err := s.balances.Invalidate(ctx, walletID.Hex()); err != nil {
		s.logger.WithError(err).Debug("Failed to invalidate balance cache")
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
