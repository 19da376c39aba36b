package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/engine"
	"ledger-api/internal/middleware"
	"ledger-api/internal/models"
	"ledger-api/internal/monitoring"
	"ledger-api/internal/service"
)

type LedgerController struct {
	ledger  service.LedgerService
	metrics *monitoring.Metrics
}

func NewLedgerController(ledger service.LedgerService, metrics *monitoring.Metrics) *LedgerController {
	return &LedgerController{ledger: ledger, metrics: metrics}
}

// @Summary Transfer funds
// @Description Transfer funds to another user in the same currency
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/transfers [post]
func (c *LedgerController) Transfer(ctx *gin.Context) {
	var req TransferRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount must be positive"))
		return
	}

	start := time.Now()
	tx, err := c.ledger.Transfer(ctx.Request.Context(), service.TransferRequest{
		FromUserID:     middleware.UserID(ctx),
		ToUserID:       req.ToUserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Label:          req.Label,
	})
	c.metrics.RecordPosting("transfer", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Transfer failed", err)
		return
	}

	ctx.JSON(http.StatusCreated, tx)
}

// @Summary Withdraw funds
// @Description Withdraw funds to an external destination
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body WithdrawRequest true "Withdrawal request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/withdrawals [post]
func (c *LedgerController) Withdraw(ctx *gin.Context) {
	var req WithdrawRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount must be positive"))
		return
	}

	start := time.Now()
	tx, err := c.ledger.Withdraw(ctx.Request.Context(), service.WithdrawRequest{
		UserID:         middleware.UserID(ctx),
		Currency:       req.Currency,
		Amount:         req.Amount,
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey,
	})
	c.metrics.RecordPosting("withdrawal", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Withdrawal failed", err)
		return
	}

	ctx.JSON(http.StatusCreated, tx)
}

// @Summary Swap currencies
// @Description Convert funds between two of the caller's currency wallets
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body SwapRequest true "Swap request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/swaps [post]
func (c *LedgerController) Swap(ctx *gin.Context) {
	var req SwapRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() || !req.Rate.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount and rate must be positive"))
		return
	}
	if req.Spread.IsNegative() || req.Spread.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		badRequest(ctx, "Validation failed", errors.New("spread must be in [0, 1)"))
		return
	}

	start := time.Now()
	tx, err := c.ledger.Swap(ctx.Request.Context(), service.SwapRequest{
		UserID:         middleware.UserID(ctx),
		FromCurrency:   req.FromCurrency,
		ToCurrency:     req.ToCurrency,
		Amount:         req.Amount,
		Rate:           req.Rate,
		Spread:         req.Spread,
		IdempotencyKey: req.IdempotencyKey,
	})
	c.metrics.RecordPosting("swap", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Swap failed", err)
		return
	}

	ctx.JSON(http.StatusCreated, tx)
}

// @Summary Request a payout
// @Description Reserve funds and queue a payout for admin review
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body PayoutRequest true "Payout request"
// @Success 202 {object} models.PayoutRequest
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/payouts [post]
func (c *LedgerController) RequestPayout(ctx *gin.Context) {
	var req PayoutRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount must be positive"))
		return
	}

	start := time.Now()
	payout, err := c.ledger.RequestPayout(ctx.Request.Context(), service.PayoutRequest{
		UserID:         middleware.UserID(ctx),
		Currency:       req.Currency,
		Amount:         req.Amount,
		Method:         models.PayoutMethod(req.Method),
		Destination:    req.Destination,
		IdempotencyKey: req.IdempotencyKey,
	})
	c.metrics.RecordPosting("payout", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Payout request failed", err)
		return
	}

	ctx.JSON(http.StatusAccepted, payout)
}

// @Summary Initiate a deposit
// @Description Record an expected external credit. Funds appear once the
// provider confirms via webhook.
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body DepositRequest true "Deposit request"
// @Success 202 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/deposits [post]
func (c *LedgerController) InitiateDeposit(ctx *gin.Context) {
	var req DepositRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount must be positive"))
		return
	}

	start := time.Now()
	tx, err := c.ledger.InitiateDeposit(ctx.Request.Context(), service.DepositRequest{
		UserID:            middleware.UserID(ctx),
		Currency:          req.Currency,
		Amount:            req.Amount,
		Provider:          req.Provider,
		ProviderReference: req.ProviderReference,
	})
	c.metrics.RecordPosting("deposit", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Deposit initiation failed", err)
		return
	}

	ctx.JSON(http.StatusAccepted, tx)
}

// @Summary List wallets
// @Description List the caller's wallets across all currencies
// @Tags ledger
// @Produce json
// @Success 200 {array} models.Wallet
// @Security BearerAuth
// @Router /api/v1/wallets [get]
func (c *LedgerController) ListWallets(ctx *gin.Context) {
	wallets, err := c.ledger.ListWallets(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		writeError(ctx, "Failed to list wallets", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallets": wallets})
}

// @Summary Get wallet balance
// @Description Get the total and available balance of a wallet
// @Tags ledger
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Success 200 {object} models.Balance
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/wallets/{walletId}/balance [get]
func (c *LedgerController) GetBalance(ctx *gin.Context) {
	walletID, err := walletIDFromPath(ctx)
	if err != nil {
		badRequest(ctx, "Invalid wallet ID", err)
		return
	}

	balance, err := c.ledger.GetBalance(ctx.Request.Context(), walletID)
	if err != nil {
		writeError(ctx, "Failed to get balance", err)
		return
	}

	ctx.JSON(http.StatusOK, balance)
}

// @Summary List ledger entries
// @Description List the ledger entries of a wallet, newest first
// @Tags ledger
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.LedgerEntry
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/wallets/{walletId}/entries [get]
func (c *LedgerController) ListEntries(ctx *gin.Context) {
	walletID, err := walletIDFromPath(ctx)
	if err != nil {
		badRequest(ctx, "Invalid wallet ID", err)
		return
	}

	entries, err := c.ledger.ListEntries(ctx.Request.Context(), walletID,
		queryInt(ctx, "limit", 50), queryInt(ctx, "offset", 0))
	if err != nil {
		writeError(ctx, "Failed to list entries", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

// @Summary Get a transaction
// @Description Get a transaction by its public identifier
// @Tags ledger
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/transactions/{transactionId} [get]
func (c *LedgerController) GetTransaction(ctx *gin.Context) {
	transactionID := ctx.Param("transactionId")
	if transactionID == "" {
		badRequest(ctx, "Transaction ID is required", errors.New("missing transactionId parameter"))
		return
	}

	tx, err := c.ledger.GetTransaction(ctx.Request.Context(), transactionID)
	if err != nil {
		writeError(ctx, "Failed to get transaction", err)
		return
	}

	ctx.JSON(http.StatusOK, tx)
}

// @Summary List transactions
// @Description List the caller's transactions, newest first
// @Tags ledger
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.Transaction
// @Security BearerAuth
// @Router /api/v1/transactions [get]
func (c *LedgerController) ListTransactions(ctx *gin.Context) {
	txs, err := c.ledger.ListTransactions(ctx.Request.Context(), middleware.UserID(ctx),
		queryInt(ctx, "limit", 50), queryInt(ctx, "offset", 0))
	if err != nil {
		writeError(ctx, "Failed to list transactions", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Request/Response DTOs

type TransferRequest struct {
	ToUserID       int64           `json:"to_user_id" binding:"required,min=1"`
	Currency       string          `json:"currency" binding:"required,len=3"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
	Label          string          `json:"label,omitempty"`
}

type WithdrawRequest struct {
	Currency       string          `json:"currency" binding:"required,len=3"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Destination    string          `json:"destination" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
}

type SwapRequest struct {
	FromCurrency   string          `json:"from_currency" binding:"required,len=3"`
	ToCurrency     string          `json:"to_currency" binding:"required,len=3"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Rate           decimal.Decimal `json:"rate" binding:"required"`
	Spread         decimal.Decimal `json:"spread"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
}

type PayoutRequest struct {
	Currency       string          `json:"currency" binding:"required,len=3"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Method         string          `json:"method" binding:"required,oneof=bank crypto mobile_money"`
	Destination    string          `json:"destination" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
}

type DepositRequest struct {
	Currency          string          `json:"currency" binding:"required,len=3"`
	Amount            decimal.Decimal `json:"amount" binding:"required"`
	Provider          string          `json:"provider" binding:"required"`
	ProviderReference string          `json:"provider_reference" binding:"required"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Helpers

func walletIDFromPath(ctx *gin.Context) (primitive.ObjectID, error) {
	return primitive.ObjectIDFromHex(ctx.Param("walletId"))
}

func postingStatus(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

func queryInt(ctx *gin.Context, key string, defaultValue int) int {
	if valueStr := ctx.Query(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func badRequest(ctx *gin.Context, title string, err error) {
	ctx.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     title,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestid.Get(ctx),
	})
}

// writeError maps domain errors to HTTP status codes.
func writeError(ctx *gin.Context, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrWalletNotFound),
		errors.Is(err, engine.ErrTransactionNotFound),
		errors.Is(err, engine.ErrPayoutNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrWalletFrozen):
		status = http.StatusLocked
	case errors.Is(err, engine.ErrSelfTransfer),
		errors.Is(err, engine.ErrAmountMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotReviewable):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNotAuthorized):
		status = http.StatusForbidden
	}

	ctx.JSON(status, ErrorResponse{
		Error:     title,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestid.Get(ctx),
	})
}
