package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"ledger-api/internal/middleware"
	"ledger-api/internal/models"
	"ledger-api/internal/monitoring"
	"ledger-api/internal/service"
)

type AdminController struct {
	ledger  service.LedgerService
	admin   service.AdminService
	metrics *monitoring.Metrics
}

func NewAdminController(ledger service.LedgerService, admin service.AdminService, metrics *monitoring.Metrics) *AdminController {
	return &AdminController{ledger: ledger, admin: admin, metrics: metrics}
}

// @Summary List payouts pending review
// @Tags admin
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.PayoutRequest
// @Security BearerAuth
// @Router /api/v1/admin/payouts [get]
func (c *AdminController) ListPendingPayouts(ctx *gin.Context) {
	payouts, err := c.ledger.ListPendingPayouts(ctx.Request.Context(),
		queryInt(ctx, "limit", 50), queryInt(ctx, "offset", 0))
	if err != nil {
		writeError(ctx, "Failed to list pending payouts", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

// @Summary Approve a payout
// @Description Confirm the reserved debit and release the payout for settlement
// @Tags admin
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Param request body ReviewRequest false "Review note"
// @Success 200 {object} gin.H
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/payouts/{payoutId}/approve [post]
func (c *AdminController) ApprovePayout(ctx *gin.Context) {
	payoutID := ctx.Param("payoutId")
	var req ReviewRequest
	_ = ctx.ShouldBindJSON(&req)

	if err := c.ledger.ApprovePayout(ctx.Request.Context(), payoutID, middleware.UserID(ctx), req.Note); err != nil {
		writeError(ctx, "Payout approval failed", err)
		return
	}
	c.metrics.RecordPayoutReview(string(models.PayoutApproved))

	ctx.JSON(http.StatusOK, gin.H{"payout_id": payoutID, "status": models.PayoutApproved})
}

// @Summary Reject a payout
// @Description Fail the reserved debit and restore the user's available balance
// @Tags admin
// @Accept json
// @Produce json
// @Param payoutId path string true "Payout ID"
// @Param request body ReviewRequest true "Rejection reason"
// @Success 200 {object} gin.H
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/payouts/{payoutId}/reject [post]
func (c *AdminController) RejectPayout(ctx *gin.Context) {
	payoutID := ctx.Param("payoutId")
	var req ReviewRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Note == "" {
		badRequest(ctx, "Validation failed", errors.New("a rejection reason is required"))
		return
	}

	if err := c.ledger.RejectPayout(ctx.Request.Context(), payoutID, middleware.UserID(ctx), req.Note); err != nil {
		writeError(ctx, "Payout rejection failed", err)
		return
	}
	c.metrics.RecordPayoutReview(string(models.PayoutRejected))

	ctx.JSON(http.StatusOK, gin.H{"payout_id": payoutID, "status": models.PayoutRejected})
}

// @Summary Freeze a wallet
// @Tags admin
// @Accept json
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Param request body FreezeRequest true "Freeze reason"
// @Success 200 {object} gin.H
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/wallets/{walletId}/freeze [post]
func (c *AdminController) FreezeWallet(ctx *gin.Context) {
	c.setFrozen(ctx, true)
}

// @Summary Unfreeze a wallet
// @Tags admin
// @Accept json
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Param request body FreezeRequest true "Unfreeze reason"
// @Success 200 {object} gin.H
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/wallets/{walletId}/unfreeze [post]
func (c *AdminController) UnfreezeWallet(ctx *gin.Context) {
	c.setFrozen(ctx, false)
}

func (c *AdminController) setFrozen(ctx *gin.Context, frozen bool) {
	walletID, err := walletIDFromPath(ctx)
	if err != nil {
		badRequest(ctx, "Invalid wallet ID", err)
		return
	}

	var req FreezeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Reason == "" {
		badRequest(ctx, "Validation failed", errors.New("a reason is required"))
		return
	}

	if err := c.ledger.SetWalletFrozen(ctx.Request.Context(), walletID, middleware.UserID(ctx), frozen, req.Reason); err != nil {
		writeError(ctx, "Failed to update wallet freeze state", err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"wallet_id": walletID.Hex(), "frozen": frozen})
}

// @Summary Upsert a commission setting
// @Description Create or replace the fee setting for a transaction type and currency
// @Tags admin
// @Accept json
// @Produce json
// @Param request body CommissionRequest true "Commission setting"
// @Success 200 {object} models.CommissionSetting
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/commissions [put]
func (c *AdminController) UpsertCommission(ctx *gin.Context) {
	var req CommissionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}

	setting := &models.CommissionSetting{
		TransactionType: models.TransactionType(req.TransactionType),
		Currency:        req.Currency,
		Kind:            models.CommissionKind(req.Kind),
		Value:           req.Value,
		MinFee:          req.MinFee,
		MaxFee:          req.MaxFee,
		Active:          req.Active,
	}
	if err := c.admin.UpsertCommission(ctx.Request.Context(), middleware.UserID(ctx), setting); err != nil {
		badRequest(ctx, "Commission update failed", err)
		return
	}

	ctx.JSON(http.StatusOK, setting)
}

// @Summary List commission settings
// @Tags admin
// @Produce json
// @Success 200 {array} models.CommissionSetting
// @Security BearerAuth
// @Router /api/v1/admin/commissions [get]
func (c *AdminController) ListCommissions(ctx *gin.Context) {
	settings, err := c.admin.ListCommissions(ctx.Request.Context())
	if err != nil {
		writeError(ctx, "Failed to list commission settings", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"commissions": settings})
}

// @Summary Charge a subscription
// @Description Debit a user's wallet for their subscription period. Called
// by the billing scheduler, not by end users.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body SubscriptionChargeRequest true "Subscription charge"
// @Success 201 {object} models.Transaction
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/admin/subscriptions/charge [post]
func (c *AdminController) ChargeSubscription(ctx *gin.Context) {
	var req SubscriptionChargeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request format", err)
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(ctx, "Validation failed", errors.New("amount must be positive"))
		return
	}

	start := time.Now()
	tx, err := c.ledger.ChargeSubscription(ctx.Request.Context(), service.SubscriptionRequest{
		UserID:         req.UserID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Plan:           req.Plan,
		IdempotencyKey: req.IdempotencyKey,
	})
	c.metrics.RecordPosting("subscription", postingStatus(err), time.Since(start))
	if err != nil {
		writeError(ctx, "Subscription charge failed", err)
		return
	}

	ctx.JSON(http.StatusCreated, tx)
}

type ReviewRequest struct {
	Note string `json:"note"`
}

type FreezeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type SubscriptionChargeRequest struct {
	UserID         int64           `json:"user_id" binding:"required,min=1"`
	Currency       string          `json:"currency" binding:"required,len=3"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	Plan           string          `json:"plan" binding:"required"`
	IdempotencyKey string          `json:"idempotency_key" binding:"required"`
}

type CommissionRequest struct {
	TransactionType string           `json:"transaction_type" binding:"required"`
	Currency        string           `json:"currency" binding:"required"`
	Kind            string           `json:"kind" binding:"required,oneof=percent fixed"`
	Value           decimal.Decimal  `json:"value" binding:"required"`
	MinFee          *decimal.Decimal `json:"min_fee,omitempty"`
	MaxFee          *decimal.Decimal `json:"max_fee,omitempty"`
	Active          bool             `json:"active"`
}
