package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ledger-api/internal/ingest"
	"ledger-api/internal/models"
	"ledger-api/internal/monitoring"
)

const maxWebhookBody = 1 << 20

type WebhookController struct {
	ingest  *ingest.Service
	metrics *monitoring.Metrics
}

func NewWebhookController(ingest *ingest.Service, metrics *monitoring.Metrics) *WebhookController {
	return &WebhookController{ingest: ingest, metrics: metrics}
}

// @Summary Receive a payment provider webhook
// @Description Log and process a deposit confirmation callback. The raw
// payload is stored before any processing, so a malformed delivery is
// acknowledged and kept for inspection rather than bounced back to the
// provider.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider name"
// @Success 200 {object} gin.H
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/{provider} [post]
func (c *WebhookController) Receive(ctx *gin.Context) {
	provider := ctx.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(ctx, "Failed to read payload", err)
		return
	}

	headers := map[string]string{}
	for _, name := range []string{ingest.SignatureHeader, "Content-Type", "User-Agent"} {
		if value := ctx.GetHeader(name); value != "" {
			headers[name] = value
		}
	}

	log, err := c.ingest.Ingest(ctx.Request.Context(), provider, payload, headers, ctx.ClientIP())
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidSignature) {
			c.metrics.RecordWebhook(provider, "rejected")
			ctx.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "Invalid signature",
				Message: "Webhook signature verification failed",
			})
			return
		}
		c.metrics.RecordWebhook(provider, "error")
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Webhook processing failed",
			Message: err.Error(),
		})
		return
	}

	c.metrics.RecordWebhook(provider, string(log.Status))

	// Anything logged is acknowledged, failed rows included; the replay
	// sweep retries those. Providers only retry on non-2xx.
	status := http.StatusOK
	if log.Status == models.WebhookProcessed {
		status = http.StatusCreated
	}
	ctx.JSON(status, gin.H{"status": log.Status, "reference": log.Reference})
}
