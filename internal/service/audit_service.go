package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// AuditService appends security-sensitive events to the compliance log.
// Audit writes never fail the business operation that triggered them; a
// failed append is logged and dropped.
type AuditService interface {
	LargeTransfer(ctx context.Context, tx *models.Transaction)
	PayoutRequested(ctx context.Context, payout *models.PayoutRequest)
	PayoutReviewed(ctx context.Context, payout *models.PayoutRequest, decision models.PayoutStatus, reviewerID int64)
	WalletFrozen(ctx context.Context, walletID string, userID, adminID int64, frozen bool, reason string)
	WebhookAnomaly(ctx context.Context, provider, reference, reason, sourceIP string)
	AuthFailure(ctx context.Context, userID int64, sourceIP, detail string)
	CommissionChanged(ctx context.Context, adminID int64, setting *models.CommissionSetting)
	BalanceDriftRepaired(ctx context.Context, walletID string, cached, ledger models.Balance)
}

type auditService struct {
	repo   repository.AuditRepository
	logger *logrus.Logger
}

func NewAuditService(repo repository.AuditRepository, logger *logrus.Logger) AuditService {
	return &auditService{repo: repo, logger: logger}
}

// append stores the event and mirrors it to the audit log stream. A
// failed store is logged and dropped; audit writes never fail the
// business operation that produced them.
func (s *auditService) append(ctx context.Context, event *models.SecurityAuditEvent) {
	s.logger.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"severity":   event.Severity,
		"user_id":    event.UserID,
		"actor_id":   event.ActorID,
		"payload":    event.Payload,
	}).Info(event.Description)

	if err := s.repo.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", event.EventType).Error("Failed to append audit event")
	}
}

func (s *auditService) LargeTransfer(ctx context.Context, tx *models.Transaction) {
	s.append(ctx, &models.SecurityAuditEvent{
		UserID:      tx.UserID,
		EventType:   models.AuditLargeTransfer,
		Severity:    models.AuditWarning,
		Description: fmt.Sprintf("%s of %s %s exceeds the large-amount threshold", tx.Type, tx.Amount, tx.Currency),
		Payload: map[string]interface{}{
			"transaction_id": tx.TransactionID,
			"type":           tx.Type,
			"currency":       tx.Currency,
			"amount":         tx.Amount.String(),
			"fee":            tx.Fee.String(),
		},
	})
}

func (s *auditService) PayoutRequested(ctx context.Context, payout *models.PayoutRequest) {
	s.append(ctx, &models.SecurityAuditEvent{
		UserID:      payout.UserID,
		EventType:   models.AuditPayoutRequested,
		Severity:    models.AuditInfo,
		Description: fmt.Sprintf("payout of %s %s requested via %s", payout.Amount, payout.Currency, payout.Method),
		Payload: map[string]interface{}{
			"payout_id":   payout.PayoutID,
			"currency":    payout.Currency,
			"amount":      payout.Amount.String(),
			"method":      payout.Method,
			"destination": payout.Destination,
		},
	})
}

func (s *auditService) PayoutReviewed(ctx context.Context, payout *models.PayoutRequest, decision models.PayoutStatus, reviewerID int64) {
	severity := models.AuditInfo
	if decision == models.PayoutRejected {
		severity = models.AuditWarning
	}
	s.append(ctx, &models.SecurityAuditEvent{
		UserID:      payout.UserID,
		ActorID:     reviewerID,
		EventType:   models.AuditPayoutReviewed,
		Severity:    severity,
		Description: fmt.Sprintf("payout %s %s by reviewer %d", payout.PayoutID, decision, reviewerID),
		Payload: map[string]interface{}{
			"payout_id": payout.PayoutID,
			"decision":  decision,
			"amount":    payout.Amount.String(),
			"note":      payout.ReviewNote,
		},
	})
}

func (s *auditService) WalletFrozen(ctx context.Context, walletID string, userID, adminID int64, frozen bool, reason string) {
	eventType := models.AuditWalletFrozen
	verb := "frozen"
	if !frozen {
		eventType = models.AuditWalletUnfrozen
		verb = "unfrozen"
	}
	s.append(ctx, &models.SecurityAuditEvent{
		UserID:      userID,
		ActorID:     adminID,
		EventType:   eventType,
		Severity:    models.AuditCritical,
		Description: fmt.Sprintf("wallet %s %s by admin %d", walletID, verb, adminID),
		Payload: map[string]interface{}{
			"wallet_id": walletID,
			"reason":    reason,
		},
	})
}

func (s *auditService) WebhookAnomaly(ctx context.Context, provider, reference, reason, sourceIP string) {
	s.append(ctx, &models.SecurityAuditEvent{
		EventType:   models.AuditWebhookAnomaly,
		Severity:    models.AuditWarning,
		Description: fmt.Sprintf("anomalous %s webhook: %s", provider, reason),
		IPAddress:   sourceIP,
		Payload: map[string]interface{}{
			"provider":  provider,
			"reference": reference,
			"reason":    reason,
		},
	})
}

func (s *auditService) AuthFailure(ctx context.Context, userID int64, sourceIP, detail string) {
	s.append(ctx, &models.SecurityAuditEvent{
		UserID:      userID,
		EventType:   models.AuditAuthFailure,
		Severity:    models.AuditWarning,
		Description: "authentication failure",
		IPAddress:   sourceIP,
		Payload:     map[string]interface{}{"detail": detail},
	})
}

func (s *auditService) CommissionChanged(ctx context.Context, adminID int64, setting *models.CommissionSetting) {
	s.append(ctx, &models.SecurityAuditEvent{
		ActorID:     adminID,
		EventType:   models.AuditCommissionChange,
		Severity:    models.AuditInfo,
		Description: fmt.Sprintf("commission setting for %s/%s changed by admin %d", setting.TransactionType, setting.Currency, adminID),
		Payload: map[string]interface{}{
			"transaction_type": setting.TransactionType,
			"currency":         setting.Currency,
			"kind":             setting.Kind,
			"value":            setting.Value.String(),
			"active":           setting.Active,
		},
	})
}

func (s *auditService) BalanceDriftRepaired(ctx context.Context, walletID string, cached, ledger models.Balance) {
	s.append(ctx, &models.SecurityAuditEvent{
		EventType:   models.AuditBalanceDrift,
		Severity:    models.AuditCritical,
		Description: fmt.Sprintf("cached balance for wallet %s diverged from the ledger and was repaired", walletID),
		Payload: map[string]interface{}{
			"wallet_id":        walletID,
			"cached_total":     cached.Total.String(),
			"ledger_total":     ledger.Total.String(),
			"cached_available": cached.Available.String(),
			"ledger_available": ledger.Available.String(),
			"drift":            cached.Total.Sub(ledger.Total).Abs().String(),
		},
	})
}
