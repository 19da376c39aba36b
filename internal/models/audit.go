package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuditEventType names a sensitive operation recorded for compliance
// review.
type AuditEventType string

const (
	AuditLargeTransfer    AuditEventType = "large_transfer"
	AuditLimitBreach      AuditEventType = "limit_breach"
	AuditPayoutRequested  AuditEventType = "payout_requested"
	AuditPayoutReviewed   AuditEventType = "payout_reviewed"
	AuditWalletFrozen     AuditEventType = "wallet_frozen"
	AuditWalletUnfrozen   AuditEventType = "wallet_unfrozen"
	AuditWebhookAnomaly   AuditEventType = "webhook_anomaly"
	AuditAuthFailure      AuditEventType = "auth_failure"
	AuditCommissionChange AuditEventType = "commission_change"
	AuditBalanceDrift     AuditEventType = "balance_drift"
)

// AuditSeverity ranks events for review triage.
type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical"
)

// SecurityAuditEvent is one append-only row in the security log. Rows are
// never mutated.
type SecurityAuditEvent struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID int64              `bson:"user_id" json:"user_id"`

	// ActorID is the admin or system principal who performed the action,
	// when different from the affected user.
	ActorID     int64          `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	EventType   AuditEventType `bson:"event_type" json:"event_type"`
	Severity    AuditSeverity          `bson:"severity" json:"severity"`
	Description string                 `bson:"description" json:"description"`
	Payload     map[string]interface{} `bson:"payload,omitempty" json:"payload,omitempty"`
	IPAddress   string                 `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	UserAgent   string                 `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
}
