package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WebhookStatus is the processing state of one logged provider callback.
type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookFailed    WebhookStatus = "failed"
)

// WebhookLog records an inbound provider callback verbatim before any
// business logic runs, so a crash mid-processing leaves a forensic trail
// and a failed row can be replayed manually or by the sweep job.
// Processing errors are stored on the row, never thrown back at the
// provider.
type WebhookLog struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Provider string             `bson:"provider" json:"provider"`

	// Reference is the provider-controlled identifier used to deduplicate
	// replays, independent of any client idempotency key.
	Reference string `bson:"reference" json:"reference"`

	RawPayload []byte            `bson:"raw_payload" json:"raw_payload"`
	Headers    map[string]string `bson:"headers" json:"headers"`
	SourceIP   string            `bson:"source_ip" json:"source_ip"`

	Status      WebhookStatus `bson:"status" json:"status"`
	Error       string        `bson:"error,omitempty" json:"error,omitempty"`
	Attempts    int           `bson:"attempts" json:"attempts"`
	ProcessedAt *time.Time    `bson:"processed_at,omitempty" json:"processed_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
