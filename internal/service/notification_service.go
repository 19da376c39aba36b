package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/models"
)

// NotificationPublisher hands user-facing events to the external
// notification service over a topic exchange. Publishing is best effort:
// a broker outage never blocks or fails a ledger operation.
type NotificationPublisher interface {
	TransactionCompleted(ctx context.Context, tx *models.Transaction)
	PayoutDecision(ctx context.Context, payout *models.PayoutRequest, decision models.PayoutStatus)
	LargeTransferAlert(ctx context.Context, tx *models.Transaction)
	Close() error
}

type notificationEvent struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	UserID    int64                  `json:"user_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

type rabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
}

func NewNotificationPublisher(url, exchange string, logger *logrus.Logger) (NotificationPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &rabbitPublisher{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

func (p *rabbitPublisher) publish(ctx context.Context, routingKey string, event notificationEvent) {
	event.EventID = uuid.NewString()
	event.Timestamp = time.Now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to encode notification event")
		return
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if err != nil {
		p.logger.WithError(err).WithField("routing_key", routingKey).Error("Failed to publish notification event")
	}
}

func (p *rabbitPublisher) TransactionCompleted(ctx context.Context, tx *models.Transaction) {
	p.publish(ctx, "ledger.transaction.completed", notificationEvent{
		EventType: "transaction_completed",
		UserID:    tx.UserID,
		Data: map[string]interface{}{
			"transaction_id": tx.TransactionID,
			"type":           tx.Type,
			"currency":       tx.Currency,
			"amount":         tx.Amount.String(),
			"fee":            tx.Fee.String(),
		},
	})
}

func (p *rabbitPublisher) PayoutDecision(ctx context.Context, payout *models.PayoutRequest, decision models.PayoutStatus) {
	p.publish(ctx, "ledger.payout."+string(decision), notificationEvent{
		EventType: "payout_" + string(decision),
		UserID:    payout.UserID,
		Data: map[string]interface{}{
			"payout_id": payout.PayoutID,
			"currency":  payout.Currency,
			"amount":    payout.Amount.String(),
			"method":    payout.Method,
			"note":      payout.ReviewNote,
		},
	})
}

func (p *rabbitPublisher) LargeTransferAlert(ctx context.Context, tx *models.Transaction) {
	p.publish(ctx, "ledger.alert.large_transfer", notificationEvent{
		EventType: "large_transfer_alert",
		UserID:    tx.UserID,
		Data: map[string]interface{}{
			"transaction_id": tx.TransactionID,
			"currency":       tx.Currency,
			"amount":         tx.Amount.String(),
		},
	})
}

func (p *rabbitPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NopPublisher discards all events, for tests and broker-less deployments.
type NopPublisher struct{}

func (NopPublisher) TransactionCompleted(context.Context, *models.Transaction) {}

func (NopPublisher) PayoutDecision(context.Context, *models.PayoutRequest, models.PayoutStatus) {}

func (NopPublisher) LargeTransferAlert(context.Context, *models.Transaction) {}

func (NopPublisher) Close() error { return nil }
