package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/engine"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// SignatureHeader carries the provider's HMAC-SHA256 of the raw payload,
// hex encoded.
const SignatureHeader = "X-Webhook-Signature"

var ErrInvalidSignature = errors.New("webhook signature verification failed")

// DepositConfirmer is the orchestrator's deposit-confirmation path.
type DepositConfirmer interface {
	ConfirmDeposit(ctx context.Context, in engine.ConfirmDepositInput) (*models.Transaction, error)
}

// AnomalyRecorder lets ingestion flag suspicious callbacks to the security
// audit log without depending on the audit service package.
type AnomalyRecorder interface {
	WebhookAnomaly(ctx context.Context, provider, reference, reason, sourceIP string)
}

// Confirmation is the normalized payload every provider adapter reduces to.
type Confirmation struct {
	Reference     string          `json:"reference" validate:"required"`
	TransactionID string          `json:"transaction_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Hash          string          `json:"hash"`
}

// Service records inbound provider callbacks verbatim, deduplicates them by
// provider reference and routes them to deposit confirmation. Processing
// errors are stored on the log row and replayed by the sweep job; a bad
// payload is never an excuse to make the provider retry forever.
type Service struct {
	logs      repository.WebhookRepository
	confirmer DepositConfirmer
	anomalies AnomalyRecorder
	secrets   map[string]string
	validate  *validator.Validate
	logger    *logrus.Logger
}

// NewService builds the ingestion service. secrets maps provider name to
// its shared HMAC secret; providers without an entry skip verification.
func NewService(logs repository.WebhookRepository, confirmer DepositConfirmer, anomalies AnomalyRecorder, secrets map[string]string, logger *logrus.Logger) *Service {
	return &Service{
		logs:      logs,
		confirmer: confirmer,
		anomalies: anomalies,
		secrets:   secrets,
		validate:  validator.New(),
		logger:    logger,
	}
}

// Ingest handles one callback. The raw payload is persisted before any
// business logic runs. The returned error is non-nil only for signature
// failures and storage faults; parse and processing failures are recorded
// on the log row and reported as success to the provider.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers map[string]string, sourceIP string) (*models.WebhookLog, error) {
	conf, parseErr := s.parse(payload)

	log := &models.WebhookLog{
		Provider:   provider,
		RawPayload: payload,
		Headers:    headers,
		SourceIP:   sourceIP,
	}
	if parseErr == nil {
		log.Reference = conf.Reference
	}
	if err := s.logs.Insert(ctx, log); err != nil {
		return nil, err
	}

	if secret, ok := s.secrets[provider]; ok {
		if !verifySignature(payload, headers[SignatureHeader], secret) {
			if err := s.logs.MarkFailed(ctx, log.ID, "invalid signature"); err != nil {
				return nil, err
			}
			s.anomalies.WebhookAnomaly(ctx, provider, log.Reference, "signature verification failed", sourceIP)
			return log, ErrInvalidSignature
		}
	}

	if parseErr != nil {
		if err := s.logs.MarkFailed(ctx, log.ID, parseErr.Error()); err != nil {
			return nil, err
		}
		s.anomalies.WebhookAnomaly(ctx, provider, "", "unparseable payload", sourceIP)
		return log, nil
	}

	// Provider replays are deduplicated by the provider's own reference,
	// independent of client idempotency keys.
	if _, err := s.logs.GetByProviderReference(ctx, provider, conf.Reference); err == nil {
		if err := s.logs.MarkProcessed(ctx, log.ID, models.WebhookDuplicate); err != nil {
			return nil, err
		}
		log.Status = models.WebhookDuplicate
		s.logger.WithFields(logrus.Fields{
			"provider":  provider,
			"reference": conf.Reference,
		}).Info("Webhook replay ignored")
		return log, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return log, s.dispatch(ctx, log, provider, conf, sourceIP)
}

// Replay retries up to limit failed rows, oldest first. Rows that fail
// again stay failed with the new error and an incremented attempt count.
func (s *Service) Replay(ctx context.Context, limit int) (int, error) {
	failed, err := s.logs.ListFailed(ctx, limit)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, log := range failed {
		conf, parseErr := s.parse(log.RawPayload)
		if parseErr != nil {
			continue
		}
		if err := s.dispatch(ctx, log, log.Provider, conf, log.SourceIP); err == nil && log.Status == models.WebhookProcessed {
			recovered++
		}
	}
	return recovered, nil
}

func (s *Service) dispatch(ctx context.Context, log *models.WebhookLog, provider string, conf Confirmation, sourceIP string) error {
	_, err := s.confirmer.ConfirmDeposit(ctx, engine.ConfirmDepositInput{
		TransactionID: conf.TransactionID,
		Amount:        conf.Amount,
		ExternalHash:  conf.Hash,
	})
	if err != nil {
		if errors.Is(err, engine.ErrAmountMismatch) || errors.Is(err, engine.ErrTransactionNotFound) {
			s.anomalies.WebhookAnomaly(ctx, provider, conf.Reference, err.Error(), sourceIP)
		}
		if markErr := s.logs.MarkFailed(ctx, log.ID, err.Error()); markErr != nil {
			return markErr
		}
		log.Status = models.WebhookFailed
		log.Error = err.Error()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"provider":  provider,
			"reference": conf.Reference,
		}).Warn("Webhook processing failed")
		return nil
	}

	if err := s.logs.MarkProcessed(ctx, log.ID, models.WebhookProcessed); err != nil {
		return err
	}
	log.Status = models.WebhookProcessed
	s.logger.WithFields(logrus.Fields{
		"provider":       provider,
		"reference":      conf.Reference,
		"transaction_id": conf.TransactionID,
	}).Info("Webhook processed")
	return nil
}

func (s *Service) parse(payload []byte) (Confirmation, error) {
	var conf Confirmation
	if err := json.Unmarshal(payload, &conf); err != nil {
		return conf, fmt.Errorf("malformed payload: %w", err)
	}
	if err := s.validate.Struct(conf); err != nil {
		return conf, fmt.Errorf("invalid payload: %w", err)
	}
	if !conf.Amount.IsPositive() {
		return conf, fmt.Errorf("invalid payload: amount must be positive")
	}
	return conf, nil
}

func verifySignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
