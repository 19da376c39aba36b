package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/engine"
	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

type memLogs struct {
	mu   sync.Mutex
	rows []*models.WebhookLog
}

func (m *memLogs) Insert(ctx context.Context, log *models.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = primitive.NewObjectID()
	log.Status = models.WebhookReceived
	log.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, log)
	return nil
}

func (m *memLogs) GetByProviderReference(ctx context.Context, provider, reference string) (*models.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		row := m.rows[i]
		if row.Provider == provider && row.Reference == reference && row.Status == models.WebhookProcessed {
			return row, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memLogs) MarkProcessed(ctx context.Context, id primitive.ObjectID, status models.WebhookStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			now := time.Now().UTC()
			row.Status = status
			row.Error = ""
			row.ProcessedAt = &now
			row.Attempts++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memLogs) MarkFailed(ctx context.Context, id primitive.ObjectID, processErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id {
			row.Status = models.WebhookFailed
			row.Error = processErr
			row.Attempts++
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memLogs) ListFailed(ctx context.Context, limit int) ([]*models.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WebhookLog
	for _, row := range m.rows {
		if row.Status == models.WebhookFailed {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakeConfirmer struct {
	calls int
	err   error
	errs  []error
}

func (f *fakeConfirmer) ConfirmDeposit(ctx context.Context, in engine.ConfirmDepositInput) (*models.Transaction, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.Transaction{TransactionID: in.TransactionID, Status: models.TxCompleted}, nil
}

type fakeAnomalies struct {
	reasons []string
}

func (f *fakeAnomalies) WebhookAnomaly(ctx context.Context, provider, reference, reason, sourceIP string) {
	f.reasons = append(f.reasons, reason)
}

func newTestService(confirmer *fakeConfirmer, secrets map[string]string) (*Service, *memLogs, *fakeAnomalies) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logs := &memLogs{}
	anomalies := &fakeAnomalies{}
	return NewService(logs, confirmer, anomalies, secrets, logger), logs, anomalies
}

func payload(reference, txID, amount string) []byte {
	return []byte(fmt.Sprintf(`{"reference":%q,"transaction_id":%q,"amount":%q,"hash":"0xabc"}`, reference, txID, amount))
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestIngestProcessesConfirmation(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, logs, _ := newTestService(confirmer, nil)

	log, err := svc.Ingest(context.Background(), "chainpay", payload("cp-1", "TXN-1", "0.5"), nil, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookProcessed, log.Status)
	assert.Equal(t, 1, confirmer.calls)
	assert.Equal(t, "cp-1", log.Reference)
	assert.Equal(t, "203.0.113.9", logs.rows[0].SourceIP)
}

func TestIngestDeduplicatesReplays(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, _, _ := newTestService(confirmer, nil)
	ctx := context.Background()
	body := payload("cp-1", "TXN-1", "0.5")

	first, err := svc.Ingest(ctx, "chainpay", body, nil, "")
	require.NoError(t, err)
	require.Equal(t, models.WebhookProcessed, first.Status)

	replay, err := svc.Ingest(ctx, "chainpay", body, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookDuplicate, replay.Status)
	assert.Equal(t, 1, confirmer.calls, "the orchestrator only sees the first delivery")
}

func TestIngestRecordsUnparseablePayload(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, logs, anomalies := newTestService(confirmer, nil)

	log, err := svc.Ingest(context.Background(), "chainpay", []byte("not json"), nil, "198.51.100.7")
	require.NoError(t, err, "a bad payload is not a server error")
	assert.Equal(t, models.WebhookFailed, log.Status)
	assert.Equal(t, 0, confirmer.calls)
	assert.Contains(t, anomalies.reasons, "unparseable payload")
	assert.Equal(t, []byte("not json"), logs.rows[0].RawPayload, "raw payload is kept for forensics")
}

func TestIngestRejectsBadSignature(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, _, anomalies := newTestService(confirmer, map[string]string{"chainpay": "s3cret"})
	body := payload("cp-1", "TXN-1", "0.5")

	_, err := svc.Ingest(context.Background(), "chainpay", body, map[string]string{SignatureHeader: "deadbeef"}, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, confirmer.calls)
	assert.Contains(t, anomalies.reasons, "signature verification failed")
}

func TestIngestAcceptsValidSignature(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, _, _ := newTestService(confirmer, map[string]string{"chainpay": "s3cret"})
	body := payload("cp-1", "TXN-1", "0.5")

	log, err := svc.Ingest(context.Background(), "chainpay", body, map[string]string{SignatureHeader: sign(body, "s3cret")}, "")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookProcessed, log.Status)
}

func TestIngestStoresProcessingErrorOnRow(t *testing.T) {
	confirmer := &fakeConfirmer{err: engine.ErrTransactionNotFound}
	svc, _, anomalies := newTestService(confirmer, nil)

	log, err := svc.Ingest(context.Background(), "chainpay", payload("cp-1", "TXN-missing", "1"), nil, "")
	require.NoError(t, err, "processing failures are stored, not surfaced")
	assert.Equal(t, models.WebhookFailed, log.Status)
	assert.Contains(t, log.Error, "transaction not found")
	assert.NotEmpty(t, anomalies.reasons)
}

func TestReplayRecoversFailedRows(t *testing.T) {
	confirmer := &fakeConfirmer{errs: []error{engine.ErrTransactionNotFound}}
	svc, _, _ := newTestService(confirmer, nil)
	ctx := context.Background()

	log, err := svc.Ingest(ctx, "chainpay", payload("cp-1", "TXN-1", "1"), nil, "")
	require.NoError(t, err)
	require.Equal(t, models.WebhookFailed, log.Status)

	// The deposit now exists; the sweep retries and succeeds.
	recovered, err := svc.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, models.WebhookProcessed, log.Status)
	assert.Equal(t, 2, confirmer.calls)
}

func TestIngestRejectsNonPositiveAmount(t *testing.T) {
	confirmer := &fakeConfirmer{}
	svc, _, _ := newTestService(confirmer, nil)

	log, err := svc.Ingest(context.Background(), "chainpay", payload("cp-1", "TXN-1", "0"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookFailed, log.Status)
	assert.Equal(t, 0, confirmer.calls)
}
