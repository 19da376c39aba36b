package engine

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ledger-api/internal/models"
	"ledger-api/internal/repository"
)

// In-memory repositories backing the engine tests. They enforce the same
// uniqueness constraints as the Mongo indexes so idempotency behaves the
// way it does in production.

type memWallets struct {
	mu   sync.Mutex
	byID map[primitive.ObjectID]*models.Wallet
}

func newMemWallets() *memWallets {
	return &memWallets{byID: make(map[primitive.ObjectID]*models.Wallet)}
}

func (m *memWallets) Create(ctx context.Context, wallet *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byID {
		if w.UserID == wallet.UserID && w.Currency == wallet.Currency {
			return repository.ErrDuplicate
		}
	}
	wallet.ID = primitive.NewObjectID()
	m.byID[wallet.ID] = wallet
	return nil
}

func (m *memWallets) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wallet, nil
}

func (m *memWallets) GetByUserAndCurrency(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byID {
		if w.UserID == userID && w.Currency == currency {
			return w, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memWallets) GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Wallet, error) {
	if wallet, err := m.GetByUserAndCurrency(ctx, userID, currency); err == nil {
		return wallet, nil
	}
	wallet := models.NewWallet(userID, currency)
	if err := m.Create(ctx, wallet); err != nil {
		return m.GetByUserAndCurrency(ctx, userID, currency)
	}
	return wallet, nil
}

func (m *memWallets) GetPlatformWallet(ctx context.Context, currency string) (*models.Wallet, error) {
	return m.GetOrCreate(ctx, models.PlatformUserID, currency)
}

func (m *memWallets) ListByUser(ctx context.Context, userID int64) ([]*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Wallet
	for _, w := range m.byID {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWallets) ListAll(ctx context.Context, limit, offset int) ([]*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*models.Wallet, 0, len(m.byID))
	for _, w := range m.byID {
		all = append(all, w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.Hex() < all[j].ID.Hex() })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memWallets) UpdateProjection(ctx context.Context, walletID primitive.ObjectID, balance models.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.byID[walletID]
	if !ok {
		return repository.ErrNotFound
	}
	wallet.Balance = balance
	wallet.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memWallets) SetFrozen(ctx context.Context, walletID primitive.ObjectID, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.byID[walletID]
	if !ok {
		return repository.ErrNotFound
	}
	wallet.Frozen = frozen
	return nil
}

type memEntries struct {
	mu      sync.Mutex
	entries []*models.LedgerEntry
}

func newMemEntries() *memEntries { return &memEntries{} }

func (m *memEntries) Append(ctx context.Context, entries ...*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		for _, existing := range m.entries {
			if existing.Reference == e.Reference && existing.WalletID == e.WalletID && existing.Type == e.Type {
				return repository.ErrDuplicate
			}
		}
	}
	for _, e := range entries {
		e.ID = primitive.NewObjectID()
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *memEntries) ListByWallet(ctx context.Context, walletID primitive.ObjectID) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEntries) ListByWalletPaged(ctx context.Context, walletID primitive.ObjectID, limit, offset int) ([]*models.LedgerEntry, error) {
	all, _ := m.ListByWallet(ctx, walletID)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *memEntries) ListByReference(ctx context.Context, reference string) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEntries) ResolvePending(ctx context.Context, reference string, walletID primitive.ObjectID, to models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := false
	for _, e := range m.entries {
		if e.Reference == reference && e.WalletID == walletID && e.Status == models.EntryPending {
			e.Status = to
			matched = true
		}
	}
	if !matched {
		return repository.ErrNotFound
	}
	return nil
}

type memTransactions struct {
	mu  sync.Mutex
	txs []*models.Transaction
}

func newMemTransactions() *memTransactions { return &memTransactions{} }

func (m *memTransactions) Create(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.txs {
		if existing.TransactionID == tx.TransactionID {
			return repository.ErrDuplicate
		}
		if tx.IdempotencyKey != "" && existing.IdempotencyKey == tx.IdempotencyKey {
			return repository.ErrDuplicate
		}
		if tx.ProviderReference != "" && existing.Provider == tx.Provider && existing.ProviderReference == tx.ProviderReference {
			return repository.ErrDuplicate
		}
	}
	tx.ID = primitive.NewObjectID()
	m.txs = append(m.txs, tx)
	return nil
}

func (m *memTransactions) GetByTransactionID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.TransactionID == transactionID {
			return tx, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memTransactions) GetByIdempotencyKey(ctx context.Context, key string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.IdempotencyKey == key {
			return tx, nil
		}
	}
	return nil, nil
}

func (m *memTransactions) GetByProviderReference(ctx context.Context, provider, reference string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Provider == provider && tx.ProviderReference == reference {
			return tx, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memTransactions) Update(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.txs {
		if existing.ID == tx.ID {
			m.txs[i] = tx
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memTransactions) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range m.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

type memReferrals struct {
	mu        sync.Mutex
	referrals []*models.AffiliateReferral
}

func newMemReferrals() *memReferrals { return &memReferrals{} }

func (m *memReferrals) Create(ctx context.Context, referral *models.AffiliateReferral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.referrals {
		if existing.ReferredUserID == referral.ReferredUserID {
			return repository.ErrDuplicate
		}
	}
	referral.ID = primitive.NewObjectID()
	m.referrals = append(m.referrals, referral)
	return nil
}

func (m *memReferrals) GetByReferredUser(ctx context.Context, referredUserID int64) (*models.AffiliateReferral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ReferredUserID == referredUserID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memReferrals) IncrementEarned(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ID == id {
			r.TotalEarned = r.TotalEarned.Add(amount)
			return nil
		}
	}
	return repository.ErrNotFound
}

type memPayouts struct {
	mu      sync.Mutex
	payouts []*models.PayoutRequest
}

func newMemPayouts() *memPayouts { return &memPayouts{} }

func (m *memPayouts) Create(ctx context.Context, payout *models.PayoutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payouts {
		if existing.TransactionID == payout.TransactionID || existing.PayoutID == payout.PayoutID {
			return repository.ErrDuplicate
		}
	}
	payout.ID = primitive.NewObjectID()
	m.payouts = append(m.payouts, payout)
	return nil
}

func (m *memPayouts) GetByPayoutID(ctx context.Context, payoutID string) (*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.PayoutID == payoutID {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memPayouts) GetByTransactionID(ctx context.Context, transactionID string) (*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.TransactionID == transactionID {
			return p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memPayouts) Update(ctx context.Context, payout *models.PayoutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.payouts {
		if existing.ID == payout.ID {
			m.payouts[i] = payout
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memPayouts) ListPendingReview(ctx context.Context, limit, offset int) ([]*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PayoutRequest
	for _, p := range m.payouts {
		if p.Status == models.PayoutPendingReview {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPayouts) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.PayoutRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PayoutRequest
	for _, p := range m.payouts {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memCommissions struct {
	mu       sync.Mutex
	settings []*models.CommissionSetting
}

func newMemCommissions() *memCommissions { return &memCommissions{} }

func (m *memCommissions) Resolve(ctx context.Context, txType models.TransactionType, currency string) (*models.CommissionSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range []string{currency, models.AnyCurrency} {
		for _, s := range m.settings {
			if s.TransactionType == txType && s.Currency == cur && s.Active {
				return s, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCommissions) Upsert(ctx context.Context, setting *models.CommissionSetting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.settings {
		if existing.TransactionType == setting.TransactionType && existing.Currency == setting.Currency {
			m.settings[i] = setting
			return nil
		}
	}
	m.settings = append(m.settings, setting)
	return nil
}

func (m *memCommissions) List(ctx context.Context) ([]*models.CommissionSetting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.CommissionSetting(nil), m.settings...), nil
}

// memLocker serializes with real mutexes so the concurrency tests exercise
// the same check-then-post critical section as production.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker { return &memLocker{locks: make(map[string]*sync.Mutex)} }

func (m *memLocker) mutexFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[key]; !ok {
		m.locks[key] = &sync.Mutex{}
	}
	return m.locks[key]
}

func (m *memLocker) LockWallets(ctx context.Context, ttl time.Duration, walletIDs ...string) ([]*repository.DistributedLock, error) {
	ids := append([]string(nil), walletIDs...)
	sort.Strings(ids)
	var out []*repository.DistributedLock
	for _, id := range ids {
		m.mutexFor("wallet:" + id).Lock()
		out = append(out, &repository.DistributedLock{Key: "wallet:" + id})
	}
	return out, nil
}

func (m *memLocker) LockPayout(ctx context.Context, payoutID string, ttl time.Duration) (*repository.DistributedLock, error) {
	m.mutexFor("payout:" + payoutID).Lock()
	return &repository.DistributedLock{Key: "payout:" + payoutID}, nil
}

func (m *memLocker) Unlock(ctx context.Context, locks ...*repository.DistributedLock) {
	for i := len(locks) - 1; i >= 0; i-- {
		m.mutexFor(locks[i].Key).Unlock()
	}
}

type passthroughUOW struct{}

func (passthroughUOW) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAuthorizer struct {
	admins map[int64]bool
}

func (a *fakeAuthorizer) CanReviewPayouts(ctx context.Context, userID int64) bool {
	return a.admins[userID]
}

type harness struct {
	wallets   *memWallets
	entries   *memEntries
	txs       *memTransactions
	referrals *memReferrals
	payouts   *memPayouts
	projector *Projector
	orch      *Orchestrator
	workflow  *PayoutWorkflow
}

const adminID int64 = 900

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		wallets:   newMemWallets(),
		entries:   newMemEntries(),
		txs:       newMemTransactions(),
		referrals: newMemReferrals(),
		payouts:   newMemPayouts(),
	}
	h.projector = NewProjector(h.wallets, h.entries)
	locker := newMemLocker()
	uow := passthroughUOW{}
	h.orch = NewOrchestrator(h.wallets, h.entries, h.txs, h.referrals, uow, locker, h.projector, logger)
	h.workflow = NewPayoutWorkflow(h.wallets, h.entries, h.txs, h.payouts, uow, locker, h.projector, &fakeAuthorizer{admins: map[int64]bool{adminID: true}}, logger)
	return h
}

// fund seeds a wallet with a confirmed deposit and returns it.
func (h *harness) fund(t *testing.T, userID int64, currency, amount string) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	wallet, err := h.wallets.GetOrCreate(ctx, userID, currency)
	require.NoError(t, err)

	entry, err := models.NewLedgerEntry(userID, wallet.ID, currency, dec(amount), models.EntryDeposit, models.EntryConfirmed, "TXN-seed-"+primitive.NewObjectID().Hex())
	require.NoError(t, err)
	require.NoError(t, h.entries.Append(ctx, entry))
	_, err = h.projector.Refresh(ctx, wallet.ID)
	require.NoError(t, err)
	return wallet
}

func (h *harness) balance(t *testing.T, walletID primitive.ObjectID) models.Balance {
	t.Helper()
	balance, err := h.projector.Balance(context.Background(), walletID)
	require.NoError(t, err)
	return balance
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
