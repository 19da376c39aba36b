package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockRepository hands out short-lived distributed locks backed by Redis
// SET NX. Release uses a Lua compare-and-delete so a holder can never free
// a lock that has expired and been re-acquired by someone else.
type LockRepository interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error)
	Release(ctx context.Context, lock *DistributedLock) error
	Extend(ctx context.Context, lock *DistributedLock, ttl time.Duration) error
}

type DistributedLock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type lockRepository struct {
	client *redis.Client
}

func NewLockRepository(client *redis.Client) LockRepository {
	return &lockRepository{client: client}
}

const (
	lockPrefix = "lock:"

	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`

	extendScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

func (r *lockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := lockPrefix + key
	lockValue := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock already held: %s", key)
	}
	return &DistributedLock{
		Key:        lockKey,
		Value:      lockValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, nil
}

func (r *lockRepository) Release(ctx context.Context, lock *DistributedLock) error {
	res, err := r.client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if res.(int64) == 0 {
		return fmt.Errorf("lock not held or already released: %s", lock.Key)
	}
	return nil
}

func (r *lockRepository) Extend(ctx context.Context, lock *DistributedLock, ttl time.Duration) error {
	res, err := r.client.Eval(ctx, extendScript, []string{lock.Key}, lock.Value, int(ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if res.(int64) == 0 {
		return fmt.Errorf("lock not held: %s", lock.Key)
	}
	lock.TTL = ttl
	return nil
}

// WalletLocker serializes ledger operations per wallet. Multi-wallet
// operations lock in ascending wallet-id order so two concurrent
// opposite-direction transfers between the same wallets cannot deadlock.
type WalletLocker interface {
	LockWallets(ctx context.Context, ttl time.Duration, walletIDs ...string) ([]*DistributedLock, error)
	LockPayout(ctx context.Context, payoutID string, ttl time.Duration) (*DistributedLock, error)
	Unlock(ctx context.Context, locks ...*DistributedLock)
}

type walletLocker struct {
	locks LockRepository
}

func NewWalletLocker(locks LockRepository) WalletLocker {
	return &walletLocker{locks: locks}
}

func (m *walletLocker) LockWallets(ctx context.Context, ttl time.Duration, walletIDs ...string) ([]*DistributedLock, error) {
	ids := make([]string, len(walletIDs))
	copy(ids, walletIDs)
	sort.Strings(ids)

	acquired := make([]*DistributedLock, 0, len(ids))
	for _, id := range ids {
		lock, err := m.locks.Acquire(ctx, "wallet:"+id, ttl)
		if err != nil {
			m.Unlock(ctx, acquired...)
			return nil, err
		}
		acquired = append(acquired, lock)
	}
	return acquired, nil
}

func (m *walletLocker) LockPayout(ctx context.Context, payoutID string, ttl time.Duration) (*DistributedLock, error) {
	return m.locks.Acquire(ctx, "payout:"+payoutID, ttl)
}

func (m *walletLocker) Unlock(ctx context.Context, locks ...*DistributedLock) {
	// Release in reverse acquisition order; failures only shorten the TTL
	// window, so they are not propagated.
	for i := len(locks) - 1; i >= 0; i-- {
		_ = m.locks.Release(ctx, locks[i])
	}
}
