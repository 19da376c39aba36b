package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger-api/internal/models"
)

// BalanceCache is a short-TTL read cache in front of the balance fold.
// It exists purely to absorb hot reads; writers invalidate after posting
// and the reconciliation sweep corrects anything that slips through.
type BalanceCache interface {
	Get(ctx context.Context, walletID string) (*models.Balance, error)
	Set(ctx context.Context, walletID string, balance models.Balance) error
	Invalidate(ctx context.Context, walletIDs ...string) error
}

type balanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) BalanceCache {
	return &balanceCache{client: client, ttl: ttl}
}

func key(walletID string) string {
	return "balance:" + walletID
}

// Get returns (nil, nil) on a cache miss.
func (c *balanceCache) Get(ctx context.Context, walletID string) (*models.Balance, error) {
	data, err := c.client.Get(ctx, key(walletID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read balance cache: %w", err)
	}
	var balance models.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		return nil, fmt.Errorf("failed to decode cached balance: %w", err)
	}
	return &balance, nil
}

func (c *balanceCache) Set(ctx context.Context, walletID string, balance models.Balance) error {
	data, err := json.Marshal(balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	if err := c.client.Set(ctx, key(walletID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write balance cache: %w", err)
	}
	return nil
}

func (c *balanceCache) Invalidate(ctx context.Context, walletIDs ...string) error {
	if len(walletIDs) == 0 {
		return nil
	}
	keys := make([]string, len(walletIDs))
	for i, id := range walletIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate balance cache: %w", err)
	}
	return nil
}
