package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/core/id"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
)

const stockKeyPrefix = "stock:level:"

var _ stock.Cache = (*StockCache)(nil)

// StockCache keeps computed stock levels in Redis as JSON with a TTL.
// It only serves reads; ledger writes never consult it.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStockCache creates a cache over an existing client. The caller owns the client.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	return &StockCache{client: client, ttl: ttl}
}

func stockKey(class catalog.Class, productID id.ID) string {
	return stockKeyPrefix + string(class) + ":" + productID.String()
}

// Get returns nil on a miss.
func (c *StockCache) Get(ctx context.Context, class catalog.Class, productID id.ID) (*stock.Level, error) {
	data, err := c.client.Get(ctx, stockKey(class, productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stock level: %w", err)
	}

	var level stock.Level
	if err := json.Unmarshal(data, &level); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		_ = c.client.Del(ctx, stockKey(class, productID)).Err()
		return nil, nil
	}
	return &level, nil
}

func (c *StockCache) Set(ctx context.Context, level stock.Level) error {
	data, err := json.Marshal(level)
	if err != nil {
		return fmt.Errorf("marshal stock level: %w", err)
	}
	if err := c.client.Set(ctx, stockKey(level.ProductClass, level.ProductID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set stock level: %w", err)
	}
	return nil
}

func (c *StockCache) Invalidate(ctx context.Context, class catalog.Class, productIDs ...id.ID) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, pid := range productIDs {
		keys[i] = stockKey(class, pid)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate stock levels: %w", err)
	}
	return nil
}
