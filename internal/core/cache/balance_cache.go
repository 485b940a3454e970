// Package cache keeps computed wallet balances between requests.
//
// Values are keyed by the wallet's balance version, which storage bumps in
// the same transaction as every entry write. A reader always asks for the
// version it just read from storage, so a value computed before a write can
// never be addressed after it commits.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Nzyazin/cashbook/internal/core/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type BalanceCache interface {
	Get(ctx context.Context, walletID uuid.UUID, version int64) (models.Money, bool, error)
	Set(ctx context.Context, walletID uuid.UUID, version int64, value models.Money) error
}

type noopCache struct{}

// NewNoop returns a cache that never hits.
func NewNoop() BalanceCache { return noopCache{} }

func (noopCache) Get(context.Context, uuid.UUID, int64) (models.Money, bool, error) {
	return 0, false, nil
}

func (noopCache) Set(context.Context, uuid.UUID, int64, models.Money) error { return nil }

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedis(client *redis.Client, ttl time.Duration) BalanceCache {
	return &redisCache{client: client, ttl: ttl, prefix: "cashbook"}
}

func (c *redisCache) key(id uuid.UUID, version int64) string {
	return c.prefix + ":balance:" + id.String() + ":" + strconv.FormatInt(version, 10)
}

func (c *redisCache) Get(ctx context.Context, walletID uuid.UUID, version int64) (models.Money, bool, error) {
	v, err := c.client.Get(ctx, c.key(walletID, version)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read balance: %w", err)
	}
	return models.Money(v), true, nil
}

func (c *redisCache) Set(ctx context.Context, walletID uuid.UUID, version int64, value models.Money) error {
	if err := c.client.Set(ctx, c.key(walletID, version), int64(value), c.ttl).Err(); err != nil {
		return fmt.Errorf("store balance: %w", err)
	}
	return nil
}

type versionedBalance struct {
	version int64
	value   models.Money
}

// memoryCache holds only the newest version seen per wallet.
type memoryCache struct {
	mu     sync.Mutex
	values map[uuid.UUID]versionedBalance
}

// NewInMemory keeps balances in process; used for single-instance runs and tests.
func NewInMemory() BalanceCache {
	return &memoryCache{values: make(map[uuid.UUID]versionedBalance)}
}

func (c *memoryCache) Get(_ context.Context, walletID uuid.UUID, version int64) (models.Money, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[walletID]
	if !ok || v.version != version {
		return 0, false, nil
	}
	return v.value, true, nil
}

func (c *memoryCache) Set(_ context.Context, walletID uuid.UUID, version int64, value models.Money) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.values[walletID]; ok && cur.version > version {
		return nil
	}
	c.values[walletID] = versionedBalance{version: version, value: value}
	return nil
}
