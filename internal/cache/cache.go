package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/segyhp/lending-engine/internal/domain"
	customError "github.com/segyhp/lending-engine/pkg/errors"
)

const (
	accountKeyPrefix    = "loan:account:"
	settlementKeyPrefix = "loan:settlement:inflight:"
)

// releaseScript deletes the guard only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the part of *redis.Client the cache needs.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache keeps read-only account snapshots and the settlement
// in-flight markers. Postgres stays authoritative for both.
type RedisCache struct {
	client     Client
	accountTTL time.Duration
	guardTTL   time.Duration
	logger     *zap.Logger
}

func NewRedisCache(client Client, accountTTL, guardTTL time.Duration, logger *zap.Logger) *RedisCache {
	return &RedisCache{
		client:     client,
		accountTTL: accountTTL,
		guardTTL:   guardTTL,
		logger:     logger,
	}
}

func accountKey(id uuid.UUID) string {
	return accountKeyPrefix + id.String()
}

func settlementKey(orderID string) string {
	return settlementKeyPrefix + orderID
}

// GetAccount returns the cached snapshot. A miss or a Redis failure both
// report false so callers fall through to the database.
func (c *RedisCache) GetAccount(ctx context.Context, id uuid.UUID) (*domain.LoanAccount, bool) {
	raw, err := c.client.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("account cache read failed", zap.String("account_id", id.String()), zap.Error(err))
		}
		return nil, false
	}

	var account domain.LoanAccount
	if err := json.Unmarshal(raw, &account); err != nil {
		c.logger.Warn("account cache entry is corrupt", zap.String("account_id", id.String()), zap.Error(err))
		return nil, false
	}
	return &account, true
}

// SetAccount stores a snapshot of account.
func (c *RedisCache) SetAccount(ctx context.Context, account *domain.LoanAccount) {
	data, err := json.Marshal(account)
	if err != nil {
		c.logger.Warn("account cache encode failed", zap.String("account_id", account.ID.String()), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, accountKey(account.ID), data, c.accountTTL).Err(); err != nil {
		c.logger.Warn("account cache write failed", zap.String("account_id", account.ID.String()), zap.Error(err))
	}
}

// InvalidateAccount drops the snapshot after the ledger changed the account.
func (c *RedisCache) InvalidateAccount(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, accountKey(id)).Err(); err != nil {
		c.logger.Warn("account cache invalidate failed", zap.String("account_id", id.String()), zap.Error(err))
	}
}

// AcquireSettlement marks orderID as being settled and returns the token
// that owns the marker. ok is false when another worker already holds it.
func (c *RedisCache) AcquireSettlement(ctx context.Context, orderID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, settlementKey(orderID), token, c.guardTTL).Result()
	if err != nil {
		return "", false, customError.WrapCacheError(err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseSettlement removes the in-flight marker for orderID if token still
// owns it. A marker that expired and was taken by another worker is left alone.
func (c *RedisCache) ReleaseSettlement(ctx context.Context, orderID, token string) {
	n, err := releaseScript.Run(ctx, c.client, []string{settlementKey(orderID)}, token).Int64()
	switch {
	case err != nil:
		c.logger.Warn("settlement guard release failed",
			zap.String("order_id", orderID), zap.Error(customError.WrapCacheError(err)))
	case n == 0:
		c.logger.Warn("settlement guard expired before release", zap.String("order_id", orderID))
	}
}

// Noop satisfies the cache contracts without storing anything. It is used
// when Redis is not configured.
type Noop struct{}

func (Noop) GetAccount(context.Context, uuid.UUID) (*domain.LoanAccount, bool) { return nil, false }
func (Noop) SetAccount(context.Context, *domain.LoanAccount)                   {}
func (Noop) InvalidateAccount(context.Context, uuid.UUID)                      {}
func (Noop) AcquireSettlement(context.Context, string) (string, bool, error)   { return "", true, nil }
func (Noop) ReleaseSettlement(context.Context, string, string)                 {}
