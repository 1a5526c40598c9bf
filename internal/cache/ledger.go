// Package cache holds the Redis-backed stores shared between storefront
// instances.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "checkout:reconciled:"
	pendingMarker   = "pending"
	defaultTTL      = 7 * 24 * time.Hour
)

// RedisLedger records which payment intents already produced an order, so a
// payment is reconciled once even across instances.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerKey(intentID string) string {
	return ledgerKeyPrefix + intentID
}

// Claim takes the intent for reconciliation. It returns false when another
// caller claimed it first.
func (l *RedisLedger) Claim(ctx context.Context, intentID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, ledgerKey(intentID), pendingMarker, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Complete stores the order created for a claimed intent.
func (l *RedisLedger) Complete(ctx context.Context, intentID, orderID string) error {
	if err := l.client.Set(ctx, ledgerKey(intentID), orderID, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (l *RedisLedger) Lookup(ctx context.Context, intentID string) (string, bool, error) {
	orderID, err := l.client.Get(ctx, ledgerKey(intentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	if orderID == pendingMarker {
		return "", false, nil
	}
	return orderID, true, nil
}
