package currency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ratesKey     = "exchange_rates"
	updatedAtKey = "exchange_rates:updated_at"
)

// RedisCache keeps the latest snapshot in one hash plus a timestamp key.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache expires the snapshot after ttl so stale prices are not served
// forever when refreshes keep failing.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Save(ctx context.Context, snapshot Snapshot) error {
	values := make(map[string]any, len(snapshot.Rates))
	for id, rate := range snapshot.Rates {
		values[id] = strconv.FormatFloat(rate, 'f', -1, 64)
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ratesKey)
		pipe.HSet(ctx, ratesKey, values)
		pipe.Set(ctx, updatedAtKey, snapshot.UpdatedAt.UTC().Format(time.RFC3339), c.ttl)
		if c.ttl > 0 {
			pipe.Expire(ctx, ratesKey, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save exchange rates: %w", err)
	}
	return nil
}

func (c *RedisCache) Load(ctx context.Context) (Snapshot, error) {
	raw, err := c.client.HGetAll(ctx, ratesKey).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("load exchange rates: %w", err)
	}
	if len(raw) == 0 {
		return Snapshot{}, ErrNoRates
	}

	snapshot := Snapshot{Rates: make(map[string]float64, len(raw))}
	for id, value := range raw {
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse rate %s: %w", id, err)
		}
		snapshot.Rates[id] = rate
	}

	updated, err := c.client.Get(ctx, updatedAtKey).Result()
	if err != nil && err != redis.Nil {
		return Snapshot{}, fmt.Errorf("load exchange rate timestamp: %w", err)
	}
	if updated != "" {
		snapshot.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	}
	return snapshot, nil
}
