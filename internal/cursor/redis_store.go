// Package cursor persists per-account crawl cursors in Redis.
package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"myriad/api/internal/store"
)

// DefaultTTL bounds how long an idle account keeps its cursor. An expired
// cursor only costs one full page on the next poll.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is the data stored for each cursor
type Entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore implements cursor storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Dial opens a Redis client and pings it. The exchange-rate cache shares the
// same client.
func Dial(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "cursor:",
		ttl:    DefaultTTL,
	}
}

func (s *RedisStore) key(platform store.Platform, accountID string) string {
	return s.prefix + string(platform) + ":" + accountID
}

// Get returns the stored cursor, or "" when none exists.
func (s *RedisStore) Get(ctx context.Context, platform store.Platform, accountID string) (string, error) {
	raw, err := s.client.Get(ctx, s.key(platform, accountID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return "", fmt.Errorf("unmarshal cursor: %w", err)
	}
	return entry.Value, nil
}

// Set stores value and refreshes the TTL.
func (s *RedisStore) Set(ctx context.Context, platform store.Platform, accountID, value string) error {
	data, err := json.Marshal(Entry{Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}
	if err := s.client.Set(ctx, s.key(platform, accountID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// Reset drops the cursor so the next poll fetches a full page.
func (s *RedisStore) Reset(ctx context.Context, platform store.Platform, accountID string) error {
	if err := s.client.Del(ctx, s.key(platform, accountID)).Err(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	return nil
}

// Close closes the Redis connection, which the exchange-rate cache shares.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable. It backs the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
