package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces sentinel snapshots inside a shared Redis.
const keyPrefix = "sentinel:decision:"

// RedisStore implements Store on top of Redis. It lets multiple
// consumers (alert sinks, the external configuration manager) read the
// latest decision from any replica, with TTL-based expiry so stale
// decisions disappear when a sentinel stops publishing.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store and verifies connectivity.
//
// Parameters:
//   - addr: Redis server address, e.g. "localhost:6379"
//   - password: empty string for no auth
//   - db: Redis database number
//   - ttl: snapshot expiry (0 uses a default of 5 minutes)
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Put stores a snapshot under the service's key with the configured TTL.
func (s *RedisStore) Put(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Service == "" {
		return errors.New("snapshot service cannot be empty")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+snapshot.Service, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetLatest retrieves the most recent snapshot for a service. A missing
// or expired key reports found == false without error.
func (s *RedisStore) GetLatest(ctx context.Context, service string) (Snapshot, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+service).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snapshot, true, nil
}

// Ping checks connectivity, for health endpoints.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
