package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"dronelab/internal/config"
)

// NewRedisClient connects to Redis and retries the initial ping with
// exponential backoff until ConnectTimeout elapses.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		PoolTimeout: cfg.PoolTimeout,
	})

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = cfg.ConnectTimeout

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Str("module", "store").Err(err).Dur("retry_in", wait).Str("address", cfg.Address).Msg("redis not reachable")
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	log.Info().Str("module", "store").Str("address", cfg.Address).Msg("connected to redis")
	return client, nil
}

// RedisHashStore implements HashStore on Redis hashes.
type RedisHashStore struct {
	client *redis.Client
}

func NewRedisHashStore(client *redis.Client) *RedisHashStore {
	return &RedisHashStore{client: client}
}

func (s *RedisHashStore) SetField(ctx context.Context, key, field, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.client.HSet(ctx, key, field, value).Err()
}

func (s *RedisHashStore) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		values[f] = v
	}
	return s.client.HSet(ctx, key, values).Err()
}

func (s *RedisHashStore) SetFieldIfAbsent(ctx context.Context, key, field, value string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return s.client.HSetNX(ctx, key, field, value).Result()
}

func (s *RedisHashStore) GetField(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisHashStore) GetAllFields(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisHashStore) DeleteField(ctx context.Context, key, field string) error {
	return s.client.HDel(ctx, key, field).Err()
}

func (s *RedisHashStore) DeleteHash(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisHashStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisHashStore) Close() error {
	return s.client.Close()
}
