// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`

	// ReplicaAddr, when set, serves GetFromSecondary.
	ReplicaAddr string `mapstructure:"replica_addr"`

	KeyPrefix string `mapstructure:"key_prefix"`

	// MaxMergeRetries bounds optimistic transaction retries per Merge.
	MaxMergeRetries int `mapstructure:"max_merge_retries"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultRedisConfig returns defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:            "localhost:6379",
		PoolSize:        10,
		KeyPrefix:       "hllstore:",
		MaxMergeRetries: 16,
		DialTimeout:     5 * time.Second,
	}
}

// ErrMergeConflict is returned when a Merge lost every optimistic retry.
var ErrMergeConflict = errors.New("redis: merge retries exhausted")

func init() {
	Register(TypeRedis, func(cfg Config) (hll.Backend, error) {
		return NewRedis(cfg.Redis, cfg.MaxValueBytes)
	})
}

// Redis stores register blobs as plain string values keyed by
// KeyPrefix + decimal key hash.
type Redis struct {
	client   *redis.Client
	replica  *redis.Client
	config   RedisConfig
	maxBytes int
}

// NewRedis connects to cfg.Addr (and cfg.ReplicaAddr if set) and pings both.
func NewRedis(cfg RedisConfig, maxBytes int) (*Redis, error) {
	cfg = withRedisDefaults(cfg)

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	var replica *redis.Client
	if cfg.ReplicaAddr != "" {
		replica = redis.NewClient(&redis.Options{
			Addr:        cfg.ReplicaAddr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			PoolSize:    cfg.PoolSize,
			DialTimeout: cfg.DialTimeout,
		})
	}

	r := NewRedisWithClients(client, replica, cfg, maxBytes)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisWithClients wraps existing clients. replica may be nil.
func NewRedisWithClients(client, replica *redis.Client, cfg RedisConfig, maxBytes int) *Redis {
	return &Redis{
		client:   client,
		replica:  replica,
		config:   withRedisDefaults(cfg),
		maxBytes: maxBytes,
	}
}

func withRedisDefaults(cfg RedisConfig) RedisConfig {
	def := DefaultRedisConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.MaxMergeRetries <= 0 {
		cfg.MaxMergeRetries = def.MaxMergeRetries
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	return cfg
}

// Ping checks connectivity of the primary and, if configured, the replica.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	if r.replica != nil {
		if err := r.replica.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis replica connection failed: %w", err)
		}
	}
	return nil
}

func (r *Redis) key(keyHash uint64) string {
	return r.config.KeyPrefix + strconv.FormatUint(keyHash, 10)
}

func (r *Redis) get(ctx context.Context, client *redis.Client, keyHash uint64) ([]byte, error) {
	data, err := client.Get(ctx, r.key(keyHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, hll.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

func (r *Redis) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	return r.get(ctx, r.client, keyHash)
}

func (r *Redis) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	if r.replica == nil {
		return r.get(ctx, r.client, keyHash)
	}
	return r.get(ctx, r.replica, keyHash)
}

func (r *Redis) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(r.maxBytes, registers); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(keyHash), registers, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Merge watches the key, merges in the client and commits with MULTI/EXEC.
// A concurrent write to the key aborts the transaction, which is retried.
func (r *Redis) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(r.maxBytes, registers); err != nil {
		return err
	}

	key := r.key(keyHash)
	txf := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			stored = registers
		case err != nil:
			return err
		default:
			if stored, err = hll.MergeBlobs(stored, registers); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, stored, 0)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= r.config.MaxMergeRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if errors.Is(err, hll.ErrSizeMismatch) || errors.Is(err, hll.ErrMalformedRegisters) {
				return err
			}
			return fmt.Errorf("redis merge: %w", err)
		}
		logger.Debug().Str("key", key).Int("attempt", attempt).Msg("redis merge conflict, retrying")
		if attempt < r.config.MaxMergeRetries {
			if err := sleepCtx(ctx, retryDelay(attempt)); err != nil {
				return err
			}
		}
	}

	logger.Warn().Str("key", key).Int("retries", r.config.MaxMergeRetries).Msg("redis merge gave up")
	return ErrMergeConflict
}

func (r *Redis) Delete(ctx context.Context, keyHash uint64) error {
	if err := r.client.Del(ctx, r.key(keyHash)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.config.KeyPrefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Range visits every key under the prefix. Keys that vanish mid-scan are skipped.
func (r *Redis) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	return r.scan(ctx, func(keys []string) error {
		for _, key := range keys {
			keyHash, err := strconv.ParseUint(strings.TrimPrefix(key, r.config.KeyPrefix), 10, 64)
			if err != nil {
				continue
			}
			data, err := r.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return fmt.Errorf("redis get: %w", err)
			}
			if err := fn(keyHash, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Redis) Purge(ctx context.Context) error {
	return r.scan(ctx, func(keys []string) error {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

func (r *Redis) Close() error {
	err := r.client.Close()
	if r.replica != nil {
		if rerr := r.replica.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

var (
	_ hll.Backend = (*Redis)(nil)
	_ hll.Scanner = (*Redis)(nil)
)
