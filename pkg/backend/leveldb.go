// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBConfig configures the embedded LevelDB backend.
type LevelDBConfig struct {
	Path string `mapstructure:"path"`

	// Sync fsyncs every write.
	Sync bool `mapstructure:"sync"`

	// BlockCacheMB sizes the block cache. 0 uses the LevelDB default.
	BlockCacheMB int `mapstructure:"block_cache_mb"`
}

var levelDBKeyPrefix = []byte("hll/")

func init() {
	Register(TypeLevelDB, func(cfg Config) (hll.Backend, error) {
		return NewLevelDB(cfg.LevelDB, cfg.MaxValueBytes)
	})
}

// LevelDB stores register blobs in an embedded LevelDB database under
// "hll/" + 8-byte big-endian key hash.
type LevelDB struct {
	db        *leveldb.DB
	path      string
	maxBytes  int
	writeOpts *opt.WriteOptions
}

// NewLevelDB opens (or recovers) the database at cfg.Path.
func NewLevelDB(cfg LevelDBConfig, maxBytes int) (*LevelDB, error) {
	if cfg.Path == "" {
		return nil, errors.New("leveldb: path is required")
	}

	opts := &opt.Options{}
	if cfg.BlockCacheMB > 0 {
		opts.BlockCacheCapacity = cfg.BlockCacheMB * opt.MiB
	}

	db, err := leveldb.OpenFile(cfg.Path, opts)
	if lerrors.IsCorrupted(err) {
		logger.Warn().Str("path", cfg.Path).Err(err).Msg("leveldb corrupted, recovering")
		db, err = leveldb.RecoverFile(cfg.Path, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
	}

	return &LevelDB{
		db:        db,
		path:      cfg.Path,
		maxBytes:  maxBytes,
		writeOpts: &opt.WriteOptions{Sync: cfg.Sync},
	}, nil
}

func levelDBKey(keyHash uint64) []byte {
	key := make([]byte, len(levelDBKeyPrefix)+8)
	copy(key, levelDBKeyPrefix)
	binary.BigEndian.PutUint64(key[len(levelDBKeyPrefix):], keyHash)
	return key
}

func levelDBKeyHash(key []byte) (uint64, error) {
	if len(key) != len(levelDBKeyPrefix)+8 {
		return 0, fmt.Errorf("leveldb: unexpected key length %d", len(key))
	}
	return binary.BigEndian.Uint64(key[len(levelDBKeyPrefix):]), nil
}

func (l *LevelDB) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	data, err := l.db.Get(levelDBKey(keyHash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, hll.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return data, nil
}

func (l *LevelDB) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	return l.Get(ctx, keyHash)
}

func (l *LevelDB) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(l.maxBytes, registers); err != nil {
		return err
	}
	if err := l.db.Put(levelDBKey(keyHash), registers, l.writeOpts); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

// Merge runs the read-max-write inside a LevelDB transaction, which excludes
// concurrent writers for its duration.
func (l *LevelDB) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(l.maxBytes, registers); err != nil {
		return err
	}

	tr, err := l.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("leveldb open transaction: %w", err)
	}
	defer tr.Discard()

	key := levelDBKey(keyHash)
	stored, err := tr.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		stored = registers
	case err != nil:
		return fmt.Errorf("leveldb get: %w", err)
	default:
		if stored, err = hll.MergeBlobs(stored, registers); err != nil {
			return err
		}
	}

	if err := tr.Put(key, stored, l.writeOpts); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("leveldb commit: %w", err)
	}
	return nil
}

func (l *LevelDB) Delete(ctx context.Context, keyHash uint64) error {
	if err := l.db.Delete(levelDBKey(keyHash), l.writeOpts); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

func (l *LevelDB) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	iter := l.db.NewIterator(util.BytesPrefix(levelDBKeyPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		keyHash, err := levelDBKeyHash(iter.Key())
		if err != nil {
			return err
		}
		if err := fn(keyHash, copyBytes(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (l *LevelDB) Purge(ctx context.Context) error {
	iter := l.db.NewIterator(util.BytesPrefix(levelDBKeyPrefix), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(copyBytes(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb scan: %w", err)
	}
	if err := l.db.Write(batch, l.writeOpts); err != nil {
		return fmt.Errorf("leveldb purge: %w", err)
	}
	logger.Debug().Str("path", l.path).Int("deleted", batch.Len()).Msg("leveldb purged")
	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

var (
	_ hll.Backend = (*LevelDB)(nil)
	_ hll.Scanner = (*LevelDB)(nil)
)
