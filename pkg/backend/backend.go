// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides register stores for the estimator.
// All backends implement hll.Backend.
package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
)

// Type names a backend implementation.
type Type string

const (
	TypeMemory  Type = "memory"
	TypeLevelDB Type = "leveldb"
	TypeRedis   Type = "redis"
	TypeSQL     Type = "sql"
	TypeRaft    Type = "raft"
)

// Config selects and configures a backend. Only the section matching Type is read.
type Config struct {
	Type Type `mapstructure:"type"`

	// MaxValueBytes caps the size of a stored register blob. 0 disables the check.
	MaxValueBytes int `mapstructure:"max_value_bytes"`

	LevelDB LevelDBConfig `mapstructure:"leveldb"`
	Redis   RedisConfig   `mapstructure:"redis"`
	SQL     SQLConfig     `mapstructure:"sql"`
	Raft    RaftConfig    `mapstructure:"raft"`
}

// Factory creates a Backend from config.
type Factory func(cfg Config) (hll.Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Type]Factory)
)

// Register adds a factory for a backend type.
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Backend from config.
func New(cfg Config) (hll.Backend, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
	return f(cfg)
}

// Types lists the registered backend types.
func Types() []Type {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsRegistered reports whether a factory exists for t.
func IsRegistered(t Type) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}

// checkRegisters rejects blobs over maxBytes and blobs that do not decode
// as a register set, before anything is stored under the key.
func checkRegisters(maxBytes int, registers []byte) error {
	if maxBytes > 0 && len(registers) > maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", hll.ErrValueTooLarge, len(registers), maxBytes)
	}
	if _, err := hll.DecodeRegisterSet(registers); err != nil {
		return err
	}
	return nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
