// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import "context"

// Backend stores one serialized RegisterSet per 64-bit key hash.
//
// Get and GetFromSecondary return ErrNotFound for absent keys. Merge must be
// an atomic read-max-write per key: concurrent merges into the same key may
// not lose updates. A merge into an absent key stores the blob as-is.
type Backend interface {
	Get(ctx context.Context, keyHash uint64) ([]byte, error)
	GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error)
	Set(ctx context.Context, keyHash uint64, registers []byte) error
	Merge(ctx context.Context, keyHash uint64, registers []byte) error
	Delete(ctx context.Context, keyHash uint64) error
	Close() error
}

// Scanner is implemented by backends that can enumerate and wipe all
// stored counters.
type Scanner interface {
	Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error
	Purge(ctx context.Context) error
}
