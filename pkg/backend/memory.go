// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"sync"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
)

func init() {
	Register(TypeMemory, func(cfg Config) (hll.Backend, error) {
		return NewMemory(cfg.MaxValueBytes), nil
	})
}

// Memory is an in-process backend. Reads from the secondary path hit the
// same tree.
type Memory struct {
	mu       sync.RWMutex
	counters *counterTree
	maxBytes int
}

// NewMemory creates an empty store. maxBytes <= 0 disables the size check.
func NewMemory(maxBytes int) *Memory {
	return &Memory{
		counters: newCounterTree(),
		maxBytes: maxBytes,
	}
}

func (m *Memory) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.counters.get(keyHash)
	if !ok {
		return nil, hll.ErrNotFound
	}
	return copyBytes(data), nil
}

func (m *Memory) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	return m.Get(ctx, keyHash)
}

func (m *Memory) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(m.maxBytes, registers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.set(keyHash, copyBytes(registers))
	return nil
}

func (m *Memory) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(m.maxBytes, registers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.counters.get(keyHash)
	if !ok {
		m.counters.set(keyHash, copyBytes(registers))
		return nil
	}
	merged, err := hll.MergeBlobs(stored, registers)
	if err != nil {
		return err
	}
	m.counters.set(keyHash, merged)
	return nil
}

func (m *Memory) Delete(ctx context.Context, keyHash uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.delete(keyHash)
	return nil
}

// Range visits stored counters in key order.
func (m *Memory) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	return rangeCounters(ctx, &m.mu, func() *counterTree { return m.counters }, fn)
}

func (m *Memory) Purge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.clear()
	return nil
}

// Len returns the number of stored counters.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters.len()
}

func (m *Memory) Close() error {
	return nil
}

var (
	_ hll.Backend = (*Memory)(nil)
	_ hll.Scanner = (*Memory)(nil)
)
