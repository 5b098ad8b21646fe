// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterTree(t *testing.T) {
	tr := newCounterTree()
	tr.set(3, []byte{3})
	tr.set(1, []byte{1})
	tr.set(2, []byte{2})
	tr.set(2, []byte{22})

	got, ok := tr.get(2)
	require.True(t, ok)
	assert.Equal(t, []byte{22}, got)
	assert.Equal(t, 3, tr.len())

	page := tr.page(2, 10)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].keyHash)
	assert.Equal(t, uint64(3), page[1].keyHash)

	// Pages are copies.
	page[0].registers[0] = 0
	got, _ = tr.get(2)
	assert.Equal(t, []byte{22}, got)

	tr.delete(1)
	_, ok = tr.get(1)
	assert.False(t, ok)

	tr.clear()
	assert.Zero(t, tr.len())
}

func TestRangeCounters_Pages(t *testing.T) {
	var mu sync.RWMutex
	tr := newCounterTree()
	n := rangePageSize*2 + 17
	for i := 0; i < n; i++ {
		tr.set(uint64(i)*3, []byte{byte(i)})
	}
	tr.set(math.MaxUint64, []byte{0xff})

	var seen []uint64
	err := rangeCounters(context.Background(), &mu, func() *counterTree { return tr }, func(keyHash uint64, _ []byte) error {
		seen = append(seen, keyHash)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, n+1)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1], seen[i])
	}
	assert.Equal(t, uint64(math.MaxUint64), seen[len(seen)-1])
}

func TestRangeCounters_FullLastPage(t *testing.T) {
	var mu sync.RWMutex
	tr := newCounterTree()
	for i := 0; i < rangePageSize; i++ {
		tr.set(math.MaxUint64-uint64(i), nil)
	}

	count := 0
	err := rangeCounters(context.Background(), &mu, func() *counterTree { return tr }, func(uint64, []byte) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, rangePageSize, count)
}

func TestRangeCounters_StopsOnError(t *testing.T) {
	var mu sync.RWMutex
	tr := newCounterTree()
	tr.set(1, nil)
	tr.set(2, nil)

	stop := errors.New("stop")
	calls := 0
	err := rangeCounters(context.Background(), &mu, func() *counterTree { return tr }, func(uint64, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = rangeCounters(ctx, &mu, func() *counterTree { return tr }, func(uint64, []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_RangeAllowsWritesFromCallback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Set(ctx, 1, blob(16, nil)))
	require.NoError(t, m.Set(ctx, 2, blob(16, nil)))

	err := m.Range(ctx, func(keyHash uint64, _ []byte) error {
		return m.Delete(ctx, keyHash)
	})
	require.NoError(t, err)
	assert.Zero(t, m.Len())
}
