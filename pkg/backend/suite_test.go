// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBackendFunc opens a fresh, empty backend. maxBytes <= 0 disables the
// size limit. The backend is closed by the caller.
type newBackendFunc func(t *testing.T, maxBytes int) hll.Backend

func blob(count int, regs map[int]uint8) []byte {
	rs := hll.NewRegisterSet(count)
	for pos, v := range regs {
		rs.Set(pos, v)
	}
	return rs.Bytes()
}

func decode(t *testing.T, data []byte) *hll.RegisterSet {
	t.Helper()
	rs, err := hll.DecodeRegisterSet(data)
	require.NoError(t, err)
	return rs
}

// runBackendSuite checks the behaviour every hll.Backend must share.
func runBackendSuite(t *testing.T, newBackend newBackendFunc) {
	ctx := context.Background()

	open := func(t *testing.T, maxBytes int) hll.Backend {
		b := newBackend(t, maxBytes)
		t.Cleanup(func() { b.Close() })
		return b
	}

	t.Run("GetMissing", func(t *testing.T) {
		b := open(t, 0)

		_, err := b.Get(ctx, 42)
		assert.ErrorIs(t, err, hll.ErrNotFound)
		_, err = b.GetFromSecondary(ctx, 42)
		assert.ErrorIs(t, err, hll.ErrNotFound)
	})

	t.Run("SetGet", func(t *testing.T) {
		b := open(t, 0)
		data := blob(16, map[int]uint8{0: 3, 15: 9})

		require.NoError(t, b.Set(ctx, 7, data))

		got, err := b.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		got, err = b.GetFromSecondary(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		b := open(t, 0)

		require.NoError(t, b.Set(ctx, 7, blob(16, map[int]uint8{0: 9})))
		require.NoError(t, b.Set(ctx, 7, blob(16, map[int]uint8{1: 2})))

		got, err := b.Get(ctx, 7)
		require.NoError(t, err)
		rs := decode(t, got)
		assert.Equal(t, uint8(0), rs.Get(0))
		assert.Equal(t, uint8(2), rs.Get(1))
	})

	t.Run("MergeIntoAbsentKey", func(t *testing.T) {
		b := open(t, 0)
		data := blob(64, map[int]uint8{10: 4})

		require.NoError(t, b.Merge(ctx, 1, data))

		got, err := b.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("MergeTakesPerRegisterMax", func(t *testing.T) {
		b := open(t, 0)

		require.NoError(t, b.Merge(ctx, 1, blob(16, map[int]uint8{3: 7, 5: 20})))
		require.NoError(t, b.Merge(ctx, 1, blob(16, map[int]uint8{3: 12, 4: 2, 5: 1})))

		got, err := b.Get(ctx, 1)
		require.NoError(t, err)
		rs := decode(t, got)
		assert.Equal(t, uint8(12), rs.Get(3))
		assert.Equal(t, uint8(2), rs.Get(4))
		assert.Equal(t, uint8(20), rs.Get(5))
	})

	t.Run("MergeSizeMismatch", func(t *testing.T) {
		b := open(t, 0)
		stored := blob(16, map[int]uint8{0: 1})

		require.NoError(t, b.Set(ctx, 1, stored))
		err := b.Merge(ctx, 1, blob(64, map[int]uint8{0: 5}))
		assert.ErrorIs(t, err, hll.ErrSizeMismatch)

		got, err := b.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, stored, got)
	})

	t.Run("Delete", func(t *testing.T) {
		b := open(t, 0)

		require.NoError(t, b.Set(ctx, 5, blob(16, nil)))
		require.NoError(t, b.Delete(ctx, 5))
		_, err := b.Get(ctx, 5)
		assert.ErrorIs(t, err, hll.ErrNotFound)

		assert.NoError(t, b.Delete(ctx, 5))
	})

	t.Run("ValueTooLarge", func(t *testing.T) {
		b := open(t, 12)

		require.NoError(t, b.Set(ctx, 1, blob(16, nil)))
		assert.ErrorIs(t, b.Set(ctx, 2, blob(32, nil)), hll.ErrValueTooLarge)
		assert.ErrorIs(t, b.Merge(ctx, 2, blob(32, nil)), hll.ErrValueTooLarge)

		_, err := b.Get(ctx, 2)
		assert.ErrorIs(t, err, hll.ErrNotFound)
	})

	t.Run("MalformedRejected", func(t *testing.T) {
		b := open(t, 0)

		for _, bad := range [][]byte{nil, {}, {1, 2, 3}, {1, 2, 3, 4, 5}} {
			assert.ErrorIs(t, b.Merge(ctx, 7, bad), hll.ErrMalformedRegisters, "merge len %d", len(bad))
			assert.ErrorIs(t, b.Set(ctx, 8, bad), hll.ErrMalformedRegisters, "set len %d", len(bad))
		}

		_, err := b.Get(ctx, 7)
		assert.ErrorIs(t, err, hll.ErrNotFound)
		_, err = b.Get(ctx, 8)
		assert.ErrorIs(t, err, hll.ErrNotFound)

		// The key stays usable for well-formed registers.
		require.NoError(t, b.Merge(ctx, 7, blob(16, map[int]uint8{2: 5})))
		require.NoError(t, b.Merge(ctx, 7, blob(16, map[int]uint8{3: 1})))
		got, err := b.Get(ctx, 7)
		require.NoError(t, err)
		rs := decode(t, got)
		assert.Equal(t, uint8(5), rs.Get(2))
		assert.Equal(t, uint8(1), rs.Get(3))
	})

	t.Run("FindMaxAllowedLog2m", func(t *testing.T) {
		b := open(t, hll.RegisterBytesNeededForLog2m(9))

		got, err := hll.FindMaxAllowedLog2m(ctx, b, hll.DefaultProbeKey)
		require.NoError(t, err)
		assert.Equal(t, 9, got)

		_, err = b.Get(ctx, hll.DefaultProbeKey)
		assert.ErrorIs(t, err, hll.ErrNotFound)
	})

	t.Run("ConcurrentMerges", func(t *testing.T) {
		b := open(t, 0)
		const writers = 8

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				errs <- b.Merge(ctx, 99, blob(64, map[int]uint8{w: uint8(w + 1)}))
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := b.Get(ctx, 99)
		require.NoError(t, err)
		rs := decode(t, got)
		for w := 0; w < writers; w++ {
			assert.Equal(t, uint8(w+1), rs.Get(w), "register %d lost", w)
		}
	})

	t.Run("Estimator", func(t *testing.T) {
		b := open(t, 0)
		est, err := hll.New(10, hll.Murmur3{}, b)
		require.NoError(t, err)

		require.NoError(t, est.AddMembers(ctx, "visitors", []byte("a"), []byte("b"), []byte("c")))
		require.NoError(t, est.AddMembers(ctx, "visitors", []byte("c"), []byte("d")))

		n, err := est.EstimatedCardinality(ctx, "visitors")
		require.NoError(t, err)
		assert.InDelta(t, 4, n, 1)

		require.NoError(t, est.Delete(ctx, "visitors"))
		n, err = est.EstimatedCardinality(ctx, "visitors")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Scanner", func(t *testing.T) {
		b := open(t, 0)
		s, ok := b.(hll.Scanner)
		if !ok {
			t.Skip("backend does not implement hll.Scanner")
		}

		want := map[uint64][]byte{
			1:       blob(16, map[int]uint8{0: 1}),
			2:       blob(16, map[int]uint8{1: 2}),
			1 << 63: blob(16, map[int]uint8{2: 3}),
		}
		for k, v := range want {
			require.NoError(t, b.Set(ctx, k, v))
		}

		got := make(map[uint64][]byte)
		require.NoError(t, s.Range(ctx, func(keyHash uint64, registers []byte) error {
			got[keyHash] = registers
			return nil
		}))
		assert.Equal(t, want, got)

		stop := errors.New("stop")
		visited := 0
		err := s.Range(ctx, func(uint64, []byte) error {
			visited++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, visited)

		require.NoError(t, s.Purge(ctx))
		for k := range want {
			_, err := b.Get(ctx, k)
			assert.ErrorIs(t, err, hll.ErrNotFound)
		}
	})
}
