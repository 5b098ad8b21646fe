// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBytesNeededForLog2m(t *testing.T) {
	for i := 1; i <= MaxLog2m; i++ {
		count := 1 << i
		words := (count + RegistersPerWord - 1) / RegistersPerWord
		assert.Equal(t, words*4, RegisterBytesNeededForLog2m(i), "log2m %d", i)
		assert.Equal(t, NewRegisterSet(count).Size()*BytesPerWord, RegisterBytesNeededForLog2m(i))
	}

	assert.Equal(t, 4, RegisterBytesNeededForLog2m(0))
	assert.Equal(t, 12, RegisterBytesNeededForLog2m(4))
	assert.Equal(t, 684, RegisterBytesNeededForLog2m(10))
	assert.Equal(t, 43692, RegisterBytesNeededForLog2m(16))
}

func TestSizeTable(t *testing.T) {
	rows := SizeTable()
	require.Len(t, rows, MaxLog2m)

	assert.Equal(t, 1, rows[0].Log2m)
	assert.Equal(t, 4, rows[0].Bytes)
	assert.Equal(t, 2, rows[0].Buckets)

	row4 := rows[3]
	assert.Equal(t, "log2m =  4, storage =    12b, Hll 2^04 =    16 buckets, accuracy = 26.00%", row4.String())

	// log2m 1 and 2 both fit in a single word.
	assert.Equal(t, 4, rows[1].Bytes)
	for i := 1; i < len(rows); i++ {
		if i >= 2 {
			assert.Greater(t, rows[i].Bytes, rows[i-1].Bytes, "log2m %d", rows[i].Log2m)
		} else {
			assert.GreaterOrEqual(t, rows[i].Bytes, rows[i-1].Bytes)
		}
		assert.Less(t, rows[i].Accuracy, rows[i-1].Accuracy)
	}
}

func TestFindMaxAllowedLog2m_Probing(t *testing.T) {
	b := newMapBackend()
	b.maxBytes = 700

	got, err := FindMaxAllowedLog2m(context.Background(), b, DefaultProbeKey)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.NotContains(t, b.data, DefaultProbeKey)
}

func TestFindMaxAllowedLog2m_NoLimit(t *testing.T) {
	b := newMapBackend()

	got, err := FindMaxAllowedLog2m(context.Background(), b, DefaultProbeKey)
	require.NoError(t, err)
	assert.Equal(t, NoLimit, got)
	assert.Empty(t, b.data)
}

func TestFindMaxAllowedLog2m_ExistingKey(t *testing.T) {
	b := newMapBackend()
	b.data[DefaultProbeKey] = make([]byte, RegisterBytesNeededForLog2m(12))

	got, err := FindMaxAllowedLog2m(context.Background(), b, DefaultProbeKey)
	require.NoError(t, err)
	assert.Equal(t, 12, got)
	assert.Contains(t, b.data, DefaultProbeKey)
}

func TestFindMaxAllowedLog2m_BackendError(t *testing.T) {
	boom := errors.New("unavailable")
	b := &failingBackend{mapBackend: newMapBackend(), err: boom}

	_, err := FindMaxAllowedLog2m(context.Background(), b, DefaultProbeKey)
	assert.ErrorIs(t, err, boom)
}
