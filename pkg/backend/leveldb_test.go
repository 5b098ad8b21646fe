// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDB(t *testing.T) {
	runBackendSuite(t, func(t *testing.T, maxBytes int) hll.Backend {
		b, err := New(Config{
			Type:          TypeLevelDB,
			MaxValueBytes: maxBytes,
			LevelDB:       LevelDBConfig{Path: filepath.Join(t.TempDir(), "hll")},
		})
		require.NoError(t, err)
		return b
	})
}

func TestLevelDB_RequiresPath(t *testing.T) {
	_, err := NewLevelDB(LevelDBConfig{}, 0)
	assert.Error(t, err)
}

func TestLevelDB_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hll")
	data := blob(16, map[int]uint8{4: 4})

	db, err := NewLevelDB(LevelDBConfig{Path: path, Sync: true}, 0)
	require.NoError(t, err)
	require.NoError(t, db.Merge(ctx, 1<<40, data))
	require.NoError(t, db.Close())

	db, err = NewLevelDB(LevelDBConfig{Path: path}, 0)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get(ctx, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLevelDBKey(t *testing.T) {
	key := levelDBKey(0x0102030405060708)
	assert.Equal(t, []byte{'h', 'l', 'l', '/', 1, 2, 3, 4, 5, 6, 7, 8}, key)

	hash, err := levelDBKeyHash(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), hash)

	_, err = levelDBKeyHash([]byte("hll/short"))
	assert.Error(t, err)
}
