// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hllstore.yaml"), []byte(body), 0o644))

	old := ConfigurationFileDirectory
	ConfigurationFileDirectory = dir
	t.Cleanup(func() { ConfigurationFileDirectory = old })
}

func TestLoad_Defaults(t *testing.T) {
	ConfigurationFileDirectory = t.TempDir()

	cfg, err := Load(viper.New(), "hllstore-missing")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Log2m)
	assert.Equal(t, hll.HashMurmur3, cfg.Hash)
	assert.Equal(t, backend.TypeMemory, cfg.Backend.Type)
	assert.Equal(t, "hllstore:", cfg.Backend.Redis.KeyPrefix)
	assert.Equal(t, 10*time.Second, cfg.Backend.Raft.ApplyTimeout)
	assert.False(t, cfg.HasSecondary())
	assert.True(t, cfg.Validate().Valid)
}

func TestLoad_File(t *testing.T) {
	writeConfig(t, `
log2m: 12
hash: xxhash
metrics: false
backend:
  type: leveldb
  max_value_bytes: 8192
  leveldb:
    path: /var/lib/hllstore
    sync: true
secondary:
  type: redis
  redis:
    addr: redis:6379
    replica_addr: redis-replica:6379
read_failover: true
`)

	cfg, err := Load(viper.New(), "hllstore")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Log2m)
	assert.Equal(t, hll.HashXXHash, cfg.Hash)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, backend.TypeLevelDB, cfg.Backend.Type)
	assert.Equal(t, 8192, cfg.Backend.MaxValueBytes)
	assert.Equal(t, "/var/lib/hllstore", cfg.Backend.LevelDB.Path)
	assert.True(t, cfg.Backend.LevelDB.Sync)
	assert.Equal(t, backend.TypeRedis, cfg.Secondary.Type)
	assert.Equal(t, "redis-replica:6379", cfg.Secondary.Redis.ReplicaAddr)
	assert.Equal(t, 16, cfg.Secondary.Redis.MaxMergeRetries)
	assert.True(t, cfg.ReadFailover)
	assert.True(t, cfg.HasSecondary())

	result := cfg.Validate()
	assert.True(t, result.Valid, "%v", result.Errors)
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, "log2m: 12\n")
	t.Setenv("HLLSTORE_LOG2M", "14")
	t.Setenv("HLLSTORE_BACKEND_TYPE", "redis")
	t.Setenv("HLLSTORE_BACKEND_REDIS_ADDR", "cache:6380")

	cfg, err := Load(viper.New(), "hllstore")
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Log2m)
	assert.Equal(t, backend.TypeRedis, cfg.Backend.Type)
	assert.Equal(t, "cache:6380", cfg.Backend.Redis.Addr)
}

func TestLoadFile_Required(t *testing.T) {
	ConfigurationFileDirectory = t.TempDir()

	found, err := LoadFile(viper.New(), "hllstore-missing", true)
	assert.False(t, found)
	assert.Error(t, err)
}

func TestLoadFile_Malformed(t *testing.T) {
	writeConfig(t, "log2m: [unclosed\n")

	_, err := LoadFile(viper.New(), "hllstore", false)
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Log2m:   10,
		Hash:    hll.HashMurmur3,
		Backend: backend.Config{Type: backend.TypeMemory},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		fields []string
	}{
		{"valid", func(c *Config) {}, nil},
		{"log2m too small", func(c *Config) { c.Log2m = 3 }, []string{"log2m"}},
		{"log2m too large", func(c *Config) { c.Log2m = 17 }, []string{"log2m"}},
		{"unknown hash", func(c *Config) { c.Hash = "md5" }, []string{"hash"}},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, []string{"log_level"}},
		{"empty backend", func(c *Config) { c.Backend.Type = "" }, []string{"backend.type"}},
		{"unknown backend", func(c *Config) { c.Backend.Type = "cassandra" }, []string{"backend.type"}},
		{"negative max", func(c *Config) { c.Backend.MaxValueBytes = -1 }, []string{"backend.max_value_bytes"}},
		{"max too small", func(c *Config) { c.Backend.MaxValueBytes = 100 }, []string{"backend.max_value_bytes"}},
		{"leveldb path", func(c *Config) { c.Backend.Type = backend.TypeLevelDB }, []string{"backend.leveldb.path"}},
		{"redis addr", func(c *Config) { c.Backend.Type = backend.TypeRedis }, []string{"backend.redis.addr"}},
		{"sql", func(c *Config) {
			c.Backend.Type = backend.TypeSQL
			c.Backend.SQL.Dialect = "oracle"
		}, []string{"backend.sql.dsn", "backend.sql.dialect"}},
		{"raft", func(c *Config) { c.Backend.Type = backend.TypeRaft }, []string{"backend.raft.node_id", "backend.raft.bind_addr", "backend.raft.data_dir"}},
		{"secondary", func(c *Config) { c.Secondary.Type = backend.TypeLevelDB }, []string{"secondary.leveldb.path"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(c)

			result := c.Validate()
			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, len(tt.fields) == 0, result.Valid)
			if len(tt.fields) == 0 {
				assert.NoError(t, result.Err())
			} else {
				assert.Error(t, result.Err())
			}
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	c := validConfig()
	c.ReadFailover = true
	result := c.Validate()
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 2)

	c.Secondary = c.Backend
	result = c.Validate()
	assert.Contains(t, result.Warnings, "secondary backend is identical to the primary backend")
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	c := validConfig()
	c.Metrics = true
	c.Secondary = backend.Config{Type: backend.TypeMemory}

	b, err := c.OpenBackend()
	require.NoError(t, err)
	defer b.Close()

	m, ok := b.(*backend.Migratable)
	require.True(t, ok)
	primary, secondary := m.Stores()
	assert.IsType(t, &backend.Instrumented{}, primary)
	assert.IsType(t, &backend.Instrumented{}, secondary)

	est, err := c.NewEstimator(b)
	require.NoError(t, err)
	require.NoError(t, est.AddMembers(ctx, "k", []byte("x")))

	p, s, err := est.Compare(ctx, "k")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p)
	assert.EqualValues(t, 1, s)
}

func TestOpenBackend_Plain(t *testing.T) {
	b, err := validConfig().OpenBackend()
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &backend.Memory{}, b)
}

func TestOpenBackend_Unknown(t *testing.T) {
	c := validConfig()
	c.Backend.Type = "nope"
	_, err := c.OpenBackend()
	assert.Error(t, err)
}

func TestNewEstimator_InvalidLog2m(t *testing.T) {
	c := validConfig()
	c.Log2m = 2
	_, err := c.NewEstimator(backend.NewMemory(0))
	assert.ErrorIs(t, err, hll.ErrInvalidLog2m)
}
