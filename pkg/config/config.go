// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads hllstore configuration through viper and turns it
// into an estimator and its backend.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HLLSTORE_BACKEND_TYPE.
const EnvPrefix = "HLLSTORE"

// ConfigurationFileDirectory is searched first for configuration files.
var ConfigurationFileDirectory string

// Config is the complete process configuration.
type Config struct {
	Log2m int    `mapstructure:"log2m"`
	Hash  string `mapstructure:"hash"`

	Backend backend.Config `mapstructure:"backend"`

	// Secondary, when its type is set, receives every write as a backup
	// store and serves secondary reads.
	Secondary    backend.Config `mapstructure:"secondary"`
	ReadFailover bool           `mapstructure:"read_failover"`

	// Metrics wraps backends with Prometheus instrumentation.
	Metrics   bool   `mapstructure:"metrics"`
	DebugAddr string `mapstructure:"debug_addr"`
	LogLevel  string `mapstructure:"log_level"`
}

// SetDefaults registers every key with v so environment overrides apply
// even when no file sets them.
func SetDefaults(v *viper.Viper) {
	redis := backend.DefaultRedisConfig()
	sql := backend.DefaultSQLConfig()

	v.SetDefault("log2m", 10)
	v.SetDefault("hash", hll.HashMurmur3)
	v.SetDefault("read_failover", false)
	v.SetDefault("metrics", true)
	v.SetDefault("debug_addr", ":9464")
	v.SetDefault("log_level", "info")

	for _, prefix := range []string{"backend", "secondary"} {
		v.SetDefault(prefix+".type", "")
		v.SetDefault(prefix+".max_value_bytes", 0)

		v.SetDefault(prefix+".leveldb.path", "")
		v.SetDefault(prefix+".leveldb.sync", false)
		v.SetDefault(prefix+".leveldb.block_cache_mb", 0)

		v.SetDefault(prefix+".redis.addr", redis.Addr)
		v.SetDefault(prefix+".redis.password", "")
		v.SetDefault(prefix+".redis.db", redis.DB)
		v.SetDefault(prefix+".redis.pool_size", redis.PoolSize)
		v.SetDefault(prefix+".redis.replica_addr", "")
		v.SetDefault(prefix+".redis.key_prefix", redis.KeyPrefix)
		v.SetDefault(prefix+".redis.max_merge_retries", redis.MaxMergeRetries)
		v.SetDefault(prefix+".redis.dial_timeout", redis.DialTimeout)

		v.SetDefault(prefix+".sql.dialect", sql.Dialect)
		v.SetDefault(prefix+".sql.dsn", "")
		v.SetDefault(prefix+".sql.table", sql.Table)
		v.SetDefault(prefix+".sql.max_open_conns", sql.MaxOpenConns)
		v.SetDefault(prefix+".sql.max_idle_conns", sql.MaxIdleConns)
		v.SetDefault(prefix+".sql.conn_max_lifetime", sql.ConnMaxLifetime)
		v.SetDefault(prefix+".sql.migrate", sql.Migrate)

		v.SetDefault(prefix+".raft.node_id", "")
		v.SetDefault(prefix+".raft.bind_addr", "127.0.0.1:7946")
		v.SetDefault(prefix+".raft.advertise_addr", "")
		v.SetDefault(prefix+".raft.data_dir", "")
		v.SetDefault(prefix+".raft.bootstrap", false)
		v.SetDefault(prefix+".raft.apply_timeout", "10s")
		v.SetDefault(prefix+".raft.leader_wait", "30s")
	}
	v.SetDefault("backend.type", string(backend.TypeMemory))
}

// LoadFile merges the named configuration file into v from the usual search
// path. A missing file is not an error unless required.
func LoadFile(v *viper.Viper, name string, required bool) (bool, error) {
	v.SetConfigName(name)
	if ConfigurationFileDirectory != "" {
		v.AddConfigPath(resolvePath(ConfigurationFileDirectory))
	}
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.hllstore")
	v.AddConfigPath("/etc/hllstore/")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			if required {
				return false, fmt.Errorf("config file not found: %s", name)
			}
			logger.Debug().Str("name", name).Msg("config file not found, using defaults")
			return false, nil
		}
		return false, fmt.Errorf("load config %s: %w", name, err)
	}

	logger.Info().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
	return true, nil
}

// Unmarshal decodes v into a Config.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Load sets defaults, merges the named file and decodes the result.
func Load(v *viper.Viper, name string) (*Config, error) {
	SetDefaults(v)
	if _, err := LoadFile(v, name, false); err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

func resolvePath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// HasSecondary reports whether a backup store is configured.
func (c *Config) HasSecondary() bool {
	return c.Secondary.Type != ""
}

// OpenBackend builds the configured backend chain: the primary store,
// optionally paired with a backup in a Migratable, each optionally
// instrumented.
func (c *Config) OpenBackend() (hll.Backend, error) {
	primary, err := c.open("primary", c.Backend)
	if err != nil {
		return nil, err
	}
	if !c.HasSecondary() {
		return primary, nil
	}

	secondary, err := c.open("secondary", c.Secondary)
	if err != nil {
		primary.Close()
		return nil, err
	}

	m, err := backend.NewMigratable(primary, secondary, c.ReadFailover)
	if err != nil {
		primary.Close()
		secondary.Close()
		return nil, err
	}
	return m, nil
}

func (c *Config) open(role string, bc backend.Config) (hll.Backend, error) {
	b, err := backend.New(bc)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", role, err)
	}
	logger.Debug().Str("role", role).Str("type", string(bc.Type)).Msg("opened backend")

	if c.Metrics {
		return backend.NewInstrumented(role+"_"+string(bc.Type), b), nil
	}
	return b, nil
}

// NewEstimator creates an estimator over b using the configured log2m and hash.
func (c *Config) NewEstimator(b hll.Backend) (*hll.HyperLogLog, error) {
	hash, err := hll.HashByName(c.Hash)
	if err != nil {
		return nil, err
	}
	return hll.New(c.Log2m, hash, b)
}
