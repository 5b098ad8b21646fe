// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/hllstore/pkg/backend"
	"github.com/LeeDigitalWorks/hllstore/pkg/hll"

	"github.com/rs/zerolog"
)

// ValidationError is one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult collects every problem found in a Config.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []string
}

func (r *ValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

func (r *ValidationResult) AddWarning(message string) {
	r.Warnings = append(r.Warnings, message)
}

// Err joins the errors, or returns nil for a valid result.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Validate checks the configuration before any backend is opened.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	if err := hll.ValidateLog2m(c.Log2m); err != nil {
		result.AddError("log2m", err.Error())
	}
	if _, err := hll.HashByName(c.Hash); err != nil {
		result.AddError("hash", err.Error())
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			result.AddError("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
		}
	}

	validateBackend(result, "backend", c.Backend, c.Log2m)
	if c.HasSecondary() {
		validateBackend(result, "secondary", c.Secondary, c.Log2m)
		if c.Secondary == c.Backend {
			result.AddWarning("secondary backend is identical to the primary backend")
		}
	} else if c.ReadFailover {
		result.AddWarning("read_failover has no effect without a secondary backend")
	}

	return result
}

func validateBackend(result *ValidationResult, prefix string, bc backend.Config, log2m int) {
	field := func(name string) string { return prefix + "." + name }

	if bc.Type == "" {
		result.AddError(field("type"), "backend type cannot be empty")
		return
	}
	if !backend.IsRegistered(bc.Type) {
		result.AddError(field("type"), fmt.Sprintf("unknown backend type %q", bc.Type))
		return
	}

	if bc.MaxValueBytes < 0 {
		result.AddError(field("max_value_bytes"), "cannot be negative")
	} else if need := hll.RegisterBytesNeededForLog2m(log2m); bc.MaxValueBytes > 0 && bc.MaxValueBytes < need {
		result.AddError(field("max_value_bytes"),
			fmt.Sprintf("%d bytes cannot hold log2m=%d registers (%d bytes)", bc.MaxValueBytes, log2m, need))
	}

	switch bc.Type {
	case backend.TypeMemory:
		result.AddWarning(fmt.Sprintf("%s uses the memory backend; counters are lost on exit", prefix))
	case backend.TypeLevelDB:
		if strings.TrimSpace(bc.LevelDB.Path) == "" {
			result.AddError(field("leveldb.path"), "leveldb backend requires a path")
		}
	case backend.TypeRedis:
		if bc.Redis.Addr == "" {
			result.AddError(field("redis.addr"), "redis backend requires an address")
		}
	case backend.TypeSQL:
		if bc.SQL.DSN == "" {
			result.AddError(field("sql.dsn"), "sql backend requires a dsn")
		}
		if _, err := backend.DialectByName(bc.SQL.Dialect); err != nil {
			result.AddError(field("sql.dialect"), err.Error())
		}
	case backend.TypeRaft:
		if bc.Raft.NodeID == "" {
			result.AddError(field("raft.node_id"), "raft backend requires a node id")
		}
		if bc.Raft.BindAddr == "" {
			result.AddError(field("raft.bind_addr"), "raft backend requires a bind address")
		}
		if bc.Raft.DataDir == "" {
			result.AddError(field("raft.data_dir"), "raft backend requires a data directory")
		}
	}
}
