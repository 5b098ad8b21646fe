// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLog2m is returned for a log2m outside [MinLog2m, MaxLog2m].
	ErrInvalidLog2m = errors.New("invalid log2m")

	// ErrSizeMismatch is returned when merging register sets of different layouts.
	ErrSizeMismatch = errors.New("register set size mismatch")

	// ErrMalformedRegisters is returned for blobs that cannot be decoded.
	ErrMalformedRegisters = errors.New("malformed register data")

	// ErrNotFound is returned by Backend.Get for keys with no stored registers.
	ErrNotFound = errors.New("registers not found")

	// ErrValueTooLarge is returned by a Backend that refuses a blob over its capacity.
	ErrValueTooLarge = errors.New("register data exceeds backend capacity")
)

// ConfigError describes a rejected estimator configuration.
type ConfigError struct {
	Field string
	Value int
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s=%d: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
