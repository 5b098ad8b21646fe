// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Supported log2m range. Below MinLog2m the rank of a 32-bit hash can exceed
// RegisterMax; above MaxLog2m blobs grow past what backends are sized for.
const (
	MinLog2m = 4
	MaxLog2m = 16
)

// HyperLogLog estimates the number of distinct members added to named
// counters. Register state is never cached: every call round-trips through
// the Backend, so one estimator can be shared by any number of goroutines.
//
// Accuracy is roughly 1.04/sqrt(2^log2m). There is no large-range correction.
//
// Usage:
//
//	est, err := hll.New(10, hll.Murmur3{}, backend)
//	err = est.AddMembers(ctx, "visitors", []byte("user1"), []byte("user2"))
//	n, err := est.EstimatedCardinality(ctx, "visitors")
type HyperLogLog struct {
	log2m   uint
	count   int
	words   int
	alphaMM float64
	hash    HashFunction
	backend Backend
}

// ValidateLog2m returns a *ConfigError wrapping ErrInvalidLog2m when log2m
// is out of range.
func ValidateLog2m(log2m int) error {
	if log2m < MinLog2m || log2m > MaxLog2m {
		return &ConfigError{Field: "log2m", Value: log2m, Err: fmt.Errorf("%w: must be in [%d, %d]", ErrInvalidLog2m, MinLog2m, MaxLog2m)}
	}
	return nil
}

// CountForLog2m returns the number of registers, 2^log2m.
func CountForLog2m(log2m int) int {
	if log2m < 0 {
		log2m = 0
	}
	return 1 << uint(log2m)
}

// AlphaMM returns the bias-correction constant alpha*m*m for 2^log2m registers.
func AlphaMM(log2m int) float64 {
	m := float64(CountForLog2m(log2m))
	switch log2m {
	case 4:
		return 0.673 * m * m
	case 5:
		return 0.697 * m * m
	case 6:
		return 0.709 * m * m
	default:
		return (0.7213 / (1 + 1.079/m)) * m * m
	}
}

// New creates an estimator with 2^log2m registers per counter.
func New(log2m int, hash HashFunction, backend Backend) (*HyperLogLog, error) {
	if err := ValidateLog2m(log2m); err != nil {
		return nil, err
	}
	if hash == nil {
		return nil, errors.New("hash function is required")
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	count := CountForLog2m(log2m)
	return &HyperLogLog{
		log2m:   uint(log2m),
		count:   count,
		words:   wordsForCount(count),
		alphaMM: AlphaMM(log2m),
		hash:    hash,
		backend: backend,
	}, nil
}

func (h *HyperLogLog) Log2m() int                 { return int(h.log2m) }
func (h *HyperLogLog) Count() int                 { return h.count }
func (h *HyperLogLog) HashFunction() HashFunction { return h.hash }
func (h *HyperLogLog) Backend() Backend           { return h.backend }

// StandardError returns the theoretical relative error 1.04/sqrt(m).
func (h *HyperLogLog) StandardError() float64 {
	return 1.04 / math.Sqrt(float64(h.count))
}

// bucketAndRank splits a member hash into its register index (top log2m bits)
// and rank (leading zeros of the remaining bits, plus one). The sentinel bit
// bounds the rank at 33-log2m.
func (h *HyperLogLog) bucketAndRank(hash uint32) (int, uint8) {
	j := int(hash >> (32 - h.log2m))
	w := hash<<h.log2m | 1<<(h.log2m-1)
	return j, uint8(bits.LeadingZeros32(w) + 1)
}

// Registers builds an ephemeral register set from members.
func (h *HyperLogLog) Registers(members ...[]byte) *RegisterSet {
	rs := NewRegisterSet(h.count)
	for _, m := range members {
		j, r := h.bucketAndRank(h.hash.MemberHash(m))
		rs.UpdateIfGreater(j, r)
	}
	return rs
}

// KeyHash returns the backend key for a counter name.
func (h *HyperLogLog) KeyHash(key string) uint64 {
	return h.hash.KeyHash([]byte(key))
}

// AddMembers folds members into the counter's stored registers.
func (h *HyperLogLog) AddMembers(ctx context.Context, key string, members ...[]byte) error {
	if err := h.backend.Merge(ctx, h.KeyHash(key), h.Registers(members...).Bytes()); err != nil {
		return fmt.Errorf("merge registers for %q: %w", key, err)
	}
	return nil
}

// SetMembers replaces the counter's stored registers with ones built from members.
func (h *HyperLogLog) SetMembers(ctx context.Context, key string, members ...[]byte) error {
	if err := h.backend.Set(ctx, h.KeyHash(key), h.Registers(members...).Bytes()); err != nil {
		return fmt.Errorf("set registers for %q: %w", key, err)
	}
	return nil
}

// Delete removes the counter's stored registers.
func (h *HyperLogLog) Delete(ctx context.Context, key string) error {
	if err := h.backend.Delete(ctx, h.KeyHash(key)); err != nil {
		return fmt.Errorf("delete registers for %q: %w", key, err)
	}
	return nil
}

// EstimatedCardinality returns the estimate for key. Absent keys estimate 0.
func (h *HyperLogLog) EstimatedCardinality(ctx context.Context, key string) (uint64, error) {
	return h.estimate(ctx, key, h.backend.Get)
}

// EstimatedCardinalityFromSecondary is EstimatedCardinality read through the
// backend's secondary path.
func (h *HyperLogLog) EstimatedCardinalityFromSecondary(ctx context.Context, key string) (uint64, error) {
	return h.estimate(ctx, key, h.backend.GetFromSecondary)
}

// Compare returns the primary and secondary estimates for key.
func (h *HyperLogLog) Compare(ctx context.Context, key string) (primary, secondary uint64, err error) {
	if primary, err = h.EstimatedCardinality(ctx, key); err != nil {
		return 0, 0, err
	}
	if secondary, err = h.EstimatedCardinalityFromSecondary(ctx, key); err != nil {
		return 0, 0, err
	}
	return primary, secondary, nil
}

func (h *HyperLogLog) estimate(ctx context.Context, key string, get func(context.Context, uint64) ([]byte, error)) (uint64, error) {
	blob, err := get(ctx, h.KeyHash(key))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get registers for %q: %w", key, err)
	}
	rs, err := DecodeRegisterSet(blob)
	if err != nil {
		return 0, fmt.Errorf("decode registers for %q: %w", key, err)
	}
	return h.Cardinality(rs)
}

// Cardinality computes the estimate for a register set built with this
// estimator's log2m.
//
// When the raw estimate is at most 2.5m the linear counting correction
// m*ln(m/zeros) is used. If no register is zero that correction is
// undefined and the raw estimate is returned instead.
func (h *HyperLogLog) Cardinality(rs *RegisterSet) (uint64, error) {
	if rs.Size() != h.words {
		return 0, fmt.Errorf("%w: got %d words, log2m=%d needs %d", ErrSizeMismatch, rs.Size(), h.log2m, h.words)
	}

	var sum float64
	zeros := 0
	for j := 0; j < h.count; j++ {
		v := rs.Get(j)
		sum += 1.0 / float64(uint64(1)<<v)
		if v == 0 {
			zeros++
		}
	}

	m := float64(h.count)
	estimate := h.alphaMM / sum
	if estimate <= 2.5*m && zeros > 0 {
		return uint64(math.Round(m * math.Log(m/float64(zeros)))), nil
	}
	return uint64(math.Round(estimate)), nil
}
