// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// NoLimit is returned by FindMaxAllowedLog2m when the backend accepted every
// probed size.
const NoLimit = -1

// DefaultProbeKey is the key hash FindMaxAllowedLog2m writes its probes to.
const DefaultProbeKey uint64 = 1

// RegisterBytesNeededForLog2m returns the serialized size of a register set
// with 2^log2m registers, without allocating one.
func RegisterBytesNeededForLog2m(log2m int) int {
	return wordsForCount(CountForLog2m(log2m)) * BytesPerWord
}

// SizeRow describes the storage cost and accuracy of one log2m.
type SizeRow struct {
	Log2m    int
	Bytes    int
	Buckets  int
	Accuracy float64 // relative standard error, percent
}

// SizeTable returns one row per log2m from 1 to MaxLog2m.
func SizeTable() []SizeRow {
	rows := make([]SizeRow, 0, MaxLog2m)
	for i := 1; i <= MaxLog2m; i++ {
		buckets := CountForLog2m(i)
		rows = append(rows, SizeRow{
			Log2m:    i,
			Bytes:    RegisterBytesNeededForLog2m(i),
			Buckets:  buckets,
			Accuracy: 1.04 / math.Sqrt(float64(buckets)) * 100,
		})
	}
	return rows
}

func (r SizeRow) String() string {
	return fmt.Sprintf("log2m = %2d, storage = %5db, Hll 2^%02d = %5d buckets, accuracy = %02.2f%%",
		r.Log2m, r.Bytes, r.Log2m, r.Buckets, r.Accuracy)
}

// FindMaxAllowedLog2m asks the backend for the largest log2m whose registers
// it can store.
//
// If probeKey already holds registers, their length decides. Otherwise
// zeroed register blobs of increasing size are written to probeKey until the
// backend answers ErrValueTooLarge; the probe key is deleted afterwards.
// NoLimit means every size up to MaxLog2m fit.
func FindMaxAllowedLog2m(ctx context.Context, backend Backend, probeKey uint64) (int, error) {
	existing, err := backend.Get(ctx, probeKey)
	switch {
	case err == nil:
		for i := MaxLog2m; i > 0; i-- {
			if RegisterBytesNeededForLog2m(i) <= len(existing) {
				return i, nil
			}
		}
		return NoLimit, nil
	case !errors.Is(err, ErrNotFound):
		return 0, fmt.Errorf("read probe key: %w", err)
	}

	found := NoLimit
	for i := 1; i <= MaxLog2m; i++ {
		err := backend.Set(ctx, probeKey, make([]byte, RegisterBytesNeededForLog2m(i)))
		if errors.Is(err, ErrValueTooLarge) {
			found = i - 1
			break
		}
		if err != nil {
			_ = backend.Delete(ctx, probeKey)
			return 0, fmt.Errorf("probe log2m=%d: %w", i, err)
		}
	}
	if err := backend.Delete(ctx, probeKey); err != nil {
		return 0, fmt.Errorf("delete probe key: %w", err)
	}
	return found, nil
}
