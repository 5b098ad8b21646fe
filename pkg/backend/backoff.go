// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	retryBaseDelay = time.Millisecond
	retryMaxDelay  = 50 * time.Millisecond
)

// jitter adds up to ±fraction of base, so contending writers spread out.
//
// Example: jitter(10*time.Millisecond, 0.5) returns 5ms-15ms
func jitter(base time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return base
	}
	if fraction > 1 {
		fraction = 1
	}
	spread := float64(base) * fraction
	return base + time.Duration((rand.Float64()*2-1)*spread)
}

// retryDelay is the jittered exponential delay before retry attempt n (1-based).
func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay << min(attempt-1, 16)
	return jitter(min(d, retryMaxDelay), 0.5)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
