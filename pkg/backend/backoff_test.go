// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJitter(t *testing.T) {
	base := 10 * time.Millisecond
	for i := 0; i < 1000; i++ {
		d := jitter(base, 0.5)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 15*time.Millisecond)
	}
	assert.Equal(t, base, jitter(base, 0))
	assert.LessOrEqual(t, jitter(base, 5), 2*base)
}

func TestRetryDelay(t *testing.T) {
	assert.LessOrEqual(t, retryDelay(1), 2*retryBaseDelay)
	for attempt := 1; attempt <= 40; attempt++ {
		assert.LessOrEqual(t, retryDelay(attempt), retryMaxDelay+retryMaxDelay/2, "attempt %d", attempt)
		assert.Positive(t, retryDelay(attempt))
	}
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
