// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
)

// ErrScanUnsupported is returned by decorators whose wrapped backend does
// not implement hll.Scanner.
var ErrScanUnsupported = errors.New("backend does not support scanning")

// Instrumented records Prometheus metrics for every call to the wrapped backend.
type Instrumented struct {
	next hll.Backend
	name string
}

// NewInstrumented wraps next, labelling its metrics with name.
func NewInstrumented(name string, next hll.Backend) *Instrumented {
	return &Instrumented{next: next, name: name}
}

// Unwrap returns the wrapped backend.
func (i *Instrumented) Unwrap() hll.Backend {
	return i.next
}

func operationStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, hll.ErrNotFound):
		return "not_found"
	case errors.Is(err, hll.ErrValueTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(i.name, op, operationStatus(err)).Inc()
}

func (i *Instrumented) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	start := time.Now()
	data, err := i.next.Get(ctx, keyHash)
	i.observe("get", start, err)
	return data, err
}

func (i *Instrumented) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	start := time.Now()
	data, err := i.next.GetFromSecondary(ctx, keyHash)
	i.observe("get_secondary", start, err)
	return data, err
}

func (i *Instrumented) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	start := time.Now()
	err := i.next.Set(ctx, keyHash, registers)
	i.observe("set", start, err)
	return err
}

func (i *Instrumented) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	start := time.Now()
	err := i.next.Merge(ctx, keyHash, registers)
	i.observe("merge", start, err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, keyHash uint64) error {
	start := time.Now()
	err := i.next.Delete(ctx, keyHash)
	i.observe("delete", start, err)
	return err
}

func (i *Instrumented) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	s, ok := i.next.(hll.Scanner)
	if !ok {
		return ErrScanUnsupported
	}
	start := time.Now()
	err := s.Range(ctx, fn)
	i.observe("range", start, err)
	return err
}

func (i *Instrumented) Purge(ctx context.Context) error {
	s, ok := i.next.(hll.Scanner)
	if !ok {
		return ErrScanUnsupported
	}
	start := time.Now()
	err := s.Purge(ctx)
	i.observe("purge", start, err)
	return err
}

func (i *Instrumented) Close() error {
	return i.next.Close()
}

var (
	_ hll.Backend = (*Instrumented)(nil)
	_ hll.Scanner = (*Instrumented)(nil)
)
