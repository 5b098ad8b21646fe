// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"
)

// Migratable writes to a primary store and, when configured, a backup
// store. Reads go to the primary; GetFromSecondary reads the backup.
// Stores can be swapped at runtime to move counters between backends.
type Migratable struct {
	mu           sync.RWMutex
	primary      hll.Backend
	backup       hll.Backend
	readFailover bool
}

// NewMigratable requires a primary; backup may be nil. With readFailover
// set, a failed primary Get is retried against the backup.
func NewMigratable(primary, backup hll.Backend, readFailover bool) (*Migratable, error) {
	if primary == nil {
		return nil, errors.New("migratable: primary backend is required")
	}
	return &Migratable{primary: primary, backup: backup, readFailover: readFailover}, nil
}

// SetPrimary replaces the primary store and returns the previous one. A nil
// primary is ignored.
func (m *Migratable) SetPrimary(b hll.Backend) hll.Backend {
	if b == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.primary
	m.primary = b
	return old
}

// SetBackup replaces the backup store and returns the previous one. nil
// disables dual writes.
func (m *Migratable) SetBackup(b hll.Backend) hll.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.backup
	m.backup = b
	return old
}

// Promote makes the backup the primary and returns the demoted primary.
// It is an error to promote without a backup.
func (m *Migratable) Promote() (hll.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil, errors.New("migratable: no backup to promote")
	}
	old := m.primary
	m.primary, m.backup = m.backup, nil
	logger.Info().Msg("backup store promoted to primary")
	return old, nil
}

// Stores returns the current primary and backup.
func (m *Migratable) Stores() (primary, backup hll.Backend) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary, m.backup
}

func (m *Migratable) write(op string, fn func(hll.Backend) error) error {
	primary, backup := m.Stores()

	if err := fn(primary); err != nil {
		return err
	}
	if backup != nil {
		if err := fn(backup); err != nil {
			return fmt.Errorf("backup %s: %w", op, err)
		}
	}
	return nil
}

func (m *Migratable) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	primary, backup := m.Stores()

	data, err := primary.Get(ctx, keyHash)
	if err == nil || errors.Is(err, hll.ErrNotFound) || !m.readFailover || backup == nil {
		return data, err
	}

	logger.Warn().Err(err).Uint64("key_hash", keyHash).Msg("primary read failed, reading backup")
	FailoverReadsTotal.Inc()
	return backup.Get(ctx, keyHash)
}

// GetFromSecondary reads the backup, or the primary's secondary path when no
// backup is set.
func (m *Migratable) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	primary, backup := m.Stores()
	if backup == nil {
		return primary.GetFromSecondary(ctx, keyHash)
	}
	return backup.Get(ctx, keyHash)
}

func (m *Migratable) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	return m.write("set", func(b hll.Backend) error { return b.Set(ctx, keyHash, registers) })
}

func (m *Migratable) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	return m.write("merge", func(b hll.Backend) error { return b.Merge(ctx, keyHash, registers) })
}

func (m *Migratable) Delete(ctx context.Context, keyHash uint64) error {
	return m.write("delete", func(b hll.Backend) error { return b.Delete(ctx, keyHash) })
}

// Range scans the primary.
func (m *Migratable) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	primary, _ := m.Stores()
	s, ok := primary.(hll.Scanner)
	if !ok {
		return ErrScanUnsupported
	}
	return s.Range(ctx, fn)
}

// Purge wipes both stores.
func (m *Migratable) Purge(ctx context.Context) error {
	return m.write("purge", func(b hll.Backend) error {
		s, ok := b.(hll.Scanner)
		if !ok {
			return ErrScanUnsupported
		}
		return s.Purge(ctx)
	})
}

// Copy merges every counter of the primary into the backup.
func (m *Migratable) Copy(ctx context.Context) (int, error) {
	primary, backup := m.Stores()
	if backup == nil {
		return 0, errors.New("migratable: no backup to copy into")
	}
	s, ok := primary.(hll.Scanner)
	if !ok {
		return 0, ErrScanUnsupported
	}

	copied := 0
	err := s.Range(ctx, func(keyHash uint64, registers []byte) error {
		if err := backup.Merge(ctx, keyHash, registers); err != nil {
			return fmt.Errorf("copy key %d: %w", keyHash, err)
		}
		copied++
		return nil
	})
	return copied, err
}

// Close closes both stores.
func (m *Migratable) Close() error {
	primary, backup := m.Stores()
	err := primary.Close()
	if backup != nil {
		err = errors.Join(err, backup.Close())
	}
	return err
}

var (
	_ hll.Backend = (*Migratable)(nil)
	_ hll.Scanner = (*Migratable)(nil)
)
