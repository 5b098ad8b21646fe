// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/hashicorp/raft"
)

// CommandType identifies a replicated register operation.
type CommandType string

const (
	CommandSet    CommandType = "set"
	CommandMerge  CommandType = "merge"
	CommandDelete CommandType = "delete"
	CommandPurge  CommandType = "purge"
)

// RaftCommand is the JSON payload of a raft log entry.
type RaftCommand struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type registerPayload struct {
	KeyHash   uint64 `json:"key_hash"`
	Registers []byte `json:"registers,omitempty"`
}

func encodeCommand(t CommandType, payload any) ([]byte, error) {
	cmd := RaftCommand{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		cmd.Data = data
	}
	return json.Marshal(cmd)
}

// registerFSM is the replicated keyHash -> registers state.
type registerFSM struct {
	mu       sync.RWMutex
	counters *counterTree
}

func newRegisterFSM() *registerFSM {
	return &registerFSM{counters: newCounterTree()}
}

// Apply returns nil or an error; the error travels back to the leader as the
// future's response.
func (f *registerFSM) Apply(l *raft.Log) interface{} {
	var cmd RaftCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		logger.Error().Err(err).Uint64("index", l.Index).Msg("failed to unmarshal raft command")
		return err
	}

	var p registerPayload
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", cmd.Type, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CommandSet:
		f.counters.set(p.KeyHash, p.Registers)
	case CommandMerge:
		stored, ok := f.counters.get(p.KeyHash)
		if !ok {
			f.counters.set(p.KeyHash, p.Registers)
			return nil
		}
		merged, err := hll.MergeBlobs(stored, p.Registers)
		if err != nil {
			return err
		}
		f.counters.set(p.KeyHash, merged)
	case CommandDelete:
		f.counters.delete(p.KeyHash)
	case CommandPurge:
		f.counters.clear()
	default:
		return fmt.Errorf("unknown command type: %s", cmd.Type)
	}
	return nil
}

func (f *registerFSM) get(keyHash uint64) ([]byte, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.counters.get(keyHash)
	if !ok {
		return nil, false
	}
	return copyBytes(data), true
}

// keys returns every stored key hash in ascending order.
func (f *registerFSM) keys() []uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]uint64, 0, f.counters.len())
	f.counters.tree.Ascend(func(c counter) bool {
		keys = append(keys, c.keyHash)
		return true
	})
	return keys
}

func (f *registerFSM) scan(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	return rangeCounters(ctx, &f.mu, func() *counterTree { return f.counters }, fn)
}

func (f *registerFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := &registerSnapshot{Registers: make(map[uint64][]byte, f.counters.len())}
	f.counters.tree.Ascend(func(c counter) bool {
		snap.Registers[c.keyHash] = copyBytes(c.registers)
		return true
	})
	return snap, nil
}

func (f *registerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap registerSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return err
	}
	counters := newCounterTree()
	for k, v := range snap.Registers {
		counters.set(k, v)
	}

	f.mu.Lock()
	f.counters = counters
	f.mu.Unlock()

	logger.Info().Int("counters", len(snap.Registers)).Msg("restored register state from snapshot")
	return nil
}

type registerSnapshot struct {
	Registers map[uint64][]byte `json:"registers"`
}

func (s *registerSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
		return err
	}

	logger.Debug().Int("counters", len(s.Registers)).Msg("persisted register snapshot")
	return nil
}

func (s *registerSnapshot) Release() {}

var _ raft.FSM = (*registerFSM)(nil)
