// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/LeeDigitalWorks/hllstore/pkg/hll"
	"github.com/LeeDigitalWorks/hllstore/pkg/logger"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftConfig configures a replicated register store node.
type RaftConfig struct {
	NodeID   string `mapstructure:"node_id"`
	BindAddr string `mapstructure:"bind_addr"`
	// AdvertiseAddr is the address peers dial. Empty uses the bound listener address.
	AdvertiseAddr string `mapstructure:"advertise_addr"`
	DataDir       string `mapstructure:"data_dir"`

	// Bootstrap forms a single-voter cluster on first start.
	Bootstrap bool `mapstructure:"bootstrap"`

	HeartbeatTimeout   time.Duration `mapstructure:"heartbeat_timeout"`
	ElectionTimeout    time.Duration `mapstructure:"election_timeout"`
	LeaderLeaseTimeout time.Duration `mapstructure:"leader_lease_timeout"`
	CommitTimeout      time.Duration `mapstructure:"commit_timeout"`

	ApplyTimeout time.Duration `mapstructure:"apply_timeout"`

	// LeaderWait bounds how long NewRaft waits for an elected leader. 0 skips the wait.
	LeaderWait time.Duration `mapstructure:"leader_wait"`
}

// ErrNotLeader is returned by writes and linearizable reads on a follower.
var ErrNotLeader = errors.New("raft: not the leader")

func init() {
	Register(TypeRaft, func(cfg Config) (hll.Backend, error) {
		return NewRaft(cfg.Raft, cfg.MaxValueBytes)
	})
}

// HasExistingRaftState reports whether dataDir holds a raft log.
func HasExistingRaftState(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, "raft.db"))
	return err == nil
}

// Raft replicates register blobs with hashicorp/raft. Writes and Get go
// through the leader; GetFromSecondary reads the local, possibly stale, FSM.
type Raft struct {
	raft      *raft.Raft
	fsm       *registerFSM
	config    RaftConfig
	transport *raft.NetworkTransport
	logStore  *raftboltdb.BoltStore
	maxBytes  int
}

// NewRaft starts a raft node backed by a bolt log store and file snapshots
// under cfg.DataDir.
func NewRaft(cfg RaftConfig, maxBytes int) (*Raft, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("raft: node_id is required")
	}
	if cfg.BindAddr == "" {
		return nil, errors.New("raft: bind_addr is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("raft: data_dir is required")
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 10 * time.Second
	}

	r := &Raft{
		fsm:      newRegisterFSM(),
		config:   cfg,
		maxBytes: maxBytes,
	}
	if err := r.setup(); err != nil {
		r.Close()
		return nil, err
	}

	if cfg.LeaderWait > 0 {
		if err := r.WaitForLeader(cfg.LeaderWait); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

func (r *Raft) setup() error {
	raftConfig := raft.DefaultConfig()
	raftConfig.Logger = logger.NewRaftAdapter("raft")
	raftConfig.LocalID = raft.ServerID(r.config.NodeID)

	if r.config.HeartbeatTimeout > 0 {
		raftConfig.HeartbeatTimeout = r.config.HeartbeatTimeout
	}
	if r.config.ElectionTimeout > 0 {
		raftConfig.ElectionTimeout = r.config.ElectionTimeout
	}
	if r.config.LeaderLeaseTimeout > 0 {
		raftConfig.LeaderLeaseTimeout = r.config.LeaderLeaseTimeout
	}
	if r.config.CommitTimeout > 0 {
		raftConfig.CommitTimeout = r.config.CommitTimeout
	}

	if err := os.MkdirAll(r.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStoreWithLogger(r.config.DataDir, 2, logger.NewRaftAdapter("raft-snapshot"))
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(r.config.DataDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("bolt store: %w", err)
	}
	r.logStore = logStore

	var advertise net.Addr
	if r.config.AdvertiseAddr != "" {
		if advertise, err = net.ResolveTCPAddr("tcp", r.config.AdvertiseAddr); err != nil {
			return fmt.Errorf("resolve advertise addr: %w", err)
		}
	}

	transport, err := raft.NewTCPTransportWithLogger(r.config.BindAddr, advertise, 3, 10*time.Second, logger.NewRaftAdapter("raft-transport"))
	if err != nil {
		return fmt.Errorf("tcp transport: %w", err)
	}
	r.transport = transport

	ra, err := raft.NewRaft(raftConfig, r.fsm, logStore, logStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("new raft: %w", err)
	}
	r.raft = ra

	if r.config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{{
				ID:      raftConfig.LocalID,
				Address: transport.LocalAddr(),
			}},
		}
		if err := ra.BootstrapCluster(configuration).Error(); err != nil {
			logger.Warn().Err(err).Msg("raft bootstrap failed (may already be bootstrapped)")
		} else {
			logger.Info().Str("node_id", r.config.NodeID).Msg("bootstrapped raft cluster")
		}
	}
	return nil
}

// Addr returns the transport address peers should use for this node.
func (r *Raft) Addr() string {
	return string(r.transport.LocalAddr())
}

func (r *Raft) IsLeader() bool {
	return r.raft.State() == raft.Leader
}

// Leader returns the current leader address, or "" if unknown.
func (r *Raft) Leader() string {
	addr, _ := r.raft.LeaderWithID()
	return string(addr)
}

func (r *Raft) Stats() map[string]string {
	return r.raft.Stats()
}

// AddVoter adds a node to the cluster. Must be called on the leader.
func (r *Raft) AddVoter(id, address string, timeout time.Duration) error {
	return r.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(address), 0, timeout).Error()
}

func (r *Raft) RemoveServer(id string, timeout time.Duration) error {
	return r.raft.RemoveServer(raft.ServerID(id), 0, timeout).Error()
}

// WaitForLeader polls until a leader is known or timeout elapses.
func (r *Raft) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if r.Leader() != "" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-timer.C:
			return errors.New("raft: timeout waiting for leader")
		}
	}
}

// Snapshot forces a snapshot of the register state.
func (r *Raft) Snapshot() error {
	return r.raft.Snapshot().Error()
}

func (r *Raft) notLeader() error {
	return fmt.Errorf("%w (leader %q)", ErrNotLeader, r.Leader())
}

func (r *Raft) apply(ctx context.Context, t CommandType, payload any) error {
	if !r.IsLeader() {
		return r.notLeader()
	}

	data, err := encodeCommand(t, payload)
	if err != nil {
		return fmt.Errorf("encode %s command: %w", t, err)
	}

	timeout := r.config.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}

	future := r.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return r.notLeader()
		}
		return fmt.Errorf("raft apply %s: %w", t, err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// Get confirms leadership before reading so the result reflects every
// committed write.
func (r *Raft) Get(ctx context.Context, keyHash uint64) ([]byte, error) {
	if err := r.raft.VerifyLeader().Error(); err != nil {
		return nil, r.notLeader()
	}
	return r.GetFromSecondary(ctx, keyHash)
}

func (r *Raft) GetFromSecondary(ctx context.Context, keyHash uint64) ([]byte, error) {
	data, ok := r.fsm.get(keyHash)
	if !ok {
		return nil, hll.ErrNotFound
	}
	return data, nil
}

func (r *Raft) Set(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(r.maxBytes, registers); err != nil {
		return err
	}
	return r.apply(ctx, CommandSet, registerPayload{KeyHash: keyHash, Registers: registers})
}

// Merge is applied by the FSM, so replicas merge in log order.
func (r *Raft) Merge(ctx context.Context, keyHash uint64, registers []byte) error {
	if err := checkRegisters(r.maxBytes, registers); err != nil {
		return err
	}
	return r.apply(ctx, CommandMerge, registerPayload{KeyHash: keyHash, Registers: registers})
}

func (r *Raft) Delete(ctx context.Context, keyHash uint64) error {
	return r.apply(ctx, CommandDelete, registerPayload{KeyHash: keyHash})
}

// Range reads the local FSM.
func (r *Raft) Range(ctx context.Context, fn func(keyHash uint64, registers []byte) error) error {
	return r.fsm.scan(ctx, fn)
}

func (r *Raft) Purge(ctx context.Context) error {
	return r.apply(ctx, CommandPurge, nil)
}

// Close shuts raft down and closes the log store.
// Close shuts raft down and always releases the bolt log store, even when
// shutdown fails.
func (r *Raft) Close() error {
	var err error
	if r.raft != nil {
		if err = r.raft.Shutdown().Error(); err != nil {
			logger.Error().Err(err).Msg("error shutting down raft")
		}
	} else if r.transport != nil {
		err = r.transport.Close()
	}

	if r.logStore != nil {
		err = errors.Join(err, r.logStore.Close())
	}
	return err
}

var (
	_ hll.Backend = (*Raft)(nil)
	_ hll.Scanner = (*Raft)(nil)
)
