package repository

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftClusterConfig names this replica and where it listens and keeps
// its Raft state. Heartbeat and election timeouts are not set here:
// newRaft fixes them to the fast values the reference orchestrator
// uses for LAN/edge failover rather than the library's
// WAN-conservative defaults.
type RaftClusterConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// BootstrapRaftCluster opens a BoltDB-backed log store and stable
// store under cfg.DataDir, starts a TCP transport on cfg.BindAddr,
// and bootstraps a single-node Raft cluster around fsm. The returned
// *raft.Raft is ready to be wrapped in a RaftRepository.
func BootstrapRaftCluster(cfg RaftClusterConfig, fsm raft.FSM) (*raft.Raft, error) {
	r, transport, err := newRaft(cfg, fsm)
	if err != nil {
		return nil, err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(cfg.NodeID), Address: transport.LocalAddr()},
		},
	}
	future := r.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
	}
	return r, nil
}

// JoinRaftCluster opens the same on-disk stores as BootstrapRaftCluster
// but does not bootstrap a configuration: the returned *raft.Raft
// expects an existing cluster leader to add it as a voter via
// AddVoter. Callers submit the join request to the leader out of
// band (e.g. over the control loop's own metrics/admin surface).
func JoinRaftCluster(cfg RaftClusterConfig, fsm raft.FSM) (*raft.Raft, error) {
	r, _, err := newRaft(cfg, fsm)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRaft(cfg RaftClusterConfig, fsm raft.FSM) (*raft.Raft, *raft.NetworkTransport, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	// Reference orchestrator tunes these down from the library's
	// WAN-conservative defaults (1s/1s/500ms) for LAN/edge failover.
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("create raft: %w", err)
	}

	return r, transport, nil
}
