package repository

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cuemby/nodewatch/pkg/node"
)

// RepositoryFSM applies committed node-repository commands to a
// BoltRepository: one JSON-encoded op per raft.Log entry, switched on
// cmd.Op.
type RepositoryFSM struct {
	repo *BoltRepository
}

// NewRepositoryFSM wraps repo as a raft.FSM.
func NewRepositoryFSM(repo *BoltRepository) *RepositoryFSM {
	return &RepositoryFSM{repo: repo}
}

// command mirrors the reference orchestrator's Command envelope.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type writeArgs struct {
	Node *node.Node `json:"node"`
}

type failArgs struct {
	Hostname string `json:"hostname"`
	Agent    string `json:"agent"`
	Reason   string `json:"reason"`
}

type parkArgs struct {
	Hostname string `json:"hostname"`
	Agent    string `json:"agent"`
	Reason   string `json:"reason"`
}

type setDirtyArgs struct {
	Hostnames []string `json:"hostnames"`
}

type reactivateArgs struct {
	Hostname string `json:"hostname"`
	Agent    string `json:"agent"`
}

type removeArgs struct {
	Hostname string `json:"hostname"`
}

func (f *RepositoryFSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	switch cmd.Op {
	case "write":
		var args writeArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.repo.Write(args.Node)

	case "fail":
		var args failArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		n, err := f.repo.Fail(args.Hostname, args.Agent, args.Reason)
		if err != nil {
			return err
		}
		return n

	case "park":
		var args parkArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.repo.Park(args.Hostname, args.Agent, args.Reason)

	case "set_dirty":
		var args setDirtyArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.repo.SetDirty(args.Hostnames)

	case "reactivate":
		var args reactivateArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.repo.Reactivate(args.Hostname, args.Agent)

	case "remove_recursively":
		var args removeArgs
		if err := json.Unmarshal(cmd.Data, &args); err != nil {
			return err
		}
		return f.repo.RemoveRecursively(args.Hostname)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

func (f *RepositoryFSM) Snapshot() (raft.FSMSnapshot, error) {
	nodes, err := f.repo.GetNodes(NodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return &repositorySnapshot{Nodes: nodes}, nil
}

func (f *RepositoryFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot repositorySnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	for _, n := range snapshot.Nodes {
		if err := f.repo.Write(n); err != nil {
			return fmt.Errorf("restore node %s: %w", n.Hostname, err)
		}
	}
	return nil
}

type repositorySnapshot struct {
	Nodes []*node.Node
}

func (s *repositorySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *repositorySnapshot) Release() {}

// RaftRepository submits every mutation through raft.Apply so it is
// only durable once a quorum of replicas has it, and serves reads
// directly from the local BoltRepository underneath the FSM. It
// implements Repository for callers that don't need to know whether
// they're talking to a single node or a cluster.
type RaftRepository struct {
	raft *raft.Raft
	repo *BoltRepository
}

// NewRaftRepository wires raft on top of repo. The caller is
// responsible for having configured raft with a RepositoryFSM built
// from the same repo.
func NewRaftRepository(r *raft.Raft, repo *BoltRepository) *RaftRepository {
	return &RaftRepository{raft: r, repo: repo}
}

const raftApplyTimeout = 10 * time.Second

func (r *RaftRepository) apply(op string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	cmd, err := json.Marshal(command{Op: op, Data: payload})
	if err != nil {
		return err
	}
	future := r.raft.Apply(cmd, raftApplyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raft apply %s: %w", op, err)
	}
	if err, ok := future.Response().(error); ok && err != nil {
		return err
	}
	return nil
}

func (r *RaftRepository) GetNodes(filter NodeFilter) ([]*node.Node, error) {
	return r.repo.GetNodes(filter)
}

func (r *RaftRepository) GetNode(hostname string) (*node.Node, error) {
	return r.repo.GetNode(hostname)
}

func (r *RaftRepository) GetChildNodes(parentHostname string) ([]*node.Node, error) {
	return r.repo.GetChildNodes(parentHostname)
}

func (r *RaftRepository) Write(n *node.Node) error {
	return r.apply("write", writeArgs{Node: n})
}

func (r *RaftRepository) Fail(hostname, agent, reason string) (*node.Node, error) {
	if err := r.apply("fail", failArgs{Hostname: hostname, Agent: agent, Reason: reason}); err != nil {
		return nil, err
	}
	return r.repo.GetNode(hostname)
}

func (r *RaftRepository) Park(hostname, agent, reason string) error {
	return r.apply("park", parkArgs{Hostname: hostname, Agent: agent, Reason: reason})
}

func (r *RaftRepository) SetDirty(hostnames []string) error {
	return r.apply("set_dirty", setDirtyArgs{Hostnames: hostnames})
}

func (r *RaftRepository) Reactivate(hostname, agent string) error {
	return r.apply("reactivate", reactivateArgs{Hostname: hostname, Agent: agent})
}

func (r *RaftRepository) RemoveRecursively(hostname string) error {
	return r.apply("remove_recursively", removeArgs{Hostname: hostname})
}

func (r *RaftRepository) LockApplication(applicationID string) UnlockFunc {
	return r.repo.LockApplication(applicationID)
}

func (r *RaftRepository) LockUnallocated() UnlockFunc {
	return r.repo.LockUnallocated()
}

// IsLeader reports whether this replica currently holds Raft
// leadership, for the population collector's leadership gauge.
func (r *RaftRepository) IsLeader() bool {
	return r.raft.State() == raft.Leader
}

var _ raft.FSM = (*RepositoryFSM)(nil)
var _ Repository = (*RaftRepository)(nil)
