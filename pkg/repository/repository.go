// Package repository defines the node repository contract consumed
// by the failer and expirer, and ships two implementations:
// BoltRepository, a durable single-process store, and an in-memory
// fake for tests. A RaftRepository (fsm.go) layers multi-replica
// apply-log replication on top of a BoltRepository, replicating
// committed repository commands through a Raft log the same way the
// reference orchestrator replicates its storage layer.
//
// The repository is an external collaborator, out of scope for the
// control loop's own decision-making; these implementations exist
// only so the module is runnable end to end, the way the reference
// ships storage.BoltStore alongside the things that consume
// storage.Store.
package repository

import (
	"fmt"

	"github.com/cuemby/nodewatch/pkg/node"
)

// UnlockFunc releases a lock acquired from the repository.
type UnlockFunc func()

// NodeFilter narrows GetNodes. A nil field is unconstrained.
type NodeFilter struct {
	Type  *node.Type
	State *node.State
}

// Matches reports whether n satisfies the filter.
func (f NodeFilter) Matches(n *node.Node) bool {
	if f.Type != nil && n.Type != *f.Type {
		return false
	}
	if f.State != nil && n.State != *f.State {
		return false
	}
	return true
}

// ByState is a convenience NodeFilter constructor.
func ByState(s node.State) NodeFilter {
	return NodeFilter{State: &s}
}

// ByTypeAndState is a convenience NodeFilter constructor.
func ByTypeAndState(t node.Type, s node.State) NodeFilter {
	return NodeFilter{Type: &t, State: &s}
}

// NotFoundError is returned when a hostname has no corresponding node.
type NotFoundError struct {
	Hostname string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node not found: %s", e.Hostname)
}

// Repository is the node repository contract: the persistent store
// of node records, with transactional locks per application and a
// single "unallocated" lock.
type Repository interface {
	// GetNodes returns every node matching filter. An empty filter
	// returns every node known to the repository.
	GetNodes(filter NodeFilter) ([]*node.Node, error)
	// GetNode returns the node with the given hostname.
	GetNode(hostname string) (*node.Node, error)
	// GetChildNodes returns the container nodes parented on
	// parentHostname.
	GetChildNodes(parentHostname string) ([]*node.Node, error)

	// Write persists n as given. Callers performing a
	// read-modify-write MUST re-read inside the relevant lock first.
	Write(n *node.Node) error
	// Fail transitions hostname to failed, increments its fail count
	// and records a failed history event with the given agent. The
	// reason is not stored. Failing an already-failed node replaces
	// its failed event and increments the fail count again.
	Fail(hostname, agent, reason string) (*node.Node, error)
	// Park transitions hostname to parked.
	Park(hostname, agent, reason string) error
	// SetDirty transitions every named hostname to dirty, in one
	// call.
	SetDirty(hostnames []string) error
	// Reactivate rolls hostname back to active. Used only by the
	// fail-active rollback path.
	Reactivate(hostname, agent string) error
	// RemoveRecursively deletes hostname and, if it is a host, its
	// children.
	RemoveRecursively(hostname string) error

	// LockApplication acquires the per-application lock, returning
	// the function that releases it.
	LockApplication(applicationID string) UnlockFunc
	// LockUnallocated acquires the single global lock guarding
	// unallocated (ready/provisioned/reserved) nodes.
	LockUnallocated() UnlockFunc
}
