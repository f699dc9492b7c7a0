package repository

import (
	"sync"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/node"
)

// InMemoryRepository is a Repository backed by a plain map, used in
// tests for the failer, expirer and repository so they can
// run against deterministic, inspectable state without a BoltDB file
// on disk.
type InMemoryRepository struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
	clock clock.Clock

	appLocks  *keyedMutex
	unallocMu sync.Mutex
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository(clk clock.Clock) *InMemoryRepository {
	return &InMemoryRepository{
		nodes:    make(map[string]*node.Node),
		clock:    clk,
		appLocks: newKeyedMutex(),
	}
}

// Seed inserts nodes directly, bypassing locks. Intended for test
// setup only.
func (r *InMemoryRepository) Seed(nodes ...*node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		cp := *n
		r.nodes[n.Hostname] = &cp
	}
}

func (r *InMemoryRepository) GetNodes(filter NodeFilter) ([]*node.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*node.Node
	for _, n := range r.nodes {
		if filter.Matches(n) {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetNode(hostname string) (*node.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[hostname]
	if !ok {
		return nil, &NotFoundError{Hostname: hostname}
	}
	cp := *n
	return &cp, nil
}

func (r *InMemoryRepository) GetChildNodes(parentHostname string) ([]*node.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*node.Node
	for _, n := range r.nodes {
		if n.ParentHostname == parentHostname {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) Write(n *node.Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.nodes[n.Hostname] = &cp
	return nil
}

func (r *InMemoryRepository) Fail(hostname, agent, reason string) (*node.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[hostname]
	if !ok {
		return nil, &NotFoundError{Hostname: hostname}
	}
	n.State = node.StateFailed
	n.Status.FailCount++
	n.History = n.History.Put(node.Event{Type: node.EventFailed, Agent: agent, Instant: r.clock.Now()})
	cp := *n
	return &cp, nil
}

func (r *InMemoryRepository) Park(hostname, agent, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[hostname]
	if !ok {
		return &NotFoundError{Hostname: hostname}
	}
	n.State = node.StateParked
	n.History = n.History.Put(node.Event{Type: node.EventParked, Agent: agent, Instant: r.clock.Now()})
	return nil
}

func (r *InMemoryRepository) SetDirty(hostnames []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	for _, hostname := range hostnames {
		n, ok := r.nodes[hostname]
		if !ok {
			return &NotFoundError{Hostname: hostname}
		}
		n.State = node.StateDirty
		n.History = n.History.Put(node.Event{Type: node.EventDirtied, Agent: "expirer", Instant: now})
	}
	return nil
}

func (r *InMemoryRepository) Reactivate(hostname, agent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[hostname]
	if !ok {
		return &NotFoundError{Hostname: hostname}
	}
	n.State = node.StateActive
	n.History = n.History.Put(node.Event{Type: node.EventActivated, Agent: agent, Instant: r.clock.Now()})
	return nil
}

func (r *InMemoryRepository) RemoveRecursively(hostname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, n := range r.nodes {
		if n.ParentHostname == hostname {
			delete(r.nodes, h)
		}
	}
	delete(r.nodes, hostname)
	return nil
}

func (r *InMemoryRepository) LockApplication(applicationID string) UnlockFunc {
	return r.appLocks.Lock(applicationID)
}

func (r *InMemoryRepository) LockUnallocated() UnlockFunc {
	r.unallocMu.Lock()
	return r.unallocMu.Unlock
}

var _ Repository = (*InMemoryRepository)(nil)
