package repository

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/node"
)

var bucketNodes = []byte("nodes")

// BoltRepository implements Repository on top of a single BoltDB
// file, following the reference orchestrator's BoltStore: one bucket,
// JSON-encoded values keyed by the record's natural key (hostname
// here, node.ID there).
type BoltRepository struct {
	db    *bolt.DB
	clock clock.Clock

	appLocks   *keyedMutex
	unallocMu  sync.Mutex
}

// NewBoltRepository opens (creating if absent) a BoltDB-backed
// repository under dataDir.
func NewBoltRepository(dataDir string, clk clock.Clock) (*BoltRepository, error) {
	dbPath := filepath.Join(dataDir, "nodewatch.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltRepository{
		db:       db,
		clock:    clk,
		appLocks: newKeyedMutex(),
	}, nil
}

// Close closes the underlying database.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func (r *BoltRepository) GetNodes(filter NodeFilter) ([]*node.Node, error) {
	var nodes []*node.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(_, v []byte) error {
			var n node.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if filter.Matches(&n) {
				nodes = append(nodes, &n)
			}
			return nil
		})
	})
	return nodes, err
}

func (r *BoltRepository) GetNode(hostname string) (*node.Node, error) {
	var n node.Node
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(hostname))
		if data == nil {
			return &NotFoundError{Hostname: hostname}
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *BoltRepository) GetChildNodes(parentHostname string) ([]*node.Node, error) {
	nodes, err := r.GetNodes(NodeFilter{})
	if err != nil {
		return nil, err
	}
	var children []*node.Node
	for _, n := range nodes {
		if n.ParentHostname == parentHostname {
			children = append(children, n)
		}
	}
	return children, nil
}

func (r *BoltRepository) Write(n *node.Node) error {
	return r.put(n)
}

func (r *BoltRepository) put(n *node.Node) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return b.Put([]byte(n.Hostname), data)
	})
}

func (r *BoltRepository) Fail(hostname, agent, reason string) (*node.Node, error) {
	n, err := r.GetNode(hostname)
	if err != nil {
		return nil, err
	}
	n.State = node.StateFailed
	n.Status.FailCount++
	n.History = n.History.Put(node.Event{Type: node.EventFailed, Agent: agent, Instant: r.clock.Now()})
	if err := r.put(n); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *BoltRepository) Park(hostname, agent, reason string) error {
	n, err := r.GetNode(hostname)
	if err != nil {
		return err
	}
	n.State = node.StateParked
	n.History = n.History.Put(node.Event{Type: node.EventParked, Agent: agent, Instant: r.clock.Now()})
	return r.put(n)
}

func (r *BoltRepository) SetDirty(hostnames []string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		now := r.clock.Now()
		for _, hostname := range hostnames {
			data := b.Get([]byte(hostname))
			if data == nil {
				return &NotFoundError{Hostname: hostname}
			}
			var n node.Node
			if err := json.Unmarshal(data, &n); err != nil {
				return err
			}
			n.State = node.StateDirty
			n.History = n.History.Put(node.Event{Type: node.EventDirtied, Agent: "expirer", Instant: now})
			out, err := json.Marshal(&n)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(hostname), out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BoltRepository) Reactivate(hostname, agent string) error {
	n, err := r.GetNode(hostname)
	if err != nil {
		return err
	}
	n.State = node.StateActive
	n.History = n.History.Put(node.Event{Type: node.EventActivated, Agent: agent, Instant: r.clock.Now()})
	return r.put(n)
}

func (r *BoltRepository) RemoveRecursively(hostname string) error {
	children, err := r.GetChildNodes(hostname)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		for _, c := range children {
			if err := b.Delete([]byte(c.Hostname)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(hostname))
	})
}

func (r *BoltRepository) LockApplication(applicationID string) UnlockFunc {
	return r.appLocks.Lock(applicationID)
}

func (r *BoltRepository) LockUnallocated() UnlockFunc {
	r.unallocMu.Lock()
	return r.unallocMu.Unlock
}

var _ Repository = (*BoltRepository)(nil)
