package metrics

import (
	"time"

	"github.com/cuemby/nodewatch/pkg/repository"
)

// RaftStatusSource reports whether the calling process currently holds
// Raft leadership. RaftRepository implements it; a non-replicated
// InMemoryRepository or BoltRepository deployment can leave it nil.
type RaftStatusSource interface {
	IsLeader() bool
}

// PopulationCollector periodically snapshots the node population into
// NodesTotal and, when running atop a replicated repository, this
// process's Raft leadership into RaftLeader. It follows the reference
// orchestrator's Collector: a ticker-driven goroutine with a stop
// channel, collecting once immediately on Start.
type PopulationCollector struct {
	repo   repository.Repository
	raft   RaftStatusSource
	stopCh chan struct{}
}

// NewPopulationCollector constructs a collector. raft may be nil.
func NewPopulationCollector(repo repository.Repository, raft RaftStatusSource) *PopulationCollector {
	return &PopulationCollector{
		repo:   repo,
		raft:   raft,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a 15s tick.
func (c *PopulationCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *PopulationCollector) Stop() { close(c.stopCh) }

func (c *PopulationCollector) collect() {
	c.collectNodeMetrics()
	c.collectRaftMetrics()
}

func (c *PopulationCollector) collectNodeMetrics() {
	nodes, err := c.repo.GetNodes(repository.NodeFilter{})
	if err != nil {
		return
	}

	counts := make(map[string]map[string]int)
	for _, n := range nodes {
		t := string(n.Type)
		if counts[t] == nil {
			counts[t] = make(map[string]int)
		}
		counts[t][string(n.State)]++
	}

	for t, states := range counts {
		for state, count := range states {
			NodesTotal.WithLabelValues(t, state).Set(float64(count))
		}
	}
}

func (c *PopulationCollector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}
	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
