// Package jobcontrol gates whether a named maintainer is allowed to
// run on the current tick. The production gate is backed by Raft
// leadership (only one replica of a multi-replica control plane
// should be driving destructive repository writes at a time), adapted
// from the reference orchestrator's Manager.IsLeader check; a static
// gate is provided for tests and for operators who want to disable a
// job without restarting the process.
package jobcontrol

import "github.com/hashicorp/raft"

// Gate answers whether the named job is permitted to run this tick.
type Gate interface {
	Allowed(job string) bool
}

// RaftLeaderGate allows every job only while this replica holds Raft
// leadership over the node repository. Followers still run
// maintainer ticks internally (so their in-memory timers stay
// aligned) but their Step calls are skipped, leaving only the leader
// replica to mutate the repository.
type RaftLeaderGate struct {
	Raft *raft.Raft
}

// Allowed implements Gate.
func (g *RaftLeaderGate) Allowed(_ string) bool {
	return g.Raft.State() == raft.Leader
}

// StaticGate is a Gate backed by an explicit allow-list, defaulting
// to "allow everything" when Jobs is nil. Useful in tests and for a
// single-replica deployment that has no Raft ring to ask.
type StaticGate struct {
	// Jobs maps job name to whether it is currently enabled. A job
	// absent from the map is allowed.
	Jobs map[string]bool
}

// Allowed implements Gate.
func (g StaticGate) Allowed(job string) bool {
	if g.Jobs == nil {
		return true
	}
	allowed, ok := g.Jobs[job]
	if !ok {
		return true
	}
	return allowed
}

// AlwaysOpen is a Gate that never closes.
var AlwaysOpen Gate = StaticGate{}
