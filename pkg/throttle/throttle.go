// Package throttle implements the rolling-window fail-rate limiter
// the failer consults before failing a node. It is intentionally
// stateless: every
// decision is re-derived from the node population and the node
// history it already carries, so the limiter survives process
// restarts and tolerates multiple concurrent replicas without any
// coordination of its own.
package throttle

import (
	"math"
	"time"

	"github.com/cuemby/nodewatch/pkg/node"
)

// Decide reports whether the failer should skip another fail given
// the current population of all nodes, the policy in effect, and the
// current instant.
func Decide(policy node.ThrottlePolicy, nodes []*node.Node, now time.Time) bool {
	if policy.IsDisabled() {
		return false
	}

	population := nonContainer(nodes)

	cutoff := now.Add(-policy.ThrottleWindow)
	recentlyFailed := 0
	for _, n := range population {
		if at, ok := n.History.At(node.EventFailed); ok && at.After(cutoff) {
			recentlyFailed++
		}
	}

	budget := budgetFor(len(population), policy)
	return recentlyFailed >= budget
}

// budgetFor computes max(floor(|N| * fraction), minimum).
func budgetFor(populationSize int, policy node.ThrottlePolicy) int {
	fractional := int(math.Floor(float64(populationSize) * policy.FractionAllowedToFail))
	if policy.MinimumAllowedToFail > fractional {
		return policy.MinimumAllowedToFail
	}
	return fractional
}

// nonContainer filters out DOCKER_CONTAINER-flavored nodes: container
// failures do not consume the throttle budget.
func nonContainer(nodes []*node.Node) []*node.Node {
	out := make([]*node.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Flavor != node.FlavorDockerContainer {
			out = append(out, n)
		}
	}
	return out
}
