// Package expirer implements the failed-node expirer, the control
// loop's second maintainer: it inspects nodes that have
// sat in the failed state beyond failTimeout and decides whether each
// is parked (terminal, needs operator intervention), recycled back
// into the dirty pool, or left alone for now.
package expirer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/log"
	"github.com/cuemby/nodewatch/pkg/metrics"
	"github.com/cuemby/nodewatch/pkg/node"
	"github.com/cuemby/nodewatch/pkg/repository"
)

// Config is the expirer's tunable surface.
type Config struct {
	Interval    time.Duration
	FailTimeout time.Duration
	Environment node.Environment
}

// Expirer is the failed-node expirer maintainer.
type Expirer struct {
	repo   repository.Repository
	clock  clock.Clock
	logger zerolog.Logger
	config Config
}

// New constructs an Expirer.
func New(repo repository.Repository, clk clock.Clock, config Config) *Expirer {
	return &Expirer{
		repo:   repo,
		clock:  clk,
		logger: log.WithComponent("expirer"),
		config: config,
	}
}

func (e *Expirer) Name() string { return "expirer" }

func (e *Expirer) Interval() time.Duration { return e.config.Interval }

// Step runs one pass of the recycle/park/retain decision over every
// node that's been failed longer than failTimeout.
func (e *Expirer) Step() error {
	now := e.clock.Now()
	cutoff := now.Add(-e.config.FailTimeout)

	failedNodes, err := e.repo.GetNodes(repository.ByState(node.StateFailed))
	if err != nil {
		return fmt.Errorf("list failed nodes: %w", err)
	}

	var recycleBatch []string

	for _, n := range failedNodes {
		if !n.History.OlderThan(node.EventFailed, cutoff) {
			continue
		}

		if n.Status.HasHardwareFailure() || n.Status.HasHardwareDivergence() {
			e.parkOrRetain(n)
			continue
		}

		if n.Status.LikelyHardwareFault(e.config.Environment, n.Flavor) {
			e.logger.Info().Str("hostname", n.Hostname).Int("fail_count", n.Status.FailCount).Msg("retaining failed node, fail count implies hardware fault")
			continue
		}

		recycleBatch = append(recycleBatch, n.Hostname)
	}

	if len(recycleBatch) == 0 {
		return nil
	}

	if err := e.repo.SetDirty(recycleBatch); err != nil {
		return fmt.Errorf("set dirty batch: %w", err)
	}
	metrics.NodesRecycledTotal.Add(float64(len(recycleBatch)))
	e.logger.Info().Int("count", len(recycleBatch)).Msg("recycled failed nodes to dirty")
	return nil
}

// parkOrRetain handles the hardware-fault branch: a host parks only
// once every child is already parked; anything else with a recorded
// hardware problem parks directly.
func (e *Expirer) parkOrRetain(n *node.Node) {
	if n.Type != node.TypeHost {
		if err := e.repo.Park(n.Hostname, "expirer", parkReason(n)); err != nil {
			e.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to park node")
			return
		}
		metrics.NodesParkedTotal.Inc()
		e.logger.Info().Str("hostname", n.Hostname).Msg("parked node with recorded hardware problem")
		return
	}

	children, err := e.repo.GetChildNodes(n.Hostname)
	if err != nil {
		e.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to list children for host park decision")
		return
	}
	for _, child := range children {
		if child.State != node.StateParked {
			e.logger.Info().Str("hostname", n.Hostname).Str("child", child.Hostname).Msg("host has non-parked child, leaving host failed")
			return
		}
	}

	if err := e.repo.Park(n.Hostname, "expirer", parkReason(n)); err != nil {
		e.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to park host")
		return
	}
	metrics.NodesParkedTotal.Inc()
	e.logger.Info().Str("hostname", n.Hostname).Msg("parked host, all children already parked")
}

func parkReason(n *node.Node) string {
	if n.Status.HasHardwareFailure() {
		return "HW failure/divergence: " + n.Status.HardwareFailureDescription
	}
	return "HW failure/divergence: " + n.Status.HardwareDivergence
}
