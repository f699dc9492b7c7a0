// Package failer implements the node failer, the control loop's main
// decision procedure: on each tick it reconciles liveness
// signals into history, fails ready nodes that have gone dead or
// reported a hardware problem, tracks down/up transitions on active
// nodes from the service monitor, and drives the cascaded fail-active
// protocol for active nodes that have been down too long.
//
// Step's four-phase split and its per-phase error handling follow the
// reference orchestrator's Reconciler.reconcile: each phase is logged
// and allowed to fail independently so one bad candidate never aborts
// the tick.
package failer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/deploy"
	"github.com/cuemby/nodewatch/pkg/liveness"
	"github.com/cuemby/nodewatch/pkg/log"
	"github.com/cuemby/nodewatch/pkg/metrics"
	"github.com/cuemby/nodewatch/pkg/node"
	"github.com/cuemby/nodewatch/pkg/orchestrator"
	"github.com/cuemby/nodewatch/pkg/repository"
	"github.com/cuemby/nodewatch/pkg/svcmonitor"
	"github.com/cuemby/nodewatch/pkg/throttle"
)

// ActivateTimeout bounds how long the deployer may take to bring up a
// replacement before the cascaded fail-active protocol gives up.
const ActivateTimeout = 30 * time.Minute

// Config is the failer's tunable surface, the subset of the control
// loop's configuration surface it consults directly.
type Config struct {
	Interval            time.Duration
	DownTimeLimit       time.Duration
	NodeRequestInterval time.Duration
	Throttle            node.ThrottlePolicy
}

// Failer is the node-failure control loop's main maintainer.
type Failer struct {
	repo         repository.Repository
	liveness     liveness.Tracker
	monitor      svcmonitor.ServiceMonitor
	orchestrator orchestrator.Orchestrator
	deployer     deploy.Deployer
	clock        clock.Clock
	logger       zerolog.Logger

	config Config

	// constructedAt is captured once, at construction, and is the
	// per-instance grace anchor for Phase B: restarting the process
	// resets this grace deliberately.
	constructedAt time.Time
}

// New constructs a Failer. constructedAt is captured from clk.Now()
// at this call.
func New(
	repo repository.Repository,
	livenessTracker liveness.Tracker,
	monitor svcmonitor.ServiceMonitor,
	orch orchestrator.Orchestrator,
	deployer deploy.Deployer,
	clk clock.Clock,
	config Config,
) *Failer {
	return &Failer{
		repo:          repo,
		liveness:      livenessTracker,
		monitor:       monitor,
		orchestrator:  orch,
		deployer:      deployer,
		clock:         clk,
		logger:        log.WithComponent("failer"),
		config:        config,
		constructedAt: clk.Now(),
	}
}

func (f *Failer) Name() string { return "failer" }

func (f *Failer) Interval() time.Duration { return f.config.Interval }

// Step runs one tick of the decision loop: Phase A, B, C, then D, each
// independently fault-tolerant.
func (f *Failer) Step() error {
	now := f.clock.Now()

	if err := f.phaseALiveness(now); err != nil {
		f.logger.Error().Err(err).Msg("phase A liveness bookkeeping failed")
	}
	if err := f.phaseBFailDeadOrFaulted(now); err != nil {
		f.logger.Error().Err(err).Msg("phase B fail dead/faulted ready nodes failed")
	}
	if err := f.phaseCUpdateDownHistory(now); err != nil {
		f.logger.Error().Err(err).Msg("phase C down/up history bookkeeping failed")
	}
	if err := f.phaseDFailLongDownActive(now); err != nil {
		f.logger.Error().Err(err).Msg("phase D fail long-down active nodes failed")
	}
	return nil
}

// phaseALiveness lazily materializes a requested event on ready nodes
// from the liveness tracker.
func (f *Failer) phaseALiveness(now time.Time) error {
	unlock := f.repo.LockUnallocated()
	defer unlock()

	readyNodes, err := f.repo.GetNodes(repository.ByState(node.StateReady))
	if err != nil {
		return fmt.Errorf("list ready nodes: %w", err)
	}

	for _, n := range readyNodes {
		lastRequest, ok := f.liveness.LastRequestFrom(n.Hostname)
		if !ok {
			continue
		}
		if existing, has := n.History.At(node.EventRequested); has && !lastRequest.After(existing) {
			continue
		}
		n.History = n.History.Put(node.Event{Type: node.EventRequested, Agent: "liveness", Instant: lastRequest})
		if err := f.repo.Write(n); err != nil {
			f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to record requested event")
		}
	}
	return nil
}

// phaseBFailDeadOrFaulted fails ready nodes that have gone dead or
// report a hardware problem. failedThisTick tracks hostnames already
// failed earlier in this call so a node eligible under both the dead
// and the hardware check is only failed once.
func (f *Failer) phaseBFailDeadOrFaulted(now time.Time) error {
	readyNodes, err := f.repo.GetNodes(repository.ByState(node.StateReady))
	if err != nil {
		return fmt.Errorf("list ready nodes: %w", err)
	}

	deadCutoff := now.Add(-f.config.DownTimeLimit - f.config.NodeRequestInterval)
	constructionGraceElapsed := now.Sub(f.constructedAt) >= 2*f.config.NodeRequestInterval

	failedThisTick := make(map[string]bool)

	for _, n := range readyNodes {
		reason := f.deadCandidateReason(n, deadCutoff, constructionGraceElapsed)
		if reason != "" && f.failCandidate(n, "not_receiving_config_requests", reason) {
			failedThisTick[n.Hostname] = true
		}
	}

	// Hardware failure/divergence is independent of the deadline
	// checks above and is re-evaluated against every ready node, but
	// a node already failed above must not be failed a second time.
	for _, n := range readyNodes {
		if failedThisTick[n.Hostname] {
			continue
		}
		if n.Status.HasHardwareFailure() {
			f.failCandidate(n, "hardware_failure", "Node has hardware failure")
		} else if n.Status.HasHardwareDivergence() {
			f.failCandidate(n, "hardware_divergence", "Node hardware diverges from spec")
		}
	}

	return nil
}

func (f *Failer) deadCandidateReason(n *node.Node, deadCutoff time.Time, constructionGraceElapsed bool) string {
	if !constructionGraceElapsed {
		return ""
	}
	if n.Flavor == node.FlavorDockerContainer || n.Type == node.TypeHost {
		return ""
	}
	readied, ok := n.History.At(node.EventReadied)
	if !ok || !readied.Before(deadCutoff) {
		return ""
	}
	if requested, ok := n.History.At(node.EventRequested); ok && requested.After(deadCutoff) {
		return ""
	}
	return "Not receiving config requests from node"
}

// failCandidate re-derives the node population immediately before
// consulting the throttle, so a fail committed earlier in the same
// tick counts against the budget before the next candidate is
// evaluated. Returns true iff the node was actually failed.
func (f *Failer) failCandidate(n *node.Node, metricReason, reason string) bool {
	population, err := f.repo.GetNodes(repository.NodeFilter{})
	if err != nil {
		f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to list population for throttle check")
		return false
	}
	if throttle.Decide(f.config.Throttle, population, f.clock.Now()) {
		metrics.ThrottledTotal.WithLabelValues("phase_b").Inc()
		f.logger.Info().Str("hostname", n.Hostname).Str("policy", metricReason).Msg("throttle in effect, skipping fail candidate")
		return false
	}
	if _, err := f.repo.Fail(n.Hostname, "failer", reason); err != nil {
		f.logger.Error().Err(err).Str("hostname", n.Hostname).Msg("failed to fail candidate node")
		return false
	}
	metrics.NodesFailedTotal.WithLabelValues(metricReason).Inc()
	f.logger.Warn().Str("hostname", n.Hostname).Str("reason", reason).Msg("node failed")
	return true
}

// phaseCUpdateDownHistory records and clears down events on active
// nodes as the service monitor's view of them changes.
func (f *Failer) phaseCUpdateDownHistory(now time.Time) error {
	// A monitor-wide blackout reports every instance UNKNOWN, so the
	// loop below naturally falls through to the no-op branch and
	// existing down events are preserved untouched.
	for _, instance := range f.monitor.GetAllApplicationInstances() {
		status := f.monitor.StatusOf(instance.Hostname)
		switch status {
		case svcmonitor.ServiceUp:
			f.clearDown(instance, now)
		case svcmonitor.ServiceDown:
			f.recordDown(instance, now)
		case svcmonitor.ServiceUnknown:
			// No action; preserves existing down-event grace-window
			// progress during a monitor blackout.
		}
	}
	return nil
}

func (f *Failer) recordDown(instance svcmonitor.Instance, now time.Time) {
	n, err := f.repo.GetNode(instance.Hostname)
	if err != nil {
		f.logger.Debug().Err(err).Str("hostname", instance.Hostname).Msg("could not look up node for down instance")
		return
	}
	if n.History.Has(node.EventDown) {
		return
	}

	unlock := f.repo.LockApplication(instance.ApplicationID)
	defer unlock()

	n, err = f.repo.GetNode(instance.Hostname)
	if err != nil {
		return
	}
	if n.History.Has(node.EventDown) {
		return
	}
	n.History = n.History.Put(node.Event{Type: node.EventDown, Agent: "service-monitor", Instant: now})
	if err := f.repo.Write(n); err != nil {
		f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to record down event")
	}
}

func (f *Failer) clearDown(instance svcmonitor.Instance, now time.Time) {
	n, err := f.repo.GetNode(instance.Hostname)
	if err != nil {
		f.logger.Debug().Err(err).Str("hostname", instance.Hostname).Msg("could not look up node for up instance")
		return
	}
	if !n.History.Has(node.EventDown) {
		return
	}

	unlock := f.repo.LockApplication(instance.ApplicationID)
	defer unlock()

	n, err = f.repo.GetNode(instance.Hostname)
	if err != nil {
		return
	}
	if !n.History.Has(node.EventDown) {
		return
	}
	n.History = n.History.Remove(node.EventDown)
	if err := f.repo.Write(n); err != nil {
		f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to clear down event")
	}
}

// phaseDFailLongDownActive drives the cascaded fail-active protocol
// for active nodes whose down event has aged past DownTimeLimit and
// whose status the service monitor currently knows.
func (f *Failer) phaseDFailLongDownActive(now time.Time) error {
	activeNodes, err := f.repo.GetNodes(repository.ByState(node.StateActive))
	if err != nil {
		return fmt.Errorf("list active nodes: %w", err)
	}

	downCutoff := now.Add(-f.config.DownTimeLimit)

	for _, n := range activeNodes {
		if !n.History.OlderThan(node.EventDown, downCutoff) {
			continue
		}
		if !f.monitor.StatusIsKnown(n.Hostname) {
			// A blackout keeps the down event but never fails the node;
			// the event counts again once the monitor reports status.
			continue
		}
		if n.Allocation == nil {
			f.logger.Error().Str("hostname", n.Hostname).Msg("active node has no allocation, skipping")
			continue
		}

		suspended, err := f.isSuspended(n.Allocation.ApplicationID)
		if err != nil {
			f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("orchestrator query failed, treating as suspended this tick")
			continue
		}
		if suspended {
			continue
		}

		if !f.failAllowed(n) {
			continue
		}

		population, err := f.repo.GetNodes(repository.NodeFilter{})
		if err != nil {
			f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to list population for throttle check")
			continue
		}
		if throttle.Decide(f.config.Throttle, population, now) {
			metrics.ThrottledTotal.WithLabelValues("phase_d").Inc()
			f.logger.Info().Str("hostname", n.Hostname).Msg("throttle in effect, skipping cascaded fail-active")
			continue
		}

		timer := metrics.NewTimer()
		ok := f.FailActive(context.Background(), n.Hostname, "Node down beyond grace period")
		timer.ObserveDuration(metrics.FailActiveDuration)
		if ok {
			metrics.NodesFailedTotal.WithLabelValues("long_down").Inc()
		}
	}
	return nil
}

func (f *Failer) isSuspended(applicationID string) (bool, error) {
	status, err := f.orchestrator.GetApplicationInstanceStatus(applicationID)
	if err != nil {
		if _, ok := err.(*orchestrator.AppIDNotFoundError); ok {
			return false, nil
		}
		return false, err
	}
	return status == orchestrator.AllowedToBeDown, nil
}

// failAllowed reports whether n is eligible to be failed: tenant and
// host nodes are always eligible; every other type is gated on no
// other node of that type currently being in the failed state.
func (f *Failer) failAllowed(n *node.Node) bool {
	if node.FailAllowedForUnconditional(n.Type) {
		return true
	}
	existing, err := f.repo.GetNodes(repository.ByTypeAndState(n.Type, node.StateFailed))
	if err != nil {
		f.logger.Warn().Err(err).Str("hostname", n.Hostname).Msg("failed to check existing failed nodes of type")
		return false
	}
	return len(existing) == 0
}
