package failer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/deploy"
	"github.com/cuemby/nodewatch/pkg/failer"
	"github.com/cuemby/nodewatch/pkg/liveness"
	"github.com/cuemby/nodewatch/pkg/node"
	"github.com/cuemby/nodewatch/pkg/orchestrator"
	"github.com/cuemby/nodewatch/pkg/repository"
	"github.com/cuemby/nodewatch/pkg/svcmonitor"
)

func readyNode(hostname string, readiedAt time.Time) *node.Node {
	return &node.Node{
		Hostname: hostname,
		Type:     node.TypeTenant,
		Flavor:   node.FlavorBareMetal,
		State:    node.StateReady,
		History:  node.History{{Type: node.EventReadied, Agent: "test", Instant: readiedAt}},
	}
}

func activeNode(hostname, appID string) *node.Node {
	return &node.Node{
		Hostname:   hostname,
		Type:       node.TypeTenant,
		Flavor:     node.FlavorBareMetal,
		State:      node.StateActive,
		Allocation: &node.Allocation{ApplicationID: appID},
	}
}

func newTestFailer(repo repository.Repository, clk clock.Clock, monitor svcmonitor.ServiceMonitor) *failer.Failer {
	return failer.New(
		repo,
		liveness.NewInMemoryTracker(),
		monitor,
		orchestrator.NewStaticOrchestrator(),
		deploy.NewRollingDeployer(
			func(ctx context.Context, applicationID string) (bool, error) { return true, nil },
			func(ctx context.Context, applicationID string) error { return nil },
		),
		clk,
		failer.Config{
			Interval:            time.Minute,
			DownTimeLimit:       30 * time.Minute,
			NodeRequestInterval: 10 * time.Minute,
			Throttle:            node.Disabled,
		},
	)
}

type staticMonitor struct {
	instances []svcmonitor.Instance
	status    map[string]svcmonitor.ServiceStatus
	known     bool
}

func (m *staticMonitor) GetAllApplicationInstances() []svcmonitor.Instance { return m.instances }
func (m *staticMonitor) StatusOf(hostname string) svcmonitor.ServiceStatus {
	if !m.known {
		return svcmonitor.ServiceUnknown
	}
	return m.status[hostname]
}
func (m *staticMonitor) StatusIsKnown(hostname string) bool { return m.known }

// Scenario 1: two ready nodes die with hardware failure descriptions,
// the rest stay ready.
func TestFailer_HardwareFailureCandidatesFailed(t *testing.T) {
	start := time.Now()
	clk := clock.NewFakeAt(start)
	repo := repository.NewInMemoryRepository(clk)

	for i := 0; i < 4; i++ {
		n := readyNode(hostnameFor("ready", i), start.Add(-time.Hour))
		if i == 2 || i == 3 {
			n.Status.HardwareFailureDescription = "disk error"
		}
		repo.Seed(n)
	}
	for i := 0; i < 12; i++ {
		repo.Seed(activeNode(hostnameFor("active", i), "app-1"))
	}

	monitor := &staticMonitor{known: true}
	f := newTestFailer(repo, clk, monitor)

	require.NoError(t, f.Step())

	failed, err := repo.GetNodes(repository.ByState(node.StateFailed))
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	ready, err := repo.GetNodes(repository.ByState(node.StateReady))
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func hostnameFor(prefix string, i int) string {
	return prefix + "-" + string(rune('0'+i))
}

// Scenario 3: a monitor blackout preserves the down event instead of
// erasing grace-window progress, and no node is failed while status
// is unknown; once status is known again the preserved event counts.
func TestFailer_MonitorBlackoutPreservesState(t *testing.T) {
	start := time.Now()
	clk := clock.NewFakeAt(start)
	repo := repository.NewInMemoryRepository(clk)

	repo.Seed(activeNode("host-1", "app-1"))

	monitor := &staticMonitor{
		instances: []svcmonitor.Instance{{Hostname: "host-1", ApplicationID: "app-1"}},
		status:    map[string]svcmonitor.ServiceStatus{"host-1": svcmonitor.ServiceDown},
		known:     true,
	}
	f := newTestFailer(repo, clk, monitor)

	require.NoError(t, f.Step())

	n, err := repo.GetNode("host-1")
	require.NoError(t, err)
	assert.True(t, n.History.Has(node.EventDown))

	// Blackout starts well before downTimeLimit (30m) elapses.
	monitor.known = false
	clk.Step(20 * time.Minute)
	require.NoError(t, f.Step())

	n, err = repo.GetNode("host-1")
	require.NoError(t, err)
	assert.Equal(t, node.StateActive, n.State, "node must still be within grace")
	assert.True(t, n.History.Has(node.EventDown), "down event must survive the blackout")

	// Still blacked out, and the original down event is now older than
	// downTimeLimit: the node must still not be failed while its status
	// is unknown.
	clk.Step(15 * time.Minute)
	require.NoError(t, f.Step())

	n, err = repo.GetNode("host-1")
	require.NoError(t, err)
	assert.Equal(t, node.StateActive, n.State, "no node may be failed during a monitor blackout")

	// Status known again: the blackout did not reset the down event, so
	// it is already past the grace period.
	monitor.known = true
	require.NoError(t, f.Step())

	n, err = repo.GetNode("host-1")
	require.NoError(t, err)
	assert.Equal(t, node.StateFailed, n.State, "preserved down event must still count toward the grace period")
}

// Scenario 5/6: four dead candidates arrive in the same tick but the
// throttle only has budget for two, so phase B must stop exactly at
// budget instead of letting the whole batch through on a stale
// population snapshot.
func TestFailer_ThrottleBudgetAppliesWithinSingleTick(t *testing.T) {
	start := time.Now()
	clk := clock.NewFakeAt(start)
	repo := repository.NewInMemoryRepository(clk)

	downTimeLimit := 30 * time.Minute
	requestInterval := 10 * time.Minute

	f := failer.New(
		repo,
		liveness.NewInMemoryTracker(),
		&staticMonitor{known: true},
		orchestrator.NewStaticOrchestrator(),
		deploy.NewRollingDeployer(nil, nil),
		clk,
		failer.Config{
			Interval:            time.Minute,
			DownTimeLimit:       downTimeLimit,
			NodeRequestInterval: requestInterval,
			Throttle: node.ThrottlePolicy{
				ThrottleWindow:        24 * time.Hour,
				FractionAllowedToFail: 0,
				MinimumAllowedToFail:  2,
			},
		},
	)

	for i := 0; i < 4; i++ {
		repo.Seed(readyNode(hostnameFor("ready", i), start.Add(-2*time.Hour)))
	}

	// Clear construction grace and age the nodes past deadCutoff.
	clk.Step(25 * time.Minute)

	require.NoError(t, f.Step())

	failed, err := repo.GetNodes(repository.ByState(node.StateFailed))
	require.NoError(t, err)
	assert.Len(t, failed, 2, "only budget-many candidates may be failed in a single tick")

	ready, err := repo.GetNodes(repository.ByState(node.StateReady))
	require.NoError(t, err)
	assert.Len(t, ready, 2, "candidates beyond the throttle budget must remain ready")
}

func TestFailer_ThrottleBlocksFailCandidate(t *testing.T) {
	start := time.Now()
	clk := clock.NewFakeAt(start)
	repo := repository.NewInMemoryRepository(clk)

	n1 := readyNode("r1", start.Add(-time.Hour))
	n1.Status.HardwareFailureDescription = "disk error"
	repo.Seed(n1)

	n2 := readyNode("r2", start.Add(-time.Hour))
	n2.Status.HardwareFailureDescription = "disk error"
	repo.Seed(n2)

	monitor := &staticMonitor{known: true}
	f := failer.New(
		repo,
		liveness.NewInMemoryTracker(),
		monitor,
		orchestrator.NewStaticOrchestrator(),
		deploy.NewRollingDeployer(nil, nil),
		clk,
		failer.Config{
			Interval:            time.Minute,
			DownTimeLimit:       30 * time.Minute,
			NodeRequestInterval: 10 * time.Minute,
			Throttle: node.ThrottlePolicy{
				ThrottleWindow:        24 * time.Hour,
				FractionAllowedToFail: 0,
				MinimumAllowedToFail:  0,
			},
		},
	)

	require.NoError(t, f.Step())

	failed, err := repo.GetNodes(repository.ByState(node.StateFailed))
	require.NoError(t, err)
	assert.Len(t, failed, 0, "a zero-budget throttle must block every candidate")
}
