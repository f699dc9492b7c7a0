package maintainer_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/nodewatch/pkg/jobcontrol"
	"github.com/cuemby/nodewatch/pkg/maintainer"
)

type countingMaintainer struct {
	name     string
	interval time.Duration
	steps    atomic.Int32
	err      error
	panicOn  int32
}

func (m *countingMaintainer) Name() string            { return m.name }
func (m *countingMaintainer) Interval() time.Duration { return m.interval }
func (m *countingMaintainer) Step() error {
	n := m.steps.Add(1)
	if m.panicOn != 0 && n == m.panicOn {
		panic("boom")
	}
	return m.err
}

func TestScheduler_RunsRegisteredMaintainerOnItsInterval(t *testing.T) {
	m := &countingMaintainer{name: "test", interval: 10 * time.Millisecond}

	sched := maintainer.NewScheduler(jobcontrol.AlwaysOpen)
	sched.Register(m)
	sched.Start()
	defer sched.Stop()

	time.Sleep(55 * time.Millisecond)

	assert.GreaterOrEqual(t, m.steps.Load(), int32(3))
}

func TestScheduler_ClosedGateSkipsSteps(t *testing.T) {
	m := &countingMaintainer{name: "gated", interval: 10 * time.Millisecond}
	gate := jobcontrol.StaticGate{Jobs: map[string]bool{"gated": false}}

	sched := maintainer.NewScheduler(gate)
	sched.Register(m)
	sched.Start()
	defer sched.Stop()

	time.Sleep(55 * time.Millisecond)

	assert.Equal(t, int32(0), m.steps.Load(), "a closed gate must prevent Step from ever running")
}

func TestScheduler_SurvivesStepErrorAndPanic(t *testing.T) {
	erroring := &countingMaintainer{name: "erroring", interval: 10 * time.Millisecond, err: errors.New("boom")}
	panicking := &countingMaintainer{name: "panicking", interval: 10 * time.Millisecond, panicOn: 2}

	sched := maintainer.NewScheduler(jobcontrol.AlwaysOpen)
	sched.Register(erroring)
	sched.Register(panicking)
	sched.Start()
	defer sched.Stop()

	time.Sleep(55 * time.Millisecond)

	assert.GreaterOrEqual(t, erroring.steps.Load(), int32(3), "an error from Step must not stop future ticks")
	assert.GreaterOrEqual(t, panicking.steps.Load(), int32(3), "a panic from Step must not stop future ticks")
}

func TestScheduler_StopWaitsForInFlightTick(t *testing.T) {
	m := &countingMaintainer{name: "quick", interval: 5 * time.Millisecond}

	sched := maintainer.NewScheduler(jobcontrol.AlwaysOpen)
	sched.Register(m)
	sched.Start()

	time.Sleep(20 * time.Millisecond)
	sched.Stop()

	countAtStop := m.steps.Load()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, countAtStop, m.steps.Load(), "no further ticks may run after Stop returns")
}
