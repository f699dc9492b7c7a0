// Package maintainer runs a set of periodic tasks, each on its own
// fixed interval, gated per-tick by a jobcontrol.Gate. It generalizes
// the reference orchestrator's reconciler/scheduler ticker-plus-stopCh
// loop (pkg/reconciler.Reconciler.run, pkg/scheduler.Scheduler.run)
// from one hardcoded loop into N independently scheduled maintainers.
package maintainer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nodewatch/pkg/jobcontrol"
	"github.com/cuemby/nodewatch/pkg/log"
	"github.com/cuemby/nodewatch/pkg/metrics"
)

// Maintainer is a named periodic task.
type Maintainer interface {
	// Name identifies the maintainer to the job-control gate and in
	// logs/metrics.
	Name() string
	// Interval is the fixed cadence Step is invoked on.
	Interval() time.Duration
	// Step runs one tick. Errors are logged by the scheduler; they
	// never abort it.
	Step() error
}

// Scheduler runs a fixed set of Maintainers concurrently, one
// goroutine per maintainer, serially within each maintainer.
type Scheduler struct {
	gate   jobcontrol.Gate
	logger zerolog.Logger

	mu          sync.Mutex
	maintainers []Maintainer
	stopCh      chan struct{}
	wg          sync.WaitGroup
	started     bool
}

// NewScheduler creates a Scheduler gated by the given jobcontrol.Gate.
func NewScheduler(gate jobcontrol.Gate) *Scheduler {
	return &Scheduler{
		gate:   gate,
		logger: log.WithComponent("maintainer"),
		stopCh: make(chan struct{}),
	}
}

// Register adds a Maintainer. Must be called before Start.
func (s *Scheduler) Register(m Maintainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintainers = append(s.maintainers, m)
}

// Start begins running every registered Maintainer on its own ticker.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, m := range s.maintainers {
		s.wg.Add(1)
		go s.run(m)
	}
}

// Stop halts all maintainers and waits for their current tick, if
// any, to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(m Maintainer) {
	defer s.wg.Done()

	ticker := time.NewTicker(m.Interval())
	defer ticker.Stop()

	s.logger.Info().Str("maintainer", m.Name()).Dur("interval", m.Interval()).Msg("maintainer started")

	for {
		select {
		case <-ticker.C:
			s.tick(m)
		case <-s.stopCh:
			s.logger.Info().Str("maintainer", m.Name()).Msg("maintainer stopped")
			return
		}
	}
}

// tick runs a single gated, recovered, timed invocation of Step. A
// closed gate is a no-op tick: the next tick is still scheduled on
// the original cadence, there is no catch-up.
func (s *Scheduler) tick(m Maintainer) {
	if !s.gate.Allowed(m.Name()) {
		metrics.MaintainerSkippedTotal.WithLabelValues(m.Name()).Inc()
		return
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.MaintainerTickDuration, m.Name())
		metrics.MaintainerTickTotal.WithLabelValues(m.Name()).Inc()

		if r := recover(); r != nil {
			metrics.MaintainerPanicTotal.WithLabelValues(m.Name()).Inc()
			s.logger.Error().Str("maintainer", m.Name()).Interface("panic", r).Msg("maintainer step panicked")
		}
	}()

	if err := m.Step(); err != nil {
		metrics.MaintainerErrorTotal.WithLabelValues(m.Name()).Inc()
		s.logger.Error().Err(err).Str("maintainer", m.Name()).Msg("maintainer step failed")
	}
}
