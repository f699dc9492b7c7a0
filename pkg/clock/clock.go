// Package clock wraps k8s.io/utils/clock the way pkg/log wraps
// zerolog: a thin alias so the rest of the module depends on this
// package's name, not the upstream one, and so tests can swap in a
// fake without importing the upstream package directly.
package clock

import (
	"time"

	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

// Clock supplies the current instant. It is the only time source the
// control loop is allowed to read from; nothing in pkg/failer or
// pkg/expirer calls time.Now directly.
type Clock = clock.Clock

// FakeClock is a manually advanceable Clock, for deterministic tests.
type FakeClock = clocktesting.FakeClock

// New returns the real, wall-clock-backed Clock.
func New() Clock { return clock.RealClock{} }

// NewFakeAt returns a fake clock pinned to t.
func NewFakeAt(t time.Time) *clocktesting.FakeClock {
	return clocktesting.NewFakeClock(t)
}
