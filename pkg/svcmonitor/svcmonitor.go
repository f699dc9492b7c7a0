// Package svcmonitor is the service monitor collaborator from spec
// §4.4: it knows, for every active application instance, whether the
// application layer currently considers it up. The failer consults it
// during Phase C/D bookkeeping so a monitor blackout doesn't get
// misread as every instance going down at once.
//
// HTTPMonitor is built on pkg/health's Checker/Status, the same
// per-target check-and-track machinery the reference orchestrator
// uses for container health checks, aimed here at one hostname-keyed
// check per application instance instead of one per container.
package svcmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/nodewatch/pkg/health"
)

// ServiceStatus is the application-level up/down signal for an
// instance, distinct from node.State which tracks the node's own
// lifecycle.
type ServiceStatus string

const (
	ServiceUp      ServiceStatus = "up"
	ServiceDown    ServiceStatus = "down"
	ServiceUnknown ServiceStatus = "unknown"
)

// Instance identifies one application instance by the node hosting it.
type Instance struct {
	Hostname      string
	ApplicationID string
}

// ServiceMonitor is the collaborator the failer asks about
// application-level health.
type ServiceMonitor interface {
	// GetAllApplicationInstances returns the monitor's current
	// instance roster.
	GetAllApplicationInstances() []Instance
	// StatusOf returns the current status of one instance.
	StatusOf(hostname string) ServiceStatus
	// StatusIsKnown reports whether the monitor has ever completed a
	// check for hostname. False during a monitor-wide blackout, which
	// is exactly the condition the failer's down-history update must
	// not mistake for instances actually failing.
	StatusIsKnown(hostname string) bool
}

// HTTPMonitor polls one HTTP health endpoint per instance and tracks
// its status, following pkg/health.Status's consecutive-failure
// bookkeeping.
type HTTPMonitor struct {
	mu        sync.RWMutex
	instances map[string]Instance
	checkers  map[string]health.Checker
	status    map[string]*health.Status
	config    health.Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHTTPMonitor returns a monitor that polls every tracked instance
// at config.Interval, at the URL or address given to Track/TrackTCP.
func NewHTTPMonitor(config health.Config) *HTTPMonitor {
	return &HTTPMonitor{
		instances: make(map[string]Instance),
		checkers:  make(map[string]health.Checker),
		status:    make(map[string]*health.Status),
		config:    config,
		stopCh:    make(chan struct{}),
	}
}

// Track registers hostname to be polled at the given URL. Safe to
// call repeatedly; re-registering replaces the checker.
func (m *HTTPMonitor) Track(instance Instance, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.Hostname] = instance
	m.checkers[instance.Hostname] = health.NewHTTPChecker(url)
	if _, ok := m.status[instance.Hostname]; !ok {
		m.status[instance.Hostname] = health.NewStatus()
	}
}

// TrackTCP registers hostname to be polled with a bare TCP dial
// instead of an HTTP GET, for applications that don't expose an HTTP
// health endpoint.
func (m *HTTPMonitor) TrackTCP(instance Instance, address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[instance.Hostname] = instance
	m.checkers[instance.Hostname] = health.NewTCPChecker(address)
	if _, ok := m.status[instance.Hostname]; !ok {
		m.status[instance.Hostname] = health.NewStatus()
	}
}

// Untrack removes a hostname from the roster, e.g. once its node
// leaves the active state.
func (m *HTTPMonitor) Untrack(hostname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, hostname)
	delete(m.checkers, hostname)
	delete(m.status, hostname)
}

// Start begins the polling loop.
func (m *HTTPMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts the polling loop.
func (m *HTTPMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *HTTPMonitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.pollAll()
		case <-m.stopCh:
			return
		}
	}
}

func (m *HTTPMonitor) pollAll() {
	m.mu.RLock()
	checkers := make(map[string]health.Checker, len(m.checkers))
	for h, c := range m.checkers {
		checkers[h] = c
	}
	m.mu.RUnlock()

	for hostname, checker := range checkers {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
		result := checker.Check(ctx)
		cancel()

		m.mu.Lock()
		if s, ok := m.status[hostname]; ok {
			s.Update(result, m.config)
		}
		m.mu.Unlock()
	}
}

func (m *HTTPMonitor) GetAllApplicationInstances() []Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

func (m *HTTPMonitor) StatusOf(hostname string) ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[hostname]
	if !ok || s.LastCheck.IsZero() {
		return ServiceUnknown
	}
	if s.Healthy {
		return ServiceUp
	}
	return ServiceDown
}

func (m *HTTPMonitor) StatusIsKnown(hostname string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.status[hostname]
	return ok && !s.LastCheck.IsZero()
}

var _ ServiceMonitor = (*HTTPMonitor)(nil)
