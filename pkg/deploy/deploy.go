// Package deploy is the deployer collaborator for the cascaded
// fail-active protocol: given a failed node's last-known
// application, it stands up a replacement instance from the
// application's locally cached active image and hands back a Handle
// the failer activates once the replacement is healthy.
//
// RollingDeployer's logging follows the reference orchestrator's
// Deployer.rollingUpdate: each step is logged through the shared
// structured logger. It provisions a single replacement per call; it
// does not batch and does not delay between steps.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nodewatch/pkg/log"
)

// Handle represents a deployment in flight. Activate commits it;
// the failer calls Activate only after the node's health checks pass,
// and otherwise discards the handle, relying on the orchestrator to
// garbage-collect whatever DeployFromLocalActive provisioned.
type Handle interface {
	Activate(ctx context.Context) error
}

// Deployer is the cascaded fail-active protocol's collaborator.
type Deployer interface {
	// DeployFromLocalActive starts a replacement instance for
	// applicationID using its locally cached active image, waiting up
	// to timeout for the instance to report ready. The returned bool
	// is true iff the instance is ready; if false, the caller must not
	// call Activate on the returned handle.
	DeployFromLocalActive(ctx context.Context, applicationID string, timeout time.Duration) (Handle, bool, error)
}

// RollingDeployer deploys one replacement instance at a time,
// following the reference orchestrator's batch-of-one rolling update
// when parallelism isn't configured.
type RollingDeployer struct {
	// Provision does the substrate-specific work of starting a
	// container/VM running applicationID's last-known active image
	// and returns once it either becomes ready or the context expires.
	Provision func(ctx context.Context, applicationID string) (ready bool, err error)
	// Commit does the substrate-specific work of making the
	// replacement instance permanent (e.g. registering it with the
	// service monitor and repository as active).
	Commit func(ctx context.Context, applicationID string) error

	PollInterval time.Duration
}

// NewRollingDeployer returns a RollingDeployer with a sensible poll
// interval.
func NewRollingDeployer(provision func(ctx context.Context, applicationID string) (bool, error), commit func(ctx context.Context, applicationID string) error) *RollingDeployer {
	return &RollingDeployer{
		Provision:    provision,
		Commit:       commit,
		PollInterval: 2 * time.Second,
	}
}

type rollingHandle struct {
	deployer      *RollingDeployer
	applicationID string
}

func (h *rollingHandle) Activate(ctx context.Context) error {
	if h.deployer.Commit == nil {
		return nil
	}
	return h.deployer.Commit(ctx, h.applicationID)
}

func (d *RollingDeployer) DeployFromLocalActive(ctx context.Context, applicationID string, timeout time.Duration) (Handle, bool, error) {
	deployCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Logger.Info().
		Str("application_id", applicationID).
		Dur("timeout", timeout).
		Msg("starting rolling deploy from local active image")

	if d.Provision == nil {
		return nil, false, fmt.Errorf("no provision function configured")
	}

	ready, err := d.Provision(deployCtx, applicationID)
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("application_id", applicationID).
			Msg("deploy from local active failed")
		return nil, false, err
	}

	if !ready {
		log.Logger.Warn().
			Str("application_id", applicationID).
			Msg("deploy from local active did not become ready before timeout")
		return &rollingHandle{deployer: d, applicationID: applicationID}, false, nil
	}

	log.Logger.Info().
		Str("application_id", applicationID).
		Msg("deploy from local active ready")

	return &rollingHandle{deployer: d, applicationID: applicationID}, true, nil
}

var _ Deployer = (*RollingDeployer)(nil)
var _ Handle = (*rollingHandle)(nil)
