package failer

import (
	"context"

	"github.com/cuemby/nodewatch/pkg/metrics"
	"github.com/cuemby/nodewatch/pkg/node"
)

// FailActive runs the cascaded fail-active protocol against the node
// at hostname: move it (and, if it is a host, its
// active children) from active to failed, then hand the freed
// capacity to the deployer to reactivate the application without it.
// Returns false when the deployer hands back no handle (another
// replica owns this deployment), when a child cascade or a fail call
// fails, or when the replacement does not activate, in which case
// hostname has been rolled back to active. Children already failed
// during the cascade stay failed in every false case.
func (f *Failer) FailActive(ctx context.Context, hostname, reason string) bool {
	n, err := f.repo.GetNode(hostname)
	if err != nil {
		f.logger.Warn().Err(err).Str("hostname", hostname).Msg("fail-active: could not look up target node")
		return false
	}
	if n.Allocation == nil {
		f.logger.Error().Str("hostname", hostname).Msg("fail-active: target has no allocation")
		return false
	}
	applicationID := n.Allocation.ApplicationID

	handle, ready, err := f.deployer.DeployFromLocalActive(ctx, applicationID, ActivateTimeout)
	if err != nil || handle == nil {
		f.logger.Info().Str("hostname", hostname).Str("application_id", applicationID).Msg("fail-active: no deployer handle, another replica owns this deployment")
		return false
	}

	unlock := f.repo.LockApplication(applicationID)
	defer unlock()

	if n.Type == node.TypeHost {
		children, err := f.repo.GetChildNodes(hostname)
		if err != nil {
			f.logger.Warn().Err(err).Str("hostname", hostname).Msg("fail-active: could not list children")
			return false
		}
		for _, child := range children {
			if child.State == node.StateActive {
				if !f.FailActive(ctx, child.Hostname, reason) {
					f.logger.Warn().Str("hostname", hostname).Str("child", child.Hostname).Msg("fail-active: child cascade failed, aborting host fail-active")
					return false
				}
				continue
			}
			if _, err := f.repo.Fail(child.Hostname, "failer", reason); err != nil {
				f.logger.Warn().Err(err).Str("hostname", hostname).Str("child", child.Hostname).Msg("fail-active: unconditional child fail failed")
				return false
			}
		}
	}

	if _, err := f.repo.Fail(hostname, "failer", reason); err != nil {
		f.logger.Error().Err(err).Str("hostname", hostname).Msg("fail-active: failing target failed")
		return false
	}

	if !ready {
		return f.rollback(ctx, hostname, applicationID)
	}

	if err := handle.Activate(ctx); err != nil {
		f.logger.Warn().Err(err).Str("hostname", hostname).Str("application_id", applicationID).Msg("fail-active: activation failed, rolling back")
		return f.rollback(ctx, hostname, applicationID)
	}

	metrics.NodesFailedTotal.WithLabelValues("cascaded_fail_active").Inc()
	return true
}

// rollback reactivates the target on a failed activation attempt;
// children that were already moved to failed during the cascade stay
// failed rather than being reanimated.
func (f *Failer) rollback(ctx context.Context, hostname, applicationID string) bool {
	if err := f.repo.Reactivate(hostname, "system"); err != nil {
		f.logger.Error().Err(err).Str("hostname", hostname).Msg("fail-active: rollback reactivate failed, node may be stuck failed")
	}
	metrics.FailActiveRolledBackTotal.Inc()
	return false
}
