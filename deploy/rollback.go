package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/audit"
	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// buildRollbackProposal constructs the proposal spec §4.8's health gate
// produces on failure: rollback targets are the agents that failed to
// reach a stable WORK state, previous_versions read from each one's
// current n-1 slot (spec: "read from each agent's n-1 slot").
func (o *Orchestrator) buildRollbackProposal(deploymentID, reason string, failed []models.AgentKey) models.RollbackProposal {
	previous := make(map[string]string, len(failed))
	for _, key := range failed {
		if agent, err := o.reg.Get(key); err == nil {
			previous[key.String()] = agent.Versions.NMinus1
		}
	}
	return models.RollbackProposal{
		DeploymentID:     deploymentID,
		Reason:           reason,
		RollbackTargets:  models.RollbackTargets{Agents: failed},
		PreviousVersions: previous,
		CreatedAt:        time.Now(),
	}
}

// ExecuteRollback runs spec §4.8's "Rollback execution": for each target
// agent, stop the current container and re-launch using its recorded
// N-1 image, falling back to N-2 if N-1 is missing. Registry metadata is
// updated to reflect the rollback without rotating slots further. Any
// per-agent failure transitions the deployment to rollback_failed rather
// than aborting the loop — every target is attempted regardless of an
// earlier target's outcome.
func (o *Orchestrator) ExecuteRollback(ctx context.Context, deploymentID string) error {
	metrics.RollbacksTotal.Inc()
	dep, err := o.store.get(deploymentID)
	if err != nil {
		return err
	}
	if dep.Rollback == nil {
		return fmt.Errorf("deploy: deployment %q has no pending rollback proposal", deploymentID)
	}

	var failures []string
	for _, key := range dep.Rollback.RollbackTargets.Agents {
		agent, err := o.reg.Get(key)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", key.String(), err))
			continue
		}
		target := agent.Versions.NMinus1
		if target == "" {
			target = agent.Versions.NMinus2
		}
		if target == "" {
			failures = append(failures, fmt.Sprintf("%s: no prior image recorded", key.String()))
			continue
		}

		if err := o.swapAgent(ctx, agent, target); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", key.String(), err))
			_ = o.audit.Record(deploymentID, audit.EventRollback, "", key.String(), err.Error())
			continue
		}

		_ = o.reg.Mutate(key, func(a *models.Agent) error {
			a.Versions.Current = target
			a.VersionHistory = append(a.VersionHistory, models.VersionEntry{
				Image: target, DeploymentID: deploymentID, Timestamp: time.Now(),
			})
			return nil
		})
		_ = o.audit.Record(deploymentID, audit.EventRolledBack, "", key.String(), "rolled back to "+target)
	}

	now := time.Now()
	finalState := models.DeploymentRolledBack
	if len(failures) > 0 {
		finalState = models.DeploymentRollbackFailed
	}
	return o.store.mutate(deploymentID, func(d *models.Deployment) {
		d.State = finalState
		d.CompletedAt = &now
		d.UpdatedAt = now
		if len(failures) > 0 {
			d.FailureReason = fmt.Sprintf("rollback failed for %d agent(s): %v", len(failures), failures)
		}
	})
}
