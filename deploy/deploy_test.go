package deploy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/audit"
	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.Load(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)

	auditStore, err := audit.Open(filepath.Join(dir, "audit.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })

	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Minute)

	cfg := config.DeploymentConfig{
		StabilityMinutes:    0,
		WaitForWorkMinutes:  0,
		HealthPollIntervalS: 0,
	}
	return New(testLogger(), reg, facade, auditStore, nil, cfg)
}

func waitForTerminal(t *testing.T, o *Orchestrator, deploymentID string) models.Deployment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dep, err := o.Status(deploymentID)
		require.NoError(t, err)
		if dep.State.IsTerminal() {
			return dep
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("deployment did not reach a terminal state in time")
	return models.Deployment{}
}

func TestStageWithManualStrategyStaysStaged(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyManual,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentStaged, dep.State)
}

func TestStageRejectsSecondActiveDeployment(t *testing.T) {
	o := testOrchestrator(t)

	_, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyManual,
	})
	require.NoError(t, err)

	_, err = o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v3",
		Strategy:   models.StrategyManual,
	})
	assert.ErrorIs(t, err, ErrActiveDeploymentExists)
}

func TestStageWithImmediateStrategyCompletesWithNoRegisteredAgents(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyImmediate,
	})
	require.NoError(t, err)

	final := waitForTerminal(t, o, dep.DeploymentID)
	assert.Equal(t, models.DeploymentCompleted, final.State)
}

func TestLaunchOnNonStagedDeploymentErrors(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyImmediate,
	})
	require.NoError(t, err)
	waitForTerminal(t, o, dep.DeploymentID)

	err = o.Launch(context.Background(), dep.DeploymentID)
	assert.Error(t, err)
}

func TestCancelOnTerminalDeploymentErrors(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyImmediate,
	})
	require.NoError(t, err)
	waitForTerminal(t, o, dep.DeploymentID)

	err = o.Cancel(dep.DeploymentID, "no longer needed")
	assert.Error(t, err)
}

func TestRejectOnlyValidWhileStagedOrPending(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyManual,
	})
	require.NoError(t, err)

	require.NoError(t, o.Reject(dep.DeploymentID, "operator changed their mind"))

	final, err := o.Status(dep.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentCancelled, final.State)

	err = o.Reject(dep.DeploymentID, "again")
	assert.Error(t, err)
}

func TestRetryStagesAFreshDeploymentFromTheSameNotification(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyImmediate,
	})
	require.NoError(t, err)
	waitForTerminal(t, o, dep.DeploymentID)

	retried, err := o.Retry(context.Background(), dep.DeploymentID)
	require.NoError(t, err)
	assert.NotEqual(t, dep.DeploymentID, retried.DeploymentID)
	assert.Equal(t, "ciris-agent:v2", retried.Notification.AgentImage)
}

func TestPendingAllOnlyReturnsStagedAndPending(t *testing.T) {
	o := testOrchestrator(t)

	_, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyManual,
	})
	require.NoError(t, err)

	pending := o.PendingAll()
	require.Len(t, pending, 1)
	assert.Equal(t, models.DeploymentStaged, pending[0].State)
}

func TestBuildRollbackProposalReadsNMinus1FromRegistry(t *testing.T) {
	o := testOrchestrator(t)
	key := models.AgentKey{AgentID: "scout-ab12cd", HostID: "main"}
	require.NoError(t, o.reg.Create(models.Agent{
		Key:      key,
		Name:     "Scout",
		Port:     9100,
		Versions: models.VersionSlots{Current: "ciris-agent:v3", NMinus1: "ciris-agent:v2", NMinus2: "ciris-agent:v1"},
	}))

	proposal := o.buildRollbackProposal("dep-1", "health gate failed", []models.AgentKey{key})
	assert.Equal(t, "ciris-agent:v2", proposal.PreviousVersions[key.String()])
	assert.Equal(t, []models.AgentKey{key}, proposal.RollbackTargets.Agents)
}

func TestExecuteRollbackFailsWhenNoPriorVersionIsRecorded(t *testing.T) {
	o := testOrchestrator(t)
	key := models.AgentKey{AgentID: "scout-ab12cd", HostID: "main"}
	require.NoError(t, o.reg.Create(models.Agent{
		Key:      key,
		Name:     "Scout",
		Port:     9100,
		Versions: models.VersionSlots{Current: "ciris-agent:v1"},
	}))

	dep, err := o.Stage(context.Background(), models.UpdateNotification{Strategy: models.StrategyManual})
	require.NoError(t, err)

	proposal := o.buildRollbackProposal(dep.DeploymentID, "gate failed", []models.AgentKey{key})
	require.NoError(t, o.store.mutate(dep.DeploymentID, func(d *models.Deployment) {
		d.Rollback = &proposal
	}))

	err = o.ExecuteRollback(context.Background(), dep.DeploymentID)
	require.NoError(t, err)

	final, err := o.Status(dep.DeploymentID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRollbackFailed, final.State)
	assert.Contains(t, final.FailureReason, "no prior image recorded")
}

func TestCanaryWithSingleCollapsedPhaseStillGatesAndCanFail(t *testing.T) {
	o := testOrchestrator(t)
	key := models.AgentKey{AgentID: "scout-ab12cd", HostID: "main"}
	require.NoError(t, o.reg.Create(models.Agent{
		Key:      key,
		Name:     "Scout",
		Port:     9100,
		Versions: models.VersionSlots{Current: "ciris-agent:v1"},
	}))

	dep, err := o.Stage(context.Background(), models.UpdateNotification{
		AgentImage: "ciris-agent:v2",
		Strategy:   models.StrategyCanary,
	})
	require.NoError(t, err)

	// Every agent has no deployment_group, so groupIntoCanaryPhases
	// collapses the whole fleet into one "general" phase. The health
	// gate must still run against it: no real agent is listening on
	// this port, so it never reaches WORK and the deployment must fail
	// with a rollback proposal rather than completing as if the gate
	// had never run.
	final := waitForTerminal(t, o, dep.DeploymentID)
	assert.Equal(t, models.DeploymentFailed, final.State)
	require.NotNil(t, final.Rollback)
	assert.Equal(t, []models.AgentKey{key}, final.Rollback.RollbackTargets.Agents)
}

func TestExecuteRollbackWithNoProposalErrors(t *testing.T) {
	o := testOrchestrator(t)

	dep, err := o.Stage(context.Background(), models.UpdateNotification{Strategy: models.StrategyManual})
	require.NoError(t, err)

	err = o.ExecuteRollback(context.Background(), dep.DeploymentID)
	assert.Error(t, err)
}
