// Package recovery implements C7, the crash-recovery loop: a ticker that
// periodically scans every host's registered agents and restarts any
// container that stopped without the agent's consent.
//
// There is no direct teacher precedent for a background polling loop —
// the teacher repo is purely request-driven — so this package's shape
// (single exported Loop type, a context-cancellable Run method run from
// a goroutine the composition root owns) follows the same
// constructor-injection, no-globals style as every other component here,
// generalized from original_source/ciris_manager/manager.py's
// _recover_crashed_containers polling method into an idiomatic Go
// ticker loop (spec §4.7's literal 30s-interval requirement).
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

// Restarter is the subset of lifecycle.Coordinator this loop needs,
// narrowed to a single method so tests can substitute a fake instead of
// wiring a full Coordinator.
type Restarter interface {
	Restart(ctx context.Context, key models.AgentKey) error
}

// Loop owns the crash-recovery ticker.
type Loop struct {
	logger           *slog.Logger
	reg              *registry.Registry
	facade           *dockerfacade.Facade
	restarter        Restarter
	checkInterval    time.Duration
	deploymentWindow time.Duration
}

// New constructs a Loop. checkInterval and deploymentWindow come from
// config.CrashRecoveryConfig (spec §6).
func New(logger *slog.Logger, reg *registry.Registry, facade *dockerfacade.Facade, restarter Restarter, checkInterval, deploymentWindow time.Duration) *Loop {
	return &Loop{
		logger:           logger,
		reg:              reg,
		facade:           facade,
		restarter:        restarter,
		checkInterval:    checkInterval,
		deploymentWindow: deploymentWindow,
	}
}

// Run blocks, running Sweep every checkInterval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every configured host (spec §4.7). Every
// error is caught, logged, and does not abort the sweep of other
// agents/hosts.
func (l *Loop) Sweep(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecoverySweepDuration.Observe(time.Since(start).Seconds()) }()

	byHost := make(map[string][]models.Agent)
	for _, a := range l.reg.List() {
		byHost[a.Key.HostID] = append(byHost[a.Key.HostID], a)
	}

	for _, hostID := range l.facade.HostIDs() {
		l.sweepHost(ctx, hostID, byHost[hostID])
	}
}

func (l *Loop) sweepHost(ctx context.Context, hostID string, agents []models.Agent) {
	client, err := l.facade.Client(ctx, hostID)
	if err != nil {
		var circuitOpen *dockerfacade.ErrCircuitOpen
		if errors.As(err, &circuitOpen) {
			l.logger.Debug("crash recovery skipping host: circuit open", "host_id", hostID)
			return
		}
		l.logger.Warn("crash recovery skipping host: connect failed", "host_id", hostID, "error", err)
		return
	}

	for _, agent := range agents {
		l.checkAgent(ctx, client, agent)
	}
}

func (l *Loop) checkAgent(ctx context.Context, client *dockerfacade.HostClient, agent models.Agent) {
	containerName := compose.ContainerName(agent.Key.AgentID)

	state, found, err := client.InspectState(ctx, containerName)
	if err != nil {
		l.logger.Warn("crash recovery: inspect failed", "agent_id", agent.Key.AgentID, "error", err)
		return
	}
	if !found {
		// Newly created or already deleted; nothing to recover.
		return
	}
	if state.State != "exited" {
		// Only act on stopped containers; never touch running ones.
		return
	}
	if state.ExitCode == 0 {
		// Consensual shutdown: the autonomy contract is preserved by
		// never overriding an agent's own decision to stop.
		return
	}
	if agent.DoNotAutostart {
		return
	}
	if !state.FinishedAt.IsZero() && time.Since(state.FinishedAt) < l.deploymentWindow {
		// Recently stopped within the deployment window: a rollout is
		// plausibly still in flight; let it proceed without racing it.
		return
	}

	l.logger.Info("crash recovery restarting agent",
		"agent_id", agent.Key.AgentID, "host_id", agent.Key.HostID, "exit_code", state.ExitCode)
	if err := l.restarter.Restart(ctx, agent.Key); err != nil {
		l.logger.Warn("crash recovery restart failed", "agent_id", agent.Key.AgentID, "error", err)
		return
	}
	metrics.RecoveryRestartsTotal.WithLabelValues(agent.Key.HostID).Inc()
}
