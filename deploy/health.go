package deploy

import (
	"context"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// healthGateResult summarizes one canary health gate's outcome (spec
// §4.8 "Health gate (between canary phases)").
type healthGateResult struct {
	Passed    bool
	AnyWork   bool
	NotWorked []models.AgentKey // agents that never reached a stable WORK state
}

// runHealthGate polls each agent in group until either every agent has
// reported cognitive_state == WORK continuously for stability, or
// waitForWork elapses first. A gate that times out with zero agents ever
// having reached WORK produces a rollback proposal; a timeout with at
// least one agent having reached WORK still passes — deferrals (and
// agents still warming up) are not failures on their own, only a group
// where nothing ever came up is (spec: "the phase is considered
// successful provided at least one agent reached WORK").
func (o *Orchestrator) runHealthGate(ctx context.Context, group []models.Agent, waitForWork, stability, pollInterval time.Duration) healthGateResult {
	deadline := time.Now().Add(waitForWork)
	stableSince := make(map[string]time.Time, len(group))
	anyWork := false

	for {
		allStable := true

		for _, agent := range group {
			status, err := o.agentStatus(ctx, agent)
			if err != nil || status.CognitiveState != models.StateWork {
				delete(stableSince, agent.Key.String())
				allStable = false
				continue
			}
			anyWork = true
			since, tracked := stableSince[agent.Key.String()]
			if !tracked {
				stableSince[agent.Key.String()] = time.Now()
				allStable = false
				continue
			}
			if time.Since(since) < stability {
				allStable = false
			}
		}

		if allStable {
			return healthGateResult{Passed: true, AnyWork: true}
		}

		if time.Now().After(deadline) || ctx.Err() != nil {
			var notWorked []models.AgentKey
			for _, agent := range group {
				if _, ok := stableSince[agent.Key.String()]; !ok {
					notWorked = append(notWorked, agent.Key)
				}
			}
			return healthGateResult{Passed: anyWork, AnyWork: anyWork, NotWorked: notWorked}
		}

		select {
		case <-ctx.Done():
			return healthGateResult{Passed: anyWork, AnyWork: anyWork}
		case <-time.After(pollInterval):
		}
	}
}

func (o *Orchestrator) agentStatus(ctx context.Context, agent models.Agent) (models.AgentStatus, error) {
	client, err := o.agentClient(agent)
	if err != nil {
		return models.AgentStatus{}, err
	}
	status, err := client.Status(ctx)
	if err == nil && status.CognitiveState == models.StateWork {
		now := time.Now()
		_ = o.reg.Mutate(agent.Key, func(a *models.Agent) error {
			a.LastWorkStateAt = &now
			return nil
		})
	}
	return status, err
}
