package deploy

import "github.com/sasta-kro/ciris-fleet-manager/models"

// canary phase names, in execution order (spec §4.8 Strategies).
const (
	phaseExplorers     = "explorers"
	phaseEarlyAdopters = "early_adopters"
	phaseGeneral       = "general"
)

// phase is one group of agents to update together, with the health gate
// (if any) that must pass before the next phase starts.
type phase struct {
	name   string
	agents []models.Agent
}

// groupIntoCanaryPhases buckets agents by their DeploymentGroup() into
// the three named canary phases in execution order, dropping any phase
// left with zero agents (spec's "phases below the minimum collapse
// forward: a phase that would be empty is skipped, not run with zero
// agents"). Agents without an explicit group fall into general, per
// spec §4.8's "unassigned -> general".
func groupIntoCanaryPhases(agents []models.Agent) []phase {
	buckets := map[string][]models.Agent{}
	for _, a := range agents {
		group := a.DeploymentGroup()
		if group != phaseExplorers && group != phaseEarlyAdopters {
			group = phaseGeneral
		}
		buckets[group] = append(buckets[group], a)
	}

	var phases []phase
	for _, name := range []string{phaseExplorers, phaseEarlyAdopters, phaseGeneral} {
		if len(buckets[name]) == 0 {
			continue
		}
		phases = append(phases, phase{name: name, agents: buckets[name]})
	}
	return phases
}

// singlePhase wraps every affected agent into one phase, used by the
// immediate and manual strategies (spec: "immediate: one phase; apply to
// all affected agents in parallel"; manual has no distinct execution
// semantics of its own once launched beyond waiting for that launch).
func singlePhase(agents []models.Agent) []phase {
	if len(agents) == 0 {
		return nil
	}
	return []phase{{name: "all", agents: agents}}
}
