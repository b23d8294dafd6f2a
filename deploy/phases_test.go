package deploy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

func agentWithGroup(id, group string) models.Agent {
	a := models.Agent{Key: models.AgentKey{AgentID: id, HostID: "main"}}
	if group != "" {
		a.Metadata = map[string]string{"deployment_group": group}
	}
	return a
}

func TestGroupIntoCanaryPhasesOrdersExplorersFirst(t *testing.T) {
	agents := []models.Agent{
		agentWithGroup("c", ""),
		agentWithGroup("b", phaseEarlyAdopters),
		agentWithGroup("a", phaseExplorers),
	}

	phases := groupIntoCanaryPhases(agents)
	require.Len(t, phases, 3)
	assert.Equal(t, phaseExplorers, phases[0].name)
	assert.Equal(t, phaseEarlyAdopters, phases[1].name)
	assert.Equal(t, phaseGeneral, phases[2].name)
	assert.Equal(t, "a", phases[0].agents[0].Key.AgentID)
	assert.Equal(t, "c", phases[2].agents[0].Key.AgentID)
}

func TestGroupIntoCanaryPhasesCollapsesEmptyPhases(t *testing.T) {
	agents := []models.Agent{agentWithGroup("a", ""), agentWithGroup("b", "")}

	phases := groupIntoCanaryPhases(agents)
	require.Len(t, phases, 1)
	assert.Equal(t, phaseGeneral, phases[0].name)
}

func TestGroupIntoCanaryPhasesFallsBackToCanaryGroupKey(t *testing.T) {
	agent := models.Agent{
		Key:      models.AgentKey{AgentID: "a", HostID: "main"},
		Metadata: map[string]string{"canary_group": phaseExplorers},
	}

	phases := groupIntoCanaryPhases([]models.Agent{agent})
	require.Len(t, phases, 1)
	assert.Equal(t, phaseExplorers, phases[0].name)
}

func TestSinglePhaseWrapsEverythingTogether(t *testing.T) {
	agents := []models.Agent{agentWithGroup("a", phaseExplorers), agentWithGroup("b", "")}

	phases := singlePhase(agents)
	require.Len(t, phases, 1)
	assert.Equal(t, "all", phases[0].name)
	assert.Len(t, phases[0].agents, 2)
}

func TestSinglePhaseWithNoAgentsReturnsNil(t *testing.T) {
	assert.Nil(t, singlePhase(nil))
}
