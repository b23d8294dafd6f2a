package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// TestRestartOnLocalHostDispatchesComposeUp exercises the local-host
// path only (no docker binary is assumed present in the test
// environment), asserting Restart reaches the same docker-compose
// dispatch Create uses rather than erroring out before that point.
func TestRestartOnLocalHostDispatchesComposeUp(t *testing.T) {
	coord, _ := testCoordinator(t)

	result, err := coord.Create(context.Background(), CreateRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)

	key := models.AgentKey{AgentID: result.AgentID, HostID: "main"}
	err = coord.Restart(context.Background(), key)
	// docker is not assumed installed in the test sandbox; a failure here
	// must come from the exec dispatch itself, not from an earlier step
	// (unknown agent, unknown host, unreadable compose file).
	if err != nil {
		assert.Contains(t, err.Error(), "docker compose")
	}
}

func TestRestartOnUnknownAgentReturnsNotFound(t *testing.T) {
	coord, _ := testCoordinator(t)

	err := coord.Restart(context.Background(), models.AgentKey{AgentID: "ghost", HostID: "main"})
	assert.Error(t, err)
}

// TestStopOnLocalHostDispatchesComposeDown mirrors the Restart test
// above: it only checks that Stop reaches the "docker compose down"
// exec dispatch rather than erroring earlier, since docker is not
// assumed present in the test sandbox.
func TestStopOnLocalHostDispatchesComposeDown(t *testing.T) {
	coord, _ := testCoordinator(t)

	result, err := coord.Create(context.Background(), CreateRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)

	key := models.AgentKey{AgentID: result.AgentID, HostID: "main"}
	err = coord.Stop(context.Background(), key)
	if err != nil {
		assert.Contains(t, err.Error(), "docker compose")
	}
}

func TestStopOnUnknownAgentReturnsNotFound(t *testing.T) {
	coord, _ := testCoordinator(t)

	err := coord.Stop(context.Background(), models.AgentKey{AgentID: "ghost", HostID: "main"})
	assert.Error(t, err)
}

// TestStopDoesNotUnregisterTheAgent distinguishes Stop from Delete: the
// agent must still be resolvable from the registry afterwards,
// regardless of whether the container stop itself succeeded.
func TestStopDoesNotUnregisterTheAgent(t *testing.T) {
	coord, _ := testCoordinator(t)

	result, err := coord.Create(context.Background(), CreateRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)

	key := models.AgentKey{AgentID: result.AgentID, HostID: "main"}
	_ = coord.Stop(context.Background(), key)

	_, err = coord.reg.Get(key)
	assert.NoError(t, err)
}

func TestStartDispatchesThroughRestart(t *testing.T) {
	coord, _ := testCoordinator(t)

	result, err := coord.Create(context.Background(), CreateRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)

	key := models.AgentKey{AgentID: result.AgentID, HostID: "main"}
	err = coord.Start(context.Background(), key)
	if err != nil {
		assert.Contains(t, err.Error(), "docker compose")
	}
}
