package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// Delete runs spec §4.6 Delete: stop the container through the same
// local/remote dispatch split as create, unregister the agent and
// release its port, trigger a proxy reconcile, and remove the compose
// file while retaining the data directory (it may hold container-owned
// files and the agent's own audit history).
func (c *Coordinator) Delete(ctx context.Context, key models.AgentKey) error {
	agent, err := c.reg.Get(key)
	if err != nil {
		return err
	}

	host, ok := c.facade.Host(key.HostID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown host %q for agent %q", key.HostID, key.AgentID)
	}

	var stopErr error
	if host.IsLocal {
		stopErr = stopLocal(ctx, agent.ComposePath)
	} else {
		stopErr = c.stopRemote(ctx, key.HostID, containerNameFor(agent))
	}
	if stopErr != nil {
		// Per spec §7 ContainerOpFailure policy for delete: log and
		// continue — proxy reconcile still runs and the registry is
		// still cleaned up, since the operator's intent is for this
		// agent to be gone either way.
		c.logger.Warn("stopping agent container failed during delete; continuing cleanup",
			"agent_id", key.AgentID, "host_id", key.HostID, "error", stopErr)
	}

	if err := c.reg.Delete(key); err != nil {
		return fmt.Errorf("lifecycle: unregister %q: %w", key.AgentID, err)
	}
	c.ports.Release(key.String())

	if err := c.proxy.Reconcile(ctx); err != nil {
		c.logger.Warn("proxy reconcile failed after agent delete", "agent_id", key.AgentID, "error", err)
	}

	if agent.ComposePath != "" {
		if err := os.Remove(agent.ComposePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove compose file on delete", "compose_path", agent.ComposePath, "error", err)
		}
	}
	return nil
}

func (c *Coordinator) stopRemote(ctx context.Context, hostID, containerName string) error {
	client, err := c.facade.Client(ctx, hostID)
	if err != nil {
		return err
	}
	if err := client.Stop(ctx, containerName, 10); err != nil {
		return err
	}
	return client.Remove(ctx, containerName)
}

func containerNameFor(agent models.Agent) string {
	return compose.ContainerName(agent.Key.AgentID)
}
