package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// Restart relaunches key's agent from its existing compose file, the
// same dispatch path Create uses to start a brand-new one (spec §4.6,
// referenced by §4.7's "restart via the same dispatch path as create,
// reusing the existing compose"). It does not touch the registry, the
// port allocation, or the compose file itself — only the container.
func (c *Coordinator) Restart(ctx context.Context, key models.AgentKey) error {
	agent, err := c.reg.Get(key)
	if err != nil {
		return err
	}
	host, ok := c.facade.Host(key.HostID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown host %q for agent %q", key.HostID, key.AgentID)
	}

	if host.IsLocal {
		return startLocal(ctx, agent.ComposePath)
	}

	data, err := os.ReadFile(agent.ComposePath)
	if err != nil {
		return fmt.Errorf("lifecycle: read compose file %q: %w", agent.ComposePath, err)
	}
	file, err := compose.Parse(data)
	if err != nil {
		return fmt.Errorf("lifecycle: parse compose file %q: %w", agent.ComposePath, err)
	}

	client, err := c.facade.Client(ctx, key.HostID)
	if err != nil {
		return err
	}
	// The crashed container still exists in an "exited" state; remove it
	// before recreating, since CreateAndStart always creates fresh rather
	// than reusing an existing container by name.
	if err := client.Remove(ctx, containerNameFor(agent)); err != nil {
		return err
	}

	_, err = c.startRemote(ctx, key.HostID, key.AgentID, file)
	return err
}

// Stop halts key's agent container without unregistering it, releasing
// its port, or touching its compose file — the control-plane's stop
// operation, distinct from Delete (spec §4.10: "CRUD on agents;
// start/stop/restart"). The remote path reuses stopRemote, the same
// stop-then-remove helper Delete uses: Restart's remote path already
// assumes the container was removed before recreating it, so a prior
// Stop leaves the agent in exactly the state Restart expects to find.
func (c *Coordinator) Stop(ctx context.Context, key models.AgentKey) error {
	agent, err := c.reg.Get(key)
	if err != nil {
		return err
	}
	host, ok := c.facade.Host(key.HostID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown host %q for agent %q", key.HostID, key.AgentID)
	}
	if host.IsLocal {
		return stopLocal(ctx, agent.ComposePath)
	}
	return c.stopRemote(ctx, key.HostID, containerNameFor(agent))
}

// Start brings a stopped agent back up, reusing Restart's dispatch
// since both recreate/compose-up from the existing compose file — the
// control-plane exposes the two as separate verbs (spec §4.10) even
// though the underlying operation is identical.
func (c *Coordinator) Start(ctx context.Context, key models.AgentKey) error {
	return c.Restart(ctx, key)
}
