package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// UpdateConfigRequest describes an environment-variable merge (spec
// §4.6 Update config). A value of "" in Changes deletes that key from
// the compose environment rather than setting it to empty, matching the
// spec's "a value set to null/empty deletes the key" rule.
type UpdateConfigRequest struct {
	Changes []EnvChange
	Restart bool
}

// EnvChange is one key's new value, or its removal when Remove is true.
type EnvChange struct {
	Key    string
	Value  string
	Remove bool
}

// UpdateConfig merges Changes into the agent's compose environment,
// rewrites the compose file, and optionally restarts the container
// through the same local/remote dispatch split as create.
func (c *Coordinator) UpdateConfig(ctx context.Context, key models.AgentKey, req UpdateConfigRequest) error {
	agent, err := c.reg.Get(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(agent.ComposePath)
	if err != nil {
		return fmt.Errorf("lifecycle: read compose file %q: %w", agent.ComposePath, err)
	}
	file, err := compose.Parse(data)
	if err != nil {
		return fmt.Errorf("lifecycle: parse compose file %q: %w", agent.ComposePath, err)
	}

	svc, ok := file.Services[key.AgentID]
	if !ok {
		return fmt.Errorf("lifecycle: compose file %q has no service %q", agent.ComposePath, key.AgentID)
	}
	if svc.Environment == nil {
		svc.Environment = map[string]string{}
	}
	for _, change := range req.Changes {
		if change.Remove || change.Value == "" {
			delete(svc.Environment, change.Key)
			continue
		}
		svc.Environment[change.Key] = change.Value
	}
	file.Services[key.AgentID] = svc

	rewritten, err := compose.Marshal(file)
	if err != nil {
		return err
	}
	if err := writeComposeFile(agent.ComposePath, rewritten); err != nil {
		return err
	}

	if !req.Restart {
		return nil
	}

	host, ok := c.facade.Host(key.HostID)
	if !ok {
		return fmt.Errorf("lifecycle: unknown host %q for agent %q", key.HostID, key.AgentID)
	}
	if host.IsLocal {
		if err := stopLocal(ctx, agent.ComposePath); err != nil {
			return err
		}
		return startLocal(ctx, agent.ComposePath)
	}

	client, err := c.facade.Client(ctx, key.HostID)
	if err != nil {
		return err
	}
	// Recreate the container from the rewritten compose file, as Restart
	// does; a bare docker restart would keep the old environment.
	if err := client.Remove(ctx, containerNameFor(agent)); err != nil {
		return err
	}
	_, err = c.startRemote(ctx, key.HostID, key.AgentID, file)
	return err
}
