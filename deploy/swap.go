package deploy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/agentapi"
	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/util"
)

const agentAPITimeout = 10 * time.Second

// agentClient builds the typed HTTP client for agent's API, using the
// same local/VPC/hostname address resolution lifecycle.hostAddress
// applies, duplicated here rather than imported since lifecycle's
// version is unexported and the two packages intentionally share no
// dependency edge (deploy depends on dockerfacade/registry/agentapi/
// compose, never on lifecycle, keeping the dependency graph acyclic and
// each package's surface independently testable).
func (o *Orchestrator) agentClient(agent models.Agent) (*agentapi.Client, error) {
	host, ok := o.facade.Host(agent.Key.HostID)
	if !ok {
		return nil, fmt.Errorf("deploy: unknown host %q for agent %q", agent.Key.HostID, agent.Key.AgentID)
	}
	addr := host.Hostname
	if host.IsLocal {
		addr = "localhost"
	} else if host.VPCIP != "" {
		addr = host.VPCIP
	}
	return agentapi.New(fmt.Sprintf("http://%s:%d", addr, agent.Port), agentAPITimeout), nil
}

// swapAgent performs spec §4.8 step 4's container swap: stop the
// running container (bounded timeout), recreate it from the agent's
// existing compose file with image overridden to newImage, and persist
// the rewritten compose file. It returns once the new container has been
// started; it does not wait for the container to report healthy. It does
// not touch the registry's version slots — callers rotate those only
// after a successful swap.
func (o *Orchestrator) swapAgent(ctx context.Context, agent models.Agent, newImage string) error {
	host, ok := o.facade.Host(agent.Key.HostID)
	if !ok {
		return fmt.Errorf("deploy: unknown host %q for agent %q", agent.Key.HostID, agent.Key.AgentID)
	}

	data, err := os.ReadFile(agent.ComposePath)
	if err != nil {
		return fmt.Errorf("deploy: read compose file %q: %w", agent.ComposePath, err)
	}
	file, err := compose.Parse(data)
	if err != nil {
		return fmt.Errorf("deploy: parse compose file %q: %w", agent.ComposePath, err)
	}
	svc, ok := file.Services[agent.Key.AgentID]
	if !ok {
		return fmt.Errorf("deploy: compose file %q has no service %q", agent.ComposePath, agent.Key.AgentID)
	}
	svc.Image = newImage
	file.Services[agent.Key.AgentID] = svc

	client, err := o.facade.Client(ctx, host.HostID)
	if err != nil {
		return fmt.Errorf("deploy: connect to host %q: %w", host.HostID, err)
	}
	containerName := compose.ContainerName(agent.Key.AgentID)

	if err := client.Stop(ctx, containerName, 30); err != nil {
		return fmt.Errorf("deploy: stop %q: %w", containerName, err)
	}
	if err := client.Remove(ctx, containerName); err != nil {
		return fmt.Errorf("deploy: remove %q: %w", containerName, err)
	}

	args, err := compose.ToCreateArgs(file, agent.Key.AgentID)
	if err != nil {
		return err
	}
	if _, err := client.CreateAndStart(ctx, args); err != nil {
		return fmt.Errorf("deploy: recreate %q with image %q: %w", containerName, newImage, err)
	}

	rewritten, err := compose.Marshal(file)
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(agent.ComposePath, rewritten, 0o644); err != nil {
		return fmt.Errorf("deploy: persist rewritten compose file %q: %w", agent.ComposePath, err)
	}
	return nil
}
