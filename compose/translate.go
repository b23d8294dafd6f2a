package compose

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
)

// ToCreateArgs translates the rendered compose service for agentID into
// dockerfacade.CreateArgs, used by both the lifecycle coordinator's
// remote-host start-dispatch path and the deployment orchestrator's
// container-swap path (spec §4.6 Start dispatch: "parse the compose
// document, translate to Docker API arguments"). Bind-mount sources are
// not translated here — they already point at the right agent directory
// because the caller rendered the compose document with that directory
// as Spec.AgentDir in the first place.
func ToCreateArgs(f File, agentID string) (dockerfacade.CreateArgs, error) {
	svc, ok := f.Services[agentID]
	if !ok {
		return dockerfacade.CreateArgs{}, fmt.Errorf("compose: document has no service %q", agentID)
	}

	portBindings, err := portBindingsFromCompose(svc.Ports)
	if err != nil {
		return dockerfacade.CreateArgs{}, err
	}

	networkName := ""
	if net, ok := f.Networks["default"]; ok {
		networkName = net.Name
	}

	return dockerfacade.CreateArgs{
		ContainerName: svc.ContainerName,
		Image:         svc.Image,
		Env:           envSliceFromMap(svc.Environment),
		PortBindings:  portBindings,
		Binds:         svc.Volumes,
		Labels:        svc.Labels,
		NetworkName:   networkName,
		Entrypoint:    svc.Entrypoint,
		Cmd:           svc.Command,
	}, nil
}

// portBindingsFromCompose parses compose-style "hostPort:containerPort"
// strings into the containerPort/tcp -> hostPort map CreateArgs expects.
func portBindingsFromCompose(ports []string) (map[string]string, error) {
	out := make(map[string]string, len(ports))
	for _, p := range ports {
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("compose: malformed port mapping %q", p)
		}
		hostPort, containerPort := parts[0], parts[1]
		if _, err := strconv.Atoi(hostPort); err != nil {
			return nil, fmt.Errorf("compose: malformed host port %q: %w", p, err)
		}
		out[containerPort+"/tcp"] = hostPort
	}
	return out, nil
}

func envSliceFromMap(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
