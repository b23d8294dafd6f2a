package dockerfacade

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerInfo is the subset of docker inspect/list data callers in
// lifecycle, proxy, retention and the handlers actually need.
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	State  string // "running", "exited", ...
	Labels map[string]string
}

// FindByName returns the container named name on hc's host, or
// (ContainerInfo{}, false) if none exists. Docker prefixes container
// names with "/" internally; the comparison accounts for that.
func (hc *HostClient) FindByName(ctx context.Context, name string) (ContainerInfo, bool, error) {
	listed, err := hc.sdk.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return ContainerInfo{}, false, fmt.Errorf("dockerfacade: list containers on %q: %w", hc.HostID, err)
	}

	target := "/" + name
	for _, c := range listed {
		for _, n := range c.Names {
			if n == target {
				return ContainerInfo{
					ID:     c.ID,
					Name:   name,
					Image:  c.Image,
					State:  c.State,
					Labels: c.Labels,
				}, true, nil
			}
		}
	}
	return ContainerInfo{}, false, nil
}

// ListAll returns every container on hc's host, used by callers that
// need to filter on label *presence* (e.g. "has an agent_id label at
// all") rather than an exact label value, which Docker's list filter
// cannot express.
func (hc *HostClient) ListAll(ctx context.Context) ([]ContainerInfo, error) {
	listed, err := hc.sdk.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("dockerfacade: list containers on %q: %w", hc.HostID, err)
	}
	out := make([]ContainerInfo, 0, len(listed))
	for _, c := range listed {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0][1:]
		}
		out = append(out, ContainerInfo{ID: c.ID, Name: name, Image: c.Image, State: c.State, Labels: c.Labels})
	}
	return out, nil
}

// ListByLabel returns every container on hc's host carrying labelKey=labelValue,
// for enumerating agents by deployment group or template without needing
// the registry.
func (hc *HostClient) ListByLabel(ctx context.Context, labelKey, labelValue string) ([]ContainerInfo, error) {
	listed, err := hc.sdk.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelKey+"="+labelValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("dockerfacade: list containers by label on %q: %w", hc.HostID, err)
	}
	out := make([]ContainerInfo, 0, len(listed))
	for _, c := range listed {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0][1:]
		}
		out = append(out, ContainerInfo{ID: c.ID, Name: name, Image: c.Image, State: c.State, Labels: c.Labels})
	}
	return out, nil
}

// CreateArgs groups the parameters for creating an agent container, kept
// as a struct (teacher's NginxContainerConfigArgs pattern) so the
// function signature stays stable as agents gain more config knobs.
type CreateArgs struct {
	ContainerName string
	Image         string
	Env           []string
	PortBindings  map[string]string // containerPort -> hostPort, e.g. "8080/tcp" -> "8091"
	Binds         []string          // "host:container[:ro]"
	Labels        map[string]string
	NetworkName   string
	Entrypoint    []string
	Cmd           []string
}

// CreateAndStart pulls Image (on every call, whether or not a local copy
// exists), creates a container per args, and starts it. Pull-then-create-then-start mirrors the teacher's
// CreateAndStartNginxContainer: an agent container is treated as
// disposable infrastructure, recreated rather than mutated on update.
func (hc *HostClient) CreateAndStart(ctx context.Context, args CreateArgs) (string, error) {
	if err := hc.pullImageIfNotPresent(ctx, args.Image); err != nil {
		return "", fmt.Errorf("dockerfacade: pull image %q: %w", args.Image, err)
	}

	portSet, portBindings := buildPortBindings(args.PortBindings)

	binds := args.Binds
	mounts := make([]string, 0, len(binds))
	mounts = append(mounts, binds...)

	hostConfig := &container.HostConfig{
		Binds:         mounts,
		PortBindings:  portBindings,
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}

	internalConfig := &container.Config{
		Image:        args.Image,
		Env:          args.Env,
		Labels:       args.Labels,
		ExposedPorts: portSet,
		Entrypoint:   args.Entrypoint,
		Cmd:          args.Cmd,
	}

	var networkingConfig *network.NetworkingConfig
	if args.NetworkName != "" {
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{args.NetworkName: {}},
		}
	}

	var platform *v1.Platform = nil

	resp, err := hc.sdk.ContainerCreate(ctx, internalConfig, hostConfig, networkingConfig, platform, args.ContainerName)
	if err != nil {
		return "", fmt.Errorf("dockerfacade: create container %q on %q: %w", args.ContainerName, hc.HostID, err)
	}

	if err := hc.sdk.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("dockerfacade: start container %q on %q: %w", args.ContainerName, hc.HostID, err)
	}

	hc.logger.Info("container created and started", "container_id", shortID(resp.ID), "container_name", args.ContainerName)
	return resp.ID, nil
}

// Stop sends SIGTERM (then SIGKILL after timeout) to the named
// container. It is a no-op, not an error, if the container does not
// exist — the desired end state is already satisfied.
func (hc *HostClient) Stop(ctx context.Context, containerName string, timeout int) error {
	info, ok, err := hc.FindByName(ctx, containerName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := hc.sdk.ContainerStop(ctx, info.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockerfacade: stop container %q on %q: %w", containerName, hc.HostID, err)
	}
	return nil
}

// Remove deletes the named container, stopping it first if running. A
// missing container is not an error for the same reason as Stop.
func (hc *HostClient) Remove(ctx context.Context, containerName string) error {
	info, ok, err := hc.FindByName(ctx, containerName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if info.State == "running" {
		timeout := 10
		if err := hc.sdk.ContainerStop(ctx, info.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("dockerfacade: stop container %q before remove on %q: %w", containerName, hc.HostID, err)
		}
	}
	if err := hc.sdk.ContainerRemove(ctx, info.ID, container.RemoveOptions{RemoveVolumes: false, Force: false}); err != nil {
		return fmt.Errorf("dockerfacade: remove container %q on %q: %w", containerName, hc.HostID, err)
	}
	hc.logger.Info("container stopped and removed", "container_name", containerName)
	return nil
}

// ContainerState is the subset of a container inspect result the
// crash-recovery loop needs to judge whether a stopped container is a
// crash, a consensual shutdown, or an in-progress deployment.
type ContainerState struct {
	ID         string
	State      string // "running", "exited", ...
	ExitCode   int
	FinishedAt time.Time
}

// InspectState returns containerName's current state and exit
// information, or (ContainerState{}, false, nil) if it does not exist.
func (hc *HostClient) InspectState(ctx context.Context, containerName string) (ContainerState, bool, error) {
	info, ok, err := hc.FindByName(ctx, containerName)
	if err != nil {
		return ContainerState{}, false, err
	}
	if !ok {
		return ContainerState{}, false, nil
	}

	inspect, err := hc.sdk.ContainerInspect(ctx, info.ID)
	if err != nil {
		return ContainerState{}, false, fmt.Errorf("dockerfacade: inspect container %q on %q: %w", containerName, hc.HostID, err)
	}
	state := ContainerState{ID: info.ID, State: inspect.State.Status, ExitCode: inspect.State.ExitCode}
	if finishedAt, parseErr := time.Parse(time.RFC3339Nano, inspect.State.FinishedAt); parseErr == nil {
		state.FinishedAt = finishedAt
	}
	return state, true, nil
}

// Restart stops then starts the named container without recreating it,
// so the container keeps its existing image, environment and mounts.
func (hc *HostClient) Restart(ctx context.Context, containerName string, timeout int) error {
	info, ok, err := hc.FindByName(ctx, containerName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dockerfacade: container %q not found on %q", containerName, hc.HostID)
	}
	if err := hc.sdk.ContainerRestart(ctx, info.ID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockerfacade: restart container %q on %q: %w", containerName, hc.HostID, err)
	}
	return nil
}

// Exec runs cmd inside the named container and returns combined
// stdout+stderr. Used by the remote-host reverse-proxy reconciler path,
// where there is no local filesystem to temp-file-and-rename onto.
func (hc *HostClient) Exec(ctx context.Context, containerName string, cmd []string) (string, error) {
	info, ok, err := hc.FindByName(ctx, containerName)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("dockerfacade: container %q not found on %q", containerName, hc.HostID)
	}

	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := hc.sdk.ContainerExecCreate(ctx, info.ID, execCfg)
	if err != nil {
		return "", fmt.Errorf("dockerfacade: exec create in %q on %q: %w", containerName, hc.HostID, err)
	}

	attached, err := hc.sdk.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("dockerfacade: exec attach in %q on %q: %w", containerName, hc.HostID, err)
	}
	defer attached.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, attached.Reader); err != nil {
		return "", fmt.Errorf("dockerfacade: read exec output in %q on %q: %w", containerName, hc.HostID, err)
	}

	inspect, err := hc.sdk.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return buf.String(), fmt.Errorf("dockerfacade: exec inspect in %q on %q: %w", containerName, hc.HostID, err)
	}
	if inspect.ExitCode != 0 {
		return buf.String(), fmt.Errorf("dockerfacade: exec in %q on %q exited %d", containerName, hc.HostID, inspect.ExitCode)
	}
	return buf.String(), nil
}

// pullImageIfNotPresent pulls imageName unconditionally; it does not
// check for a local copy first.
func (hc *HostClient) pullImageIfNotPresent(ctx context.Context, imageName string) error {
	hc.logger.Info("pulling docker image", "image", imageName)
	stream, err := hc.sdk.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("initiate image pull for %q: %w", imageName, err)
	}
	defer stream.Close()

	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("stream image pull response for %q: %w", imageName, err)
	}
	hc.logger.Info("docker image pulled and ready", "image", imageName)
	return nil
}

func buildPortBindings(mapping map[string]string) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet, len(mapping))
	bindings := make(nat.PortMap, len(mapping))
	for containerPort, hostPort := range mapping {
		p := nat.Port(containerPort)
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return exposed, bindings
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
