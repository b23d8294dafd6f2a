package proxy

import (
	"context"
	"fmt"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
	"github.com/sasta-kro/ciris-fleet-manager/util"
)

// agentIDLabel is the Docker label the compose renderer stamps on every
// agent container, used here to discover the live agent set per host
// without depending on the registry being perfectly in sync (spec §4.5
// step 1: "discovered via C3 labels, joined with C4 for host_id").
const agentIDLabel = "ai.ciris.agents.id"

// Reconciler installs a generated nginx configuration on every
// configured host, reflecting the agents currently running there.
type Reconciler struct {
	facade          *dockerfacade.Facade
	reg             *registry.Registry
	localConfigPath string
	proxyContainer  string
	remoteConfPath  string // path inside the remote proxy container
}

// New constructs a Reconciler. localConfigPath is where the local host's
// config file is atomically written (e.g. "/etc/nginx/conf.d/ciris-routes.conf").
// proxyContainer is the container on each remote host that the config
// is written into and reloaded by exec; the local proxy is not reloaded
// by this package.
func New(facade *dockerfacade.Facade, reg *registry.Registry, localConfigPath, proxyContainer string) *Reconciler {
	return &Reconciler{
		facade:          facade,
		reg:             reg,
		localConfigPath: localConfigPath,
		proxyContainer:  proxyContainer,
		remoteConfPath:  "/etc/nginx/conf.d/ciris-routes.conf",
	}
}

// Reconcile runs the full algorithm from spec §4.5: discover every
// agent on every host, group by host_id, render and install one config
// per host. A failure on one host is recorded but does not prevent the
// reconciler from attempting the remaining hosts; the first error seen
// is returned so the caller can report overall failure (step 4: "report
// success iff every host succeeded").
func (r *Reconciler) Reconcile(ctx context.Context) error {
	byHost := r.discover(ctx)

	var firstErr error
	for _, hostID := range r.facade.HostIDs() {
		cfg := HostConfig{HostID: hostID, Agents: byHost[hostID]}
		rendered := Render(cfg)

		isLocal, err := r.facade.IsLocal(hostID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if isLocal {
			err = r.installLocal(rendered)
		} else {
			err = r.installRemote(ctx, hostID, rendered)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		metrics.ReconcileTotal.WithLabelValues("failure").Inc()
	} else {
		metrics.ReconcileTotal.WithLabelValues("success").Inc()
	}
	return firstErr
}

// discover lists every running agent container on every reachable host, grouped
// by host_id, and resolves each container's port from the registry (the
// registry is the only place a host port lives; the container's own
// PortBindings are not inspected here since the port never changes
// independently of what lifecycle recorded at create time).
func (r *Reconciler) discover(ctx context.Context) map[string][]AgentRoute {
	portByAgentID := make(map[string]int)
	for _, a := range r.reg.List() {
		portByAgentID[a.Key.AgentID] = a.Port
	}

	byHost := make(map[string][]AgentRoute)
	for _, hostID := range r.facade.HostIDs() {
		client, err := r.facade.Client(ctx, hostID)
		if err != nil {
			// An unreachable host contributes nothing new to route to;
			// the other hosts must still be reconciled.
			continue
		}
		containers, err := client.ListAll(ctx)
		if err != nil {
			continue
		}
		for _, c := range containers {
			if c.State != "running" {
				continue
			}
			agentID, ok := c.Labels[agentIDLabel]
			if !ok {
				continue
			}
			port, ok := portByAgentID[agentID]
			if !ok {
				continue
			}
			byHost[hostID] = append(byHost[hostID], AgentRoute{AgentID: agentID, Port: port})
		}
	}
	return byHost
}

// installLocal writes rendered atomically to localConfigPath. It does
// not validate the new config or reload the local proxy container, and
// no caller does either; the local proxy picks up the file only when it
// next reloads by other means.
func (r *Reconciler) installLocal(rendered string) error {
	if err := util.WriteFileAtomic(r.localConfigPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("proxy: write local config %q: %w", r.localConfigPath, err)
	}
	return nil
}

// installRemote serializes rendered into the remote proxy container via
// docker exec, validating before reload so a bad config never takes
// down the currently-serving one.
func (r *Reconciler) installRemote(ctx context.Context, hostID, rendered string) error {
	client, err := r.facade.Client(ctx, hostID)
	if err != nil {
		return fmt.Errorf("proxy: connect to host %q: %w", hostID, err)
	}

	script := fmt.Sprintf("cat > %s << 'EOF'\n%s\nEOF\nnginx -t && nginx -s reload\n", r.remoteConfPath, rendered)
	if _, err := client.Exec(ctx, r.proxyContainer, []string{"sh", "-c", script}); err != nil {
		r.facade.Invalidate(hostID, err)
		return fmt.Errorf("proxy: install config on host %q: %w", hostID, err)
	}
	return nil
}
