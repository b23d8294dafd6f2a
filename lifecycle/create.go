package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/compose"
	"github.com/sasta-kro/ciris-fleet-manager/fleeterrors"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/util"
)

// CreateRequest is the operator-supplied intent for a new agent (spec
// §4.6 Create).
type CreateRequest struct {
	Name            string
	Template        string
	HostID          string // defaults to "main"
	OccurrenceID    string
	WASignature     string
	DeploymentGroup string
	Environment     map[string]string
	DoNotAutostart  bool

	// AdapterConfigs are wizard-configured adapters (spec §4.2); each
	// enabled entry adds its name to the rendered CIRIS_ADAPTER channel
	// list and has its env vars merged into the compose environment.
	AdapterConfigs map[string]models.AdapterConfig
}

// CreateResult is the response spec §4.6 step 14 describes.
type CreateResult struct {
	AgentID       string `json:"agent_id"`
	ContainerName string `json:"container_name"`
	Port          int    `json:"port"`
	Endpoint      string `json:"endpoint"`
	ComposePath   string `json:"compose_path"`
	Status        string `json:"status"`
}

// Create runs the full agent creation sequence from spec §4.6: validate
// the template, resolve the host, generate identity and secrets,
// materialize directories, render and persist the compose file, persist
// the registry entry before starting the container, start it, rotate
// the default admin password, and trigger a proxy reconcile.
//
// A failure up to and including the registry write releases the port
// and returns the error. A failure to start the container is not
// unwound: the registry entry and port allocation stay in place, a
// warning is logged, and the result carries Status "start_failed". The
// crash-recovery loop does not start a container that was never
// created, so such an agent stays down until Start or Restart is called.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	hostID := req.HostID
	if hostID == "" {
		hostID = "main"
	}

	templatePath, err := resolveTemplate(c.cfg.TemplatesDir, req.Template)
	if err != nil {
		return CreateResult{}, err
	}
	m, err := loadManifest(c.cfg.ManifestPath)
	if err != nil {
		return CreateResult{}, err
	}
	if err := checkApproval(m, req.Template, templatePath, req.WASignature); err != nil {
		return CreateResult{}, err
	}

	host, ok := c.facade.Host(hostID)
	if !ok {
		return CreateResult{}, fleeterrors.Newf(fleeterrors.CodeValidation, "unknown host %q", hostID)
	}

	agentID := generateAgentID(req.Name)
	key := models.AgentKey{AgentID: agentID, OccurrenceID: req.OccurrenceID, HostID: hostID}

	secrets, err := generateSecrets()
	if err != nil {
		return CreateResult{}, err
	}
	encryptedToken, encryptedPassword, err := encryptSecrets(c.cipherKey, key, secrets)
	if err != nil {
		return CreateResult{}, err
	}

	port, err := c.ports.Allocate(key.String())
	if err != nil {
		return CreateResult{}, fleeterrors.New(fleeterrors.CodeValidation, err)
	}

	localAgentDir := filepath.Join(c.cfg.AgentsDir, agentID)
	remoteAgentDir := fmt.Sprintf("/opt/%s/agents/%s", c.cfg.ContainerNamePrefix, agentID)
	initScriptSrc := filepath.Join(c.cfg.TemplatesDir, "init_permissions.sh")

	if err := materializeLocalDir(localAgentDir, initScriptSrc); err != nil {
		c.ports.Release(key.String())
		return CreateResult{}, err
	}

	renderDir := localAgentDir
	if !host.IsLocal {
		renderDir = remoteAgentDir
	}

	image := c.cfg.DefaultImage
	spec := compose.Spec{
		AgentID:         agentID,
		AgentDir:        renderDir,
		Image:           image,
		Port:            port,
		Template:        req.Template,
		DeploymentGroup: req.DeploymentGroup,
		Environment:     req.Environment,
		OAuthVolumeHost: c.cfg.OAuthVolumeHost,
		MockLLM:         c.cfg.MockLLM,
		AdapterConfigs:  req.AdapterConfigs,
		BillingEnabled:  c.cfg.BillingEnabled,
		BillingAPIKey:   c.cfg.BillingAPIKey,
	}
	file := compose.Render(spec, time.Now().UTC().Format(time.RFC3339))

	composeData, err := compose.Marshal(file)
	if err != nil {
		c.ports.Release(key.String())
		return CreateResult{}, err
	}
	composePath := filepath.Join(localAgentDir, "docker-compose.yml")
	if err := writeComposeFile(composePath, composeData); err != nil {
		c.ports.Release(key.String())
		return CreateResult{}, err
	}

	if !host.IsLocal {
		initScriptContents, readErr := readInitScript(initScriptSrc)
		if readErr == nil {
			if err := c.dirs.materializeRemote(ctx, hostID, c.proxyContainerName(), remoteAgentDir, initScriptContents); err != nil {
				c.ports.Release(key.String())
				return CreateResult{}, err
			}
		}
	}

	agent := models.Agent{
		Key:                    key,
		Name:                   req.Name,
		Template:               req.Template,
		Port:                   port,
		ComposePath:            composePath,
		EncryptedServiceToken:  encryptedToken,
		EncryptedAdminPassword: encryptedPassword,
		DoNotAutostart:         req.DoNotAutostart,
		OAuthStatus:            models.OAuthPending,
		Versions:               models.VersionSlots{Current: image},
	}
	agent.Metadata = make(map[string]string, len(req.Environment)+1)
	for k, v := range req.Environment {
		agent.Metadata[k] = v
	}
	if req.DeploymentGroup != "" {
		agent.Metadata["deployment_group"] = req.DeploymentGroup
	}

	// Registry write happens before the container starts (spec §4.6 step
	// 10): a crash between these two lines leaves a registered-but-not-
	// running agent, which Start or Restart can bring up from its compose
	// file, rather than a running container the registry never knew
	// about.
	if err := c.reg.Create(agent); err != nil {
		c.ports.Release(key.String())
		return CreateResult{}, fmt.Errorf("lifecycle: persist registry entry for %q: %w", agentID, err)
	}

	containerName := file.Services[agentID].ContainerName
	var startErr error
	if host.IsLocal {
		startErr = startLocal(ctx, composePath)
	} else {
		_, startErr = c.startRemote(ctx, hostID, agentID, file)
	}
	if startErr != nil {
		// A start failure leaves the partial state and surfaces a
		// non-fatal warning rather than unwinding: the registry entry and
		// port allocation stay, and nothing retries the start
		// automatically.
		c.logger.Warn("agent container failed to start; registry entry and port retained",
			"agent_id", agentID, "host_id", hostID, "error", startErr)
	} else {
		c.rotateDefaultPassword(ctx, host, key, port)
	}

	if err := c.proxy.Reconcile(ctx); err != nil {
		c.logger.Warn("proxy reconcile failed after agent create", "agent_id", agentID, "error", err)
	}

	status := "starting"
	if startErr != nil {
		status = "start_failed"
	}
	return CreateResult{
		AgentID:       agentID,
		ContainerName: containerName,
		Port:          port,
		Endpoint:      fmt.Sprintf("http://%s:%d", hostAddress(host), port),
		ComposePath:   composePath,
		Status:        status,
	}, nil
}

// rotateDefaultPassword implements spec §4.6 step 12: log in with the
// agent's shipped default credentials and set the random admin password
// generated at create time (already persisted, encrypted, under key). A
// failure here is logged as a warning and does not unwind creation — the
// agent stays reachable with the default password and an operator is
// alerted via the log.
func (c *Coordinator) rotateDefaultPassword(ctx context.Context, host models.Host, key models.AgentKey, port int) {
	time.Sleep(2 * time.Second)

	agent, err := c.reg.Get(key)
	if err != nil {
		c.logger.Warn("default admin password rotation skipped: registry lookup failed", "agent_key", key.String(), "error", err)
		return
	}
	plaintext, err := c.cipherKey.Decrypt(agent.EncryptedAdminPassword, []byte(key.String()))
	if err != nil {
		c.logger.Warn("default admin password rotation skipped: decrypt failed", "agent_key", key.String(), "error", err)
		return
	}

	client := newAgentAPIClient(hostAddress(host), port)
	if _, err := client.RotateAdminPassword(ctx, string(plaintext)); err != nil {
		c.logger.Warn("default admin password rotation failed; agent remains reachable with the default password",
			"agent_key", key.String(), "error", err)
	}
}

func (c *Coordinator) proxyContainerName() string {
	return "nginx-proxy"
}

func writeComposeFile(path string, data []byte) error {
	return util.WriteFileAtomic(path, data, 0o644)
}

func readInitScript(path string) ([]byte, error) {
	return os.ReadFile(path)
}
