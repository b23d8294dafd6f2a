// Package compose implements C2: rendering and parsing an agent's
// docker-compose.yml. Grounded on
// original_source/ciris_manager/compose_generator.py, translated from a
// dict-building function into a typed struct that gopkg.in/yaml.v3
// marshals directly, so the rendered file can never drift from what
// dockerfacade and lifecycle believe an agent's compose shape is.
package compose

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// Spec is the set of inputs needed to render one agent's compose file.
// It intentionally excludes anything the registry/cipher already own
// (service tokens, admin passwords are injected into env by lifecycle,
// not rendered here in plaintext).
type Spec struct {
	AgentID         string
	AgentDir        string
	Image           string
	Port            int
	Template        string
	DeploymentGroup string
	Environment     map[string]string
	OAuthVolumeHost string
	MockLLM         bool

	// AdapterConfigs are the wizard-configured adapters (spec §4.2);
	// each enabled entry both contributes its name to CIRIS_ADAPTER and
	// has its EnvVars merged into the rendered environment.
	AdapterConfigs map[string]models.AdapterConfig
	BillingEnabled bool
	BillingAPIKey  string
}

// File is the root of a rendered docker-compose.yml.
type File struct {
	Version  string             `yaml:"version"`
	Services map[string]Service `yaml:"services"`
	Networks map[string]Network `yaml:"networks"`
}

// Service is a single docker-compose service block.
type Service struct {
	ContainerName string            `yaml:"container_name"`
	Image         string            `yaml:"image"`
	Platform      string            `yaml:"platform"`
	Ports         []string          `yaml:"ports"`
	Entrypoint    []string          `yaml:"entrypoint"`
	Command       []string          `yaml:"command"`
	Environment   map[string]string `yaml:"environment"`
	Volumes       []string          `yaml:"volumes"`
	Restart       string            `yaml:"restart"`
	Healthcheck   Healthcheck       `yaml:"healthcheck"`
	Logging       Logging           `yaml:"logging"`
	Labels        map[string]string `yaml:"labels"`
}

// Healthcheck mirrors docker-compose's healthcheck block.
type Healthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

// Logging mirrors docker-compose's logging block, pinned to json-file
// with rotation so a runaway agent never fills the host disk with logs.
type Logging struct {
	Driver  string            `yaml:"driver"`
	Options map[string]string `yaml:"options"`
}

// Network is a single docker-compose network block.
type Network struct {
	Name string `yaml:"name"`
}

const (
	containerAPIPort = "8080"
)

// ContainerName returns the container name an agent's compose service is
// rendered under, shared by lifecycle (create/delete/restart) and
// recovery so both agree on the same name without either importing the
// other.
func ContainerName(agentID string) string {
	return "ciris-" + agentID
}

// Render builds the compose File for spec. createdAt is passed in
// rather than computed here (the package avoids time.Now() so the
// output is a pure function of its inputs, which keeps tests
// deterministic and keeps retried/rebuilt compose files byte-stable
// when nothing else changed).
func Render(spec Spec, createdAt string) File {
	env := map[string]string{
		"CIRIS_AGENT_ID":          spec.AgentID,
		"CIRIS_TEMPLATE":          spec.Template,
		"CIRIS_API_HOST":          "0.0.0.0",
		"CIRIS_API_PORT":          containerAPIPort,
		"OAUTH_CALLBACK_BASE_URL": "https://agents.ciris.ai",
	}
	if spec.MockLLM {
		env["CIRIS_MOCK_LLM"] = "true"
	}

	if spec.BillingEnabled {
		env["CIRIS_BILLING_ENABLED"] = "true"
		if spec.BillingAPIKey != "" {
			env["CIRIS_BILLING_API_KEY"] = spec.BillingAPIKey
		}
	} else {
		env["CIRIS_BILLING_ENABLED"] = "false"
	}

	for k, v := range spec.Environment {
		env[k] = v
	}

	env["CIRIS_ADAPTER"] = strings.Join(adapterChannels(env, spec.AdapterConfigs), ",")

	deploymentGroup := spec.DeploymentGroup
	if deploymentGroup == "" {
		deploymentGroup = "general"
	}

	service := Service{
		ContainerName: ContainerName(spec.AgentID),
		Image:         spec.Image,
		Platform:      "linux/amd64",
		Ports:         []string{fmt.Sprintf("%d:%s", spec.Port, containerAPIPort)},
		Entrypoint:    []string{"/init_permissions.sh"},
		Command:       []string{"python", "main.py", "--template", spec.Template},
		Environment:   env,
		Volumes:       buildVolumes(spec.AgentDir, spec.OAuthVolumeHost),
		Restart:       "no",
		Healthcheck: Healthcheck{
			Test:        []string{"CMD", "curl", "-f", "http://localhost:8080/v1/system/health"},
			Interval:    "30s",
			Timeout:     "10s",
			Retries:     3,
			StartPeriod: "40s",
		},
		Logging: Logging{
			Driver:  "json-file",
			Options: map[string]string{"max-size": "10m", "max-file": "3"},
		},
		Labels: map[string]string{
			"ai.ciris.agents.id":               spec.AgentID,
			"ai.ciris.agents.created":          createdAt,
			"ai.ciris.agents.template":         spec.Template,
			"ai.ciris.agents.deployment_group": deploymentGroup,
		},
	}

	return File{
		Version:  "3.8",
		Services: map[string]Service{spec.AgentID: service},
		Networks: map[string]Network{"default": {Name: "ciris-" + spec.AgentID + "-network"}},
	}
}

// discordTokenKeys mirrors the original generator's discord_token_keys
// check: either env var, if present and non-empty, counts as "a bot
// token is present".
var discordTokenKeys = []string{"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"}

// adapterChannels computes the comma-joined CIRIS_ADAPTER channel list
// (spec §4.2): "api" is always present, "discord" is added iff one of
// discordTokenKeys is set in env, and every enabled entry of configs
// contributes its map key, merging its EnvVars into env as it goes.
// configs is walked in sorted key order so the resulting channel list
// (and therefore the rendered compose file) is deterministic.
func adapterChannels(env map[string]string, configs map[string]models.AdapterConfig) []string {
	channels := []string{"api"}

	for _, key := range discordTokenKeys {
		if env[key] != "" {
			channels = append(channels, "discord")
			break
		}
	}

	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := configs[name]
		if !cfg.Enabled {
			continue
		}
		for k, v := range cfg.EnvVars {
			env[k] = v
		}
		channels = append(channels, name)
	}

	return channels
}

func buildVolumes(agentDir, oauthVolumeHost string) []string {
	return []string{
		agentDir + "/data:/app/data",
		agentDir + "/data_archive:/app/data_archive",
		agentDir + "/logs:/app/logs",
		agentDir + "/config:/app/config",
		agentDir + "/audit_keys:/app/audit_keys",
		agentDir + "/.secrets:/app/.secrets",
		agentDir + "/init_permissions.sh:/init_permissions.sh:ro",
		oauthVolumeHost + ":/home/ciris/shared/oauth:ro",
	}
}

// Marshal renders f to the on-disk YAML form used by both the local
// docker-compose CLI path and the remote docker-exec path.
func Marshal(f File) ([]byte, error) {
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("compose: marshal: %w", err)
	}
	return out, nil
}

// Parse reads an existing compose file back into a File, used when an
// agent's persisted compose file is rewritten or re-launched (the
// lifecycle coordinator's config update and restart, and the deployment
// orchestrator's container swap).
func Parse(data []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("compose: parse: %w", err)
	}
	return f, nil
}

// ImageFor returns the image configured for agentID's service within f,
// or "" if the service is absent.
func ImageFor(f File, agentID string) string {
	svc, ok := f.Services[agentID]
	if !ok {
		return ""
	}
	return svc.Image
}

// PortFor returns the host port mapped to the container's API port
// within f's service for agentID, or 0 if not found or unparseable.
func PortFor(f File, agentID string) int {
	svc, ok := f.Services[agentID]
	if !ok {
		return 0
	}
	suffix := ":" + containerAPIPort
	for _, p := range svc.Ports {
		var host int
		if n, err := fmt.Sscanf(p, "%d"+suffix, &host); err == nil && n == 1 {
			return host
		}
	}
	return 0
}
