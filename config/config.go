/*
Package config handles loading and validating the fleet manager's YAML
configuration file, with environment-variable overrides for the handful
of values that are commonly supplied by the deployment environment
(container orchestrator, systemd unit) instead of a checked-in file.
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// PortRange is the allocator's configured window (spec §6).
type PortRange struct {
	Start    int   `yaml:"start"`
	End      int   `yaml:"end"`
	Reserved []int `yaml:"reserved"`
}

// ReverseProxyConfig configures the local nginx-style reverse proxy C5
// reconciles (spec §6).
type ReverseProxyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ConfigDir     string `yaml:"config_dir"`
	ContainerName string `yaml:"container_name"`
}

// RetentionConfig configures C9 (spec §6). CronSchedule is an optional
// standard five-field cron expression ("0 3 * * *") that overrides the
// plain IntervalHours ticker with a calendar schedule (e.g. "run at 3am
// daily" rather than "run every 24h from process start"); left empty,
// retention falls back to the fixed interval.
type RetentionConfig struct {
	VersionsToKeep int    `yaml:"versions_to_keep"`
	IntervalHours  int    `yaml:"interval_hours"`
	CronSchedule   string `yaml:"cron_schedule,omitempty"`
}

// Schedule parses CronSchedule with the standard five-field cron parser
// (grounded on Will-Luck-Docker-Sentinel's api_settings.go schedule
// validation). Returns (nil, nil) when no cron schedule is configured.
func (c RetentionConfig) Schedule() (cron.Schedule, error) {
	if c.CronSchedule == "" {
		return nil, nil
	}
	return cron.ParseStandard(c.CronSchedule)
}

// CrashRecoveryConfig configures C7 (spec §6).
type CrashRecoveryConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	DeploymentWindowMins int `yaml:"deployment_window_minutes"`
}

func (c CrashRecoveryConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c CrashRecoveryConfig) DeploymentWindow() time.Duration {
	return time.Duration(c.DeploymentWindowMins) * time.Minute
}

// DeploymentConfig configures C8's canary health gate timing (spec §4.8
// "Health gate"). These are orchestrator-wide defaults; nothing in the
// spec gives a per-deployment override, so one value applies to every
// canary phase of every deployment.
type DeploymentConfig struct {
	StabilityMinutes    int `yaml:"stability_minutes"`
	WaitForWorkMinutes  int `yaml:"wait_for_work_minutes"`
	HealthPollIntervalS int `yaml:"health_poll_interval_seconds"`
}

func (c DeploymentConfig) Stability() time.Duration {
	return time.Duration(c.StabilityMinutes) * time.Minute
}

func (c DeploymentConfig) WaitForWork() time.Duration {
	return time.Duration(c.WaitForWorkMinutes) * time.Minute
}

func (c DeploymentConfig) HealthPollInterval() time.Duration {
	return time.Duration(c.HealthPollIntervalS) * time.Second
}

// AppConfig holds every configuration value the fleet manager needs. It is
// read once at startup and passed through the app via dependency
// injection; there is no package-level config variable. Callers receive a
// *AppConfig explicitly, making dependencies visible and code easy to
// test in isolation (kept from the teacher's design intent).
type AppConfig struct {
	// Port is the TCP port the control-plane HTTP API listens on.
	Port string `yaml:"port"`

	// AgentsDir is "{agents_dir}" throughout spec §6: the parent of
	// metadata.json and every per-agent directory.
	AgentsDir string `yaml:"agents_dir"`

	// TemplatesDir is where agent compose templates live.
	TemplatesDir string `yaml:"templates_dir"`

	// ManifestPath points at the template pre-approval signature manifest
	// (spec §4.6 step 3).
	ManifestPath string `yaml:"manifest_path"`

	// AuditDBPath is the SQLite file backing the audit store (A3).
	AuditDBPath string `yaml:"audit_db_path"`

	ImageRegistry string `yaml:"image_registry"`
	DefaultImage  string `yaml:"default_image"`

	Ports     PortRange           `yaml:"ports"`
	Proxy     ReverseProxyConfig  `yaml:"reverse_proxy"`
	Retention  RetentionConfig     `yaml:"retention"`
	Recovery   CrashRecoveryConfig `yaml:"crash_recovery"`
	Deployment DeploymentConfig    `yaml:"deployment"`
	Servers    []models.Host       `yaml:"servers"`

	// ContainerNamePrefix names the remote agents directory root
	// "/opt/{prefix}/agents". Container names do not use it: they are
	// always "ciris-{agent_id}" (compose.ContainerName).
	ContainerNamePrefix string `yaml:"container_name_prefix"`

	// LogFormat controls the slog output format: "text" for local
	// development, anything else (including "json", the default) for
	// structured production/Docker log shipping.
	LogFormat string `yaml:"log_format"`

	// TokenCipherKeyPath points at the file holding the 32-byte symmetric
	// key used to encrypt tokens at rest (A4).
	TokenCipherKeyPath string `yaml:"token_cipher_key_path"`

	// AllowedOrigin, left empty, disables CORS headers entirely (the
	// common case: the control-plane API and its callers share an origin
	// behind the reverse proxy). Set it to the dashboard's origin when
	// the two are served separately.
	AllowedOrigin string `yaml:"allowed_origin"`

	// BillingEnabled/BillingAPIKey set the fleet-wide CIRIS_BILLING_*
	// compose environment (spec §4.2), mirroring the original
	// ComposeGenerator.generate_compose's billing_enabled/billing_api_key
	// parameters.
	BillingEnabled bool   `yaml:"billing_enabled"`
	BillingAPIKey  string `yaml:"billing_api_key"`
}

// NewLogger constructs a *slog.Logger based on LogFormat. "text" produces
// human-readable output for local development; anything else produces
// structured JSON suitable for production log shipping. A pointer
// receiver is used because copying AppConfig is unnecessary and every
// other method here would need one too.
func (c *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			if attribute.Key == slog.SourceKey {
				source := attribute.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options)
	}
	return slog.New(handler)
}

// Load reads the YAML configuration file at path, applies defaults for
// anything the file leaves zero-valued, and layers a small set of
// environment-variable overrides on top (PORT, LOG_FORMAT) so container
// orchestrators can override the common knobs without rewriting the
// checked-in file.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Port:                "8888",
		AgentsDir:           "./data/agents",
		TemplatesDir:        "./templates",
		ManifestPath:        "./templates/manifest.json",
		AuditDBPath:         "./data/audit.db",
		ImageRegistry:       "ghcr.io/ciris-ai",
		DefaultImage:        "ciris-agent:latest",
		ContainerNamePrefix: "ciris",
		LogFormat:           "json",
		Ports: PortRange{
			Start:    8080,
			End:      8200,
			Reserved: []int{80, 443, 3000, 8888},
		},
		Proxy: ReverseProxyConfig{
			Enabled:       true,
			ConfigDir:     "/etc/nginx/conf.d",
			ContainerName: "ciris-nginx",
		},
		Retention: RetentionConfig{
			VersionsToKeep: 3,
			IntervalHours:  24,
		},
		Recovery: CrashRecoveryConfig{
			CheckIntervalSeconds: 30,
			DeploymentWindowMins: 5,
		},
		Deployment: DeploymentConfig{
			StabilityMinutes:    2,
			WaitForWorkMinutes:  10,
			HealthPollIntervalS: 15,
		},
		Servers: []models.Host{
			{HostID: "main", Hostname: "localhost", IsLocal: true},
		},
	}
}

func (c *AppConfig) validate() error {
	if c.Ports.Start <= 0 || c.Ports.End <= c.Ports.Start {
		return fmt.Errorf("ports.start/end invalid: %d-%d", c.Ports.Start, c.Ports.End)
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("servers: at least one host must be configured")
	}
	seen := map[string]bool{}
	localCount := 0
	for _, h := range c.Servers {
		if h.HostID == "" {
			return fmt.Errorf("servers: host_id must not be empty")
		}
		if seen[h.HostID] {
			return fmt.Errorf("servers: duplicate host_id %q", h.HostID)
		}
		seen[h.HostID] = true
		if h.IsLocal {
			localCount++
		} else if h.DockerHost == "" {
			return fmt.Errorf("servers: remote host %q missing docker_host", h.HostID)
		}
	}
	if localCount > 1 {
		return fmt.Errorf("servers: at most one host may be is_local")
	}
	if _, err := c.Retention.Schedule(); err != nil {
		return fmt.Errorf("retention.cron_schedule: %w", err)
	}
	return nil
}
