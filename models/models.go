// Package models defines the data structures shared across the fleet
// manager. This package has no imports from other internal packages,
// making it the foundation of the dependency graph: config, registry,
// dockerfacade, lifecycle, deploy, and handlers all import from here, but
// models never imports back.
//
// Every optional attribute is an explicit field (a pointer or a
// zero-value-is-fine type), never probed dynamically at read time — a
// registry entry is a closed struct, not a loosely-typed map (spec §9).
package models

import "time"

// AgentKey is the composite identity of an agent record: (agent_id,
// occurrence_id, host_id). occurrence_id is empty for the common
// single-occurrence case. The triple is only ever rendered to a string at
// serialization boundaries (registry JSON keys, log lines) — comparisons
// and lookups inside the process use the typed struct (spec §9 design
// note on string-based composite keys).
type AgentKey struct {
	AgentID      string `json:"agent_id"`
	OccurrenceID string `json:"occurrence_id,omitempty"`
	HostID       string `json:"host_id"`
}

// OAuthStatus mirrors the original CIRISManager's oauth_status field
// (pending/configured/verified); OAuth issuance itself is out of scope
// (spec §1) but the manager still tracks and surfaces this status.
type OAuthStatus string

const (
	OAuthPending    OAuthStatus = "pending"
	OAuthConfigured OAuthStatus = "configured"
	OAuthVerified   OAuthStatus = "verified"
)

// VersionEntry records one point in an agent's image history.
type VersionEntry struct {
	Image        string    `json:"image"`
	Digest       string    `json:"digest"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// VersionSlots holds the current and two previous image references kept
// per agent for rollback (spec §3, "N/N-1/N-2").
type VersionSlots struct {
	Current string `json:"current,omitempty"`
	NMinus1 string `json:"n_minus_1,omitempty"`
	NMinus2 string `json:"n_minus_2,omitempty"`
}

// Rotate applies the atomic post-swap rotation described in spec §4.8:
// n-2 <- n-1, n-1 <- current, current <- newImage.
func (v *VersionSlots) Rotate(newImage string) {
	v.NMinus2 = v.NMinus1
	v.NMinus1 = v.Current
	v.Current = newImage
}

// Agent is a declared unit in the registry (spec §3).
type Agent struct {
	Key AgentKey `json:"key"`

	Name        string `json:"name"`
	Template    string `json:"template"`
	Port        int    `json:"port"`
	ComposePath string `json:"compose_path"`

	// EncryptedServiceToken and EncryptedAdminPassword hold ciphertext
	// produced by the cipher package; plaintext never reaches this struct
	// once it has been persisted once (spec §4.4).
	EncryptedServiceToken  []byte `json:"encrypted_service_token"`
	EncryptedAdminPassword []byte `json:"encrypted_admin_password"`

	Metadata        map[string]string `json:"metadata,omitempty"`
	DoNotAutostart  bool              `json:"do_not_autostart,omitempty"`
	OAuthStatus     OAuthStatus       `json:"oauth_status,omitempty"`
	LastWorkStateAt *time.Time        `json:"last_work_state_at,omitempty"`

	Versions       VersionSlots   `json:"versions"`
	VersionHistory []VersionEntry `json:"version_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentGroup returns the agent's canary phase assignment. It reads
// "deployment_group" (the canonical key this manager writes) and falls
// back to "canary_group" (the key the original Python manager used), per
// SPEC_FULL.md §3.
func (a *Agent) DeploymentGroup() string {
	if a.Metadata == nil {
		return ""
	}
	if g, ok := a.Metadata["deployment_group"]; ok && g != "" {
		return g
	}
	return a.Metadata["canary_group"]
}

// AdapterConfig is one wizard-configured adapter entry (spec §4.2's
// "any wizard adapter with enabled=true" channel source): the adapter's
// name is its map key in CreateRequest.AdapterConfigs, Enabled gates
// whether it contributes to the compose channel list, and EnvVars are
// merged into the rendered compose environment alongside it.
type AdapterConfig struct {
	Enabled bool              `json:"enabled"`
	EnvVars map[string]string `json:"env_vars,omitempty"`
}

// Host is static configuration for one Docker daemon (spec §3). It is
// never mutated at runtime; only the circuit breaker's failure state
// (owned by dockerfacade, not this struct) is ephemeral.
type Host struct {
	HostID   string `json:"host_id" yaml:"server_id"`
	Hostname string `json:"hostname" yaml:"hostname"`
	IsLocal  bool   `json:"is_local" yaml:"is_local"`

	// Remote-only fields.
	VPCIP      string `json:"vpc_ip,omitempty" yaml:"vpc_ip,omitempty"`
	DockerHost string `json:"docker_host,omitempty" yaml:"docker_host,omitempty"`
	TLSCACert  string `json:"tls_ca,omitempty" yaml:"tls_ca,omitempty"`
	TLSCert    string `json:"tls_cert,omitempty" yaml:"tls_cert,omitempty"`
	TLSKey     string `json:"tls_key,omitempty" yaml:"tls_key,omitempty"`
}

// Strategy selects how a deployment rolls an update out to affected
// agents (spec §4.8).
type Strategy string

const (
	StrategyImmediate Strategy = "immediate"
	StrategyCanary    Strategy = "canary"
	StrategyManual    Strategy = "manual"
)

// UpdateNotification is the operator-supplied intent for a deployment
// (spec §4.8 Inputs).
type UpdateNotification struct {
	AgentImage string   `json:"agent_image,omitempty"`
	GUIImage   string   `json:"gui_image,omitempty"`
	ProxyImage string   `json:"proxy_image,omitempty"`
	Strategy   Strategy `json:"strategy"`
	Message    string   `json:"message,omitempty"`
	Source     string   `json:"source,omitempty"`
	CommitSHA  string   `json:"commit_sha,omitempty"`
	Version    string   `json:"version,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// ResolvedDigests records each requested image reference at stage
	// time, as given; no digest is resolved, so a retry after a floating
	// tag has moved applies whatever the tag names then (DESIGN.md,
	// deploy Open Question 3).
	ResolvedDigests map[string]string `json:"resolved_digests,omitempty"`
}

// DeploymentState is the deployment lifecycle state machine (spec §4.8).
type DeploymentState string

const (
	DeploymentStaged         DeploymentState = "staged"
	DeploymentPending        DeploymentState = "pending"
	DeploymentInProgress     DeploymentState = "in_progress"
	DeploymentCompleted      DeploymentState = "completed"
	DeploymentFailed         DeploymentState = "failed"
	DeploymentCancelled      DeploymentState = "cancelled"
	DeploymentRolledBack     DeploymentState = "rolled_back"
	DeploymentRollbackFailed DeploymentState = "rollback_failed"
)

// IsTerminal reports whether state ends the deployment's lifecycle; only
// non-terminal deployments may be cancelled, and only one non-terminal
// deployment may be active at a time (spec §4.8 Concurrency).
func (s DeploymentState) IsTerminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentCancelled,
		DeploymentRolledBack, DeploymentRollbackFailed:
		return true
	default:
		return false
	}
}

// Counters tracks per-phase agent outcomes (spec §3, §7).
type Counters struct {
	Total    int `json:"total"`
	Updated  int `json:"updated"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// RollbackTargets names what a RollbackProposal proposes to roll back
// (spec §3).
type RollbackTargets struct {
	Agents []AgentKey `json:"agents"`
	GUI    bool       `json:"gui"`
	Proxy  bool       `json:"proxy"`
}

// RollbackProposal is produced by the orchestrator's health gate when a
// canary phase fails outright (spec §4.8).
type RollbackProposal struct {
	DeploymentID     string            `json:"deployment_id"`
	Reason           string            `json:"reason"`
	RollbackTargets  RollbackTargets   `json:"rollback_targets"`
	PreviousVersions map[string]string `json:"previous_versions"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Deployment records one active or closed rollout (spec §3).
type Deployment struct {
	DeploymentID string             `json:"deployment_id"`
	Notification UpdateNotification `json:"notification"`
	State        DeploymentState    `json:"state"`
	Counters     Counters           `json:"counters"`
	CurrentPhase string             `json:"current_phase,omitempty"`

	StagedAt    time.Time  `json:"staged_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	AffectedAgents []AgentKey        `json:"affected_agents"`
	Rollback       *RollbackProposal `json:"rollback,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
}

// CognitiveState mirrors the agent's /v1/system/status cognitive_state
// enum (spec §6). Only WORK is load-bearing for the health gate, but the
// full set is kept for status reporting and logging.
type CognitiveState string

const (
	StateBoot     CognitiveState = "BOOT"
	StateWakeup   CognitiveState = "WAKEUP"
	StateWork     CognitiveState = "WORK"
	StatePlay     CognitiveState = "PLAY"
	StateShutdown CognitiveState = "SHUTDOWN"
)

// AgentStatus is the parsed response of GET /v1/system/status.
type AgentStatus struct {
	CognitiveState CognitiveState `json:"cognitive_state"`
	Version        string         `json:"version"`
	Codename       string         `json:"codename"`
	CodeHash       string         `json:"code_hash"`
}

// UpdateDecision is the agent's reply to an update negotiation request
// (spec §6).
type UpdateDecision string

const (
	DecisionAccept UpdateDecision = "accept"
	DecisionDefer  UpdateDecision = "defer"
	DecisionReject UpdateDecision = "reject"
)
