// Package registry is the agent registry (spec C4): the durable,
// single-writer source of truth for every declared agent, persisted as
// one JSON file rather than a SQL table (spec §4.4 is explicit about
// this; audit keeps the SQLite the teacher's db package already gave us,
// for events rather than declarations).
//
// Grounded on the teacher's db/db.go only for its wrapping-not-embedding
// package-boundary style ("all mutations persisted before returning",
// small exposed surface). The storage mechanism itself is grounded on
// original_source/ciris_manager/port_manager.py's _load_metadata /
// _parse_agent_id_from_key for migrating legacy single-part registry
// keys written by the original manager.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/util"
)

// ErrNotFound is returned when a lookup key has no registry entry.
var ErrNotFound = fmt.Errorf("registry: agent not found")

// ErrAlreadyExists is returned by Create when the key is already registered.
var ErrAlreadyExists = fmt.Errorf("registry: agent already exists")

// onDiskFile is the JSON document written to and read from Path. Keeping
// it separate from the in-memory Registry lets the wire format evolve
// (e.g. adding a schema_version) without reshaping the in-memory API.
type onDiskFile struct {
	SchemaVersion int                     `json:"schema_version"`
	Agents        map[string]models.Agent `json:"agents"`
}

const currentSchemaVersion = 1

// Registry holds every declared agent in memory and persists every
// mutation to Path before returning, so a crash between two registry
// calls never loses an acknowledged write.
type Registry struct {
	mu   sync.Mutex
	path string

	byKey map[models.AgentKey]*models.Agent
}

// Load reads path into a new Registry, migrating any legacy single-part
// keys it finds (written by the original CIRISManager, which combined
// agent_id, occurrence_id and host_id into one dash-joined string) to the
// canonical AgentKey form. If path does not exist, an empty Registry is
// returned so a first run bootstraps cleanly.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, byKey: make(map[models.AgentKey]*models.Agent)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %q: %w", path, err)
	}

	var file onDiskFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("registry: parse %q: %w", path, err)
	}

	migrated := false
	for rawKey, agent := range file.Agents {
		key := agent.Key
		if key.AgentID == "" {
			// Pre-migration record: the JSON map key itself is the legacy
			// composite string and the embedded Key field was never set.
			key = parseLegacyKey(rawKey)
			agent.Key = key
			migrated = true
		}
		a := agent
		r.byKey[key] = &a
	}

	if migrated {
		if err := r.persistLocked(); err != nil {
			return nil, fmt.Errorf("registry: persist migrated keys: %w", err)
		}
	}
	metrics.AgentsTotal.Set(float64(len(r.byKey)))
	return r, nil
}

// parseLegacyKey reproduces the original manager's
// _parse_agent_id_from_key heuristic: a legacy key with no dashes is a
// bare agent_id; with dashes, the last dash-delimited segment is treated
// as host_id and everything before it as agent_id, since agent_id itself
// may legitimately contain dashes.
func parseLegacyKey(rawKey string) models.AgentKey {
	if !strings.Contains(rawKey, "-") {
		return models.AgentKey{AgentID: rawKey}
	}
	parts := strings.Split(rawKey, "-")
	if len(parts) < 2 {
		return models.AgentKey{AgentID: rawKey}
	}
	agentID := strings.Join(parts[:len(parts)-1], "-")
	hostID := parts[len(parts)-1]
	return models.AgentKey{AgentID: agentID, HostID: hostID}
}

// Create registers a brand-new agent. It fails if key is already present.
func (r *Registry) Create(agent models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[agent.Key]; exists {
		return ErrAlreadyExists
	}
	now := agent.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	agent.CreatedAt = now
	agent.UpdatedAt = now

	r.byKey[agent.Key] = &agent
	return r.persistLocked()
}

// Get returns a copy of the agent registered under key.
func (r *Registry) Get(key models.AgentKey) (models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byKey[key]
	if !ok {
		return models.Agent{}, ErrNotFound
	}
	return *a, nil
}

// Update replaces the stored agent for key with updated, bumping
// UpdatedAt, and persists. The caller must have obtained the prior value
// via Get (or otherwise hold the fields it does not intend to change).
func (r *Registry) Update(key models.AgentKey, updated models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byKey[key]
	if !ok {
		return ErrNotFound
	}
	updated.Key = key
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now()

	r.byKey[key] = &updated
	return r.persistLocked()
}

// Mutate looks up key, applies fn to a copy, and persists the result.
// This is the preferred entry point for read-modify-write callers
// (lifecycle, deploy) since it holds the lock across the whole
// operation, preventing a lost update from two concurrent callers each
// doing their own Get-then-Update.
func (r *Registry) Mutate(key models.AgentKey, fn func(*models.Agent) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byKey[key]
	if !ok {
		return ErrNotFound
	}
	next := *existing
	if err := fn(&next); err != nil {
		return err
	}
	next.Key = key
	next.UpdatedAt = time.Now()
	r.byKey[key] = &next
	return r.persistLocked()
}

// Delete removes key's entry. It is not an error to delete a key that
// does not exist, since the desired end state (entry gone) is already
// satisfied.
func (r *Registry) Delete(key models.AgentKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[key]; !ok {
		return nil
	}
	delete(r.byKey, key)
	return r.persistLocked()
}

// List returns every registered agent, sorted by key string for
// deterministic output to API callers and tests.
func (r *Registry) List() []models.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Agent, 0, len(r.byKey))
	for _, a := range r.byKey {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// AllocatedPorts returns a snapshot of agent-key-string -> port for
// every registered agent, used to rehydrate portalloc at startup.
func (r *Registry) AllocatedPorts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.byKey))
	for key, a := range r.byKey {
		out[key.String()] = a.Port
	}
	return out
}

// persistLocked serializes the current in-memory state and writes it
// atomically. Callers must already hold r.mu.
func (r *Registry) persistLocked() error {
	file := onDiskFile{
		SchemaVersion: currentSchemaVersion,
		Agents:        make(map[string]models.Agent, len(r.byKey)),
	}
	for key, a := range r.byKey {
		file.Agents[key.String()] = *a
	}
	metrics.AgentsTotal.Set(float64(len(r.byKey)))

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("registry: create directory for %q: %w", r.path, err)
	}
	if err := util.WriteFileAtomic(r.path, data, 0o600); err != nil {
		return fmt.Errorf("registry: persist %q: %w", r.path, err)
	}
	return nil
}
