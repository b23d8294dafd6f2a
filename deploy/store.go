// Package deploy implements C8, the deployment orchestrator: staging and
// running fleet-wide agent updates under the immediate/canary/manual
// strategies, the canary health gate, and rollback execution.
package deploy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// ErrActiveDeploymentExists is returned by Stage when a non-terminal
// deployment is already running (spec §4.8 Concurrency: "single active
// non-terminal deployment at a time, enforced at entry").
var ErrActiveDeploymentExists = fmt.Errorf("deploy: a non-terminal deployment already exists")

// ErrNotFound is returned for an unknown deployment_id.
var ErrNotFound = fmt.Errorf("deploy: deployment not found")

// store holds every deployment this process has staged, in memory.
// Deployments are operational state, not durable fleet identity — the
// registry remains the sole durable source of truth for agents
// (spec §4.4) and the audit store (A3) is the durable record of what a
// deployment did; losing in-flight deployment bookkeeping across a
// process restart is an accepted gap, not silently different behavior
// (recorded in DESIGN.md).
type store struct {
	mu  sync.Mutex
	byID map[string]*models.Deployment
}

func newStore() *store {
	return &store{byID: make(map[string]*models.Deployment)}
}

// stage inserts d, failing if a non-terminal deployment already exists.
func (s *store) stage(d models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if !existing.State.IsTerminal() {
			return ErrActiveDeploymentExists
		}
	}
	s.byID[d.DeploymentID] = &d
	return nil
}

func (s *store) get(id string) (models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return models.Deployment{}, ErrNotFound
	}
	return *d, nil
}

// mutate applies fn in place to the stored deployment under id, holding
// the lock across the whole operation so concurrent phase
// goroutines never race on the same deployment's counters.
func (s *store) mutate(id string, fn func(*models.Deployment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(d)
	return nil
}

func (s *store) list() []models.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Deployment, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StagedAt.Before(out[j].StagedAt) })
	return out
}

// pending returns every deployment currently in the staged or pending
// state, for the control-plane's "pending-all" query.
func (s *store) pending() []models.Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Deployment
	for _, d := range s.byID {
		if d.State == models.DeploymentStaged || d.State == models.DeploymentPending {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StagedAt.Before(out[j].StagedAt) })
	return out
}
