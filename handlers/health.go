package handlers

import (
	"net/http"
	"time"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

// HealthHandler reports the manager's own liveness together with the
// registry and per-host facade status an operator's load balancer or
// uptime monitor wants at a glance, generalizing the teacher's static
// "always ok" health endpoint into something that reflects this
// system's actual state (spec §6: "/health").
type HealthHandler struct {
	reg    *registry.Registry
	facade *dockerfacade.Facade
}

func NewHealthHandler(reg *registry.Registry, facade *dockerfacade.Facade) *HealthHandler {
	return &HealthHandler{reg: reg, facade: facade}
}

type hostHealth struct {
	HostID      string `json:"host_id"`
	CircuitOpen bool   `json:"circuit_open"`
}

type healthResponse struct {
	Status       string       `json:"status"`
	Timestamp    string       `json:"timestamp"`
	AgentCount   int          `json:"agent_count"`
	Hosts        []hostHealth `json:"hosts"`
}

// Health handles GET /health. It never makes a Docker connection itself
// (that would make a load balancer's health check as slow as the
// slowest host); circuit-breaker state is read from the facade's
// already-cached view.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	hostIDs := h.facade.HostIDs()
	hosts := make([]hostHealth, 0, len(hostIDs))
	for _, id := range hostIDs {
		_, open := h.facade.CircuitOpen(id)
		hosts = append(hosts, hostHealth{HostID: id, CircuitOpen: open})
	}

	response := healthResponse{
		Status:     "ok",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		AgentCount: len(h.reg.List()),
		Hosts:      hosts,
	}
	writeJsonAndRespond(w, http.StatusOK, response)
}
