package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
)

// HostHandler exposes per-host inventory and health (spec §6: "per-host
// inventory/health") over dockerfacade.Facade.
type HostHandler struct {
	facade *dockerfacade.Facade
	logger *slog.Logger
}

func NewHostHandler(facade *dockerfacade.Facade, logger *slog.Logger) *HostHandler {
	return &HostHandler{facade: facade, logger: logger}
}

type hostSummary struct {
	HostID      string `json:"host_id"`
	Hostname    string `json:"hostname"`
	IsLocal     bool   `json:"is_local"`
	CircuitOpen bool   `json:"circuit_open"`
}

// ListHosts handles GET /api/hosts, reporting every configured host's
// static metadata plus its current circuit-breaker state. It never
// dials out to a host itself — see GetHostContainers for the endpoint
// that does.
func (h *HostHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	ids := h.facade.HostIDs()
	out := make([]hostSummary, 0, len(ids))
	for _, id := range ids {
		host, _ := h.facade.Host(id)
		_, open := h.facade.CircuitOpen(id)
		out = append(out, hostSummary{
			HostID:      host.HostID,
			Hostname:    host.Hostname,
			IsLocal:     host.IsLocal,
			CircuitOpen: open,
		})
	}
	writeJsonAndRespond(w, http.StatusOK, out)
}

// GetHostContainers handles GET /api/hosts/{hostID}/containers, listing
// every container dockerfacade can see on that host — the inventory
// half of "per-host inventory/health".
func (h *HostHandler) GetHostContainers(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "hostID")
	client, err := h.facade.Client(r.Context(), hostID)
	if err != nil {
		writeOperationError(w, err, h.logger)
		return
	}

	containers, err := client.ListAll(r.Context())
	if err != nil {
		writeOperationError(w, err, h.logger)
		return
	}
	if containers == nil {
		containers = []dockerfacade.ContainerInfo{}
	}
	writeJsonAndRespond(w, http.StatusOK, containers)
}
