package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/ciris-fleet-manager/lifecycle"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

// AgentHandler exposes the control-plane's agent surface (spec §6:
// "CRUD on agents; start/stop/restart") over lifecycle.Coordinator and
// registry.Registry. It holds no state of its own — both dependencies
// already serialize their own mutations.
type AgentHandler struct {
	coord  *lifecycle.Coordinator
	reg    *registry.Registry
	logger *slog.Logger
}

func NewAgentHandler(coord *lifecycle.Coordinator, reg *registry.Registry, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{coord: coord, reg: reg, logger: logger}
}

// keyFromRequest builds the AgentKey a path/query carries: {agentID} is
// always the path parameter, host_id defaults to "main" (the same
// default lifecycle.CreateRequest applies) and occurrence_id defaults to
// empty, matching the common single-occurrence case.
func keyFromRequest(r *http.Request) models.AgentKey {
	hostID := r.URL.Query().Get("host_id")
	if hostID == "" {
		hostID = "main"
	}
	return models.AgentKey{
		AgentID:      chi.URLParam(r, "agentID"),
		OccurrenceID: r.URL.Query().Get("occurrence_id"),
		HostID:       hostID,
	}
}

// ListAgents handles GET /api/agents, returning every registered agent
// regardless of host. Returns [] rather than null when the registry is
// empty, since a frontend client has an easier time with an empty array
// than with JSON null.
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.reg.List()
	if agents == nil {
		agents = []models.Agent{}
	}
	writeJsonAndRespond(w, http.StatusOK, agents)
}

// GetAgent handles GET /api/agents/{agentID}?host_id=&occurrence_id=.
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.reg.Get(keyFromRequest(r))
	if err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, registry.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, agent)
}

// createAgentRequest is the JSON body accepted by POST /api/agents.
type createAgentRequest struct {
	Name            string                          `json:"name"`
	Template        string                          `json:"template"`
	HostID          string                          `json:"host_id,omitempty"`
	OccurrenceID    string                          `json:"occurrence_id,omitempty"`
	WASignature     string                          `json:"wa_signature,omitempty"`
	DeploymentGroup string                          `json:"deployment_group,omitempty"`
	Environment     map[string]string               `json:"environment,omitempty"`
	DoNotAutostart  bool                             `json:"do_not_autostart,omitempty"`
	AdapterConfigs  map[string]models.AdapterConfig `json:"adapter_configs,omitempty"`
}

// CreateAgent handles POST /api/agents, running the full spec §4.6
// creation sequence via lifecycle.Coordinator.Create.
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var body createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "invalid JSON request body", h.logger)
		return
	}
	if body.Name == "" {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "name is required", h.logger)
		return
	}
	if body.Template == "" {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "template is required", h.logger)
		return
	}

	result, err := h.coord.Create(r.Context(), lifecycle.CreateRequest{
		Name:            body.Name,
		Template:        body.Template,
		HostID:          body.HostID,
		OccurrenceID:    body.OccurrenceID,
		WASignature:     body.WASignature,
		DeploymentGroup: body.DeploymentGroup,
		Environment:     body.Environment,
		DoNotAutostart:  body.DoNotAutostart,
		AdapterConfigs:  body.AdapterConfigs,
	})
	if err != nil {
		writeOperationError(w, err, h.logger)
		return
	}
	h.logger.Info("agent created", "agent_id", result.AgentID, "port", result.Port)
	writeJsonAndRespond(w, http.StatusCreated, result)
}

// DeleteAgent handles DELETE /api/agents/{agentID}?host_id=.
func (h *AgentHandler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	key := keyFromRequest(r)
	if err := h.coord.Delete(r.Context(), key); err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, registry.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// StartAgent handles POST /api/agents/{agentID}/start?host_id=.
func (h *AgentHandler) StartAgent(w http.ResponseWriter, r *http.Request) {
	h.dispatchLifecycleOp(w, r, h.coord.Start)
}

// StopAgent handles POST /api/agents/{agentID}/stop?host_id=.
func (h *AgentHandler) StopAgent(w http.ResponseWriter, r *http.Request) {
	h.dispatchLifecycleOp(w, r, h.coord.Stop)
}

// RestartAgent handles POST /api/agents/{agentID}/restart?host_id=.
func (h *AgentHandler) RestartAgent(w http.ResponseWriter, r *http.Request) {
	h.dispatchLifecycleOp(w, r, h.coord.Restart)
}

// dispatchLifecycleOp runs op against the request's agent key and writes
// a uniform {"status": "ok"} body, sparing Start/Stop/Restart each their
// own near-identical handler body — the three differ only in which
// Coordinator method they call.
func (h *AgentHandler) dispatchLifecycleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, models.AgentKey) error) {
	key := keyFromRequest(r)
	if err := op(r.Context(), key); err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, registry.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// updateAgentRequest is the JSON body accepted by PATCH /api/agents/{agentID}.
type updateAgentRequest struct {
	Changes []envChangeDTO `json:"changes"`
	Restart bool           `json:"restart"`
}

type envChangeDTO struct {
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Remove bool   `json:"remove,omitempty"`
}

// UpdateAgent handles PATCH /api/agents/{agentID}?host_id=, merging
// environment changes into the agent's compose file and optionally
// restarting it, via lifecycle.Coordinator.UpdateConfig.
func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var body updateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "invalid JSON request body", h.logger)
		return
	}

	changes := make([]lifecycle.EnvChange, 0, len(body.Changes))
	for _, c := range body.Changes {
		changes = append(changes, lifecycle.EnvChange{Key: c.Key, Value: c.Value, Remove: c.Remove})
	}

	key := keyFromRequest(r)
	err := h.coord.UpdateConfig(r.Context(), key, lifecycle.UpdateConfigRequest{Changes: changes, Restart: body.Restart})
	if err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, registry.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "updated"})
}
