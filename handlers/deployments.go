package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/ciris-fleet-manager/deploy"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

// DeploymentHandler exposes C8's deployment lifecycle (spec §6:
// "deployment stage/launch/cancel/reject/retry/status/pending-all") over
// deploy.Orchestrator.
type DeploymentHandler struct {
	orchestrator *deploy.Orchestrator
	logger       *slog.Logger
}

func NewDeploymentHandler(orchestrator *deploy.Orchestrator, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{orchestrator: orchestrator, logger: logger}
}

// stageDeploymentRequest is the JSON body accepted by POST /api/deployments.
type stageDeploymentRequest struct {
	AgentImage string            `json:"agent_image,omitempty"`
	GUIImage   string            `json:"gui_image,omitempty"`
	ProxyImage string            `json:"proxy_image,omitempty"`
	Strategy   models.Strategy   `json:"strategy"`
	Message    string            `json:"message,omitempty"`
	Source     string            `json:"source,omitempty"`
	CommitSHA  string            `json:"commit_sha,omitempty"`
	Version    string            `json:"version,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// StageDeployment handles POST /api/deployments. It maps directly onto
// spec §4.8's Inputs (models.UpdateNotification), and — per
// Orchestrator.Stage — auto-launches immediately unless Strategy is
// "manual".
func (h *DeploymentHandler) StageDeployment(w http.ResponseWriter, r *http.Request) {
	var body stageDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "invalid JSON request body", h.logger)
		return
	}
	if body.Strategy != models.StrategyImmediate && body.Strategy != models.StrategyCanary && body.Strategy != models.StrategyManual {
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "strategy must be 'immediate', 'canary' or 'manual'", h.logger)
		return
	}

	notification := models.UpdateNotification{
		AgentImage: body.AgentImage,
		GUIImage:   body.GUIImage,
		ProxyImage: body.ProxyImage,
		Strategy:   body.Strategy,
		Message:    body.Message,
		Source:     body.Source,
		CommitSHA:  body.CommitSHA,
		Version:    body.Version,
		Metadata:   body.Metadata,
	}

	dep, err := h.orchestrator.Stage(r.Context(), notification)
	if err != nil {
		writeOperationError(w, err, h.logger)
		return
	}
	h.logger.Info("deployment staged", "deployment_id", dep.DeploymentID, "strategy", dep.Notification.Strategy)
	writeJsonAndRespond(w, http.StatusCreated, dep)
}

// ListDeployments handles GET /api/deployments, returning every
// deployment this manager has staged regardless of state.
func (h *DeploymentHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := h.orchestrator.List()
	if deployments == nil {
		deployments = []models.Deployment{}
	}
	writeJsonAndRespond(w, http.StatusOK, deployments)
}

// ListPendingDeployments handles GET /api/deployments/pending, the
// manual-strategy queue an operator works through one Launch/Reject at
// a time.
func (h *DeploymentHandler) ListPendingDeployments(w http.ResponseWriter, r *http.Request) {
	deployments := h.orchestrator.PendingAll()
	if deployments == nil {
		deployments = []models.Deployment{}
	}
	writeJsonAndRespond(w, http.StatusOK, deployments)
}

// GetDeployment handles GET /api/deployments/{id}.
func (h *DeploymentHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := h.orchestrator.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, deploy.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, dep)
}

// LaunchDeployment handles POST /api/deployments/{id}/launch, the
// operator's approval step for a staged manual-strategy deployment.
func (h *DeploymentHandler) LaunchDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orchestrator.Launch(r.Context(), id); err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, deploy.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "launched"})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelDeployment handles POST /api/deployments/{id}/cancel.
func (h *DeploymentHandler) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.orchestrator.Cancel(id, body.Reason); err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, deploy.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RejectDeployment handles POST /api/deployments/{id}/reject.
func (h *DeploymentHandler) RejectDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.orchestrator.Reject(id, body.Reason); err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, deploy.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// RetryDeployment handles POST /api/deployments/{id}/retry, staging a
// fresh deployment from the same notification (spec §4.8 Retry).
func (h *DeploymentHandler) RetryDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dep, err := h.orchestrator.Retry(r.Context(), id)
	if err != nil {
		writeNotFoundOr404IfMatch(w, err, h.logger, deploy.ErrNotFound)
		return
	}
	writeJsonAndRespond(w, http.StatusCreated, dep)
}
