package handlers

import (
	"log/slog"
	"net/http"

	"github.com/sasta-kro/ciris-fleet-manager/lifecycle"
)

// TemplateHandler exposes spec §6's template listing endpoint over
// lifecycle.ListTemplates.
type TemplateHandler struct {
	templatesDir string
	manifestPath string
	logger       *slog.Logger
}

func NewTemplateHandler(templatesDir, manifestPath string, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{templatesDir: templatesDir, manifestPath: manifestPath, logger: logger}
}

// ListTemplates handles GET /api/templates.
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := lifecycle.ListTemplates(h.templatesDir, h.manifestPath)
	if err != nil {
		writeOperationError(w, err, h.logger)
		return
	}
	if templates == nil {
		templates = []lifecycle.Template{}
	}
	writeJsonAndRespond(w, http.StatusOK, templates)
}
