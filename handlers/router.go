package handlers

// router.go constructs the chi router, registers all middleware, and
// wires every route to its handler. It is the single source of truth
// for the control-plane API's HTTP surface area (spec §6) — adding an
// endpoint means adding one line here, nothing else.

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sasta-kro/ciris-fleet-manager/deploy"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/lifecycle"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

// RouterDependencies groups every external dependency the router and its
// handlers need. Passing one struct instead of N arguments keeps
// CreateAndSetupRouter's signature stable as dependencies are added.
type RouterDependencies struct {
	Logger        *slog.Logger
	Registry      *registry.Registry
	Coordinator   *lifecycle.Coordinator
	Orchestrator  *deploy.Orchestrator
	Facade        *dockerfacade.Facade
	TemplatesDir  string
	ManifestPath  string
	AllowedOrigin string

	// MetricsHandler serves A6's Prometheus exposition; nil disables
	// /metrics (tests that don't wire a registry can omit it).
	MetricsHandler http.Handler
}

// CreateAndSetupRouter constructs the chi multiplexer, attaches
// middleware, constructs every handler with its dependencies, and
// registers every route. It returns a plain http.Handler so
// manager.Manager has no chi import or awareness of the HTTP framework
// underneath it.
func CreateAndSetupRouter(dependencies RouterDependencies) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	if dependencies.AllowedOrigin != "" {
		router.Use(CORSMiddleware(dependencies.AllowedOrigin))
	}

	// --- handler construction: each receives only the dependencies it
	// actually needs, via constructor injection (no globals). ---
	healthHandler := NewHealthHandler(dependencies.Registry, dependencies.Facade)
	agentHandler := NewAgentHandler(dependencies.Coordinator, dependencies.Registry, dependencies.Logger)
	deploymentHandler := NewDeploymentHandler(dependencies.Orchestrator, dependencies.Logger)
	hostHandler := NewHostHandler(dependencies.Facade, dependencies.Logger)
	templateHandler := NewTemplateHandler(dependencies.TemplatesDir, dependencies.ManifestPath, dependencies.Logger)

	// /health is kept at the root rather than under /api: load balancers
	// and container orchestrators expect it there and have no context on
	// this API's internal route grouping.
	router.Get("/health", healthHandler.Health)
	if dependencies.MetricsHandler != nil {
		router.Handle("/metrics", dependencies.MetricsHandler)
	}

	router.Route("/api", func(api chi.Router) {
		api.Route("/agents", func(agents chi.Router) {
			agents.Get("/", agentHandler.ListAgents)
			agents.Post("/", agentHandler.CreateAgent)
			agents.Get("/{agentID}", agentHandler.GetAgent)
			agents.Patch("/{agentID}", agentHandler.UpdateAgent)
			agents.Delete("/{agentID}", agentHandler.DeleteAgent)
			agents.Post("/{agentID}/start", agentHandler.StartAgent)
			agents.Post("/{agentID}/stop", agentHandler.StopAgent)
			agents.Post("/{agentID}/restart", agentHandler.RestartAgent)
		})

		api.Route("/deployments", func(deployments chi.Router) {
			deployments.Get("/", deploymentHandler.ListDeployments)
			deployments.Post("/", deploymentHandler.StageDeployment)
			deployments.Get("/pending", deploymentHandler.ListPendingDeployments)
			deployments.Get("/{id}", deploymentHandler.GetDeployment)
			deployments.Post("/{id}/launch", deploymentHandler.LaunchDeployment)
			deployments.Post("/{id}/cancel", deploymentHandler.CancelDeployment)
			deployments.Post("/{id}/reject", deploymentHandler.RejectDeployment)
			deployments.Post("/{id}/retry", deploymentHandler.RetryDeployment)
		})

		api.Route("/hosts", func(hosts chi.Router) {
			hosts.Get("/", hostHandler.ListHosts)
			hosts.Get("/{hostID}/containers", hostHandler.GetHostContainers)
		})

		api.Get("/templates", templateHandler.ListTemplates)
	})

	return router
}
