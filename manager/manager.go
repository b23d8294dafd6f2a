// Package manager is the fleet manager's composition root (spec C10):
// it wires every component built elsewhere in this module into one
// running process, owns the background recovery/retention loops, and
// serves the control-plane HTTP API with a graceful-shutdown sequence.
//
// Grounded directly on the teacher's main.go: config load, logger
// construction, the explicit-timeout *http.Server, the
// goroutine+buffered-channel shutdown-signal pattern, and
// signal.Notify(syscall.SIGINT, syscall.SIGTERM) followed by a bounded
// context.WithTimeout shutdown. Generalized here to also start and stop
// the two background loops the teacher's request-only PaaS never had.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sasta-kro/ciris-fleet-manager/audit"
	"github.com/sasta-kro/ciris-fleet-manager/cipher"
	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/deploy"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/handlers"
	"github.com/sasta-kro/ciris-fleet-manager/lifecycle"
	"github.com/sasta-kro/ciris-fleet-manager/portalloc"
	"github.com/sasta-kro/ciris-fleet-manager/proxy"
	"github.com/sasta-kro/ciris-fleet-manager/recovery"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
	"github.com/sasta-kro/ciris-fleet-manager/retention"
)

// Manager owns every long-lived component of one fleet-manager process.
// Nothing outside this package reaches into its fields; cmd/fleetmanager
// only calls New and Run.
type Manager struct {
	cfg    *config.AppConfig
	logger *slog.Logger

	registry     *registry.Registry
	ports        *portalloc.Allocator
	facade       *dockerfacade.Facade
	cipherKey    *cipher.Cipher
	proxy        *proxy.Reconciler
	coordinator  *lifecycle.Coordinator
	auditStore   *audit.Store
	orchestrator *deploy.Orchestrator
	recoveryLoop *recovery.Loop
	retention    *retention.Loop

	server *http.Server
}

// New wires every component from cfg, in the dependency order each one
// requires: registry and port allocator first (nothing else can start
// without a rehydrated port map), then the Docker facade, then the
// reconciler and coordinator that depend on it, then the audit-backed
// deployment orchestrator, then the two background loops.
func New(cfg *config.AppConfig, logger *slog.Logger) (*Manager, error) {
	reg, err := registry.Load(registryPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("manager: load registry: %w", err)
	}

	ports := portalloc.New(cfg.Ports.Start, cfg.Ports.End, cfg.Ports.Reserved)
	ports.Rehydrate(reg.AllocatedPorts())

	facade := dockerfacade.New(logger, cfg.Servers, 60*time.Second)

	keyBytes, err := cipher.LoadOrGenerateKey(cfg.TokenCipherKeyPath)
	if err != nil {
		return nil, fmt.Errorf("manager: load cipher key: %w", err)
	}
	cipherKey, err := cipher.New(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("manager: construct cipher: %w", err)
	}

	reconciler := proxy.New(facade, reg, proxyConfigPath(cfg), cfg.Proxy.ContainerName)

	coordinator := lifecycle.New(lifecycle.Config{
		AgentsDir:           cfg.AgentsDir,
		TemplatesDir:        cfg.TemplatesDir,
		ManifestPath:        cfg.ManifestPath,
		ImageRegistry:       cfg.ImageRegistry,
		DefaultImage:        cfg.DefaultImage,
		ContainerNamePrefix: cfg.ContainerNamePrefix,
		BillingEnabled:      cfg.BillingEnabled,
		BillingAPIKey:       cfg.BillingAPIKey,
	}, logger, reg, ports, facade, cipherKey, reconciler)

	auditStore, err := audit.Open(cfg.AuditDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("manager: open audit store: %w", err)
	}

	retentionLoop := retention.New(logger, facade, cfg.Retention.VersionsToKeep, retentionInterval(cfg.Retention))
	if schedule, err := cfg.Retention.Schedule(); err != nil {
		return nil, fmt.Errorf("manager: retention cron schedule: %w", err)
	} else if schedule != nil {
		retentionLoop = retentionLoop.WithSchedule(schedule)
	}

	orchestrator := deploy.New(logger, reg, facade, auditStore, retentionLoop, cfg.Deployment)

	recoveryLoop := recovery.New(logger, reg, facade, coordinator, cfg.Recovery.CheckInterval(), cfg.Recovery.DeploymentWindow())

	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		registry:     reg,
		ports:        ports,
		facade:       facade,
		cipherKey:    cipherKey,
		proxy:        reconciler,
		coordinator:  coordinator,
		auditStore:   auditStore,
		orchestrator: orchestrator,
		recoveryLoop: recoveryLoop,
		retention:    retentionLoop,
	}

	router := handlers.CreateAndSetupRouter(handlers.RouterDependencies{
		Logger:         logger,
		Registry:       reg,
		Coordinator:    coordinator,
		Orchestrator:   orchestrator,
		Facade:         facade,
		TemplatesDir:   cfg.TemplatesDir,
		ManifestPath:   cfg.ManifestPath,
		AllowedOrigin:  cfg.AllowedOrigin,
		MetricsHandler: promhttp.Handler(),
	})

	m.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return m, nil
}

// bootstrap runs spec §4.10 steps 2 and 4: eagerly probe every
// configured host (a failure is logged, not fatal — a remote host that
// is down at startup should not prevent the manager from serving the
// hosts that are up) and reconcile the reverse proxy once against
// whatever the registry and live containers already agree on, before
// the background loops and HTTP server start.
func (m *Manager) bootstrap(ctx context.Context) {
	for _, hostID := range m.facade.HostIDs() {
		if _, err := m.facade.Client(ctx, hostID); err != nil {
			m.logger.Warn("startup host probe failed", "host_id", hostID, "error", err)
			continue
		}
		m.logger.Info("startup host probe succeeded", "host_id", hostID)
	}

	if err := m.proxy.Reconcile(ctx); err != nil {
		m.logger.Warn("startup reverse-proxy reconcile failed", "error", err)
	}
}

func registryPath(cfg *config.AppConfig) string {
	return cfg.AgentsDir + "/metadata.json"
}

func proxyConfigPath(cfg *config.AppConfig) string {
	if cfg.Proxy.ConfigDir == "" {
		return "/etc/nginx/conf.d/ciris-routes.conf"
	}
	return cfg.Proxy.ConfigDir + "/ciris-routes.conf"
}

func retentionInterval(cfg config.RetentionConfig) time.Duration {
	if cfg.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(cfg.IntervalHours) * time.Hour
}

// Run starts the background loops and serves HTTP until the process
// receives SIGINT/SIGTERM or the server fails outright, then shuts
// everything down in reverse order. It blocks until shutdown completes.
//
// The shutdown-signal plumbing follows the teacher's main.go: a
// goroutine runs ListenAndServe and forwards any error other than
// http.ErrServerClosed onto a buffered channel, a second channel is
// registered for OS signals, and a select waits on whichever fires
// first before starting a bounded graceful shutdown.
func (m *Manager) Run(ctx context.Context) error {
	m.bootstrap(ctx)

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	go m.recoveryLoop.Run(loopCtx)
	go m.retention.Run(loopCtx)

	shutdownChannel := make(chan error, 1)
	go func() {
		m.logger.Info("fleet manager listening", "addr", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownChannel <- err
			return
		}
		shutdownChannel <- nil
	}()

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-signalChannel:
		m.logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-shutdownChannel:
		if err != nil {
			m.logger.Error("http server failed", "error", err)
			runErr = err
		}
	}

	cancelLoops()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("graceful shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if err := m.auditStore.Close(); err != nil {
		m.logger.Error("audit store close failed", "error", err)
	}

	return runErr
}
