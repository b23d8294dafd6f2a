package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sasta-kro/ciris-fleet-manager/audit"
	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/metrics"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

// ImageCleaner schedules C9's per-host retention pass asynchronously
// after a successful swap (spec §4.8 step 6, "schedule image cleanup
// asynchronously"), and is told when a deployment starts/ends so its own
// background sweep can hold off while a rollout is in flight (spec's
// composition section: the initial cleanup pass waits while any
// deployment is active). A narrow interface keeps deploy decoupled from
// retention's own Docker-facade wiring.
type ImageCleaner interface {
	ScheduleCleanup(hostID string)
	BeginDeployment()
	EndDeployment()
}

// noopCleaner satisfies ImageCleaner when no retention loop is wired
// (e.g. in tests), so the orchestrator never needs a nil check at every
// call site.
type noopCleaner struct{}

func (noopCleaner) ScheduleCleanup(string) {}
func (noopCleaner) BeginDeployment()        {}
func (noopCleaner) EndDeployment()          {}

// maxPhaseParallelism bounds how many agents within one phase are
// updated concurrently (spec §5: "errgroup bounds per-phase
// parallelism").
const maxPhaseParallelism = 8

// Orchestrator runs C8's deployment lifecycle: stage, launch, the
// per-agent accept/defer/reject protocol, the canary health gate, and
// rollback execution.
type Orchestrator struct {
	logger   *slog.Logger
	reg      *registry.Registry
	facade   *dockerfacade.Facade
	audit    *audit.Store
	store    *store
	cleaner  ImageCleaner
	cfg      config.DeploymentConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs an Orchestrator. cleaner may be nil, in which case
// image cleanup scheduling is a no-op.
func New(logger *slog.Logger, reg *registry.Registry, facade *dockerfacade.Facade, auditStore *audit.Store, cleaner ImageCleaner, cfg config.DeploymentConfig) *Orchestrator {
	if cleaner == nil {
		cleaner = noopCleaner{}
	}
	return &Orchestrator{
		logger:  logger,
		reg:     reg,
		facade:  facade,
		audit:   auditStore,
		store:   newStore(),
		cleaner: cleaner,
		cfg:     cfg,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Stage runs spec §4.8's staging step: resolve affected agents (every
// currently registered agent — the notification carries no per-agent
// filter, spec.md §3/§4.8 name no narrower selection mechanism),
// record each requested image reference in ResolvedDigests at stage
// time (the reference is stored as given; it is not resolved to a
// content digest, since this system has no registry API to ask), and
// persist the new deployment. A
// non-manual strategy is launched immediately; manual stays staged until
// an explicit Launch call.
func (o *Orchestrator) Stage(ctx context.Context, notification models.UpdateNotification) (models.Deployment, error) {
	affected := o.reg.List()
	keys := make([]models.AgentKey, 0, len(affected))
	for _, a := range affected {
		keys = append(keys, a.Key)
	}

	if notification.ResolvedDigests == nil {
		notification.ResolvedDigests = make(map[string]string)
	}
	for _, image := range []string{notification.AgentImage, notification.GUIImage, notification.ProxyImage} {
		if image != "" {
			notification.ResolvedDigests[image] = image
		}
	}

	now := time.Now()
	deployment := models.Deployment{
		DeploymentID:   uuid.NewString(),
		Notification:   notification,
		State:          models.DeploymentStaged,
		Counters:       models.Counters{Total: len(keys), Pending: len(keys)},
		StagedAt:       now,
		UpdatedAt:      now,
		AffectedAgents: keys,
	}

	if err := o.store.stage(deployment); err != nil {
		return models.Deployment{}, err
	}
	_ = o.audit.Record(deployment.DeploymentID, audit.EventStaged, "", "", fmt.Sprintf("staged %d agent(s)", len(keys)))

	if notification.Strategy != models.StrategyManual {
		if err := o.Launch(ctx, deployment.DeploymentID); err != nil {
			return deployment, err
		}
	}
	return o.store.get(deployment.DeploymentID)
}

// Launch transitions a staged deployment to pending and starts execution
// in the background, returning once the transition is recorded (not
// once the rollout completes). It is the explicit call spec's "manual"
// strategy waits for, and is also what Stage calls automatically for
// every other strategy.
func (o *Orchestrator) Launch(ctx context.Context, deploymentID string) error {
	dep, err := o.store.get(deploymentID)
	if err != nil {
		return err
	}
	if dep.State != models.DeploymentStaged {
		return fmt.Errorf("deploy: deployment %q is %q, not staged", deploymentID, dep.State)
	}

	now := time.Now()
	if err := o.store.mutate(deploymentID, func(d *models.Deployment) {
		d.State = models.DeploymentPending
		d.StartedAt = &now
		d.UpdatedAt = now
	}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[deploymentID] = cancel
	o.mu.Unlock()

	go o.run(runCtx, deploymentID)
	return nil
}

// Cancel stops a non-terminal deployment (spec §4.8 Cancellation).
func (o *Orchestrator) Cancel(deploymentID, reason string) error {
	dep, err := o.store.get(deploymentID)
	if err != nil {
		return err
	}
	if dep.State.IsTerminal() {
		return fmt.Errorf("deploy: deployment %q is already terminal (%q)", deploymentID, dep.State)
	}

	o.mu.Lock()
	if cancel, ok := o.cancels[deploymentID]; ok {
		cancel()
		delete(o.cancels, deploymentID)
	}
	o.mu.Unlock()

	now := time.Now()
	_ = o.audit.Record(deploymentID, audit.EventCancelled, "", "", reason)
	return o.store.mutate(deploymentID, func(d *models.Deployment) {
		d.State = models.DeploymentCancelled
		d.CompletedAt = &now
		d.UpdatedAt = now
		d.FailureReason = reason
	})
}

// Reject discards a deployment before it has started running (spec
// §4.8: "only valid for staged/pending").
func (o *Orchestrator) Reject(deploymentID, reason string) error {
	dep, err := o.store.get(deploymentID)
	if err != nil {
		return err
	}
	if dep.State != models.DeploymentStaged && dep.State != models.DeploymentPending {
		return fmt.Errorf("deploy: deployment %q is %q, not staged/pending", deploymentID, dep.State)
	}

	now := time.Now()
	_ = o.audit.Record(deploymentID, audit.EventCancelled, "", "", "rejected: "+reason)
	return o.store.mutate(deploymentID, func(d *models.Deployment) {
		d.State = models.DeploymentCancelled
		d.CompletedAt = &now
		d.UpdatedAt = now
		d.FailureReason = "rejected: " + reason
	})
}

// Retry creates a fresh deployment using the original notification
// (spec §4.8: "retry(deployment_id) — creates a fresh deployment using
// the same notification"). The original notification, including its
// ResolvedDigests map, carries forward unchanged. Because Stage records
// image references as given rather than as digests, a retry after a
// floating tag has moved upstream applies whatever image the tag names
// at swap time, not necessarily the one the first attempt applied.
func (o *Orchestrator) Retry(ctx context.Context, deploymentID string) (models.Deployment, error) {
	original, err := o.store.get(deploymentID)
	if err != nil {
		return models.Deployment{}, err
	}
	return o.Stage(ctx, original.Notification)
}

// Status returns the current state of deploymentID.
func (o *Orchestrator) Status(deploymentID string) (models.Deployment, error) {
	return o.store.get(deploymentID)
}

// PendingAll returns every staged or pending deployment.
func (o *Orchestrator) PendingAll() []models.Deployment {
	return o.store.pending()
}

// List returns every deployment this process has staged.
func (o *Orchestrator) List() []models.Deployment {
	return o.store.list()
}

// run executes the full rollout for deploymentID: builds the phase list
// for its strategy, runs each phase's per-agent protocol, gates after
// every canary phase, and finalizes the deployment's terminal state.
func (o *Orchestrator) run(ctx context.Context, deploymentID string) {
	o.cleaner.BeginDeployment()
	metrics.DeploymentsActive.Set(1)
	defer func() {
		o.cleaner.EndDeployment()
		metrics.DeploymentsActive.Set(0)
	}()

	dep, err := o.store.get(deploymentID)
	if err != nil {
		return
	}

	if err := o.store.mutate(deploymentID, func(d *models.Deployment) {
		d.State = models.DeploymentInProgress
		d.UpdatedAt = time.Now()
	}); err != nil {
		return
	}

	agents := make([]models.Agent, 0, len(dep.AffectedAgents))
	for _, key := range dep.AffectedAgents {
		if a, err := o.reg.Get(key); err == nil {
			agents = append(agents, a)
		}
	}

	var phases []phase
	if dep.Notification.Strategy == models.StrategyCanary {
		phases = groupIntoCanaryPhases(agents)
	} else {
		phases = singlePhase(agents)
	}

	for _, ph := range phases {
		if ctx.Err() != nil {
			return
		}
		_ = o.audit.Record(deploymentID, audit.EventPhaseStarted, ph.name, "", fmt.Sprintf("%d agent(s)", len(ph.agents)))
		o.runPhase(ctx, deploymentID, dep.Notification, ph)

		if dep.Notification.Strategy != models.StrategyCanary {
			continue
		}

		// Every canary phase, including the last or only one, passes
		// through the health gate. A single-phase canary (the common case
		// when no agent carries an explicit deployment_group) must still
		// be able to fail and propose a rollback rather than silently
		// completing like an immediate rollout.
		gate := o.runHealthGate(ctx, ph.agents, o.cfg.WaitForWork(), o.cfg.Stability(), o.cfg.HealthPollInterval())
		if gate.Passed {
			continue
		}

		reason := fmt.Sprintf("canary phase %q failed to reach a stable WORK state", ph.name)
		proposal := o.buildRollbackProposal(deploymentID, reason, gate.NotWorked)
		now := time.Now()
		_ = o.audit.Record(deploymentID, audit.EventRollback, ph.name, "", reason)
		_ = o.store.mutate(deploymentID, func(d *models.Deployment) {
			d.State = models.DeploymentFailed
			d.UpdatedAt = now
			d.CompletedAt = &now
			d.FailureReason = reason
			d.Rollback = &proposal
		})
		return
	}

	o.finalize(deploymentID)
}

// runPhase executes the per-agent accept/defer/reject/swap protocol for
// every agent in ph, bounded to maxPhaseParallelism concurrent agents
// (spec §4.8 "Per-agent update protocol" run "for each agent in a phase,
// in parallel").
func (o *Orchestrator) runPhase(ctx context.Context, deploymentID string, notification models.UpdateNotification, ph phase) {
	image := notification.AgentImage
	if image == "" {
		return
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(maxPhaseParallelism)

	for _, agent := range ph.agents {
		agent := agent
		group.Go(func() error {
			o.updateOneAgent(ctx, deploymentID, ph.name, agent, image)
			return nil
		})
	}
	_ = group.Wait()
}

func (o *Orchestrator) updateOneAgent(ctx context.Context, deploymentID, phaseName string, agent models.Agent, newImage string) {
	client, err := o.agentClient(agent)
	if err != nil {
		o.recordOutcome(deploymentID, phaseName, agent.Key, false, true, err.Error())
		return
	}

	decision, err := client.OfferUpdate(ctx, newImage)
	if err != nil {
		// Timeout and a transport error are both mapped to reject,
		// per spec §4.8 step 3.
		decision = models.DecisionReject
	}

	switch decision {
	case models.DecisionDefer:
		_ = o.audit.Record(deploymentID, audit.EventAgentDeferred, phaseName, agent.Key.String(), "")
		o.bumpCounter(deploymentID, func(c *models.Counters) { c.Deferred++; c.Pending-- })
		metrics.DeploymentAgentsTotal.WithLabelValues("deferred").Inc()
		return
	case models.DecisionReject:
		_ = o.audit.Record(deploymentID, audit.EventAgentRejected, phaseName, agent.Key.String(), "")
		o.bumpCounter(deploymentID, func(c *models.Counters) { c.Failed++; c.Pending-- })
		metrics.DeploymentAgentsTotal.WithLabelValues("failed").Inc()
		return
	}

	if err := o.swapAgent(ctx, agent, newImage); err != nil {
		_ = o.audit.Record(deploymentID, audit.EventAgentRejected, phaseName, agent.Key.String(), "swap failed: "+err.Error())
		o.bumpCounter(deploymentID, func(c *models.Counters) { c.Failed++; c.Pending-- })
		metrics.DeploymentAgentsTotal.WithLabelValues("failed").Inc()
		return
	}

	_ = o.reg.Mutate(agent.Key, func(a *models.Agent) error {
		a.Versions.Rotate(newImage)
		a.VersionHistory = append(a.VersionHistory, models.VersionEntry{
			Image: newImage, DeploymentID: deploymentID, Timestamp: time.Now(),
		})
		return nil
	})
	o.cleaner.ScheduleCleanup(agent.Key.HostID)

	_ = o.audit.Record(deploymentID, audit.EventAgentAccepted, phaseName, agent.Key.String(), "updated to "+newImage)
	o.bumpCounter(deploymentID, func(c *models.Counters) { c.Updated++; c.Pending-- })
	metrics.DeploymentAgentsTotal.WithLabelValues("updated").Inc()
}

func (o *Orchestrator) recordOutcome(deploymentID, phaseName string, key models.AgentKey, updated, failed bool, detail string) {
	_ = o.audit.Record(deploymentID, audit.EventAgentRejected, phaseName, key.String(), detail)
	o.bumpCounter(deploymentID, func(c *models.Counters) {
		if failed {
			c.Failed++
		}
		if updated {
			c.Updated++
		}
		c.Pending--
	})
	if failed {
		metrics.DeploymentAgentsTotal.WithLabelValues("failed").Inc()
	}
	if updated {
		metrics.DeploymentAgentsTotal.WithLabelValues("updated").Inc()
	}
}

func (o *Orchestrator) bumpCounter(deploymentID string, fn func(*models.Counters)) {
	_ = o.store.mutate(deploymentID, func(d *models.Deployment) {
		fn(&d.Counters)
		d.UpdatedAt = time.Now()
	})
}

func (o *Orchestrator) finalize(deploymentID string) {
	now := time.Now()
	_ = o.audit.Record(deploymentID, audit.EventCompleted, "", "", "")
	_ = o.store.mutate(deploymentID, func(d *models.Deployment) {
		if d.State == models.DeploymentInProgress {
			d.State = models.DeploymentCompleted
		}
		d.CompletedAt = &now
		d.UpdatedAt = now
	})

	o.mu.Lock()
	delete(o.cancels, deploymentID)
	o.mu.Unlock()
}
