// Package retention implements C9, the image-retention sweep: per-host,
// repository-grouped image cleanup that keeps every image currently in
// use by a container plus the newest versions_to_keep, removes the
// rest, and prunes dangling images at the end.
//
// Grounded on recovery's ticker-loop shape (no teacher precedent for a
// background polling loop either), and on the teacher's
// docker/nginx.go pull/cleanup error style: every image/repository
// failure is logged and skipped rather than aborting the whole pass
// (spec §4.9: "errors are per-image and per-repository; one failure
// never aborts the pass").
package retention

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/metrics"
)

// Loop owns the image-retention ticker and the in-flight deployment
// gate (spec §4.8 step 6: "schedule image cleanup asynchronously";
// spec's composition section requires the initial cleanup to wait while
// any deployment is active, so a concurrent rollout never races a prune
// pass against a container the rollout is about to recreate).
type Loop struct {
	logger         *slog.Logger
	facade         *dockerfacade.Facade
	versionsToKeep int
	interval       time.Duration
	schedule       cron.Schedule

	mu             sync.Mutex
	deploymentsRun int
}

// WithSchedule attaches a calendar cron schedule (spec §6's optional
// config.RetentionConfig.CronSchedule), which takes priority over the
// fixed interval ticker in Run: sweeps then fire at the schedule's
// computed times ("3am daily") rather than every interval duration
// measured from process start. A nil schedule leaves the ticker in
// charge, unchanged.
func (l *Loop) WithSchedule(schedule cron.Schedule) *Loop {
	l.schedule = schedule
	return l
}

// New constructs a Loop. versionsToKeep and interval come from
// config.RetentionConfig (spec §6).
func New(logger *slog.Logger, facade *dockerfacade.Facade, versionsToKeep int, interval time.Duration) *Loop {
	if versionsToKeep < 1 {
		versionsToKeep = 1
	}
	return &Loop{
		logger:         logger,
		facade:         facade,
		versionsToKeep: versionsToKeep,
		interval:       interval,
	}
}

// BeginDeployment and EndDeployment let the deploy package tell this
// loop a rollout is in flight, satisfying the deploy.ImageCleaner
// interface's scheduling contract: while the active-deployment count is
// above zero, ScheduleCleanup skips its pass and Sweep does nothing.
func (l *Loop) BeginDeployment() {
	l.mu.Lock()
	l.deploymentsRun++
	l.mu.Unlock()
}

func (l *Loop) EndDeployment() {
	l.mu.Lock()
	if l.deploymentsRun > 0 {
		l.deploymentsRun--
	}
	l.mu.Unlock()
}

func (l *Loop) deploymentActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deploymentsRun > 0
}

// ScheduleCleanup runs one retention pass for hostID asynchronously,
// satisfying deploy.ImageCleaner. The pass is skipped (not queued) while
// any deployment is active, re-running on the loop's own ticker instead.
func (l *Loop) ScheduleCleanup(hostID string) {
	go func() {
		if l.deploymentActive() {
			return
		}
		l.sweepHost(context.Background(), hostID)
	}()
}

// Run blocks, sweeping every configured host until ctx is cancelled. With
// a cron schedule attached (WithSchedule), each sweep is timed to the
// schedule's next computed run; otherwise it fires every interval on a
// plain ticker.
func (l *Loop) Run(ctx context.Context) {
	if l.schedule != nil {
		l.runScheduled(ctx)
		return
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(ctx)
		}
	}
}

func (l *Loop) runScheduled(ctx context.Context) {
	for {
		next := l.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.Sweep(ctx)
		}
	}
}

// Sweep runs one retention pass over every configured host, skipped
// entirely while a deployment is in flight.
func (l *Loop) Sweep(ctx context.Context) {
	if l.deploymentActive() {
		l.logger.Debug("retention sweep skipped: deployment in progress")
		return
	}
	for _, hostID := range l.facade.HostIDs() {
		l.sweepHost(ctx, hostID)
	}
}

func (l *Loop) sweepHost(ctx context.Context, hostID string) {
	client, err := l.facade.Client(ctx, hostID)
	if err != nil {
		l.logger.Warn("retention sweep skipping host: connect failed", "host_id", hostID, "error", err)
		return
	}

	inUse, err := inUseImages(ctx, client)
	if err != nil {
		l.logger.Warn("retention sweep: listing containers failed", "host_id", hostID, "error", err)
		return
	}

	images, err := client.ListImages(ctx)
	if err != nil {
		l.logger.Warn("retention sweep: listing images failed", "host_id", hostID, "error", err)
		return
	}

	for repo, group := range groupByRepository(images) {
		l.sweepRepository(ctx, client, hostID, repo, group, inUse)
	}

	reclaimed, err := client.PruneDanglingImages(ctx)
	if err != nil {
		l.logger.Warn("retention sweep: dangling prune failed", "host_id", hostID, "error", err)
		return
	}
	if reclaimed > 0 {
		l.logger.Info("retention sweep: pruned dangling images", "host_id", hostID, "bytes_reclaimed", reclaimed)
	}
}

// sweepRepository keeps every in-use image plus the versionsToKeep
// newest, removing the rest. One image's removal failure is logged and
// does not stop the rest of the repository or the pass.
func (l *Loop) sweepRepository(ctx context.Context, client *dockerfacade.HostClient, hostID, repo string, images []dockerfacade.ImageInfo, inUse map[string]bool) {
	sort.Slice(images, func(i, j int) bool { return images[i].Created > images[j].Created })

	kept := 0
	for _, img := range images {
		if kept < l.versionsToKeep || referencesAny(img, inUse) {
			kept++
			continue
		}
		if err := client.RemoveImage(ctx, img.ID, false); err != nil {
			l.logger.Warn("retention sweep: remove image failed",
				"host_id", hostID, "repository", repo, "image_id", img.ID, "error", err)
			continue
		}
		metrics.ImagesRemovedTotal.WithLabelValues(hostID).Inc()
		l.logger.Info("retention sweep: removed image", "host_id", hostID, "repository", repo, "image_id", img.ID)
	}
}

// inUseImages returns the set of image references (by tag or ID) any
// container on client's host currently runs, regardless of that
// container's running/stopped state — a stopped-but-not-yet-recovered
// agent container still pins its image.
func inUseImages(ctx context.Context, client *dockerfacade.HostClient) (map[string]bool, error) {
	containers, err := client.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	refs := make(map[string]bool, len(containers))
	for _, c := range containers {
		refs[c.Image] = true
	}
	return refs, nil
}

func referencesAny(img dockerfacade.ImageInfo, inUse map[string]bool) bool {
	if inUse[img.ID] {
		return true
	}
	for _, tag := range img.RepoTags {
		if inUse[tag] {
			return true
		}
	}
	return false
}

// groupByRepository buckets images by repository name (the portion of
// a repo:tag reference before the last colon); an untagged image is left
// out of every group and left for the dangling prune pass rather than a
// repository walk, since it has no version history to keep N of.
func groupByRepository(images []dockerfacade.ImageInfo) map[string][]dockerfacade.ImageInfo {
	groups := make(map[string][]dockerfacade.ImageInfo)
	for _, img := range images {
		if len(img.RepoTags) == 0 {
			continue
		}
		for _, tag := range img.RepoTags {
			repo := tag
			if idx := strings.LastIndex(tag, ":"); idx >= 0 {
				repo = tag[:idx]
			}
			groups[repo] = append(groups[repo], img)
		}
	}
	return groups
}
