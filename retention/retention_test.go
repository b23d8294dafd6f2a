package retention

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestSweepWithNoConfiguredHostsIsANoop(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	loop := New(testLogger(), facade, 3, time.Hour)

	assert.NotPanics(t, func() { loop.Sweep(context.Background()) })
}

func TestSweepIsSkippedWhileADeploymentIsActive(t *testing.T) {
	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Hour)
	loop := New(testLogger(), facade, 3, time.Hour)

	loop.BeginDeployment()
	assert.True(t, loop.deploymentActive())

	loop.Sweep(context.Background())

	loop.EndDeployment()
	assert.False(t, loop.deploymentActive())
}

func TestBeginEndDeploymentNeverGoesNegative(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	loop := New(testLogger(), facade, 3, time.Hour)

	loop.EndDeployment()
	assert.False(t, loop.deploymentActive())
}

func TestNewClampsVersionsToKeepToAtLeastOne(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	loop := New(testLogger(), facade, 0, time.Hour)

	assert.Equal(t, 1, loop.versionsToKeep)
}

func TestGroupByRepositorySplitsOnTagAndSkipsUntagged(t *testing.T) {
	images := []dockerfacade.ImageInfo{
		{ID: "sha256:a", RepoTags: []string{"ghcr.io/ciris-ai/scout:v1"}, Created: 3},
		{ID: "sha256:b", RepoTags: []string{"ghcr.io/ciris-ai/scout:v2"}, Created: 2},
		{ID: "sha256:c", RepoTags: []string{"ghcr.io/ciris-ai/other:v1"}, Created: 1},
		{ID: "sha256:d", RepoTags: nil, Created: 0},
	}

	groups := groupByRepository(images)
	assert.Len(t, groups, 2)
	assert.Len(t, groups["ghcr.io/ciris-ai/scout"], 2)
	assert.Len(t, groups["ghcr.io/ciris-ai/other"], 1)
}

func TestReferencesAnyMatchesIDOrTag(t *testing.T) {
	img := dockerfacade.ImageInfo{ID: "sha256:a", RepoTags: []string{"ghcr.io/ciris-ai/scout:v1"}}

	assert.True(t, referencesAny(img, map[string]bool{"sha256:a": true}))
	assert.True(t, referencesAny(img, map[string]bool{"ghcr.io/ciris-ai/scout:v1": true}))
	assert.False(t, referencesAny(img, map[string]bool{"ghcr.io/ciris-ai/other:v1": true}))
}

func TestScheduleCleanupDoesNotBlock(t *testing.T) {
	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Hour)
	loop := New(testLogger(), facade, 3, time.Hour)

	done := make(chan struct{})
	go func() {
		loop.ScheduleCleanup("main")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ScheduleCleanup blocked the caller")
	}
}
