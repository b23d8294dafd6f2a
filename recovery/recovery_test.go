package recovery

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

type fakeRestarter struct {
	calls []models.AgentKey
}

func (f *fakeRestarter) Restart(ctx context.Context, key models.AgentKey) error {
	f.calls = append(f.calls, key)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	return reg
}

func TestSweepWithNoConfiguredHostsIsANoop(t *testing.T) {
	reg := newTestRegistry(t)
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	restarter := &fakeRestarter{}

	loop := New(testLogger(), reg, facade, restarter, 30*time.Second, 5*time.Minute)
	loop.Sweep(context.Background())

	assert.Empty(t, restarter.calls)
}

// TestSweepSkipsHostsItCannotReach exercises the per-host error-isolation
// path: a host with no reachable Docker daemon behind it fails to
// connect (or connects but has no such container), and that failure
// must not prevent the sweep from completing or restarting an agent
// that was never actually crashed.
func TestSweepSkipsHostsItCannotReach(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Create(models.Agent{
		Key:  models.AgentKey{AgentID: "scout-ab12cd", HostID: "main"},
		Name: "Scout",
		Port: 9100,
	}))

	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Hour)
	restarter := &fakeRestarter{}

	loop := New(testLogger(), reg, facade, restarter, 30*time.Second, 5*time.Minute)
	loop.Sweep(context.Background())

	assert.Empty(t, restarter.calls)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	reg := newTestRegistry(t)
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	restarter := &fakeRestarter{}
	loop := New(testLogger(), reg, facade, restarter, 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
