package proxy

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, err)
	return reg
}

func TestReconcileWithNoConfiguredHostsIsANoop(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	reg := newTestRegistry(t)

	r := New(facade, reg, filepath.Join(t.TempDir(), "ciris-routes.conf"), "nginx-proxy")
	assert.NoError(t, r.Reconcile(context.Background()))
}

func TestDiscoverWithNoConfiguredHostsReturnsEmptyMap(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	reg := newTestRegistry(t)

	r := New(facade, reg, "", "nginx-proxy")
	byHost := r.discover(context.Background())
	assert.Empty(t, byHost)
}

func TestInstallLocalWritesRenderedConfigAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciris-routes.conf")
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	reg := newTestRegistry(t)

	r := New(facade, reg, path, "nginx-proxy")
	require.NoError(t, r.installLocal("upstream agent_scout { server 127.0.0.1:8081; }\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upstream agent_scout")
}

func TestNewDefaultsRemoteConfPath(t *testing.T) {
	facade := dockerfacade.New(testLogger(), nil, time.Minute)
	reg := newTestRegistry(t)

	r := New(facade, reg, "", "nginx-proxy")
	assert.Equal(t, "/etc/nginx/conf.d/ciris-routes.conf", r.remoteConfPath)
}

func TestReconcileInstallsLocalConfigForLocalHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciris-routes.conf")
	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Minute)
	reg := newTestRegistry(t)

	r := New(facade, reg, path, "nginx-proxy")
	require.NoError(t, r.Reconcile(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "generated by the fleet manager")
}
