package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8888", cfg.Port)
	assert.Equal(t, 8080, cfg.Ports.Start)
	assert.Equal(t, 8200, cfg.Ports.End)
	assert.Len(t, cfg.Servers, 1)
	assert.True(t, cfg.Servers[0].IsLocal)
	assert.Equal(t, 3, cfg.Retention.VersionsToKeep)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
port: "9090"
agents_dir: /opt/ciris/agents
ports:
  start: 9000
  end: 9100
  reserved: [9001]
servers:
  - server_id: main
    hostname: localhost
    is_local: true
  - server_id: scout
    hostname: scout.example.com
    is_local: false
    docker_host: tcp://scout.example.com:2376
    tls_ca: /certs/ca.pem
    tls_cert: /certs/cert.pem
    tls_key: /certs/key.pem
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/opt/ciris/agents", cfg.AgentsDir)
	assert.Equal(t, 9000, cfg.Ports.Start)
	assert.Equal(t, []int{9001}, cfg.Ports.Reserved)
	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, "scout", cfg.Servers[1].HostID)
	assert.False(t, cfg.Servers[1].IsLocal)
}

func TestLoadRejectsInvalidPortRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports:\n  start: 100\n  end: 50\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsRemoteHostWithoutDockerHost(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
servers:
  - server_id: main
    is_local: true
  - server_id: scout
    is_local: false
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateHostIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
servers:
  - server_id: main
    is_local: true
  - server_id: main
    is_local: false
    docker_host: tcp://x:2376
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewLoggerTextAndJSON(t *testing.T) {
	cfg := &AppConfig{LogFormat: "text"}
	assert.NotNil(t, cfg.NewLogger())

	cfg.LogFormat = "json"
	assert.NotNil(t, cfg.NewLogger())
}
