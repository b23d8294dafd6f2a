package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/audit"
	"github.com/sasta-kro/ciris-fleet-manager/cipher"
	"github.com/sasta-kro/ciris-fleet-manager/config"
	"github.com/sasta-kro/ciris-fleet-manager/deploy"
	"github.com/sasta-kro/ciris-fleet-manager/dockerfacade"
	"github.com/sasta-kro/ciris-fleet-manager/lifecycle"
	"github.com/sasta-kro/ciris-fleet-manager/models"
	"github.com/sasta-kro/ciris-fleet-manager/portalloc"
	"github.com/sasta-kro/ciris-fleet-manager/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

type fakeReconciler struct{}

func (fakeReconciler) Reconcile(context.Context) error { return nil }

// testRouter wires a full dependency graph against temp-dir-backed
// storage and a local-only host, mirroring lifecycle's and deploy's own
// testCoordinator/testOrchestrator helpers.
func testRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	templatesDir := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(templatesDir, 0o755))
	templateContents := []byte("name: scout\n")
	require.NoError(t, os.WriteFile(filepath.Join(templatesDir, "scout.yaml"), templateContents, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(templatesDir, "init_permissions.sh"), []byte("#!/bin/sh\ntrue\n"), 0o755))

	sum := sha256.Sum256(templateContents)
	digest := hex.EncodeToString(sum[:])
	manifestData, err := json.Marshal(map[string]any{"pre_approved": map[string]string{"scout": digest}})
	require.NoError(t, err)
	manifestPath := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(manifestPath, manifestData, 0o644))

	reg, err := registry.Load(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)

	ports := portalloc.New(9200, 9210, nil)
	facade := dockerfacade.New(testLogger(), []models.Host{{HostID: "main", IsLocal: true}}, time.Minute)

	key := make([]byte, cipher.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	cipherKey, err := cipher.New(key)
	require.NoError(t, err)

	coord := lifecycle.New(lifecycle.Config{
		AgentsDir:           filepath.Join(dir, "agents"),
		TemplatesDir:        templatesDir,
		ManifestPath:        manifestPath,
		ImageRegistry:       "ghcr.io/ciris-ai",
		DefaultImage:        "ciris-agent:latest",
		ContainerNamePrefix: "ciris",
	}, testLogger(), reg, ports, facade, cipherKey, fakeReconciler{})

	auditStore, err := audit.Open(filepath.Join(dir, "audit.db"), testLogger())
	require.NoError(t, err)

	orchestrator := deploy.New(testLogger(), reg, facade, auditStore, nil, config.DeploymentConfig{})

	return CreateAndSetupRouter(RouterDependencies{
		Logger:       testLogger(),
		Registry:     reg,
		Coordinator:  coord,
		Orchestrator: orchestrator,
		Facade:       facade,
		TemplatesDir: templatesDir,
		ManifestPath: manifestPath,
	})
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthEndpointReportsOK(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
}

func TestListAgentsOnEmptyRegistryReturnsEmptyArray(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateAgentThenGetAgentRoundTrips(t *testing.T) {
	router := testRouter(t)

	createBody, err := json.Marshal(createAgentRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created lifecycle.CreateResult
	decodeJSON(t, rec, &created)
	assert.NotEmpty(t, created.AgentID)

	req = httptest.NewRequest(http.MethodGet, "/api/agents/"+created.AgentID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var agent models.Agent
	decodeJSON(t, rec, &agent)
	assert.Equal(t, created.AgentID, agent.Key.AgentID)
}

func TestCreateAgentWithMissingNameReturnsBadRequest(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewReader([]byte(`{"template":"scout"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUnknownAgentReturnsNotFound(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAgentUnregistersIt(t *testing.T) {
	router := testRouter(t)

	createBody, err := json.Marshal(createAgentRequest{Name: "Scout", Template: "scout"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/agents", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created lifecycle.CreateResult
	decodeJSON(t, rec, &created)

	req = httptest.NewRequest(http.MethodDelete, "/api/agents/"+created.AgentID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/agents/"+created.AgentID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStageDeploymentWithInvalidStrategyReturnsBadRequest(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/deployments", bytes.NewReader([]byte(`{"strategy":"bogus"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageDeploymentWithManualStrategyStaysStaged(t *testing.T) {
	router := testRouter(t)

	body, err := json.Marshal(stageDeploymentRequest{Strategy: models.StrategyManual, AgentImage: "ghcr.io/ciris-ai/agent:v2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/deployments", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var dep models.Deployment
	decodeJSON(t, rec, &dep)
	assert.Equal(t, models.DeploymentStaged, dep.State)

	req = httptest.NewRequest(http.MethodGet, "/api/deployments/pending", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var pending []models.Deployment
	decodeJSON(t, rec, &pending)
	assert.Len(t, pending, 1)
}

func TestGetUnknownDeploymentReturnsNotFound(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/deployments/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTemplatesReportsPreApprovedScout(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var templates []lifecycle.Template
	decodeJSON(t, rec, &templates)
	require.Len(t, templates, 1)
	assert.Equal(t, "scout", templates[0].Name)
	assert.True(t, templates[0].PreApproved)
}

func TestListHostsReportsConfiguredHost(t *testing.T) {
	router := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/hosts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var hosts []hostSummary
	decodeJSON(t, rec, &hosts)
	require.Len(t, hosts, 1)
	assert.Equal(t, "main", hosts[0].HostID)
	assert.True(t, hosts[0].IsLocal)
}
