package registry

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/cipher"
	"github.com/sasta-kro/ciris-fleet-manager/models"
)

func testAgent(agentID string) models.Agent {
	return models.Agent{
		Key:      models.AgentKey{AgentID: agentID, HostID: "main"},
		Name:     agentID,
		Template: "scout",
		Port:     8090,
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)

	agent := testAgent("scout-ab12cd")
	require.NoError(t, r.Create(agent))

	got, err := r.Get(agent.Key)
	require.NoError(t, err)
	assert.Equal(t, agent.Name, got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, r.Update(agent.Key, models.Agent{Name: "renamed", Port: 8090, Template: "scout"}))
	got, err = r.Get(agent.Key)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, r.Delete(agent.Key))
	_, err = r.Get(agent.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)

	agent := testAgent("scout-ab12cd")
	require.NoError(t, r.Create(agent))
	err = r.Create(agent)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMutateAppliesReadModifyWriteUnderLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)

	agent := testAgent("scout-ab12cd")
	require.NoError(t, r.Create(agent))

	require.NoError(t, r.Mutate(agent.Key, func(a *models.Agent) error {
		a.DoNotAutostart = true
		return nil
	}))

	got, err := r.Get(agent.Key)
	require.NoError(t, err)
	assert.True(t, got.DoNotAutostart)
}

func TestLoadPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, r.Create(testAgent("scout-ab12cd")))

	reopened, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, reopened.List(), 1)
}

func TestLoadMigratesLegacyCompositeKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	legacy := map[string]any{
		"schema_version": 1,
		"agents": map[string]any{
			"scout1-abc123-main": map[string]any{
				"name":     "scout1",
				"template": "scout",
				"port":     8090,
				"server_id": "main",
			},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "scout1-abc123", list[0].Key.AgentID)
	assert.Equal(t, "main", list[0].Key.HostID)
}

func TestLoadMissingFileReturnsEmptyRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	r, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, r.List())
}

func testCipherKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, cipher.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestServiceTokenRoundTripThroughCipher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)

	agent := testAgent("scout-ab12cd")
	require.NoError(t, r.Create(agent))

	c, err := cipher.New(testCipherKey(t))
	require.NoError(t, err)

	require.NoError(t, r.SetServiceToken(agent.Key, c, []byte("secret-token")))
	plaintext, err := r.ServiceToken(agent.Key, c)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", string(plaintext))
}

func TestAllocatedPortsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, r.Create(testAgent("scout-ab12cd")))

	ports := r.AllocatedPorts()
	assert.Equal(t, 8090, ports["scout-ab12cd::main"])
}
