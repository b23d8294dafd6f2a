package audit

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrationAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s1, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path, testLogger())
	require.NoError(t, err)
	defer s2.Close()
}

func TestRecordAndForDeployment(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Record("dep-1", EventStaged, "", "", "staged 12 agents"))
	require.NoError(t, s.Record("dep-1", EventPhaseStarted, "explorers", "", ""))
	require.NoError(t, s.Record("dep-1", EventAgentAccepted, "explorers", "scout-ab12cd", "accepted update"))

	events, err := s.ForDeployment("dep-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventStaged, events[0].EventType)
	assert.Equal(t, "explorers", events[1].Phase)
	assert.Equal(t, "scout-ab12cd", events[2].AgentKey)
}

func TestForDeploymentReturnsEmptyForUnknownID(t *testing.T) {
	s := openTestStore(t)
	events, err := s.ForDeployment("nonexistent")
	require.NoError(t, err)
	assert.Empty(t, events)
}
