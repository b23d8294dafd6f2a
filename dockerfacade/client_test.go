package dockerfacade

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/ciris-fleet-manager/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestClientUnknownHostReturnsError(t *testing.T) {
	f := New(testLogger(), nil, time.Minute)
	_, err := f.Client(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestBreakerTripsAfterFailureAndClearsAfterCooldown(t *testing.T) {
	f := New(testLogger(), []models.Host{{HostID: "main", DockerHost: "tcp://127.0.0.1:1", IsLocal: false}}, 50*time.Millisecond)

	f.trip("main", errors.New("connect failed"))
	_, tripped := f.breakerTripped("main")
	require.True(t, tripped)

	time.Sleep(60 * time.Millisecond)
	_, tripped = f.breakerTripped("main")
	assert.False(t, tripped)
}

func TestHostIDsReturnsConfiguredHosts(t *testing.T) {
	f := New(testLogger(), []models.Host{{HostID: "main"}, {HostID: "scout"}}, time.Minute)
	ids := f.HostIDs()
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "main")
	assert.Contains(t, ids, "scout")
}

func TestErrCircuitOpenMessageIncludesHostID(t *testing.T) {
	err := &ErrCircuitOpen{HostID: "scout", ErrMsg: "boom", Until: time.Now()}
	assert.Contains(t, err.Error(), "scout")
	assert.Contains(t, err.Error(), "boom")
}
