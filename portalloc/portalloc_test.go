package portalloc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSkipsReservedAndAssignsInOrder(t *testing.T) {
	a := New(9000, 9010, []int{9000, 9001})

	port, err := a.Allocate("agent-a")
	require.NoError(t, err)
	assert.Equal(t, 9002, port)

	port2, err := a.Allocate("agent-b")
	require.NoError(t, err)
	assert.Equal(t, 9003, port2)
}

func TestAllocateIsIdempotentPerKey(t *testing.T) {
	a := New(9000, 9010, nil)

	first, err := a.Allocate("agent-a")
	require.NoError(t, err)

	second, err := a.Allocate("agent-a")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReleaseThenAllocateReturnsSamePort(t *testing.T) {
	a := New(9000, 9010, nil)

	port, err := a.Allocate("agent-a")
	require.NoError(t, err)

	released, ok := a.Release("agent-a")
	require.True(t, ok)
	assert.Equal(t, port, released)

	reAllocated, err := a.Allocate("agent-a")
	require.NoError(t, err)
	assert.Equal(t, port, reAllocated)
}

func TestReleaseUnknownKeyIsNotAnError(t *testing.T) {
	a := New(9000, 9010, nil)
	_, ok := a.Release("never-allocated")
	assert.False(t, ok)
}

func TestAllocateSkipsPortsAlreadyBound(t *testing.T) {
	ln, err := net.Listen("tcp", ":9100")
	require.NoError(t, err)
	defer ln.Close()

	a := New(9100, 9101, nil)
	port, err := a.Allocate("agent-a")
	require.NoError(t, err)
	assert.Equal(t, 9101, port)
}

func TestAllocateReturnsErrPortsExhausted(t *testing.T) {
	a := New(9200, 9200, []int{9200})
	_, err := a.Allocate("agent-a")
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestRehydrateSeedsExistingAllocations(t *testing.T) {
	a := New(9000, 9010, nil)
	a.Rehydrate(map[string]int{"agent-a": 9005})

	port, ok := a.Get("agent-a")
	require.True(t, ok)
	assert.Equal(t, 9005, port)

	next, err := a.Allocate("agent-b")
	require.NoError(t, err)
	assert.Equal(t, 9000, next)
}

func TestSnapshotSortedKeysIsDeterministic(t *testing.T) {
	a := New(9000, 9010, nil)
	_, err := a.Allocate("zeta")
	require.NoError(t, err)
	_, err = a.Allocate("alpha")
	require.NoError(t, err)

	keys := sortedKeys(a.Snapshot())
	assert.Equal(t, []string{"alpha", "zeta"}, keys)
}
