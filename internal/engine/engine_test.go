package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initEngine initializes the engine for the duration of a test and checks
// that the test released every object it created.
func initEngine(t *testing.T) {
	t.Helper()
	require.NoError(t, Initialize(nil))
	t.Cleanup(func() {
		assert.Zero(t, LiveObjects().Total(), "objects leaked: %+v", LiveObjects())
		assert.NoError(t, Deinitialize())
	})
}

func TestInitializeReferenceCounting(t *testing.T) {
	require.False(t, Initialized())

	require.NoError(t, Initialize(nil))
	require.NoError(t, Initialize(&InitOptions{MaxWorkspaceBytes: 1}))
	assert.True(t, Initialized())
	assert.Equal(t, 0, maxWorkspaceBytes(), "options come from the first call")

	require.NoError(t, Deinitialize())
	assert.True(t, Initialized())
	require.NoError(t, Deinitialize())
	assert.False(t, Initialized())

	err := Deinitialize()
	assert.ErrorIs(t, err, Uninitialized)
	assert.Equal(t, "deinitialize", OpOf(err))
}

func TestInitializeRejectsNegativeLimit(t *testing.T) {
	err := Initialize(&InitOptions{MaxWorkspaceBytes: -1})
	assert.ErrorIs(t, err, InvalidParameter)
	assert.False(t, Initialized())
}

func TestCreateRequiresInitialization(t *testing.T) {
	_, err := CreateSubgraph(2, 0)
	assert.ErrorIs(t, err, Uninitialized)
	assert.Equal(t, "create_subgraph", OpOf(err))

	_, err = CreateWorkspace()
	assert.ErrorIs(t, err, Uninitialized)

	_, err = CreateWeightsCache()
	assert.ErrorIs(t, err, Uninitialized)

	_, err = CreateRuntime(nil, nil, nil, nil, 0)
	assert.ErrorIs(t, err, Uninitialized)
}

func TestDeinitializeWhileObjectsAlive(t *testing.T) {
	require.NoError(t, Initialize(nil))

	sg, err := CreateSubgraph(1, 0)
	require.NoError(t, err)
	ws, err := CreateWorkspace()
	require.NoError(t, err)

	assert.Equal(t, ObjectCounts{Subgraphs: 1, Workspaces: 1}, LiveObjects())

	err = Deinitialize()
	assert.ErrorIs(t, err, InvalidState)
	assert.True(t, Initialized())

	require.NoError(t, ws.Release())
	require.NoError(t, sg.Delete())
	require.NoError(t, Deinitialize())
	assert.Zero(t, LiveObjects().Total())
}
