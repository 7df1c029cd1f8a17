package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/photopipe/internal/field"
)

func TestCreateLaysOutDirectoryTree(t *testing.T) {
	m := NewManager(t.TempDir())

	ws, err := m.Create(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", ws.RunID)

	for _, sub := range []string{InputDir, IntermediateDir, OutputDir} {
		info, err := os.Stat(ws.Dir(sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCreateRejectsCollision(t *testing.T) {
	m := NewManager(t.TempDir())

	_, err := m.Create(context.Background(), "run-1")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestCreateRejectsEmptyRunID(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Create(context.Background(), "")
	assert.Error(t, err)
}

func TestStageScalarIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	ws, err := m.Create(ctx, "run-1")
	require.NoError(t, err)

	s := field.NewScalar(2, 2, 2, 1.0)
	s.Values[0] = 1.5

	path1, digest1, err := m.StageScalar(ctx, ws, "absorption", s)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path1), "absorption-")
	assert.Contains(t, filepath.Base(path1), digest1[:12])
	assert.Equal(t, ws.Dir(InputDir), filepath.Dir(path1))

	// Identical content stages to the identical name.
	path2, digest2, err := m.StageScalar(ctx, ws, "absorption", s)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
	assert.Equal(t, digest1, digest2)

	// Different content stages to a different name.
	s.Values[1] = 3.0
	path3, _, err := m.StageScalar(ctx, ws, "absorption", s)
	require.NoError(t, err)
	assert.NotEqual(t, path1, path3)
}

func TestCollectOutput(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	ws, err := m.Create(ctx, "run-1")
	require.NoError(t, err)

	present := filepath.Join(OutputDir, "pressure.pts")
	require.NoError(t, os.WriteFile(ws.Path(present), []byte("data"), 0o644))

	collected, err := m.CollectOutput(ctx, ws, []string{present})
	require.NoError(t, err)
	assert.Equal(t, ws.Path(present), collected[present])
}

func TestCollectOutputListsAllMissingFiles(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	ws, err := m.Create(ctx, "run-1")
	require.NoError(t, err)

	empty := filepath.Join(OutputDir, "empty.pts")
	require.NoError(t, os.WriteFile(ws.Path(empty), nil, 0o644))
	absent := filepath.Join(IntermediateDir, "fluence.mc2")

	_, err = m.CollectOutput(ctx, ws, []string{empty, absent})
	var incomplete *IncompleteOutputError
	require.ErrorAs(t, err, &incomplete)
	assert.ElementsMatch(t, []string{empty, absent}, incomplete.Missing)
}

func TestTeardownRemoves(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	ws, err := m.Create(ctx, "run-1")
	require.NoError(t, err)

	require.NoError(t, m.Teardown(ctx, ws, false))
	_, err = os.Stat(ws.Root)
	assert.True(t, os.IsNotExist(err))

	// Idempotent under repeated calls.
	require.NoError(t, m.Teardown(ctx, ws, false))
}

func TestTeardownRetainsContent(t *testing.T) {
	ctx := context.Background()
	m := NewManager(t.TempDir())
	ws, err := m.Create(ctx, "run-1")
	require.NoError(t, err)

	artifact := ws.Path(filepath.Join(OutputDir, "pressure.pts"))
	require.NoError(t, os.WriteFile(artifact, []byte("data"), 0o644))

	require.NoError(t, m.Teardown(ctx, ws, true))
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}
