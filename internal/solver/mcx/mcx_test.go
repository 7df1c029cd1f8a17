package mcx

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/photopipe/internal/config"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/solver"
	"github.com/vk/photopipe/internal/volume"
	"github.com/vk/photopipe/internal/workspace"
)

func newFixture(t *testing.T) (*Adapter, *workspace.Workspace, *solver.Inputs) {
	t.Helper()
	manager := workspace.NewManager(t.TempDir())
	ws, err := manager.Create(context.Background(), "run-1")
	require.NoError(t, err)

	vol := volume.Uniform(4, 5, 6, 0.5, volume.SoftTissue())
	in := &solver.Inputs{
		Config: &config.RunConfig{
			OpticalBinary: "/opt/mcx/bin/mcx",
			PhotonCount:   123456,
		},
		Volume: vol,
	}
	return New(manager), ws, in
}

func oneDevice(id int) device.Binding {
	return device.Binding{Devices: []device.Device{{ID: id}}}
}

func TestPrepareBuildsCommand(t *testing.T) {
	adapter, ws, in := newFixture(t)

	spec, err := adapter.Prepare(context.Background(), ws, in, oneDevice(2))
	require.NoError(t, err)
	assert.Equal(t, StageName, spec.Stage)
	assert.Equal(t, "/opt/mcx/bin/mcx", spec.Binary)
	// MCX numbers GPUs from 1, so device index 2 becomes --gpu 3.
	assert.Contains(t, spec.Args, "--gpu")
	assert.Contains(t, spec.Args, "3")
	assert.Contains(t, spec.Args, "--root")
	assert.Contains(t, spec.Args, ws.Dir(workspace.IntermediateDir))
}

func TestPrepareStagesVolumeAndSession(t *testing.T) {
	adapter, ws, in := newFixture(t)

	_, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)

	sessionPath := ws.Path(filepath.Join(workspace.InputDir, "mcx-session.json"))
	data, err := os.ReadFile(sessionPath)
	require.NoError(t, err)

	var session sessionFile
	require.NoError(t, json.Unmarshal(data, &session))
	assert.Equal(t, int64(123456), session.Session.Photons)
	assert.Equal(t, [3]int{4, 5, 6}, session.Domain.Dim)
	assert.Equal(t, 0.5, session.Domain.LengthUnit)

	// The staged volume holds four float32 channels.
	volData, err := os.ReadFile(session.Domain.VolumeFile)
	require.NoError(t, err)
	assert.Len(t, volData, 4*4*in.Volume.VoxelCount())

	// First channel is absorption converted from per-cm to per-mm.
	mua := math.Float32frombits(binary.LittleEndian.Uint32(volData[:4]))
	assert.InDelta(t, in.Volume.AbsorptionPerCM[0]*0.1, float64(mua), 1e-7)
}

func TestPrepareIsDeterministic(t *testing.T) {
	adapter, ws, in := newFixture(t)

	spec1, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)
	spec2, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)
	assert.Equal(t, spec1.Args, spec2.Args)
}

func TestPrepareRejectsMultiDeviceBinding(t *testing.T) {
	adapter, ws, in := newFixture(t)

	binding := device.Binding{Devices: []device.Device{{ID: 0}, {ID: 1}}}
	_, err := adapter.Prepare(context.Background(), ws, in, binding)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one device")
}

// TestInterleavedRunsDoNotShareGeometry drives one adapter instance the way
// the orchestrator does across overlapping runs: a second run's Prepare with
// a different grid must not retarget the first run's Parse.
func TestInterleavedRunsDoNotShareGeometry(t *testing.T) {
	manager := workspace.NewManager(t.TempDir())
	adapter := New(manager)
	ctx := context.Background()

	wsA, err := manager.Create(ctx, "run-a")
	require.NoError(t, err)
	wsB, err := manager.Create(ctx, "run-b")
	require.NoError(t, err)

	inA := &solver.Inputs{
		Config: &config.RunConfig{OpticalBinary: "/opt/mcx/bin/mcx", PhotonCount: 1000},
		Volume: volume.Uniform(10, 10, 10, 0.5, volume.SoftTissue()),
	}
	inB := &solver.Inputs{
		Config: &config.RunConfig{OpticalBinary: "/opt/mcx/bin/mcx", PhotonCount: 1000},
		Volume: volume.Uniform(2, 2, 2, 0.5, volume.SoftTissue()),
	}

	_, err = adapter.Prepare(ctx, wsA, inA, oneDevice(0))
	require.NoError(t, err)
	_, err = adapter.Prepare(ctx, wsB, inB, oneDevice(0))
	require.NoError(t, err)

	writeFluence(t, wsA, make([]float32, inA.Volume.VoxelCount()))

	result, err := adapter.Parse(ctx, wsA, inA)
	require.NoError(t, err)
	optical := result.(*solver.OpticalResult)
	assert.Equal(t, inA.Volume.VoxelCount(), optical.Fluence.Len())
}

func TestParseLocatesFluenceByExtension(t *testing.T) {
	adapter, ws, in := newFixture(t)

	// MCX names the grid after the session id; Parse must not depend on
	// that name.
	buf := make([]byte, 4*in.Volume.VoxelCount())
	path := ws.Path(filepath.Join(workspace.IntermediateDir, "custom-session.mc2"))
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	result, err := adapter.Parse(context.Background(), ws, in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace.IntermediateDir, "custom-session.mc2"), result.ArtifactPath())
}

func TestParseRejectsAmbiguousFluence(t *testing.T) {
	adapter, ws, in := newFixture(t)

	buf := make([]byte, 4*in.Volume.VoxelCount())
	for _, name := range []string{"fluence.mc2", "stale.mc2"} {
		require.NoError(t, os.WriteFile(ws.Path(filepath.Join(workspace.IntermediateDir, name)), buf, 0o644))
	}

	_, err := adapter.Parse(context.Background(), ws, in)
	var formatErr *solver.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Contains(t, formatErr.Reason, "lookup failed")
}

func writeFluence(t *testing.T, ws *workspace.Workspace, samples []float32) {
	t.Helper()
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	path := ws.Path(filepath.Join(workspace.IntermediateDir, "fluence.mc2"))
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestParseScalesFluence(t *testing.T) {
	adapter, ws, in := newFixture(t)
	_, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)

	samples := make([]float32, in.Volume.VoxelCount())
	samples[0] = 0.25
	writeFluence(t, ws, samples)

	result, err := adapter.Parse(context.Background(), ws, in)
	require.NoError(t, err)
	optical := result.(*solver.OpticalResult)
	// J/mm^2 to J/cm^2.
	assert.InDelta(t, 25.0, optical.Fluence.Values[0], 1e-6)
	assert.Equal(t, in.Volume.VoxelCount(), optical.Fluence.Len())
}

func TestParseRejectsTruncatedFluence(t *testing.T) {
	adapter, ws, in := newFixture(t)
	_, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)

	writeFluence(t, ws, make([]float32, in.Volume.VoxelCount()-1))

	_, err = adapter.Parse(context.Background(), ws, in)
	var formatErr *solver.FormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, StageName, formatErr.Stage)
}

func TestParseRejectsNegativeFluence(t *testing.T) {
	adapter, ws, in := newFixture(t)
	_, err := adapter.Prepare(context.Background(), ws, in, oneDevice(0))
	require.NoError(t, err)

	samples := make([]float32, in.Volume.VoxelCount())
	samples[7] = -1
	writeFluence(t, ws, samples)

	_, err = adapter.Parse(context.Background(), ws, in)
	var formatErr *solver.FormatError
	require.ErrorAs(t, err, &formatErr)
}
