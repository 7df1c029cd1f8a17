package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSelector(t *testing.T, devices ...Device) *Selector {
	t.Helper()
	s, err := NewSelector(context.Background(), &StaticProber{Devices: devices})
	require.NoError(t, err)
	return s
}

func TestSelectValidatesRequestedIDs(t *testing.T) {
	s := newTestSelector(t, Device{ID: 0}, Device{ID: 1})

	binding, err := s.Select([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, binding.IDs())
	assert.Equal(t, "0,1", binding.String())
}

func TestSelectRejectsUnknownID(t *testing.T) {
	s := newTestSelector(t, Device{ID: 0}, Device{ID: 1})

	_, err := s.Select([]int{2})
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []int{2}, unavailable.Requested)
	assert.Equal(t, []int{0, 1}, unavailable.Available)
}

func TestSelectRejectsPartiallyUnknownRequest(t *testing.T) {
	s := newTestSelector(t, Device{ID: 0})

	_, err := s.Select([]int{0, 3})
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestRequireCapability(t *testing.T) {
	capable := Device{ID: 0, Name: "A100", ComputeCapability: 8.0}
	tooOld := Device{ID: 1, Name: "K20", ComputeCapability: 3.0}
	unknown := Device{ID: 2}

	assert.NoError(t, RequireCapability(Binding{Devices: []Device{capable}}, 3.5))

	err := RequireCapability(Binding{Devices: []Device{capable, tooOld}}, 3.5)
	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, 1, unsupported.Device.ID)

	// Unknown capability passes: the gate only rejects on present metadata.
	assert.NoError(t, RequireCapability(Binding{Devices: []Device{unknown}}, 3.5))
}

func TestParseSMILine(t *testing.T) {
	d, err := parseSMILine("0, NVIDIA GeForce RTX 3090, 8.6, 24576")
	require.NoError(t, err)
	assert.Equal(t, 0, d.ID)
	assert.Equal(t, "NVIDIA GeForce RTX 3090", d.Name)
	assert.Equal(t, 8.6, d.ComputeCapability)
	assert.Equal(t, 24576, d.MemoryMB)

	_, err = parseSMILine("not,a,gpu")
	assert.Error(t, err)

	_, err = parseSMILine("x, name, 8.6, 100")
	assert.Error(t, err)
}
