package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/photopipe/internal/testutil"
)

func TestSMIProberParsesInventory(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "nvidia-smi", `echo "0, NVIDIA A100-SXM4-40GB, 8.0, 40960"
echo "1, NVIDIA A100-SXM4-40GB, 8.0, 40960"`)

	prober := &SMIProber{Binary: script}
	devices, err := prober.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, 0, devices[0].ID)
	assert.Equal(t, 8.0, devices[0].ComputeCapability)
	assert.Equal(t, 40960, devices[1].MemoryMB)
}

func TestSMIProberFailsOnMissingBinary(t *testing.T) {
	prober := &SMIProber{Binary: "/nonexistent/nvidia-smi"}
	_, err := prober.Probe(context.Background())
	assert.Error(t, err)
}

func TestSMIProberFailsOnGarbageOutput(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "nvidia-smi", `echo "garbage output"`)

	prober := &SMIProber{Binary: script}
	_, err := prober.Probe(context.Background())
	assert.Error(t, err)
}
