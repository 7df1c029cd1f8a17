// Package testutil provides shared helpers for pipeline tests: fake solver
// binaries, configuration scaffolding, and log capture.
package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/photopipe/internal/field"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteScript writes an executable shell script and returns its path.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// FakeOpticalBinary returns a stand-in for the MCX binary: it locates the
// --root argument and writes a zero-valued fluence grid of the given voxel
// count there, then exits with exitCode.
func FakeOpticalBinary(t *testing.T, dir string, voxels, exitCode int) string {
	t.Helper()
	body := fmt.Sprintf(`root=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--root" ]; then root="$a"; fi
  prev="$a"
done
dd if=/dev/zero of="$root/fluence.mc2" bs=4 count=%d 2>/dev/null
exit %d`, voxels, exitCode)
	return WriteScript(t, dir, "fake-mcx", body)
}

// FakeAcousticBinary returns a stand-in for the k-Wave binary: it copies a
// canned pressure time series to wherever -o points.
func FakeAcousticBinary(t *testing.T, dir string, canned *field.TimeSeries) string {
	t.Helper()
	cannedPath := filepath.Join(dir, "canned.pts")
	require.NoError(t, field.WriteTimeSeries(cannedPath, canned))

	body := fmt.Sprintf(`out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
cp "%s" "$out"`, cannedPath)
	return WriteScript(t, dir, "fake-kwave", body)
}

// HangingBinary returns a binary that never finishes within any sane test
// timeout, for exercising the per-stage deadline.
func HangingBinary(t *testing.T, dir string) string {
	t.Helper()
	return WriteScript(t, dir, "fake-hang", "sleep 300")
}

// ExitBinary returns a binary that does nothing but exit with the given
// code.
func ExitBinary(t *testing.T, dir string, code int) string {
	t.Helper()
	return WriteScript(t, dir, fmt.Sprintf("fake-exit-%d", code), fmt.Sprintf("exit %d", code))
}

// PipelineConfig describes a pipeline HCL file for tests.
type PipelineConfig struct {
	OutputRoot     string
	OpticalBinary  string
	AcousticBinary string
	DeviceIDs      []int
	StageTimeout   string
	Retain         bool
	LedgerPath     string
}

// WritePipelineConfig renders the configuration to an HCL file and returns
// its path.
func WritePipelineConfig(t *testing.T, dir string, cfg PipelineConfig) string {
	t.Helper()

	ids := make([]string, len(cfg.DeviceIDs))
	for i, id := range cfg.DeviceIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}

	var sb strings.Builder
	sb.WriteString("pipeline {\n")
	fmt.Fprintf(&sb, "  output_root     = %q\n", cfg.OutputRoot)
	fmt.Fprintf(&sb, "  optical_binary  = %q\n", cfg.OpticalBinary)
	fmt.Fprintf(&sb, "  acoustic_binary = %q\n", cfg.AcousticBinary)
	fmt.Fprintf(&sb, "  device_ids      = [%s]\n", strings.Join(ids, ", "))
	if cfg.StageTimeout != "" {
		fmt.Fprintf(&sb, "  stage_timeout   = %q\n", cfg.StageTimeout)
	}
	if cfg.Retain {
		sb.WriteString("  retain_workspace = true\n")
	}
	sb.WriteString("}\n")
	if cfg.LedgerPath != "" {
		fmt.Fprintf(&sb, "ledger {\n  path = %q\n}\n", cfg.LedgerPath)
	}

	path := filepath.Join(dir, "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

// WriteVolumeSpec renders a uniform 10x10x10 soft-tissue phantom spec and
// returns its path.
func WriteVolumeSpec(t *testing.T, dir string) string {
	t.Helper()
	spec := `volume {
  nx                  = 10
  ny                  = 10
  nz                  = 10
  spacing_mm          = 0.5
  absorption_per_cm   = 0.1
  scattering_per_cm   = 100.0
  anisotropy          = 0.9
  refractive_index    = 1.37
  sound_speed_m_per_s = 1540.0
  density_kg_per_m3   = 1000.0
  grueneisen          = 0.2
}
`
	path := filepath.Join(dir, "volume.hcl")
	require.NoError(t, os.WriteFile(path, []byte(spec), 0o644))
	return path
}
