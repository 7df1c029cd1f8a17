package device

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/vk/photopipe/internal/ctxlog"
)

// StaticProber returns a fixed inventory. Used in tests and as the
// metadata-free fallback when no management tool is present on the host.
type StaticProber struct {
	Devices []Device
}

// Probe implements the Prober interface.
func (p *StaticProber) Probe(ctx context.Context) ([]Device, error) {
	return append([]Device(nil), p.Devices...), nil
}

// SMIProber enumerates CUDA devices by shelling out to nvidia-smi.
type SMIProber struct {
	// Binary overrides the nvidia-smi lookup path. Empty means $PATH.
	Binary string
}

const smiQuery = "--query-gpu=index,name,compute_cap,memory.total"

// Probe runs nvidia-smi in CSV mode and parses one device per line.
func (p *SMIProber) Probe(ctx context.Context) ([]Device, error) {
	binary := p.Binary
	if binary == "" {
		binary = "nvidia-smi"
	}

	out, err := exec.CommandContext(ctx, binary, smiQuery, "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", binary, err)
	}

	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		d, err := parseSMILine(line)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}

	ctxlog.FromContext(ctx).Debug("Probed accelerator devices.", "count", len(devices))
	return devices, nil
}

// parseSMILine parses "index, name, compute_cap, memory.total" CSV fields.
func parseSMILine(line string) (Device, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Device{}, fmt.Errorf("unexpected nvidia-smi output line: %q", line)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Device{}, fmt.Errorf("invalid device index in nvidia-smi output %q: %w", line, err)
	}
	capability, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Device{}, fmt.Errorf("invalid compute capability in nvidia-smi output %q: %w", line, err)
	}
	memory, err := strconv.Atoi(fields[3])
	if err != nil {
		return Device{}, fmt.Errorf("invalid memory size in nvidia-smi output %q: %w", line, err)
	}

	return Device{
		ID:                id,
		Name:              fields[1],
		ComputeCapability: capability,
		MemoryMB:          memory,
	}, nil
}
