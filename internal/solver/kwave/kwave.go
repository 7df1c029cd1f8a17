// Package kwave drives a k-Wave-family acoustic wave-propagation binary.
//
// The acoustic stage consumes the optical stage's fluence output
// reformatted as an initial-pressure source term plus the domain's acoustic
// property maps, and writes a time-series pressure field. Unlike the
// optical stage its device binding may span multiple accelerators, and the
// CUDA build is sensitive to compute-capability mismatches, so Prepare
// checks capability metadata up front rather than deferring to an opaque
// binary crash.
package kwave

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/photopipe/internal/ctxlog"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/field"
	"github.com/vk/photopipe/internal/solver"
	"github.com/vk/photopipe/internal/workspace"
)

// StageName identifies the acoustic stage in logs, errors and the ledger.
const StageName = "acoustic"

// MinComputeCapability is the oldest CUDA architecture the k-Wave CUDA
// binaries still ship kernels for.
const MinComputeCapability = 3.5

const outputFile = "pressure.pts"

// Adapter implements the solver.Adapter contract for the k-Wave binary.
type Adapter struct {
	manager *workspace.Manager
}

// New returns a k-Wave adapter staging through the given workspace manager.
func New(manager *workspace.Manager) *Adapter {
	return &Adapter{manager: manager}
}

// Name implements the solver.Adapter interface.
func (a *Adapter) Name() string { return StageName }

// Prepare stages the initial-pressure source and acoustic medium maps as
// the solver's input bundle and builds the command line. It fails fast
// with *device.UnsupportedError when capability metadata shows a bound
// device below the solver's minimum.
func (a *Adapter) Prepare(ctx context.Context, ws *workspace.Workspace, in *solver.Inputs, binding device.Binding) (*solver.CommandSpec, error) {
	if len(binding.Devices) == 0 {
		return nil, fmt.Errorf("acoustic stage requires at least one device")
	}
	if err := device.RequireCapability(binding, MinComputeCapability); err != nil {
		return nil, err
	}
	if in.InitialPressure == nil {
		return nil, fmt.Errorf("acoustic stage requires an initial-pressure source from the optical stage")
	}

	bundle, err := encodeInputBundle(in)
	if err != nil {
		return nil, err
	}
	inputPath, _, err := a.manager.StageBytes(ctx, ws, "kwave-input", ".kwi", bundle)
	if err != nil {
		return nil, err
	}
	outputPath := ws.Path(filepath.Join(workspace.OutputDir, outputFile))

	ctxlog.FromContext(ctx).Debug("Acoustic stage prepared.",
		"input", inputPath,
		"output", outputPath,
		"devices", binding.IDs(),
	)

	return &solver.CommandSpec{
		Stage:  StageName,
		Binary: in.Config.AcousticBinary,
		Args: []string{
			"-i", inputPath,
			"-o", outputPath,
			"-g", binding.String(),
		},
		Dir:     ws.Root,
		Binding: binding,
	}, nil
}

// ExpectedOutputs implements the solver.Adapter interface.
func (a *Adapter) ExpectedOutputs() []string {
	return []string{filepath.Join(workspace.OutputDir, outputFile)}
}

// Parse reads the time-series pressure field back and validates its
// structure. The series carries its own header, so the inputs are not
// consulted.
func (a *Adapter) Parse(ctx context.Context, ws *workspace.Workspace, _ *solver.Inputs) (solver.Result, error) {
	rel := a.ExpectedOutputs()[0]
	path := ws.Path(rel)

	pressure, err := field.ReadTimeSeries(path)
	if err != nil {
		return nil, &solver.FormatError{Stage: StageName, Path: path, Reason: "unreadable pressure time series", Err: err}
	}
	if !field.AllFinite(pressure.Values) {
		return nil, &solver.FormatError{Stage: StageName, Path: path, Reason: "pressure series contains NaN or Inf"}
	}

	result := &solver.AcousticResult{Pressure: pressure, Path: rel}
	s := result.Summary()
	ctxlog.FromContext(ctx).Info("Pressure time series parsed.",
		"sensors", pressure.Sensors,
		"timesteps", pressure.Timesteps,
		"min", s.Min, "max", s.Max, "mean", s.Mean,
	)
	return result, nil
}

// encodeInputBundle concatenates the initial pressure and the acoustic
// medium maps into the solver's input bundle: three scalar grids in
// interchange layout, in fixed order p0, sound speed, density.
func encodeInputBundle(in *solver.Inputs) ([]byte, error) {
	vol := in.Volume
	var buf bytes.Buffer
	grids := []*field.Scalar{
		in.InitialPressure,
		vol.ScalarMap(vol.SoundSpeedMPerS),
		vol.ScalarMap(vol.DensityKGPerM3),
	}
	for _, g := range grids {
		if err := field.EncodeScalar(&buf, g); err != nil {
			return nil, fmt.Errorf("failed to encode acoustic input bundle: %w", err)
		}
	}
	return buf.Bytes(), nil
}
