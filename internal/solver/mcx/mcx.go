// Package mcx drives an MCX-family Monte Carlo photon-transport binary.
//
// MCX consumes a JSON session file referencing a raw float32 volume of
// stacked optical properties and writes the simulated fluence as a raw
// float32 grid (.mc2). The result is stochastic but reproducible; Monte
// Carlo noise is a physics tuning parameter, not an error condition, so
// nothing here retries.
package mcx

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vk/photopipe/internal/ctxlog"
	"github.com/vk/photopipe/internal/device"
	"github.com/vk/photopipe/internal/field"
	"github.com/vk/photopipe/internal/fsutil"
	"github.com/vk/photopipe/internal/solver"
	"github.com/vk/photopipe/internal/workspace"
)

// StageName identifies the optical stage in logs, errors and the ledger.
const StageName = "optical"

const (
	sessionID = "fluence"
	// MCX reports fluence in J/mm^2; downstream processing expects J/cm^2.
	fluenceUnitScale = 100.0
	// cm^-1 to mm^-1 for absorption and scattering.
	perCMToPerMM = 0.1
)

// Adapter implements the solver.Adapter contract for MCX. It holds no
// per-run state, so one instance serves concurrent runs; the grid geometry
// Parse needs to interpret the headerless .mc2 output comes from the same
// inputs Prepare staged.
type Adapter struct {
	manager *workspace.Manager
}

// New returns an MCX adapter staging through the given workspace manager.
func New(manager *workspace.Manager) *Adapter {
	return &Adapter{manager: manager}
}

// Name implements the solver.Adapter interface.
func (a *Adapter) Name() string { return StageName }

// sessionFile is the MCX JSON session layout, limited to the keys this
// pipeline drives.
type sessionFile struct {
	Session struct {
		ID           string `json:"ID"`
		Photons      int64  `json:"Photons"`
		RootPath     string `json:"RootPath"`
		DoAutoThread int    `json:"DoAutoThread"`
	} `json:"Session"`
	Domain struct {
		VolumeFile string  `json:"VolumeFile"`
		Dim        [3]int  `json:"Dim"`
		MediaN     int     `json:"MediaN"`
		LengthUnit float64 `json:"LengthUnit"`
	} `json:"Domain"`
	Forward struct {
		T0 float64 `json:"T0"`
		T1 float64 `json:"T1"`
		Dt float64 `json:"Dt"`
	} `json:"Forward"`
}

// Prepare stages the stacked property volume and session file and builds
// the MCX command line. The optical stage binds exactly one accelerator.
func (a *Adapter) Prepare(ctx context.Context, ws *workspace.Workspace, in *solver.Inputs, binding device.Binding) (*solver.CommandSpec, error) {
	if len(binding.Devices) != 1 {
		return nil, fmt.Errorf("optical stage requires exactly one device, binding has %d", len(binding.Devices))
	}
	vol := in.Volume

	volumePath, _, err := a.manager.StageBytes(ctx, ws, "mcx-volume", ".bin", stackVolume(in))
	if err != nil {
		return nil, err
	}

	var session sessionFile
	session.Session.ID = sessionID
	session.Session.Photons = in.Config.PhotonCount
	session.Session.RootPath = ws.Dir(workspace.IntermediateDir)
	session.Session.DoAutoThread = 1
	session.Domain.VolumeFile = volumePath
	session.Domain.Dim = [3]int{vol.NX, vol.NY, vol.NZ}
	session.Domain.MediaN = 4
	session.Domain.LengthUnit = vol.SpacingMM
	// Single 5ns gate, matching a pulsed illumination snapshot.
	session.Forward.T1 = 5e-9
	session.Forward.Dt = 5e-9

	encoded, err := json.MarshalIndent(&session, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode mcx session: %w", err)
	}
	settingsPath := ws.Path(filepath.Join(workspace.InputDir, "mcx-session.json"))
	if err := os.WriteFile(settingsPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write mcx session file: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Optical stage prepared.",
		"volume", volumePath,
		"session", settingsPath,
		"photons", in.Config.PhotonCount,
	)

	return &solver.CommandSpec{
		Stage:  StageName,
		Binary: in.Config.OpticalBinary,
		Args: []string{
			"-f", settingsPath,
			"--session", sessionID,
			"--root", ws.Dir(workspace.IntermediateDir),
			// MCX numbers GPUs from 1.
			"--gpu", strconv.Itoa(binding.Devices[0].ID + 1),
		},
		Dir:     ws.Root,
		Binding: binding,
	}, nil
}

// ExpectedOutputs implements the solver.Adapter interface.
func (a *Adapter) ExpectedOutputs() []string {
	return []string{filepath.Join(workspace.IntermediateDir, sessionID+".mc2")}
}

// Parse reads the .mc2 fluence grid back, applies the J/mm^2 to J/cm^2
// conversion, and validates it against the staged grid geometry. The grid
// is located by extension rather than by name: MCX derives the output
// filename from the session id, and a lookup keeps Parse correct even if a
// future session naming scheme changes.
func (a *Adapter) Parse(ctx context.Context, ws *workspace.Workspace, in *solver.Inputs) (solver.Result, error) {
	vol := in.Volume
	path, err := fsutil.FirstFileByExtension(ws.Dir(workspace.IntermediateDir), ".mc2")
	if err != nil {
		return nil, &solver.FormatError{Stage: StageName, Path: ws.Dir(workspace.IntermediateDir), Reason: "fluence grid lookup failed", Err: err}
	}
	rel, err := filepath.Rel(ws.Root, path)
	if err != nil {
		rel = path
	}

	values, err := field.ReadRawFloat32(path, vol.VoxelCount())
	if err != nil {
		return nil, &solver.FormatError{Stage: StageName, Path: path, Reason: "unreadable fluence grid", Err: err}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, &solver.FormatError{
				Stage:  StageName,
				Path:   path,
				Reason: fmt.Sprintf("fluence sample %d is %g, expected a finite non-negative value", i, v),
			}
		}
		values[i] = v * fluenceUnitScale
	}

	fluence := &field.Scalar{NX: vol.NX, NY: vol.NY, NZ: vol.NZ, SpacingMM: vol.SpacingMM, Values: values}
	result := &solver.OpticalResult{Fluence: fluence, Path: rel}
	s := result.Summary()
	ctxlog.FromContext(ctx).Info("Fluence field parsed.", "min", s.Min, "max", s.Max, "mean", s.Mean)
	return result, nil
}

// stackVolume serializes the four optical property maps channel-first as
// float32, the layout MCX expects, converting absorption and scattering
// from per-cm to per-mm.
func stackVolume(in *solver.Inputs) []byte {
	vol := in.Volume
	var buf bytes.Buffer
	buf.Grow(4 * 4 * vol.VoxelCount())

	writeChannel := func(values []float64, scale float64) {
		raw := make([]byte, 4)
		for _, v := range values {
			binary.LittleEndian.PutUint32(raw, math.Float32bits(float32(v*scale)))
			buf.Write(raw)
		}
	}
	writeChannel(vol.AbsorptionPerCM, perCMToPerMM)
	writeChannel(vol.ScatteringPerCM, perCMToPerMM)
	writeChannel(vol.Anisotropy, 1)
	writeChannel(vol.RefractiveIndex, 1)
	return buf.Bytes()
}
