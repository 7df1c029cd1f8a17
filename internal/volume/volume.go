// Package volume models the physical simulation domain handed into the
// pipeline: grid geometry plus per-voxel tissue property maps.
//
// A SimulationVolume is produced by the caller and treated as immutable once
// handed over. Validate runs the same class of sanity checks the solvers
// would otherwise fail on mid-run, so a bad volume is rejected before any
// accelerator time is spent.
package volume

import (
	"fmt"

	"github.com/vk/photopipe/internal/field"
)

// SimulationVolume describes the simulation domain. Optical maps drive the
// photon-transport stage; acoustic maps are forwarded to the
// wave-propagation stage together with the derived initial pressure. The
// Grueneisen map is optional and only used when a laser pulse energy is
// configured.
type SimulationVolume struct {
	NX, NY, NZ int
	SpacingMM  float64

	// Optical properties, per voxel.
	AbsorptionPerCM []float64
	ScatteringPerCM []float64
	Anisotropy      []float64
	RefractiveIndex []float64

	// Acoustic properties, per voxel.
	SoundSpeedMPerS []float64
	DensityKGPerM3  []float64

	// Grueneisen parameter, per voxel. May be nil.
	Grueneisen []float64
}

// VoxelCount returns the number of voxels in the grid.
func (v *SimulationVolume) VoxelCount() int {
	return v.NX * v.NY * v.NZ
}

// Validate checks dimension agreement and physical plausibility of every
// property map. It returns the first violation found.
func (v *SimulationVolume) Validate() error {
	if v.NX <= 0 || v.NY <= 0 || v.NZ <= 0 {
		return fmt.Errorf("grid dimensions %dx%dx%d must all be positive", v.NX, v.NY, v.NZ)
	}
	if v.SpacingMM <= 0 {
		return fmt.Errorf("voxel spacing %g mm must be positive", v.SpacingMM)
	}

	n := v.VoxelCount()
	maps := []struct {
		name     string
		values   []float64
		optional bool
	}{
		{"absorption", v.AbsorptionPerCM, false},
		{"scattering", v.ScatteringPerCM, false},
		{"anisotropy", v.Anisotropy, false},
		{"refractive_index", v.RefractiveIndex, false},
		{"sound_speed", v.SoundSpeedMPerS, false},
		{"density", v.DensityKGPerM3, false},
		{"grueneisen", v.Grueneisen, true},
	}
	for _, m := range maps {
		if m.values == nil {
			if m.optional {
				continue
			}
			return fmt.Errorf("property map %q is missing", m.name)
		}
		if len(m.values) != n {
			return fmt.Errorf("property map %q has %d values, grid requires %d", m.name, len(m.values), n)
		}
		if !field.AllFinite(m.values) {
			return fmt.Errorf("property map %q contains NaN or Inf", m.name)
		}
	}

	for i := range v.AbsorptionPerCM {
		if v.AbsorptionPerCM[i] < 0 {
			return fmt.Errorf("absorption must be non-negative, voxel %d is %g", i, v.AbsorptionPerCM[i])
		}
		if v.ScatteringPerCM[i] < 0 {
			return fmt.Errorf("scattering must be non-negative, voxel %d is %g", i, v.ScatteringPerCM[i])
		}
		if g := v.Anisotropy[i]; g < -1 || g > 1 {
			return fmt.Errorf("anisotropy must be in [-1, 1], voxel %d is %g", i, g)
		}
		if v.RefractiveIndex[i] < 1 {
			return fmt.Errorf("refractive index must be >= 1, voxel %d is %g", i, v.RefractiveIndex[i])
		}
		if v.SoundSpeedMPerS[i] <= 0 {
			return fmt.Errorf("sound speed must be positive, voxel %d is %g", i, v.SoundSpeedMPerS[i])
		}
		if v.DensityKGPerM3[i] <= 0 {
			return fmt.Errorf("density must be positive, voxel %d is %g", i, v.DensityKGPerM3[i])
		}
	}
	return nil
}

// ScalarMap wraps one property map as a field.Scalar sharing the volume's
// geometry, for staging to disk.
func (v *SimulationVolume) ScalarMap(values []float64) *field.Scalar {
	return &field.Scalar{
		NX:        v.NX,
		NY:        v.NY,
		NZ:        v.NZ,
		SpacingMM: v.SpacingMM,
		Values:    values,
	}
}

// Uniform builds a volume with every property map set to a constant.
// Primarily a convenience for tests and example programs.
func Uniform(nx, ny, nz int, spacingMM float64, props UniformProps) *SimulationVolume {
	n := nx * ny * nz
	fill := func(val float64) []float64 {
		s := make([]float64, n)
		for i := range s {
			s[i] = val
		}
		return s
	}
	v := &SimulationVolume{
		NX:              nx,
		NY:              ny,
		NZ:              nz,
		SpacingMM:       spacingMM,
		AbsorptionPerCM: fill(props.AbsorptionPerCM),
		ScatteringPerCM: fill(props.ScatteringPerCM),
		Anisotropy:      fill(props.Anisotropy),
		RefractiveIndex: fill(props.RefractiveIndex),
		SoundSpeedMPerS: fill(props.SoundSpeedMPerS),
		DensityKGPerM3:  fill(props.DensityKGPerM3),
	}
	if props.Grueneisen > 0 {
		v.Grueneisen = fill(props.Grueneisen)
	}
	return v
}

// UniformProps holds the constants for Uniform.
type UniformProps struct {
	AbsorptionPerCM float64
	ScatteringPerCM float64
	Anisotropy      float64
	RefractiveIndex float64
	SoundSpeedMPerS float64
	DensityKGPerM3  float64
	Grueneisen      float64
}

// SoftTissue returns typical soft-tissue constants at 800nm, handy as a
// starting point for callers building phantoms.
func SoftTissue() UniformProps {
	return UniformProps{
		AbsorptionPerCM: 0.1,
		ScatteringPerCM: 100.0,
		Anisotropy:      0.9,
		RefractiveIndex: 1.37,
		SoundSpeedMPerS: 1540.0,
		DensityKGPerM3:  1000.0,
		Grueneisen:      0.2,
	}
}
