package volume

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclVolume is the on-disk phantom description the CLI accepts. It covers
// uniform phantoms; richer volumes are built programmatically against
// SimulationVolume.
type hclVolume struct {
	NX        int     `hcl:"nx"`
	NY        int     `hcl:"ny"`
	NZ        int     `hcl:"nz"`
	SpacingMM float64 `hcl:"spacing_mm"`

	AbsorptionPerCM float64  `hcl:"absorption_per_cm"`
	ScatteringPerCM float64  `hcl:"scattering_per_cm"`
	Anisotropy      float64  `hcl:"anisotropy"`
	RefractiveIndex float64  `hcl:"refractive_index"`
	SoundSpeedMPerS float64  `hcl:"sound_speed_m_per_s"`
	DensityKGPerM3  float64  `hcl:"density_kg_per_m3"`
	Grueneisen      *float64 `hcl:"grueneisen,optional"`
}

type hclVolumeRoot struct {
	Volume *hclVolume `hcl:"volume,block"`
}

// LoadSpec reads a uniform phantom description from an HCL file and
// validates the resulting volume.
func LoadSpec(path string) (*SimulationVolume, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse volume file %s: %w", path, diags)
	}
	var root hclVolumeRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode volume file %s: %w", path, diags)
	}
	if root.Volume == nil {
		return nil, fmt.Errorf("volume file %s has no volume block", path)
	}

	spec := root.Volume
	props := UniformProps{
		AbsorptionPerCM: spec.AbsorptionPerCM,
		ScatteringPerCM: spec.ScatteringPerCM,
		Anisotropy:      spec.Anisotropy,
		RefractiveIndex: spec.RefractiveIndex,
		SoundSpeedMPerS: spec.SoundSpeedMPerS,
		DensityKGPerM3:  spec.DensityKGPerM3,
	}
	if spec.Grueneisen != nil {
		props.Grueneisen = *spec.Grueneisen
	}

	vol := Uniform(spec.NX, spec.NY, spec.NZ, spec.SpacingMM, props)
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("volume file %s: %w", path, err)
	}
	return vol, nil
}
