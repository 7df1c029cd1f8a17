package volume

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVolumeIsValid(t *testing.T) {
	vol := Uniform(10, 10, 10, 0.5, SoftTissue())
	require.NoError(t, vol.Validate())
	assert.Equal(t, 1000, vol.VoxelCount())
	assert.NotNil(t, vol.Grueneisen)
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	vol := Uniform(10, 10, 10, 0.5, SoftTissue())
	vol.NZ = 0
	assert.Error(t, vol.Validate())

	vol = Uniform(10, 10, 10, 0, SoftTissue())
	assert.Error(t, vol.Validate())
}

func TestValidateRejectsBadProperties(t *testing.T) {
	cases := map[string]func(*SimulationVolume){
		"negative absorption":  func(v *SimulationVolume) { v.AbsorptionPerCM[3] = -0.1 },
		"negative scattering":  func(v *SimulationVolume) { v.ScatteringPerCM[3] = -1 },
		"anisotropy over one":  func(v *SimulationVolume) { v.Anisotropy[0] = 1.5 },
		"refractive below one": func(v *SimulationVolume) { v.RefractiveIndex[0] = 0.9 },
		"zero sound speed":     func(v *SimulationVolume) { v.SoundSpeedMPerS[5] = 0 },
		"zero density":         func(v *SimulationVolume) { v.DensityKGPerM3[5] = 0 },
		"nan in map":           func(v *SimulationVolume) { v.AbsorptionPerCM[0] = math.NaN() },
		"short map":            func(v *SimulationVolume) { v.Anisotropy = v.Anisotropy[:10] },
		"missing map":          func(v *SimulationVolume) { v.DensityKGPerM3 = nil },
	}

	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			vol := Uniform(5, 5, 5, 1.0, SoftTissue())
			corrupt(vol)
			assert.Error(t, vol.Validate())
		})
	}
}

func TestValidateAllowsMissingGrueneisen(t *testing.T) {
	props := SoftTissue()
	props.Grueneisen = 0
	vol := Uniform(4, 4, 4, 1.0, props)
	assert.Nil(t, vol.Grueneisen)
	assert.NoError(t, vol.Validate())
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`volume {
  nx                  = 8
  ny                  = 9
  nz                  = 10
  spacing_mm          = 0.25
  absorption_per_cm   = 0.2
  scattering_per_cm   = 90.0
  anisotropy          = 0.85
  refractive_index    = 1.4
  sound_speed_m_per_s = 1500.0
  density_kg_per_m3   = 1050.0
}
`), 0o644))

	vol, err := LoadSpec(path)
	require.NoError(t, err)
	assert.Equal(t, 8, vol.NX)
	assert.Equal(t, 720, vol.VoxelCount())
	assert.Equal(t, 0.2, vol.AbsorptionPerCM[0])
	assert.Nil(t, vol.Grueneisen)
}

func TestLoadSpecRejectsInvalidVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`volume {
  nx                  = 8
  ny                  = 8
  nz                  = 8
  spacing_mm          = 0.25
  absorption_per_cm   = -0.2
  scattering_per_cm   = 90.0
  anisotropy          = 0.85
  refractive_index    = 1.4
  sound_speed_m_per_s = 1500.0
  density_kg_per_m3   = 1050.0
}
`), 0o644))

	_, err := LoadSpec(path)
	assert.Error(t, err)
}
