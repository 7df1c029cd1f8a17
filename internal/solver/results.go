package solver

import "github.com/vk/photopipe/internal/field"

// OpticalResult is the fluence field the optical stage produced, living
// under the workspace's intermediate directory. It is the source material
// for the acoustic stage's initial pressure.
type OpticalResult struct {
	Fluence *field.Scalar
	Path    string
}

// ArtifactPath implements the Result interface.
func (r *OpticalResult) ArtifactPath() string { return r.Path }

// Summary implements the Result interface.
func (r *OpticalResult) Summary() field.Summary { return field.Summarize(r.Fluence.Values) }

// AcousticResult is the time-series pressure field the acoustic stage
// produced, the pipeline's terminal artifact under output/.
type AcousticResult struct {
	Pressure *field.TimeSeries
	Path     string
}

// ArtifactPath implements the Result interface.
func (r *AcousticResult) ArtifactPath() string { return r.Path }

// Summary implements the Result interface.
func (r *AcousticResult) Summary() field.Summary { return field.Summarize(r.Pressure.Values) }
