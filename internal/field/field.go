// Package field defines the pipeline's on-disk interchange format for
// gridded simulation data: scalar volumes (optical property maps, fluence,
// initial pressure) and sensor time series (acoustic pressure traces).
//
// Why a custom codec?
//
// The solver binaries each speak their own native dialect; the adapters own
// those translations. Between stages, and for everything the orchestrator
// itself stages or collects, artifacts use one deterministic little-endian
// layout so a run's directory tree is inspectable by downstream tooling
// without re-invoking the pipeline.
package field

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Scalar is a dense 3D grid of float64 samples in x-fastest order.
type Scalar struct {
	NX, NY, NZ int
	SpacingMM  float64
	Values     []float64
}

// NewScalar allocates a zero-valued grid with the given dimensions.
func NewScalar(nx, ny, nz int, spacingMM float64) *Scalar {
	return &Scalar{
		NX:        nx,
		NY:        ny,
		NZ:        nz,
		SpacingMM: spacingMM,
		Values:    make([]float64, nx*ny*nz),
	}
}

// Len returns the expected number of samples for the grid dimensions.
func (s *Scalar) Len() int {
	return s.NX * s.NY * s.NZ
}

// At returns the sample at voxel (x, y, z).
func (s *Scalar) At(x, y, z int) float64 {
	return s.Values[x+s.NX*(y+s.NY*z)]
}

// Set stores the sample at voxel (x, y, z).
func (s *Scalar) Set(x, y, z int, v float64) {
	s.Values[x+s.NX*(y+s.NY*z)] = v
}

// TimeSeries holds per-sensor pressure traces sampled at a fixed interval.
type TimeSeries struct {
	Sensors   int
	Timesteps int
	DT        float64 // seconds
	Values    []float64
}

// Len returns the expected number of samples.
func (t *TimeSeries) Len() int {
	return t.Sensors * t.Timesteps
}

// Summary captures the range and mean of a sample set. Recorded in logs and
// the run ledger so a zeroed or exploded field is visible without opening
// the artifact.
type Summary struct {
	Min  float64
	Max  float64
	Mean float64
}

// Summarize computes a Summary over the given samples. An empty slice
// yields NaNs, which the caller should treat as "no data".
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		nan := math.NaN()
		return Summary{Min: nan, Max: nan, Mean: nan}
	}
	return Summary{
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		Mean: stat.Mean(values, nil),
	}
}

// AllFinite reports whether every sample is a finite number.
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
