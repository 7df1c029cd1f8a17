package field

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// On-disk layout, all little-endian:
//
//	scalar volume:  "FLD1" | int32 nx ny nz | float64 spacing_mm | float32 samples
//	time series:    "PTS1" | int32 sensors timesteps | float64 dt_s | float32 samples
//
// Samples are float32 on disk, matching what the solver binaries produce,
// and widened to float64 in memory.
const (
	magicScalar     = "FLD1"
	magicTimeSeries = "PTS1"

	// maxGridDim bounds a single dimension so a corrupt header cannot
	// drive a multi-gigabyte allocation.
	maxGridDim = 1 << 14
)

// EncodeScalar serializes a scalar volume to w.
func EncodeScalar(w io.Writer, s *Scalar) error {
	if len(s.Values) != s.Len() {
		return fmt.Errorf("scalar has %d samples, dimensions %dx%dx%d require %d",
			len(s.Values), s.NX, s.NY, s.NZ, s.Len())
	}
	if _, err := w.Write([]byte(magicScalar)); err != nil {
		return err
	}
	for _, dim := range []int{s.NX, s.NY, s.NZ} {
		if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, s.SpacingMM); err != nil {
		return err
	}
	return writeSamples(w, s.Values)
}

// WriteScalar serializes a scalar volume to path.
func WriteScalar(path string, s *Scalar) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeScalar(w, s)
	})
}

// ReadScalar deserializes a scalar volume from path.
func ReadScalar(path string) (*Scalar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	if err := expectMagic(r, magicScalar, path); err != nil {
		return nil, err
	}
	dims := make([]int32, 3)
	for i := range dims {
		if err := binary.Read(r, binary.LittleEndian, &dims[i]); err != nil {
			return nil, fmt.Errorf("truncated scalar header in %s: %w", path, err)
		}
		if dims[i] <= 0 || dims[i] > maxGridDim {
			return nil, fmt.Errorf("invalid grid dimension %d in %s", dims[i], path)
		}
	}
	var spacing float64
	if err := binary.Read(r, binary.LittleEndian, &spacing); err != nil {
		return nil, fmt.Errorf("truncated scalar header in %s: %w", path, err)
	}

	s := NewScalar(int(dims[0]), int(dims[1]), int(dims[2]), spacing)
	if err := readSamples(r, s.Values, path); err != nil {
		return nil, err
	}
	return s, nil
}

// EncodeTimeSeries serializes a pressure time series to w.
func EncodeTimeSeries(w io.Writer, t *TimeSeries) error {
	if len(t.Values) != t.Len() {
		return fmt.Errorf("time series has %d samples, %d sensors x %d timesteps require %d",
			len(t.Values), t.Sensors, t.Timesteps, t.Len())
	}
	if _, err := w.Write([]byte(magicTimeSeries)); err != nil {
		return err
	}
	for _, dim := range []int{t.Sensors, t.Timesteps} {
		if err := binary.Write(w, binary.LittleEndian, int32(dim)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, t.DT); err != nil {
		return err
	}
	return writeSamples(w, t.Values)
}

// WriteTimeSeries serializes a pressure time series to path.
func WriteTimeSeries(path string, t *TimeSeries) error {
	return writeFile(path, func(w io.Writer) error {
		return EncodeTimeSeries(w, t)
	})
}

// ReadTimeSeries deserializes a pressure time series from path.
func ReadTimeSeries(path string) (*TimeSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	if err := expectMagic(r, magicTimeSeries, path); err != nil {
		return nil, err
	}
	dims := make([]int32, 2)
	for i := range dims {
		if err := binary.Read(r, binary.LittleEndian, &dims[i]); err != nil {
			return nil, fmt.Errorf("truncated time series header in %s: %w", path, err)
		}
		if dims[i] <= 0 || dims[i] > maxGridDim {
			return nil, fmt.Errorf("invalid time series dimension %d in %s", dims[i], path)
		}
	}
	var dt float64
	if err := binary.Read(r, binary.LittleEndian, &dt); err != nil {
		return nil, fmt.Errorf("truncated time series header in %s: %w", path, err)
	}

	t := &TimeSeries{
		Sensors:   int(dims[0]),
		Timesteps: int(dims[1]),
		DT:        dt,
		Values:    make([]float64, int(dims[0])*int(dims[1])),
	}
	if err := readSamples(r, t.Values, path); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadRawFloat32 reads a headerless little-endian float32 stream, the layout
// MCX uses for its .mc2 fluence output. expected is the required sample
// count; a short or long file is an error.
func ReadRawFloat32(path string, expected int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if got := info.Size(); got != int64(expected)*4 {
		return nil, fmt.Errorf("%s holds %d bytes, expected %d (%d float32 samples)",
			path, got, expected*4, expected)
	}

	values := make([]float64, expected)
	if err := readSamples(bufio.NewReader(f), values, path); err != nil {
		return nil, err
	}
	return values, nil
}

func expectMagic(r io.Reader, want, path string) error {
	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		return fmt.Errorf("failed to read magic from %s: %w", path, err)
	}
	if string(got) != want {
		return fmt.Errorf("bad magic %q in %s, expected %q", got, path, want)
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeSamples(w io.Writer, values []float64) error {
	buf := make([]byte, 4)
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func readSamples(r io.Reader, dst []float64, path string) error {
	buf := make([]byte, 4)
	for i := range dst {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("truncated sample data in %s at sample %d: %w", path, i, err)
		}
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	}
	// Trailing bytes mean the writer and header disagree.
	if n, _ := r.Read(buf); n > 0 {
		return fmt.Errorf("unexpected trailing bytes in %s", path)
	}
	return nil
}
