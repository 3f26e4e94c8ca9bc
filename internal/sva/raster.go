// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package sva implements spatially variant apodization for complex SAR imagery.
// The in-phase and quadrature channels of a scene are filtered independently
// using the four-connected neighborhood of every pixel, then combined into
// intensity and amplitude.
package sva

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
)

var (
	ErrMissingInput      = errors.New("missing input raster")
	ErrDimensionMismatch = errors.New("raster dimensions differ")
	ErrInvalidRaster     = errors.New("invalid raster")
)

// A 2D grid of float32 samples in row-major order. Not modified after creation.
type Raster struct {
	Width  int32
	Height int32
	Data   []float32
}

// Creates a raster over the given data, which is not copied. The caller hands over
// ownership and must not write to data afterwards
func NewRaster(width, height int32, data []float32) (*Raster, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidRaster, width, height)
	}
	if int64(len(data)) != int64(width)*int64(height) {
		return nil, fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidRaster, len(data), width, height)
	}
	return &Raster{Width: width, Height: height, Data: data}, nil
}

// Allocates a new raster of the given size
func newRasterOfSize(width, height int32) *Raster {
	return &Raster{Width: width, Height: height, Data: make([]float32, int(width)*int(height))}
}

func (r *Raster) SameShape(o *Raster) bool {
	return o != nil && r.Width == o.Width && r.Height == o.Height
}

func (r *Raster) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Policy for neighbors outside the raster
type BoundaryMode int

const (
	BoundaryWrap  BoundaryMode = iota // circular indexing modulo width and height
	BoundaryClamp                     // nearest edge cell
	BoundaryZero                      // valid sample of value zero
)

var boundaryModeNames = []string{"wrap", "clamp", "zero"}

func (m BoundaryMode) String() string {
	if m < 0 || int(m) >= len(boundaryModeNames) {
		return fmt.Sprintf("BoundaryMode(%d)", int(m))
	}
	return boundaryModeNames[m]
}

// Parses a boundary mode from its text form. Accepts "zero-pad" as an alias for "zero"
func ParseBoundaryMode(s string) (BoundaryMode, error) {
	l := strings.ToLower(strings.TrimSpace(s))
	if l == "zero-pad" || l == "zeropad" {
		l = "zero"
	}
	for i, n := range boundaryModeNames {
		if l == n {
			return BoundaryMode(i), nil
		}
	}
	return BoundaryWrap, fmt.Errorf("unknown boundary mode '%s', want one of wrap, clamp, zero", s)
}

func (m BoundaryMode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(boundaryModeNames) {
		return nil, fmt.Errorf("unknown boundary mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *BoundaryMode) UnmarshalText(b []byte) error {
	parsed, err := ParseBoundaryMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Filter settings
type Options struct {
	MissingValue float32      `json:"-"`          // marker for invalid samples. NaN is always treated as missing
	Boundary     BoundaryMode `json:"boundary"`   // neighbor policy at the raster edges
	MaxThreads   int          `json:"maxThreads"` // concurrent row bands, <=0 means GOMAXPROCS
	BandRows     int32        `json:"bandRows"`   // rows per work unit, <=0 means 64
}

func DefaultOptions() Options {
	return Options{
		MissingValue: float32(math.NaN()),
		Boundary:     BoundaryWrap,
		MaxThreads:   runtime.GOMAXPROCS(0),
		BandRows:     64,
	}
}

// JSON helper, as encoding/json cannot represent NaN
type optionsJSON struct {
	MissingValue *string      `json:"missingValue,omitempty"`
	Boundary     BoundaryMode `json:"boundary"`
	MaxThreads   int          `json:"maxThreads"`
	BandRows     int32        `json:"bandRows"`
}

// Marshals options with the missing value as a string, "NaN" or a decimal number
func (o Options) MarshalJSON() ([]byte, error) {
	mv := FormatMissingValue(o.MissingValue)
	return json.Marshal(optionsJSON{&mv, o.Boundary, o.MaxThreads, o.BandRows})
}

// Unmarshals options, using defaults for entries not present
func (o *Options) UnmarshalJSON(b []byte) error {
	def := DefaultOptions()
	aux := optionsJSON{Boundary: def.Boundary, MaxThreads: def.MaxThreads, BandRows: def.BandRows}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*o = Options{MissingValue: def.MissingValue, Boundary: aux.Boundary, MaxThreads: aux.MaxThreads, BandRows: aux.BandRows}
	if aux.MissingValue != nil {
		mv, err := ParseMissingValue(*aux.MissingValue)
		if err != nil {
			return err
		}
		o.MissingValue = mv
	}
	return nil
}

// Parses a missing value marker. "nan" in any case, or a number
func ParseMissingValue(s string) (float32, error) {
	t := strings.TrimSpace(s)
	if strings.EqualFold(t, "nan") || strings.EqualFold(t, ".nan") || t == "" {
		return float32(math.NaN()), nil
	}
	v, err := strconv.ParseFloat(t, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid missing value '%s': %w", s, err)
	}
	return float32(v), nil
}

func FormatMissingValue(v float32) string {
	if math.IsNaN(float64(v)) {
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

// Returns true if v marks an invalid sample
func (o *Options) IsMissing(v float32) bool {
	if v != v {
		return true
	}
	return o.MissingValue == v // never true for a NaN marker
}

func (o *Options) threads() int {
	if o.MaxThreads <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.MaxThreads
}

func (o *Options) bandRows() int32 {
	if o.BandRows <= 0 {
		return 64
	}
	return o.BandRows
}
