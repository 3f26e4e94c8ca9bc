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

// Package stats computes raster statistics that skip missing samples.
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/mlnoga/apodize/internal/qsort"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// Number of samples drawn for location, scale and percentile estimates
const NumSamples = 128 * 1024

// Basic statistics on the valid samples of a data array
type Stats struct {
	Min    float32 `json:"min"`
	Max    float32 `json:"max"`
	Mean   float32 `json:"mean"`
	StdDev float32 `json:"stdDev"` // norm 2, sigma

	Location float32 `json:"location"` // sampled median
	Scale    float32 `json:"scale"`    // sampled MAD, normalized to Gaussian sigma

	Valid   int `json:"valid"`
	Missing int `json:"missing"`
}

// Calculates statistics, treating NaN and the given marker as missing
func NewStats(data []float32, missing float32) *Stats {
	isMissing := func(v float32) bool { return v != v || v == missing }
	s := &Stats{Min: float32(math.NaN()), Max: float32(math.NaN()), Mean: float32(math.NaN()), StdDev: float32(math.NaN()),
		Location: float32(math.NaN()), Scale: float32(math.NaN())}

	min, max, sum := float32(math.MaxFloat32), float32(-math.MaxFloat32), float64(0)
	for _, v := range data {
		if isMissing(v) {
			s.Missing++
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += float64(v)
		s.Valid++
	}
	if s.Valid == 0 {
		return s
	}
	mean := sum / float64(s.Valid)
	variance := float64(0)
	for _, v := range data {
		if !isMissing(v) {
			diff := float64(v) - mean
			variance += diff * diff
		}
	}
	s.Min, s.Max, s.Mean = min, max, float32(mean)
	s.StdDev = float32(math.Sqrt(variance / float64(s.Valid)))

	samples := Sample(data, isMissing, NumSamples)
	if len(samples) == 0 {
		return s
	}
	s.Location = qsort.QSelectMedianFloat32(samples)
	for i, v := range samples {
		samples[i] = float32(math.Abs(float64(v - s.Location)))
	}
	s.Scale = qsort.QSelectMedianFloat32(samples) * 1.4826 // normalize to Gaussian std dev.
	return s
}

// Pretty print stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g Valid %d Missing %d",
		s.Min, s.Max, s.Mean, s.StdDev, s.Location, s.Scale, s.Valid, s.Missing)
}

// Pretty print stats to CSV header
func (s *Stats) ToCSVHeader() string {
	return "Min,Max,Mean,StdDev,Location,Scale,Valid,Missing"
}

// Pretty print stats to CSV line item
func (s *Stats) ToCSVLine() string {
	return fmt.Sprintf("%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%d,%d",
		s.Min, s.Max, s.Mean, s.StdDev, s.Location, s.Scale, s.Valid, s.Missing)
}

// Draws up to numSamples valid values from data. If data holds no more valid values
// than that, all of them are returned in order. Otherwise samples are drawn at random
func Sample(data []float32, isMissing func(float32) bool, numSamples int) []float32 {
	if len(data) <= numSamples {
		samples := make([]float32, 0, len(data))
		for _, v := range data {
			if !isMissing(v) {
				samples = append(samples, v)
			}
		}
		return samples
	}

	samples := make([]float32, 0, numSamples)
	rng := fastrand.RNG{}
	max := uint32(len(data))
	for tries := 0; len(samples) < numSamples && tries < 8*numSamples; tries++ {
		v := data[rng.Uint32n(max)]
		if !isMissing(v) {
			samples = append(samples, v)
		}
	}
	return samples
}

// Estimates the given percentiles in [0,1] of the valid values from a sample. Returns NaNs if no value is valid
func Percentiles(data []float32, missing float32, ps ...float64) []float32 {
	isMissing := func(v float32) bool { return v != v || v == missing }
	samples := Sample(data, isMissing, NumSamples)
	res := make([]float32, len(ps))
	if len(samples) == 0 {
		for i := range res {
			res[i] = float32(math.NaN())
		}
		return res
	}

	xs := make([]float64, len(samples))
	for i, v := range samples {
		xs[i] = float64(v)
	}
	sort.Float64s(xs)
	for i, p := range ps {
		res[i] = float32(stat.Quantile(p, stat.Empirical, xs, nil))
	}
	return res
}
