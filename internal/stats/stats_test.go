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

package stats

import (
	"math"
	"testing"
)

func TestNewStats(t *testing.T) {
	nan := float32(math.NaN())
	data := []float32{1, 2, nan, 3, 4, -9999, 5}
	s := NewStats(data, -9999)
	if s.Valid != 5 || s.Missing != 2 {
		t.Errorf("valid=%d missing=%d; want 5 2", s.Valid, s.Missing)
	}
	if s.Min != 1 || s.Max != 5 || s.Mean != 3 || s.Location != 3 {
		t.Errorf("got %s; want min 1 max 5 mean 3 location 3", s.String())
	}
	if math.Abs(float64(s.StdDev)-math.Sqrt(2)) > 1e-6 {
		t.Errorf("stdDev=%f; want %f", s.StdDev, math.Sqrt(2))
	}
	if math.Abs(float64(s.Scale)-1.4826) > 1e-5 {
		t.Errorf("scale=%f; want 1.4826", s.Scale)
	}
}

func TestNewStatsAllMissing(t *testing.T) {
	nan := float32(math.NaN())
	s := NewStats([]float32{nan, nan}, nan)
	if s.Valid != 0 || s.Missing != 2 || s.Mean == s.Mean {
		t.Errorf("got %s; want no valid values and NaN mean", s.String())
	}
}

func TestPercentiles(t *testing.T) {
	data := make([]float32, 101)
	for i := range data {
		data[i] = float32(i)
	}
	ps := Percentiles(data, float32(math.NaN()), 0, 0.5, 1)
	want := []float32{0, 50, 100}
	for i := range want {
		if math.Abs(float64(ps[i]-want[i])) > 1 {
			t.Errorf("percentile %d=%f; want %f", i, ps[i], want[i])
		}
	}
}

func TestSampleLargeSkipsMissing(t *testing.T) {
	data := make([]float32, 2*NumSamples)
	for i := range data {
		if i%2 == 0 {
			data[i] = float32(math.NaN())
		} else {
			data[i] = 1
		}
	}
	samples := Sample(data, func(v float32) bool { return v != v }, NumSamples)
	if len(samples) != NumSamples {
		t.Fatalf("len=%d; want %d", len(samples), NumSamples)
	}
	for i, v := range samples {
		if v != 1 {
			t.Fatalf("sample %d=%f; want 1", i, v)
		}
	}
}

func TestModeFromHistogram(t *testing.T) {
	min, max := float32(0), float32(10)
	bins := make([]int32, 101)
	mu, sigma := 4.0, 0.8
	for i := range bins {
		x := float64(min) + (float64(i)+0.5)*float64(max-min)/float64(len(bins)-1)
		bins[i] = int32(1000 * math.Exp(-0.5*(x-mu)*(x-mu)/(sigma*sigma)))
	}
	mode, stdDev, err := GetModeStdDevFromHistogram(bins, min, max)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(mode)-mu) > 0.2 || math.Abs(float64(stdDev)-sigma) > 0.2 {
		t.Errorf("mode=%f stdDev=%f; want %f %f", mode, stdDev, mu, sigma)
	}
}

func TestHistogramSkipsNaN(t *testing.T) {
	bins := make([]int32, 5)
	Histogram([]float32{0, 1, 2, 3, 4, float32(math.NaN()), 7}, 0, 4, bins)
	for i, b := range bins {
		if b != 1 {
			t.Errorf("bins[%d]=%d; want 1", i, b)
		}
	}
}

func TestEstimateNoise(t *testing.T) {
	const width, height = 16, 12
	ramp := make([]float32, width*height)
	for i := range ramp {
		ramp[i] = float32(i%width)*0.5 + float32(i/width)*2
	}
	if n := EstimateNoise(ramp, width, float32(math.NaN())); math.Abs(float64(n)) > 1e-5 {
		t.Errorf("noise on planar ramp=%f; want 0", n)
	}

	// alternating +-1 checkerboard: every window convolves to +-16
	checker := make([]float32, width*height)
	for i := range checker {
		if (i%width+i/width)%2 == 0 {
			checker[i] = 1
		} else {
			checker[i] = -1
		}
	}
	want := 16 * math.Sqrt(0.5*math.Pi) / 6
	if n := EstimateNoise(checker, width, float32(math.NaN())); math.Abs(float64(n)-want) > 1e-4 {
		t.Errorf("noise on checkerboard=%f; want %f", n, want)
	}

	ramp[5*width+5] = -9999
	if n := EstimateNoise(ramp, width, -9999); math.Abs(float64(n)) > 1e-5 {
		t.Errorf("noise with missing marker=%f; want 0", n)
	}
	if n := EstimateNoise([]float32{1, 2, 3, 4}, 2, 0); !math.IsNaN(float64(n)) {
		t.Errorf("noise on tiny raster=%f; want NaN", n)
	}
}
