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

package median

import (
	"math"
	"testing"

	"github.com/mlnoga/apodize/internal/qsort"
	"github.com/valyala/fastrand"
)

func TestMedianFloat32Slice9(t *testing.T) {
	rng := fastrand.RNG{}
	for trial := 0; trial < 1000; trial++ {
		a := make([]float32, 9)
		for i := range a {
			a[i] = float32(rng.Uint32n(20))
		}
		b := append([]float32(nil), a...)
		want := qsort.QSelectMedianFloat32(b)
		if got := MedianFloat32Slice9(append([]float32(nil), a...)); got != want {
			t.Fatalf("median of %v=%f; want %f", a, got, want)
		}
	}
}

func TestFilter3x3RemovesSpike(t *testing.T) {
	const width, height = 5, 4
	data := make([]float32, width*height)
	for i := range data {
		data[i] = 2
	}
	data[1*width+2] = 1000
	output := make([]float32, len(data))
	Filter3x3(output, data, width, float32(math.NaN()))
	for i, v := range output {
		if v != 2 {
			t.Errorf("output[%d]=%f; want 2", i, v)
		}
	}
}

func TestFilter3x3Missing(t *testing.T) {
	nan := float32(math.NaN())
	data := []float32{
		-1, -1, -1,
		-1, 7, -1,
		nan, -1, -1,
	}
	output := make([]float32, len(data))
	Filter3x3(output, data, 3, -1)
	for i, v := range output {
		if v != 7 {
			t.Errorf("output[%d]=%f; want 7", i, v)
		}
	}

	Filter3x3(output, []float32{nan, -1, -1, nan}, 2, -1)
	for i, v := range output[:4] {
		if !math.IsNaN(float64(v)) {
			t.Errorf("output[%d]=%f; want NaN", i, v)
		}
	}
}
