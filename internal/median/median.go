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

// Package median implements a 3x3 median filter for speckle reduction on rasters with missing samples.
package median

import (
	"math"

	"github.com/mlnoga/apodize/internal/qsort"
)

// Applies a 3x3 median filter to data, a 2D array with the given line width, and stores the result in output.
// Missing samples (NaN or the given marker) are ignored in the neighborhood. Border pixels use the part of
// the window inside the raster. A pixel with no valid neighbor becomes NaN
func Filter3x3(output, data []float32, width int32, missing float32) {
	height := int32(len(data)) / width
	gathered := make([]float32, 0, 9)
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			gathered = gathered[:0]
			for dy := int32(-1); dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= height {
					continue
				}
				for dx := int32(-1); dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= width {
						continue
					}
					v := data[yy*width+xx]
					if v != v || v == missing {
						continue
					}
					gathered = append(gathered, v)
				}
			}
			output[y*width+x] = MedianFloat32(gathered)
		}
	}
}

// Calculates the median of a float32 slice of length nine. Modifies the elements in place.
// Sorting network from https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
// Array must not contain IEEE NaN
func MedianFloat32Slice9(a []float32) float32 {
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] { // max
		a[3] = a[0]
	}
	if a[3] > a[6] { // max
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] { // min
		a[4] = a[7]
	}
	if a[1] > a[4] { // max
		a[4] = a[1]
	}
	if a[5] > a[8] { // min
		a[5] = a[8]
	}
	if a[2] > a[5] { // min
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] { // min
		a[4] = a[6]
	}
	if a[2] > a[4] { // max
		a[4] = a[2]
	}
	return a[4]
}

// Calculates the median of a float32 slice. Modifies the elements in place.
// Returns NaN for an empty slice. Array must not contain IEEE NaN
func MedianFloat32(a []float32) float32 {
	if len(a) == 0 {
		return float32(math.NaN())
	}
	if len(a) == 9 {
		return MedianFloat32Slice9(a)
	}
	return qsort.QSelectMedianFloat32(a)
}
