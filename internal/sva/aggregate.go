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

package sva

import (
	nl "github.com/mlnoga/apodize/internal"
)

// Sum and count of the valid values among the four axis-aligned neighbors of each cell
type NeighborSums struct {
	Width  int32
	Height int32
	Sum    []float32
	Count  []uint8 // 0..4
	pooled bool
}

// Computes neighbor sums and valid counts for every cell of r. Missing neighbors
// contribute to neither. Neighbors outside the raster follow opts.Boundary;
// with BoundaryWrap the raster is treated as a torus, so the left neighbor of
// column 0 is the last column and the upper neighbor of row 0 is the last row
func Aggregate(r *Raster, opts Options) *NeighborSums {
	ns := newNeighborSums(r.Width, r.Height)
	forEachBand(r.Height, &opts, func(yStart, yEnd int32) {
		aggregateBand(ns, r, &opts, yStart, yEnd)
	})
	return ns
}

func newNeighborSums(width, height int32) *NeighborSums {
	size := int(width) * int(height)
	return &NeighborSums{
		Width:  width,
		Height: height,
		Sum:    nl.GetArrayOfFloat32FromPool(size),
		Count:  nl.GetArrayOfUint8FromPool(size),
		pooled: true,
	}
}

// Hands the buffers back to the scratch pool. Must not be used afterwards
func (ns *NeighborSums) Release() {
	if !ns.pooled {
		return
	}
	nl.PutArrayOfFloat32IntoPool(ns.Sum)
	nl.PutArrayOfUint8IntoPool(ns.Count)
	ns.Sum, ns.Count, ns.pooled = nil, nil, false
}

// Mean of the valid neighbors of cell i. ok is false if there are none
func (ns *NeighborSums) Mean(i int) (mean float64, ok bool) {
	if ns.Count[i] == 0 {
		return 0, false
	}
	return float64(ns.Sum[i]) / float64(ns.Count[i]), true
}

func aggregateBand(ns *NeighborSums, r *Raster, opts *Options, yStart, yEnd int32) {
	width, height := r.Width, r.Height
	for y := yStart; y < yEnd; y++ {
		up, down := resolve(y-1, height, opts.Boundary), resolve(y+1, height, opts.Boundary)
		row := int(y) * int(width)
		for x := int32(0); x < width; x++ {
			left, right := resolve(x-1, width, opts.Boundary), resolve(x+1, width, opts.Boundary)

			sum, count := float64(0), uint8(0)
			if v, ok := sample(r, opts, x, up); ok {
				sum += float64(v)
				count++
			}
			if v, ok := sample(r, opts, x, down); ok {
				sum += float64(v)
				count++
			}
			if v, ok := sample(r, opts, left, y); ok {
				sum += float64(v)
				count++
			}
			if v, ok := sample(r, opts, right, y); ok {
				sum += float64(v)
				count++
			}
			ns.Sum[row+int(x)] = float32(sum)
			ns.Count[row+int(x)] = count
		}
	}
}

// Maps a neighbor index onto [0,n) according to the boundary mode.
// Returns -1 for a zero padded position outside the raster
func resolve(i, n int32, mode BoundaryMode) int32 {
	if i >= 0 && i < n {
		return i
	}
	switch mode {
	case BoundaryClamp:
		if i < 0 {
			return 0
		}
		return n - 1
	case BoundaryZero:
		return -1
	default:
		return ((i % n) + n) % n
	}
}

// Returns the value at (x,y) and whether it is valid. Negative coordinates denote zero padding
func sample(r *Raster, opts *Options, x, y int32) (v float32, ok bool) {
	if x < 0 || y < 0 {
		return 0, true
	}
	v = r.Data[int(y)*int(r.Width)+int(x)]
	return v, !opts.IsMissing(v)
}
