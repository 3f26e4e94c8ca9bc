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
	"fmt"
	"math"
	"sync"
)

// Decision taken for a single pixel
type Branch uint8

const (
	BranchPreserve Branch = iota // w<=0 or undefined: mainlobe, keep the value
	BranchSuppress               // 0<w<=0.5: sidelobe, set to zero
	BranchCancel                 // w>0.5: add half the neighbor mean
)

func (b Branch) String() string {
	switch b {
	case BranchPreserve:
		return "preserve"
	case BranchSuppress:
		return "suppress"
	case BranchCancel:
		return "cancel"
	}
	return fmt.Sprintf("Branch(%d)", uint8(b))
}

// Per-pixel weights. W is clamped to [0, 0.5] for display, Branch holds the
// decision taken on the unclamped weight
type Weights struct {
	Width  int32
	Height int32
	W      []float32
	Branch []Branch
}

// Number of pixels per decision. Undefined and Missing pixels are also counted as Preserved
type BranchCounts struct {
	Preserved  int `json:"preserved"`
	Suppressed int `json:"suppressed"`
	Cancelled  int `json:"cancelled"`
	Undefined  int `json:"undefined"` // zero or non-finite neighbor sum
	Missing    int `json:"missing"`
}

func (c *BranchCounts) String() string {
	return fmt.Sprintf("preserved %d suppressed %d cancelled %d (undefined %d missing %d)",
		c.Preserved, c.Suppressed, c.Cancelled, c.Undefined, c.Missing)
}

func (c *BranchCounts) add(o *BranchCounts) {
	c.Preserved += o.Preserved
	c.Suppressed += o.Suppressed
	c.Cancelled += o.Cancelled
	c.Undefined += o.Undefined
	c.Missing += o.Missing
}

// Computes the weight w=-value/sum and the branch it selects. The sign is checked
// before any clamping. A zero sum or a non-finite weight is undefined, reported
// as ok=false, and selects BranchPreserve
func Classify(value, sum float32) (w float64, b Branch, ok bool) {
	if sum == 0 || value != value || sum != sum {
		return 0, BranchPreserve, false
	}
	w = -float64(value) / float64(sum)
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, BranchPreserve, false
	}
	switch {
	case w <= 0:
		return w, BranchPreserve, true
	case w <= 0.5:
		return w, BranchSuppress, true
	default:
		return w, BranchCancel, true
	}
}

// Computes weights and branch decisions for every cell of r from its neighbor sums
func ComputeWeights(r *Raster, ns *NeighborSums, opts Options) (*Weights, *BranchCounts) {
	size := int(r.Width) * int(r.Height)
	w := &Weights{
		Width:  r.Width,
		Height: r.Height,
		W:      make([]float32, size),
		Branch: make([]Branch, size),
	}
	total := &BranchCounts{}
	mutex := sync.Mutex{}

	forEachBand(r.Height, &opts, func(yStart, yEnd int32) {
		counts := BranchCounts{}
		for i := int(yStart) * int(r.Width); i < int(yEnd)*int(r.Width); i++ {
			v := r.Data[i]
			if opts.IsMissing(v) {
				w.W[i], w.Branch[i] = 0, BranchPreserve
				counts.Missing++
				counts.Preserved++
				continue
			}
			wu, b, ok := Classify(v, ns.Sum[i])
			if !ok {
				counts.Undefined++
			}
			w.W[i], w.Branch[i] = clampWeight(wu), b
			switch b {
			case BranchPreserve:
				counts.Preserved++
			case BranchSuppress:
				counts.Suppressed++
			case BranchCancel:
				counts.Cancelled++
			}
		}
		mutex.Lock()
		total.add(&counts)
		mutex.Unlock()
	})
	return w, total
}

func clampWeight(w float64) float32 {
	if w < 0 {
		return 0
	}
	if w > 0.5 {
		return 0.5
	}
	return float32(w)
}

// Applies the branch decisions to r, producing a new raster. Reads only from r
// and ns, so neighbor values are always the unfiltered ones
func Apply(r *Raster, ns *NeighborSums, w *Weights, opts Options) *Raster {
	out := newRasterOfSize(r.Width, r.Height)
	forEachBand(r.Height, &opts, func(yStart, yEnd int32) {
		for i := int(yStart) * int(r.Width); i < int(yEnd)*int(r.Width); i++ {
			v := r.Data[i]
			switch w.Branch[i] {
			case BranchSuppress:
				out.Data[i] = 0
			case BranchCancel:
				if mean, ok := ns.Mean(i); ok {
					out.Data[i] = float32(float64(v) + 0.5*mean)
				} else {
					out.Data[i] = v // no valid neighbors, keep the pixel
				}
			default:
				out.Data[i] = v
			}
		}
	})
	return out
}

// Filters a single channel: aggregates neighbors, then computes weights and applies them
func Filter(r *Raster, opts Options) (*Raster, *BranchCounts, error) {
	if err := validate(r); err != nil {
		return nil, nil, err
	}
	ns := Aggregate(r, opts)
	defer ns.Release()

	w, counts := ComputeWeights(r, ns, opts)
	return Apply(r, ns, w, opts), counts, nil
}

func validate(r *Raster) error {
	if r == nil || r.Data == nil {
		return ErrMissingInput
	}
	if r.Width <= 0 || r.Height <= 0 || int64(len(r.Data)) != int64(r.Width)*int64(r.Height) {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidRaster, len(r.Data), r.Width, r.Height)
	}
	return nil
}
