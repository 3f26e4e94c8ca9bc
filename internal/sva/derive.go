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
)

// Filtered channels of a scene and the quantities derived from them
type Result struct {
	I         *Raster
	Q         *Raster
	Intensity *Raster
	Amplitude *Raster
	CountsI   *BranchCounts
	CountsQ   *BranchCounts
}

// Filters the in-phase and quadrature channels independently and derives
// intensity and amplitude. Both inputs are checked before any computation
func Process(i, q *Raster, opts Options) (*Result, error) {
	if i == nil || q == nil {
		return nil, ErrMissingInput
	}
	for _, ch := range []*Raster{i, q} {
		if err := validate(ch); err != nil {
			return nil, err
		}
	}
	if !i.SameShape(q) {
		return nil, fmt.Errorf("%w: I is %s, Q is %s", ErrDimensionMismatch, i.DimensionsToString(), q.DimensionsToString())
	}

	res := &Result{}
	var err error
	if res.I, res.CountsI, err = Filter(i, opts); err != nil {
		return nil, err
	}
	if res.Q, res.CountsQ, err = Filter(q, opts); err != nil {
		return nil, err
	}
	if res.Intensity, res.Amplitude, err = Derive(res.I, res.Q, opts); err != nil {
		return nil, err
	}
	return res, nil
}

// Computes intensity=i²+q² and amplitude=sqrt(intensity) per cell. Cells
// missing in either input are missing in both outputs
func Derive(iF, qF *Raster, opts Options) (intensity, amplitude *Raster, err error) {
	if iF == nil || qF == nil {
		return nil, nil, ErrMissingInput
	}
	if !iF.SameShape(qF) {
		return nil, nil, fmt.Errorf("%w: I is %s, Q is %s", ErrDimensionMismatch, iF.DimensionsToString(), qF.DimensionsToString())
	}

	intensity = newRasterOfSize(iF.Width, iF.Height)
	amplitude = newRasterOfSize(iF.Width, iF.Height)
	forEachBand(iF.Height, &opts, func(yStart, yEnd int32) {
		for k := int(yStart) * int(iF.Width); k < int(yEnd)*int(iF.Width); k++ {
			iv, qv := iF.Data[k], qF.Data[k]
			if opts.IsMissing(iv) || opts.IsMissing(qv) {
				intensity.Data[k], amplitude.Data[k] = opts.MissingValue, opts.MissingValue
				continue
			}
			in := float64(iv)*float64(iv) + float64(qv)*float64(qv)
			amplitude.Data[k] = float32(math.Min(math.Sqrt(in), math.MaxFloat32))
			intensity.Data[k] = float32(math.Min(in, math.MaxFloat32)) // float32 overflow
		}
	})
	return intensity, amplitude, nil
}
