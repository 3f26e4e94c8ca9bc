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


// Package qsort selects order statistics from float32 samples.
package qsort

// Select first quartile of an array of float32. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelectFirstQuartileFloat32(a []float32) float32 {
	return QSelectFloat32(a, (len(a)>>2)+1)
}

// Select median of an array of float32. Partially reorders the array.
// Array must not contain IEEE NaN. For even lengths, returns the mean of the two middle elements
func QSelectMedianFloat32(a []float32) float32 {
	if len(a)&1 != 0 {
		return QSelectFloat32(a, (len(a)>>1)+1)
	}
	upper := QSelectFloat32(a, (len(a)>>1)+1)
	// after selection, all elements left of the upper median are not greater
	lower := a[0]
	for _, v := range a[:len(a)>>1] {
		if v > lower {
			lower = v
		}
	}
	return 0.5 * (lower + upper)
}

// Select kth lowest element (1-based) from an array of float32. Partially reorders the array
// so that a[k-1] holds the result, with no greater elements before it.
// Array must not contain IEEE NaN
func QSelectFloat32(a []float32, k int) float32 {
	left, right := 0, len(a)-1
	k-- // 0-based target index
	for left < right {
		pivot := a[(left+right)>>1]
		l, r := left, right
		for l <= r {
			for a[l] < pivot {
				l++
			}
			for a[r] > pivot {
				r--
			}
			if l <= r {
				a[l], a[r] = a[r], a[l]
				l++
				r--
			}
		}
		if k <= r {
			right = r
		} else if k >= l {
			left = l
		} else {
			return a[k]
		}
	}
	return a[k]
}
