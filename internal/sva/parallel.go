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

// Runs fn over all rows of a raster with the given height, split into bands of
// opts.BandRows rows, with at most opts.MaxThreads bands in flight.
// Returns once all bands are done
func forEachBand(height int32, opts *Options, fn func(yStart, yEnd int32)) {
	bandRows, threads := opts.bandRows(), opts.threads()
	if threads == 1 || height <= bandRows {
		fn(0, height)
		return
	}

	limiter := make(chan bool, threads)
	for y := int32(0); y < height; y += bandRows {
		yEnd := y + bandRows
		if yEnd > height {
			yEnd = height
		}
		limiter <- true
		go func(yStart, yEnd int32) {
			defer func() { <-limiter }()
			fn(yStart, yEnd)
		}(y, yEnd)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
}
