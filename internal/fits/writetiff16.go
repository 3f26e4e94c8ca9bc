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

package fits

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"golang.org/x/image/tiff"
)

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma.
func (f *Image) WriteMonoTIFF16ToFile(fileName string, min, max, gamma float32) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return f.WriteMonoTIFF16(w, min, max, gamma)
	})
}

// Write a grayscale FITS image to 16-bit TIFF, using the given min, max and gamma.
// Only the first plane of a cube is written.
func (f *Image) WriteMonoTIFF16(writer io.Writer, min, max, gamma float32) error {
	if len(f.Naxisn) < 2 {
		return fmt.Errorf("%d: cannot write %d-dimensional image as TIFF", f.ID, len(f.Naxisn))
	}
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := normalize(f.Data[yoffset+x], min, scale, gammaInv)
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
