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
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Normalizes a value into [0,1] with the given scale, offset and inverse gamma. NaNs become 0
func normalize(v, min, scale float32, gammaInv float64) float32 {
	v = (v - min) * scale
	// replace NaNs with zeros for export, else JPG output breaks
	if math.IsNaN(float64(v)) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v
}

func createBuffered(fileName string, write func(w io.Writer) error) (err error) {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	writer := bufio.NewWriter(file)
	if err = write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
func (f *Image) WriteMonoJPGToFile(fileName string, min, max, gamma float32, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return f.WriteMonoJPG(w, min, max, gamma, quality)
	})
}

// Write a grayscale FITS image to JPG, using the given min, max and gamma.
// Only the first plane of a cube is written.
func (f *Image) WriteMonoJPG(writer io.Writer, min, max, gamma float32, quality int) error {
	if len(f.Naxisn) < 2 {
		return fmt.Errorf("%d: cannot write %d-dimensional image as JPG", f.ID, len(f.Naxisn))
	}
	width, height := int(f.Naxisn[0]), int(f.Naxisn[1])
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := normalize(f.Data[yoffset+x], min, scale, gammaInv)
			img.SetGray(x, y, color.Gray{uint8(gray * 255)})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a complex-valued image given as in-phase and quadrature planes to JPG.
// Hue encodes the phase angle, brightness the amplitude in decibels between lowDB and highDB.
// Pixels where either plane is NaN are black.
func WritePhaseJPG(writer io.Writer, iData, qData []float32, width, height int, lowDB, highDB float32, quality int) error {
	if len(iData) != width*height || len(qData) != width*height {
		return fmt.Errorf("phase planes have %d and %d pixels, want %dx%d", len(iData), len(qData), width, height)
	}
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (highDB - lowDB)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			i, q := float64(iData[yoffset+x]), float64(qData[yoffset+x])
			if math.IsNaN(i) || math.IsNaN(q) {
				img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
				continue
			}
			db := float32(10 * math.Log10(i*i+q*q))
			v := normalize(db, lowDB, scale, 1)
			hue := math.Atan2(q, i) * 180 / math.Pi
			if hue < 0 {
				hue += 360
			}
			r, g, b := colorful.Hsv(hue, 0.85, float64(v)).Clamped().RGB255()
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a complex-valued image to a JPG file. See WritePhaseJPG
func WritePhaseJPGToFile(fileName string, iData, qData []float32, width, height int, lowDB, highDB float32, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return WritePhaseJPG(w, iData, qData, width, height, lowDB, highDB, quality)
	})
}
