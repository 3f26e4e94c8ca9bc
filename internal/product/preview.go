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

package product

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/median"
	"github.com/mlnoga/apodize/internal/stats"
	"github.com/mlnoga/apodize/internal/sva"
)

// Preview rendering modes
const (
	PreviewAmplitude = "amplitude" // grayscale amplitude in dB
	PreviewPhase     = "phase"     // hue from phase, brightness from amplitude in dB
	PreviewSpeckle   = "despeckle" // grayscale amplitude in dB after a 3x3 median filter
)

// Returns the amplitude in decibels. Missing and non-positive amplitudes become NaN
func (p *Product) AmplitudeDB() ([]float32, error) {
	amp := p.Amplitude
	if amp == nil {
		opts := sva.DefaultOptions()
		opts.MissingValue = p.Missing
		var err error
		if _, amp, err = sva.Derive(p.I, p.Q, opts); err != nil {
			return nil, fmt.Errorf("%d: %w", p.ID, err)
		}
	}
	db := make([]float32, len(amp.Data))
	for k, a := range amp.Data {
		if a != a || a == p.Missing || a <= 0 {
			db[k] = float32(math.NaN())
		} else {
			db[k] = float32(20 * math.Log10(float64(a)))
		}
	}
	return db, nil
}

// Writes a preview image. The extension selects JPEG or 16-bit TIFF, the mode selects
// amplitude, despeckled amplitude or phase rendering. Brightness is stretched between the given percentiles of the amplitude in dB
func (p *Product) WritePreview(fileName, mode string, gamma float32, lowPercentile, highPercentile float64, quality int) error {
	db, err := p.AmplitudeDB()
	if err != nil {
		return err
	}
	if mode == PreviewSpeckle {
		filtered := make([]float32, len(db))
		median.Filter3x3(filtered, db, p.Width(), float32(math.NaN()))
		db = filtered
	}
	ps := stats.Percentiles(db, float32(math.NaN()), lowPercentile, highPercentile)
	low, high := ps[0], ps[1]
	if math.IsNaN(float64(low)) {
		return fmt.Errorf("%d: no valid pixels for preview", p.ID)
	}
	if high <= low {
		high = low + 1
	}

	ext := strings.ToLower(path.Ext(fileName))
	isTIFF := ext == ".tif" || ext == ".tiff"
	switch mode {
	case PreviewAmplitude, PreviewSpeckle, "":
		img := fits.NewImageFromNaxisn([]int32{p.Width(), p.Height()}, db)
		img.ID = p.ID
		if isTIFF {
			return img.WriteMonoTIFF16ToFile(fileName, low, high, gamma)
		}
		return img.WriteMonoJPGToFile(fileName, low, high, gamma, quality)
	case PreviewPhase:
		if isTIFF {
			return fmt.Errorf("%d: phase preview is only available as JPEG", p.ID)
		}
		iData, qData := p.withNaNs(p.I.Data), p.withNaNs(p.Q.Data)
		return fits.WritePhaseJPGToFile(fileName, iData, qData, int(p.Width()), int(p.Height()), low, high, quality)
	}
	return fmt.Errorf("%d: unknown preview mode %q", p.ID, mode)
}

// Replaces a non-NaN missing value marker with NaN. Returns data unchanged if the marker is NaN
func (p *Product) withNaNs(data []float32) []float32 {
	if math.IsNaN(float64(p.Missing)) {
		return data
	}
	res := make([]float32, len(data))
	for k, v := range data {
		if v == p.Missing {
			res[k] = float32(math.NaN())
		} else {
			res[k] = v
		}
	}
	return res
}
