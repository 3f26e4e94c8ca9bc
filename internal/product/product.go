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

// Package product reads SAR scenes with in-phase and quadrature bands from
// FITS files and writes filtered products with their derived bands and metadata.
package product

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/sva"
)

const (
	ProductName   = "SVA_Filtered"
	DefaultSuffix = "SVA"
	IntensityBand = "intensity"
	AmplitudeBand = "amplitude"
)

var ErrNoBands = errors.New("no I/Q bands found")

// A SAR scene or filtered product. Loaded scenes carry I and Q only,
// filtered products also carry intensity, amplitude and branch statistics.
type Product struct {
	ID       int         // Sequential ID number, for log output
	FileName string      // Original file name, if any, for log output
	Name     string      // Product name, empty for unprocessed scenes
	Suffix   string      // Suffix of the I and Q band names, e.g. IW2_VV
	Header   fits.Header // Metadata passed through to the output
	Missing  float32     // Missing value marker of the data

	I         *sva.Raster
	Q         *sva.Raster
	Intensity *sva.Raster
	Amplitude *sva.Raster
	CountsI   *sva.BranchCounts
	CountsQ   *sva.BranchCounts
}

// A named band of a product
type Band struct {
	Name   string
	Raster *sva.Raster
}

// Creates a scene from in-phase and quadrature rasters with an empty header
func NewScene(id int, i, q *sva.Raster) *Product {
	return &Product{ID: id, Suffix: DefaultSuffix, Header: fits.NewHeader(), Missing: float32(math.NaN()), I: i, Q: q}
}

func (p *Product) Width() int32  { return p.I.Width }
func (p *Product) Height() int32 { return p.I.Height }

func (p *Product) Filtered() bool { return p.Intensity != nil && p.Amplitude != nil }

func (p *Product) DimensionsToString() string {
	if p.I == nil {
		return "empty"
	}
	return p.I.DimensionsToString()
}

// Returns the available bands in output order: I, Q, intensity, amplitude
func (p *Product) Bands() []Band {
	bands := []Band{{"i_" + p.Suffix, p.I}, {"q_" + p.Suffix, p.Q}}
	if p.Intensity != nil {
		bands = append(bands, Band{IntensityBand, p.Intensity})
	}
	if p.Amplitude != nil {
		bands = append(bands, Band{AmplitudeBand, p.Amplitude})
	}
	return bands
}

// Loads a scene from a FITS cube. Planes named i_* and q_* in the BANDn keys
// are taken as I and Q, otherwise the first two planes. Planes named intensity
// and amplitude are picked up as well
func LoadCube(fileName string, id int, logWriter io.Writer) (*Product, error) {
	img, err := fits.NewImageFromFile(fileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	return fromCube(img)
}

func fromCube(img *fits.Image) (*Product, error) {
	if len(img.Naxisn) != 3 || img.Planes() < 2 {
		return nil, fmt.Errorf("%d: %w: %s has dimensions %s, want a cube with at least 2 planes",
			img.ID, ErrNoBands, img.FileName, img.DimensionsToString())
	}
	p := &Product{ID: img.ID, FileName: img.FileName, Suffix: DefaultSuffix, Missing: float32(math.NaN())}
	p.Name = img.Header.Strings["PRODNAME"]

	var err error
	iPlane, qPlane := int32(0), int32(1)
	planes := map[string]int32{}
	for k := int32(0); k < img.Planes(); k++ {
		name, ok := img.Header.Text(bandKey(k))
		if !ok {
			continue
		}
		planes[name] = k
		if strings.HasPrefix(name, "i_") {
			iPlane, p.Suffix = k, name[2:]
		} else if strings.HasPrefix(name, "q_") {
			qPlane = k
		}
	}
	if p.I, err = planeRaster(img, iPlane); err != nil {
		return nil, err
	}
	if p.Q, err = planeRaster(img, qPlane); err != nil {
		return nil, err
	}
	if k, ok := planes[IntensityBand]; ok {
		if p.Intensity, err = planeRaster(img, k); err != nil {
			return nil, err
		}
	}
	if k, ok := planes[AmplitudeBand]; ok {
		if p.Amplitude, err = planeRaster(img, k); err != nil {
			return nil, err
		}
	}
	p.setHeader(img.Header)
	return p, nil
}

// Loads a scene from two single-band FITS files. Metadata is taken from the I file
func LoadPair(iFileName, qFileName string, id int, logWriter io.Writer) (*Product, error) {
	iImg, err := fits.NewImageFromFile(iFileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	qImg, err := fits.NewImageFromFile(qFileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	if !fits.EqualInt32Slice(iImg.Naxisn, qImg.Naxisn) {
		return nil, fmt.Errorf("%d: %w: %s is %s, %s is %s", id, sva.ErrDimensionMismatch,
			iFileName, iImg.DimensionsToString(), qFileName, qImg.DimensionsToString())
	}

	p := &Product{ID: id, FileName: iFileName, Suffix: DefaultSuffix, Missing: float32(math.NaN())}
	if p.I, err = planeRaster(iImg, 0); err != nil {
		return nil, err
	}
	if p.Q, err = planeRaster(qImg, 0); err != nil {
		return nil, err
	}
	if name, ok := iImg.Header.Text("BANDNAME"); ok && strings.HasPrefix(name, "i_") {
		p.Suffix = name[2:]
	}
	iImg.Header.Delete("BANDNAME")
	p.setHeader(iImg.Header)
	return p, nil
}

// Takes over the header of an input file, dropping band names and picking up a non-NaN missing value marker
func (p *Product) setHeader(h fits.Header) {
	p.Header = h
	clearBandKeys(&p.Header)
	if v, ok := h.Floats["MISSING"]; ok {
		p.Missing = v
	}
}

func planeRaster(img *fits.Image, k int32) (*sva.Raster, error) {
	data, err := img.Plane(k)
	if err != nil {
		return nil, err
	}
	r, err := sva.NewRaster(img.Width(), img.Height(), data)
	if err != nil {
		return nil, fmt.Errorf("%d: %s plane %d: %w", img.ID, img.FileName, k, err)
	}
	return r, nil
}

func bandKey(k int32) string { return fmt.Sprintf("BAND%d", k+1) }

func clearBandKeys(h *fits.Header) {
	for k := int32(0); k < 999; k++ {
		if _, ok := h.Text(bandKey(k)); !ok {
			return
		}
		h.Delete(bandKey(k))
	}
}

// Runs spatially variant apodization on the I and Q bands of the scene and returns a new
// filtered product carrying the scene's metadata. The scene is not modified
func Filter(scene *Product, opts sva.Options) (*Product, error) {
	res, err := sva.Process(scene.I, scene.Q, opts)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", scene.ID, err)
	}

	p := &Product{
		ID:        scene.ID,
		FileName:  scene.FileName,
		Name:      ProductName,
		Suffix:    scene.Suffix,
		Header:    scene.Header.Clone(),
		Missing:   opts.MissingValue,
		I:         res.I,
		Q:         res.Q,
		Intensity: res.Intensity,
		Amplitude: res.Amplitude,
		CountsI:   res.CountsI,
		CountsQ:   res.CountsQ,
	}
	p.copyMetadata(scene, opts)
	return p, nil
}

// Sets product name and description and records the processing in the history
func (p *Product) copyMetadata(scene *Product, opts sva.Options) {
	p.Header.Strings["PRODNAME"] = ProductName
	source := scene.Name
	if obj, ok := scene.Header.Text("OBJECT"); ok && obj != "" {
		source = obj
	}
	if source == "" {
		source = scene.FileName
	}
	p.Header.Strings["PRODDESC"] = fmt.Sprintf("Spatially variant apodization of %s", source)
	p.Header.History = append(p.Header.History,
		fmt.Sprintf("SVA boundary=%s missing=%s", opts.Boundary, sva.FormatMissingValue(opts.MissingValue)),
		fmt.Sprintf("SVA I: %s", p.CountsI),
		fmt.Sprintf("SVA Q: %s", p.CountsQ),
	)
	if !math.IsNaN(float64(opts.MissingValue)) {
		p.Header.Floats["MISSING"] = opts.MissingValue
	}
}

// Builds a FITS cube with one plane per band and the band names in BANDn keys
func (p *Product) ToCube() (*fits.Image, error) {
	bands := p.Bands()
	planes := make([][]float32, len(bands))
	for k, b := range bands {
		if b.Raster == nil {
			return nil, fmt.Errorf("%d: %w: band %s is empty", p.ID, ErrNoBands, b.Name)
		}
		planes[k] = b.Raster.Data
	}
	img, err := fits.NewCubeFromPlanes(p.Width(), p.Height(), planes...)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", p.ID, err)
	}
	img.ID, img.Header = p.ID, p.Header.Clone()
	for k, b := range bands {
		img.Header.Strings[bandKey(int32(k))] = b.Name
	}
	return img, nil
}

// Saves the product. A file name containing %s writes one file per band with the
// band name substituted, otherwise all bands go into a single cube. Returns the written file names
func (p *Product) Save(fileName string, replaceNaNs bool) ([]string, error) {
	if strings.Contains(fileName, "%s") {
		return p.SaveBands(fileName, replaceNaNs)
	}
	img, err := p.ToCube()
	if err != nil {
		return nil, err
	}
	if err := img.WriteFile(fileName, replaceNaNs); err != nil {
		return nil, err
	}
	return []string{fileName}, nil
}

// Saves every band as a single-plane FITS file named after the pattern
func (p *Product) SaveBands(pattern string, replaceNaNs bool) ([]string, error) {
	var names []string
	for _, b := range p.Bands() {
		if b.Raster == nil {
			return names, fmt.Errorf("%d: %w: band %s is empty", p.ID, ErrNoBands, b.Name)
		}
		img := fits.NewImageFromNaxisn([]int32{b.Raster.Width, b.Raster.Height}, b.Raster.Data)
		img.ID, img.Header = p.ID, p.Header.Clone()
		img.Header.Strings["BANDNAME"] = b.Name
		fileName := strings.Replace(pattern, "%s", b.Name, 1)
		if err := img.WriteFile(fileName, replaceNaNs); err != nil {
			return names, err
		}
		names = append(names, fileName)
	}
	return names, nil
}
