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
	"sort"
	"strings"
)

// A FITS image or data cube.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output.

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		Header: NewHeader(),
		Bitpix: -32,
		Bzero:  0,
		Bscale: 1,
		Naxisn: append([]int32(nil), naxisn...), // clone slice
		Pixels: numPixels,
		Data:   data,
	}
}

// Creates a cube of identically sized planes stacked along the third axis. Data is copied
func NewCubeFromPlanes(width, height int32, planes ...[]float32) (*Image, error) {
	size := int(width) * int(height)
	for i, p := range planes {
		if len(p) != size {
			return nil, fmt.Errorf("plane %d has %d pixels, want %dx%d", i, len(p), width, height)
		}
	}
	naxisn := []int32{width, height}
	if len(planes) > 1 {
		naxisn = append(naxisn, int32(len(planes)))
	}
	cube := NewImageFromNaxisn(naxisn, nil)
	for i, p := range planes {
		copy(cube.Data[i*size:(i+1)*size], p)
	}
	return cube, nil
}

func (f *Image) Width() int32 { return f.Naxisn[0] }

func (f *Image) Height() int32 {
	if len(f.Naxisn) < 2 {
		return 1
	}
	return f.Naxisn[1]
}

// Number of 2D planes, i.e. the third axis size or 1
func (f *Image) Planes() int32 {
	if len(f.Naxisn) < 3 {
		return 1
	}
	return f.Naxisn[2]
}

// Returns the data of the i-th 2D plane. Shares memory with f.Data
func (f *Image) Plane(i int32) ([]float32, error) {
	if len(f.Naxisn) < 2 || len(f.Naxisn) > 3 {
		return nil, fmt.Errorf("%d: cannot take planes of a %d-dimensional image", f.ID, len(f.Naxisn))
	}
	if i < 0 || i >= f.Planes() {
		return nil, fmt.Errorf("%d: plane %d out of range, image has %d", f.ID, i, f.Planes())
	}
	size := int(f.Width()) * int(f.Height())
	return f.Data[int(i)*size : int(i+1)*size], nil
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

// Returns a deep copy of the header, for passing metadata on to derived products
func (h *Header) Clone() Header {
	c := NewHeader()
	for k, v := range h.Bools {
		c.Bools[k] = v
	}
	for k, v := range h.Ints {
		c.Ints[k] = v
	}
	for k, v := range h.Floats {
		c.Floats[k] = v
	}
	for k, v := range h.Strings {
		c.Strings[k] = v
	}
	for k, v := range h.Dates {
		c.Dates[k] = v
	}
	c.Comments = append(c.Comments, h.Comments...)
	c.History = append(c.History, h.History...)
	return c
}

// Looks up a string or date value
func (h *Header) Text(key string) (string, bool) {
	if v, ok := h.Strings[key]; ok {
		return v, true
	}
	v, ok := h.Dates[key]
	return v, ok
}

// Removes a key from all value maps
func (h *Header) Delete(key string) {
	delete(h.Bools, key)
	delete(h.Ints, key)
	delete(h.Floats, key)
	delete(h.Strings, key)
	delete(h.Dates, key)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
