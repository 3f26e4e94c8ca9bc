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

package apodize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/sva"
)

// Runs spatially variant apodization on the I and Q bands and derives intensity and amplitude.
// Takes n inputs, produces n filtered products
type OpSVA struct {
	ops.OpUnaryBase
	Options *sva.Options `json:"options,omitempty"` // overrides the context options if set
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSVADefault() }) } // register the operator for JSON decoding

func NewOpSVADefault() *OpSVA { return NewOpSVA(nil) }

func NewOpSVA(opts *sva.Options) *OpSVA {
	op := OpSVA{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "sva", Active: true}},
		Options:     opts,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSVA) UnmarshalJSON(data []byte) error {
	type defaults OpSVA
	def := defaults(*NewOpSVADefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSVA(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpSVA) options(p *product.Product, c *ops.Context) sva.Options {
	opts := c.OptionsFor(p.Width())
	if op.Options != nil {
		bandRows := opts.BandRows
		opts = *op.Options
		if opts.BandRows <= 0 {
			opts.BandRows = bandRows
		}
		if opts.MaxThreads <= 0 {
			opts.MaxThreads = c.MaxThreads
		}
	}
	if math.IsNaN(float64(opts.MissingValue)) && !math.IsNaN(float64(p.Missing)) {
		opts.MissingValue = p.Missing // marker recorded in the input file
	}
	return opts
}

func (op *OpSVA) Apply(p *product.Product, c *ops.Context) (result *product.Product, err error) {
	opts := op.options(p, c)
	fmt.Fprintf(c.Log, "%d: Filtering %s bands with boundary=%s missing=%s bandRows=%d threads=%d\n",
		p.ID, p.DimensionsToString(), opts.Boundary, sva.FormatMissingValue(opts.MissingValue), opts.BandRows, opts.MaxThreads)

	result, err = product.Filter(p, opts)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: I %s: %s\n", result.ID, result.I.DimensionsToString(), result.CountsI)
	fmt.Fprintf(c.Log, "%d: Q %s: %s\n", result.ID, result.Q.DimensionsToString(), result.CountsQ)
	return result, nil
}

// Writes a preview image of the amplitude or phase. Takes one input, produces one output (the unchanged input)
type OpPreview struct {
	ops.OpUnaryBase
	FilePattern    string  `json:"filePattern"` // %d expands to the scene ID
	Mode           string  `json:"mode"`        // amplitude or phase
	Gamma          float32 `json:"gamma"`
	LowPercentile  float64 `json:"lowPercentile"`
	HighPercentile float64 `json:"highPercentile"`
	Quality        int     `json:"quality"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpPreviewDefault() }) } // register the operator for JSON decoding

func NewOpPreviewDefault() *OpPreview { return NewOpPreview("", product.PreviewAmplitude) }

func NewOpPreview(filePattern, mode string) *OpPreview {
	op := OpPreview{
		OpUnaryBase:    ops.OpUnaryBase{OpBase: ops.OpBase{Type: "preview", Active: filePattern != ""}},
		FilePattern:    filePattern,
		Mode:           mode,
		Gamma:          1,
		LowPercentile:  0.01,
		HighPercentile: 0.99,
		Quality:        95,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpPreview) UnmarshalJSON(data []byte) error {
	type defaults OpPreview
	def := defaults(*NewOpPreviewDefault())
	def.Active = true // active unless switched off, Apply skips an empty pattern
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpPreview(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpPreview) Apply(p *product.Product, c *ops.Context) (result *product.Product, err error) {
	if !op.Active || op.FilePattern == "" {
		return p, nil
	}
	fileName := ops.ExpandID(op.FilePattern, p.ID)
	if c.RestrictPaths && !ops.IsPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: filename %s outside current directory tree, aborting", p.ID, fileName)
	}
	lower := strings.ToLower(fileName)
	if !(strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") ||
		strings.HasSuffix(lower, ".tif") || strings.HasSuffix(lower, ".tiff")) {
		return nil, fmt.Errorf("%d: unknown suffix for preview %s", p.ID, fileName)
	}
	fmt.Fprintf(c.Log, "%d: Writing %s pixel %s preview to %s\n", p.ID, p.DimensionsToString(), op.Mode, fileName)
	if err := p.WritePreview(fileName, op.Mode, op.Gamma, op.LowPercentile, op.HighPercentile, op.Quality); err != nil {
		return nil, err
	}
	return p, nil
}
