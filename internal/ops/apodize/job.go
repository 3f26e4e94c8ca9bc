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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/ops/report"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/sva"
)

// Parameters for filtering a single scene, as given on the command line or in a REST request
type FilterJob struct {
	Cube           string       `json:"cube"`  // FITS cube with I and Q planes
	IFile          string       `json:"iFile"` // alternatively, separate I and Q files
	QFile          string       `json:"qFile"`
	Out            string       `json:"out"` // output cube, or pattern with %s for one file per band
	ReplaceNaNs    bool         `json:"replaceNaNs"`
	Preview        string       `json:"preview"` // preview file, %auto to derive from out, empty for none
	PreviewMode    string       `json:"previewMode"`
	Gamma          float32      `json:"gamma"`
	LowPercentile  float64      `json:"lowPercentile"`
	HighPercentile float64      `json:"highPercentile"`
	Quality        int          `json:"quality"`
	Stats          bool         `json:"stats"`     // log band statistics
	StatsFile      string       `json:"statsFile"` // CSV file for band statistics, empty for none
	Options        *sva.Options `json:"options,omitempty"`
}

func NewFilterJobDefault() *FilterJob {
	p := NewOpPreviewDefault()
	return &FilterJob{
		Out:            "out.fits",
		Preview:        "%auto",
		PreviewMode:    p.Mode,
		Gamma:          p.Gamma,
		LowPercentile:  p.LowPercentile,
		HighPercentile: p.HighPercentile,
		Quality:        p.Quality,
	}
}

// Derives the preview file name from the output name if set to %auto
func (j *FilterJob) PreviewFileName() string {
	if j.Preview != "%auto" {
		return j.Preview
	}
	base := strings.TrimSuffix(j.Out, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Replace(base, "%s", j.PreviewMode, 1)
	return base + ".jpg"
}

// Builds the operator sequence load, sva, stats, preview, save for this job
func (j *FilterJob) Sequence(id int) (*ops.OpSequence, error) {
	var load *ops.OpLoad
	switch {
	case j.Cube != "" && (j.IFile != "" || j.QFile != ""):
		return nil, fmt.Errorf("give either a cube or separate I and Q files, not both")
	case j.Cube != "":
		load = ops.NewOpLoad(id, j.Cube)
	case j.IFile != "" && j.QFile != "":
		load = ops.NewOpLoadPair(id, j.IFile, j.QFile)
	default:
		return nil, fmt.Errorf("%w: need a cube, or I and Q files", sva.ErrMissingInput)
	}
	return j.SequenceFrom(load)
}

// Builds the operator sequence sva, stats, preview, save for this job on top of the given loader.
// %d in the output and preview names expands to the scene ID
func (j *FilterJob) SequenceFrom(load ops.Operator) (*ops.OpSequence, error) {
	if j.Out == "" {
		return nil, fmt.Errorf("no output file given")
	}

	seq := ops.NewOpSequence(load, NewOpSVA(j.Options))
	if j.Stats || j.StatsFile != "" {
		seq.Append(report.NewOpStats(j.StatsFile))
	}
	if previewFile := j.PreviewFileName(); previewFile != "" {
		preview := NewOpPreview(previewFile, j.PreviewMode)
		preview.Gamma, preview.Quality = j.Gamma, j.Quality
		preview.LowPercentile, preview.HighPercentile = j.LowPercentile, j.HighPercentile
		seq.Append(preview)
	}
	seq.Append(ops.NewOpSave(j.Out, j.ReplaceNaNs))
	return seq, nil
}

// Runs the job and returns the filtered product
func (j *FilterJob) Run(id int, c *ops.Context) (*product.Product, error) {
	seq, err := j.Sequence(id)
	if err != nil {
		return nil, err
	}
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return nil, err
	}
	outs, err := ops.MaterializeAll(promises, 1, false)
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, fmt.Errorf("%d: filter produced %d products, want 1", id, len(outs))
	}
	return outs[0], nil
}
