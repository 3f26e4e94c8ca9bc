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

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/stats"
	"github.com/mlnoga/apodize/internal/sva"
)

// Computes per-band statistics, logs them and optionally appends them to a CSV file.
// Takes n inputs, produces n outputs (the unchanged inputs)
type OpStats struct {
	ops.OpUnaryBase
	FileName string `json:"fileName"` // CSV output, empty to log only

	mutex         sync.Mutex
	headerWritten bool
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpStatsDefault() }) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats { return NewOpStats("") }

func NewOpStats(fileName string) *OpStats {
	op := &OpStats{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "stats", Active: true}},
		FileName:    fileName,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpStats) UnmarshalJSON(data []byte) error {
	aux := struct {
		ops.OpBase
		FileName string `json:"fileName"`
	}{OpBase: NewOpStatsDefault().OpBase}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	op.OpBase, op.FileName = aux.OpBase, aux.FileName
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op
	return nil
}

// Statistics of one band of a product
type BandStats struct {
	Band   string
	Stats  *stats.Stats
	Noise  float32           // estimated gaussian noise sigma
	Counts *sva.BranchCounts // nil for derived bands and unfiltered scenes
}

// Computes statistics for all bands of the product
func Compute(p *product.Product) []BandStats {
	bands := p.Bands()
	res := make([]BandStats, len(bands))
	for k, b := range bands {
		res[k] = BandStats{
			Band:  b.Name,
			Stats: stats.NewStats(b.Raster.Data, p.Missing),
			Noise: stats.EstimateNoise(b.Raster.Data, b.Raster.Width, p.Missing),
		}
	}
	if p.CountsI != nil {
		res[0].Counts = p.CountsI
	}
	if p.CountsQ != nil {
		res[1].Counts = p.CountsQ
	}
	return res
}

func (op *OpStats) Apply(p *product.Product, c *ops.Context) (result *product.Product, err error) {
	bs := Compute(p)
	for _, b := range bs {
		fmt.Fprintf(c.Log, "%d: %-14s %v Noise %.6g\n", p.ID, b.Band, b.Stats, b.Noise)
		if b.Counts != nil {
			fmt.Fprintf(c.Log, "%d: %-14s %v\n", p.ID, b.Band, b.Counts)
		}
	}
	if p.Amplitude != nil {
		if mode, spread, err := stats.ClutterLevelDB(p.Amplitude.Data, p.Missing); err == nil {
			fmt.Fprintf(c.Log, "%d: Clutter level %.2f dB, spread %.2f dB\n", p.ID, mode, spread)
		} else {
			fmt.Fprintf(c.Log, "%d: Clutter level unavailable: %v\n", p.ID, err)
		}
	}
	if op.FileName == "" {
		return p, nil
	}
	if err := op.writeCSV(p.ID, bs, c); err != nil {
		return nil, err
	}
	return p, nil
}

// Appends CSV lines under the lock, writing the header first if the file is new to this operator
func (op *OpStats) writeCSV(id int, bs []BandStats, c *ops.Context) (err error) {
	op.mutex.Lock()         // lock so a single thread is active
	defer op.mutex.Unlock() // always release lock on exit

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !op.headerWritten {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(op.FileName, flags, 0644)
	if err != nil {
		return fmt.Errorf("%d: error opening file %s: %w", id, op.FileName, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !op.headerWritten {
		fmt.Fprintf(c.Log, "Writing statistics header to file %s ...\n", op.FileName)
		fmt.Fprintf(f, "ID,Band,%s,Noise,Preserved,Suppressed,Cancelled,Undefined,Missing\n", (&stats.Stats{}).ToCSVHeader())
		op.headerWritten = true
	}
	for _, b := range bs {
		counts := sva.BranchCounts{}
		if b.Counts != nil {
			counts = *b.Counts
		}
		if _, err := fmt.Fprintf(f, "%d,%s,%s,%.6g,%d,%d,%d,%d,%d\n", id, b.Band, b.Stats.ToCSVLine(), b.Noise,
			counts.Preserved, counts.Suppressed, counts.Cancelled, counts.Undefined, counts.Missing); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.Log, "%d: wrote statistics to file %s\n", id, op.FileName)
	return nil
}
