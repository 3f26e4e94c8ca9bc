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
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/sva"
)

func TestPreviewFileName(t *testing.T) {
	tests := []struct {
		out, preview, mode, want string
	}{
		{"out.fits", "%auto", "amplitude", "out.jpg"},
		{"dir/scene.fits.gz", "%auto", "amplitude", "dir/scene.jpg"},
		{"out_%s.fits", "%auto", "phase", "out_phase.jpg"},
		{"out.fits", "p.tif", "amplitude", "p.tif"},
		{"out.fits", "", "amplitude", ""},
	}
	for _, tt := range tests {
		j := NewFilterJobDefault()
		j.Out, j.Preview, j.PreviewMode = tt.out, tt.preview, tt.mode
		if got := j.PreviewFileName(); got != tt.want {
			t.Errorf("PreviewFileName(%q,%q)=%q; want %q", tt.out, tt.preview, got, tt.want)
		}
	}
}

func TestSequenceRejectsBadInputs(t *testing.T) {
	j := NewFilterJobDefault()
	if _, err := j.Sequence(0); !errors.Is(err, sva.ErrMissingInput) {
		t.Errorf("no input: err=%v; want %v", err, sva.ErrMissingInput)
	}
	j.IFile = "i.fits"
	if _, err := j.Sequence(0); !errors.Is(err, sva.ErrMissingInput) {
		t.Errorf("I only: err=%v; want %v", err, sva.ErrMissingInput)
	}
	j.Cube = "cube.fits"
	if _, err := j.Sequence(0); err == nil {
		t.Errorf("cube and I file: expected error")
	}
	j.IFile, j.Out = "", ""
	if _, err := j.Sequence(0); err == nil {
		t.Errorf("no output: expected error")
	}
	j.Out, j.Stats = "out.fits", true
	seq, err := j.Sequence(0)
	if err != nil {
		t.Fatal(err)
	}
	types := ""
	for _, s := range seq.Steps {
		types += s.GetType() + " "
	}
	if types != "load sva stats preview save " {
		t.Errorf("steps=%q", types)
	}
}

func writePlane(t *testing.T, fileName string, data []float32) {
	t.Helper()
	img := fits.NewImageFromNaxisn([]int32{4, 3}, data)
	if err := img.WriteFile(fileName, false); err != nil {
		t.Fatal(err)
	}
}

func TestRunPair(t *testing.T) {
	dir := t.TempDir()
	iData := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	qData := []float32{0, 0, 0, 0, 0, 100, 0, 0, 0, 0, 0, 0}
	writePlane(t, filepath.Join(dir, "i.fits"), iData)
	writePlane(t, filepath.Join(dir, "q.fits"), qData)

	j := NewFilterJobDefault()
	j.IFile, j.QFile = filepath.Join(dir, "i.fits"), filepath.Join(dir, "q.fits")
	j.Out = filepath.Join(dir, "out_%s.fits")
	j.Preview = filepath.Join(dir, "amp.tif")
	p, err := j.Run(3, ops.NewContext(io.Discard, sva.DefaultOptions()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !p.Filtered() || p.ID != 3 {
		t.Errorf("product id=%d filtered=%v", p.ID, p.Filtered())
	}
	for _, name := range []string{"out_i_SVA.fits", "out_q_SVA.fits", "out_intensity.fits", "out_amplitude.fits", "amp.tif"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output: %v", err)
		}
	}
	// an isolated bright value is a mainlobe and survives
	if p.Q.Data[5] != 100 {
		t.Errorf("q[5]=%g; want 100", p.Q.Data[5])
	}
}

func TestSVAUsesRecordedMissingValue(t *testing.T) {
	i, _ := sva.NewRaster(3, 3, []float32{1, 1, 1, 1, -9999, 1, 1, 1, 1})
	q, _ := sva.NewRaster(3, 3, make([]float32, 9))
	scene := product.NewScene(1, i, q)
	scene.Missing = -9999

	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	p, err := NewOpSVADefault().Apply(scene, c)
	if err != nil {
		t.Fatal(err)
	}
	if p.CountsI.Missing != 1 || p.I.Data[4] != -9999 {
		t.Errorf("missing=%d i[4]=%g; want 1 and the marker", p.CountsI.Missing, p.I.Data[4])
	}
	if p.Amplitude.Data[4] != -9999 {
		t.Errorf("amplitude[4]=%g; want the marker", p.Amplitude.Data[4])
	}
}
