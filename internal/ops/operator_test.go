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

package ops_test

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/ops/apodize"
	"github.com/mlnoga/apodize/internal/ops/report"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/sva"
	"github.com/valyala/fastrand"
)

func writeCube(t *testing.T, fileName string, width, height int32) {
	t.Helper()
	planes := [][]float32{make([]float32, width*height), make([]float32, width*height)}
	for _, p := range planes {
		for i := range p {
			p[i] = float32(fastrand.Uint32n(201)) - 100
		}
	}
	img, err := fits.NewCubeFromPlanes(width, height, planes...)
	if err != nil {
		t.Fatal(err)
	}
	img.Header.Strings["OBJECT"] = "test scene"
	if err := img.WriteFile(fileName, false); err != nil {
		t.Fatal(err)
	}
}

func TestMaterializeAllJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a failed"), errors.New("b failed")
	ok := func() (*product.Product, error) { return product.NewScene(1, nil, nil), nil }
	ins := []ops.Promise{
		ok,
		func() (*product.Product, error) { return nil, errA },
		ok,
		func() (*product.Product, error) { return nil, errB },
	}
	outs, err := ops.MaterializeAll(ins, 2, false)
	if len(outs) != 2 {
		t.Errorf("len(outs)=%d; want 2", len(outs))
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err=%v; want both errors joined", err)
	}

	outs, err = ops.MaterializeAll(ins[:1], 4, true)
	if err != nil || len(outs) != 0 {
		t.Errorf("forget: outs=%v err=%v; want none", outs, err)
	}
}

func TestOptionsFor(t *testing.T) {
	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	c.Options.BandRows = 0

	c.L2CacheBytes = 1 << 20
	if got := c.OptionsFor(1000).BandRows; got != 58 {
		t.Errorf("bandRows=%d; want 58", got)
	}
	if got := c.OptionsFor(1).BandRows; got != 512 {
		t.Errorf("bandRows=%d; want 512", got)
	}
	if got := c.OptionsFor(1 << 20).BandRows; got != 4 {
		t.Errorf("bandRows=%d; want 4", got)
	}
	c.L2CacheBytes = -1
	if got := c.OptionsFor(1000).BandRows; got != 64 {
		t.Errorf("bandRows=%d; want 64 for unknown cache", got)
	}
	c.Options.BandRows = 7
	if got := c.OptionsFor(1000).BandRows; got != 7 {
		t.Errorf("bandRows=%d; want explicit 7", got)
	}
}

func TestSceneConcurrency(t *testing.T) {
	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	c.MaxThreads, c.SceneMemoryMB = 8, 1000
	c.MaxSceneMB = 300
	if got := c.SceneConcurrency(); got != 3 {
		t.Errorf("concurrency=%d; want 3", got)
	}
	c.MaxSceneMB = 5000
	if got := c.SceneConcurrency(); got != 1 {
		t.Errorf("concurrency=%d; want 1", got)
	}
	c.MaxSceneMB = 0
	if got := c.SceneConcurrency(); got != 8 {
		t.Errorf("concurrency=%d; want 8", got)
	}
}

func TestLoadRequiresFiles(t *testing.T) {
	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	_, err := ops.NewOpLoadPair(0, "i.fits", "").MakePromises(nil, c)
	if !errors.Is(err, sva.ErrMissingInput) {
		t.Errorf("err=%v; want %v", err, sva.ErrMissingInput)
	}
}

func TestRestrictPaths(t *testing.T) {
	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	c.RestrictPaths = true
	for _, name := range []string{"/etc/passwd", "../up.fits", "a/../../b.fits"} {
		if _, err := ops.NewOpLoad(0, name).MakePromises(nil, c); err == nil {
			t.Errorf("load %s: expected error", name)
		}
	}
	if !ops.IsPathAllowed("data/scene.fits") {
		t.Errorf("relative path rejected")
	}
}

func TestUnmarshalUnknownOperator(t *testing.T) {
	if _, err := ops.UnmarshalOperator([]byte(`{"type":"debayer"}`)); err == nil {
		t.Errorf("expected error for unknown type")
	}
}

const jobTemplate = `{"type":"seq","active":true,"steps":[
  {"type":"load","fileName":"DIR/in.fits"},
  {"type":"sva","options":{"boundary":"clamp","missingValue":"NaN"}},
  {"type":"stats","fileName":"DIR/stats.csv"},
  {"type":"preview","active":true,"filePattern":"DIR/preview%d.jpg","mode":"phase"},
  {"type":"save","active":true,"filePattern":"DIR/out%d.fits"}
]}`

func TestJobEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeCube(t, filepath.Join(dir, "in.fits"), 9, 7)

	op, err := ops.UnmarshalOperator([]byte(strings.ReplaceAll(jobTemplate, "DIR", dir)))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	seq, ok := op.(*ops.OpSequence)
	if !ok || len(seq.Steps) != 5 {
		t.Fatalf("op=%#v; want sequence of 5", op)
	}
	if s, ok := seq.Steps[1].(*apodize.OpSVA); !ok || s.Options == nil || s.Options.Boundary != sva.BoundaryClamp {
		t.Errorf("step 1=%#v; want sva with clamp boundary", seq.Steps[1])
	}
	if _, ok := seq.Steps[2].(*report.OpStats); !ok {
		t.Errorf("step 2=%#v; want stats", seq.Steps[2])
	}

	c := ops.NewContext(io.Discard, sva.DefaultOptions())
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		t.Fatalf("make promises: %v", err)
	}
	outs, err := ops.MaterializeAll(promises, c.SceneConcurrency(), false)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(outs) != 1 || !outs[0].Filtered() {
		t.Fatalf("outs=%v; want one filtered product", outs)
	}

	saved, err := product.LoadCube(filepath.Join(dir, "out0.fits"), 1, io.Discard)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if saved.Name != product.ProductName || saved.Amplitude == nil {
		t.Errorf("saved product name=%q amplitude=%v", saved.Name, saved.Amplitude != nil)
	}
	if _, err := os.Stat(filepath.Join(dir, "preview0.jpg")); err != nil {
		t.Errorf("preview: %v", err)
	}
	csv, err := os.ReadFile(filepath.Join(dir, "stats.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(string(csv)), "\n"); len(lines) != 5 {
		t.Errorf("csv has %d lines; want header plus 4 bands:\n%s", len(lines), csv)
	}
}

func TestSequenceMarshalRoundTrip(t *testing.T) {
	seq := ops.NewOpSequence(
		ops.NewOpLoadMany([]string{"*.fits"}),
		ops.NewOpForEach(apodize.NewOpSVADefault()),
		ops.NewOpSave("out%d.fits", true),
	)
	b, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	op, err := ops.UnmarshalOperator(b)
	if err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	got := op.(*ops.OpSequence)
	if len(got.Steps) != 3 {
		t.Fatalf("steps=%d; want 3", len(got.Steps))
	}
	fe, ok := got.Steps[1].(*ops.OpForEach)
	if !ok || fe.Operation == nil || fe.Operation.GetType() != "sva" {
		t.Errorf("step 1=%#v; want forEach of sva", got.Steps[1])
	}
	if s := got.Steps[2].(*ops.OpSave); s.FilePattern != "out%d.fits" || !s.ReplaceNaNs || !s.IsActive() {
		t.Errorf("save=%#v", s)
	}
}
