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
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/sva"
	"github.com/valyala/fastrand"
)

func randomRaster(t *testing.T, width, height int32) *sva.Raster {
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32(fastrand.Uint32n(2001)) - 1000
	}
	r, err := sva.NewRaster(width, height, data)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func testScene(t *testing.T) *Product {
	s := NewScene(1, randomRaster(t, 6, 5), randomRaster(t, 6, 5))
	s.Suffix = "IW2_VV"
	s.FileName = "scene.fits"
	s.Header.Strings["OBJECT"] = "Harbour"
	s.Header.Strings["DATE-OBS"] = "2021-03-04T05:06:07"
	s.Header.Strings["DATE-END"] = "2021-03-04T05:06:19"
	s.Header.Comments = append(s.Header.Comments, "descriptive text")
	s.Header.History = append(s.Header.History, "calibrated")
	return s
}

func equalData(t *testing.T, name string, got, want *sva.Raster) {
	t.Helper()
	if got == nil || want == nil {
		t.Errorf("%s: got %v, want %v", name, got, want)
		return
	}
	if got.Width != want.Width || got.Height != want.Height {
		t.Errorf("%s: dimensions %s; want %s", name, got.DimensionsToString(), want.DimensionsToString())
		return
	}
	for k := range want.Data {
		if got.Data[k] != want.Data[k] {
			t.Errorf("%s[%d]=%g; want %g", name, k, got.Data[k], want.Data[k])
			return
		}
	}
}

func TestFilterCopiesMetadata(t *testing.T) {
	scene := testScene(t)
	p, err := Filter(scene, sva.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != ProductName || p.Header.Strings["PRODNAME"] != ProductName {
		t.Errorf("name=%q PRODNAME=%q; want %q", p.Name, p.Header.Strings["PRODNAME"], ProductName)
	}
	if desc := p.Header.Strings["PRODDESC"]; !strings.Contains(desc, "Harbour") {
		t.Errorf("PRODDESC=%q; want mention of the object", desc)
	}
	for _, key := range []string{"DATE-OBS", "DATE-END", "OBJECT"} {
		if got, want := p.Header.Strings[key], scene.Header.Strings[key]; got != want {
			t.Errorf("%s=%q; want %q", key, got, want)
		}
	}
	if len(p.Header.Comments) != 1 {
		t.Errorf("comments=%q; want the scene's comment", p.Header.Comments)
	}
	if len(p.Header.History) != 4 || p.Header.History[0] != "calibrated" {
		t.Errorf("history=%q; want scene history plus 3 entries", p.Header.History)
	}
	if len(scene.Header.History) != 1 {
		t.Errorf("scene history modified: %q", scene.Header.History)
	}
	if !p.Filtered() || scene.Filtered() {
		t.Errorf("filtered product=%v scene=%v; want true, false", p.Filtered(), scene.Filtered())
	}

	names := []string{}
	for _, b := range p.Bands() {
		names = append(names, b.Name)
	}
	if got := strings.Join(names, ","); got != "i_IW2_VV,q_IW2_VV,intensity,amplitude" {
		t.Errorf("bands=%s", got)
	}
}

func TestFilterDimensionMismatch(t *testing.T) {
	scene := NewScene(2, randomRaster(t, 4, 4), randomRaster(t, 4, 5))
	if _, err := Filter(scene, sva.DefaultOptions()); !errors.Is(err, sva.ErrDimensionMismatch) {
		t.Errorf("err=%v; want %v", err, sva.ErrDimensionMismatch)
	}
}

func TestSaveLoadCube(t *testing.T) {
	p, err := Filter(testScene(t), sva.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	fileName := filepath.Join(t.TempDir(), "out.fits")
	names, err := p.Save(fileName, false)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(names) != 1 || names[0] != fileName {
		t.Errorf("names=%v; want [%s]", names, fileName)
	}

	got, err := LoadCube(fileName, 3, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Suffix != "IW2_VV" || got.Name != ProductName {
		t.Errorf("suffix=%q name=%q", got.Suffix, got.Name)
	}
	equalData(t, "I", got.I, p.I)
	equalData(t, "Q", got.Q, p.Q)
	equalData(t, "intensity", got.Intensity, p.Intensity)
	equalData(t, "amplitude", got.Amplitude, p.Amplitude)
	if _, ok := got.Header.Text("BAND1"); ok {
		t.Errorf("band names left in header")
	}
	if s, _ := got.Header.Text("DATE-END"); s != "2021-03-04T05:06:19" {
		t.Errorf("DATE-END=%q", s)
	}
}

func TestSaveBandsLoadPair(t *testing.T) {
	p, err := Filter(testScene(t), sva.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	names, err := p.Save(filepath.Join(dir, "out_%s.fits"), true)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("wrote %d files; want 4", len(names))
	}
	for _, n := range names {
		if _, err := os.Stat(n); err != nil {
			t.Errorf("stat %s: %v", n, err)
		}
	}

	got, err := LoadPair(filepath.Join(dir, "out_i_IW2_VV.fits"), filepath.Join(dir, "out_q_IW2_VV.fits"), 4, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Suffix != "IW2_VV" {
		t.Errorf("suffix=%q; want IW2_VV", got.Suffix)
	}
	equalData(t, "I", got.I, p.I)
	equalData(t, "Q", got.Q, p.Q)
	if got.Filtered() {
		t.Errorf("pair loaded as filtered product")
	}
}

func TestLoadPairDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	a := fits.NewImageFromNaxisn([]int32{3, 3}, nil)
	b := fits.NewImageFromNaxisn([]int32{3, 4}, nil)
	if err := a.WriteFile(filepath.Join(dir, "a.fits"), false); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteFile(filepath.Join(dir, "b.fits"), false); err != nil {
		t.Fatal(err)
	}
	_, err := LoadPair(filepath.Join(dir, "a.fits"), filepath.Join(dir, "b.fits"), 5, io.Discard)
	if !errors.Is(err, sva.ErrDimensionMismatch) {
		t.Errorf("err=%v; want %v", err, sva.ErrDimensionMismatch)
	}
	if _, err := LoadCube(filepath.Join(dir, "a.fits"), 6, io.Discard); !errors.Is(err, ErrNoBands) {
		t.Errorf("err=%v; want %v", err, ErrNoBands)
	}
}

func TestMissingMarkerRoundTrip(t *testing.T) {
	scene := testScene(t)
	scene.I.Data[0] = -9999
	opts := sva.DefaultOptions()
	opts.MissingValue = -9999
	p, err := Filter(scene, opts)
	if err != nil {
		t.Fatal(err)
	}
	fileName := filepath.Join(t.TempDir(), "out.fits")
	if _, err := p.Save(fileName, false); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCube(fileName, 7, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if got.Missing != -9999 {
		t.Errorf("missing=%g; want -9999", got.Missing)
	}
	if got.Amplitude.Data[0] != -9999 {
		t.Errorf("amplitude[0]=%g; want missing marker", got.Amplitude.Data[0])
	}
}

func TestWritePreview(t *testing.T) {
	p, err := Filter(testScene(t), sva.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	for _, tt := range []struct {
		file, mode string
		wantErr    bool
	}{
		{"amp.jpg", PreviewAmplitude, false},
		{"amp.tif", PreviewAmplitude, false},
		{"phase.jpg", PreviewPhase, false},
		{"despeckle.tif", PreviewSpeckle, false},
		{"phase.tif", PreviewPhase, true},
		{"other.jpg", "hue", true},
	} {
		fileName := filepath.Join(dir, tt.file)
		err := p.WritePreview(fileName, tt.mode, 1, 0.01, 0.99, 90)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s/%s: err=%v; want error %v", tt.file, tt.mode, err, tt.wantErr)
			continue
		}
		if err == nil {
			if fi, err := os.Stat(fileName); err != nil || fi.Size() == 0 {
				t.Errorf("%s: not written", fileName)
			}
		}
	}
}

func TestAmplitudeDBOfScene(t *testing.T) {
	i, _ := sva.NewRaster(2, 1, []float32{3, float32(math.NaN())})
	q, _ := sva.NewRaster(2, 1, []float32{4, 1})
	db, err := NewScene(8, i, q).AmplitudeDB()
	if err != nil {
		t.Fatal(err)
	}
	if want := float32(20 * math.Log10(5)); math.Abs(float64(db[0]-want)) > 1e-5 {
		t.Errorf("db[0]=%g; want %g", db[0], want)
	}
	if !math.IsNaN(float64(db[1])) {
		t.Errorf("db[1]=%g; want NaN", db[1])
	}
}
