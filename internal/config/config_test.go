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

package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/apodize/internal/sva"
)

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Filter.Boundary != sva.BoundaryWrap || cfg.Output.File != "out.fits" || cfg.Server.Port != 8080 {
		t.Errorf("cfg=%+v; want defaults", cfg)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "apodize.yaml")
	cfg := DefaultConfig()
	cfg.Filter.Boundary = sva.BoundaryZero
	cfg.Filter.MissingValue = "-9999"
	cfg.Output.PreviewMode = "phase"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "boundary: zero") {
		t.Errorf("saved yaml lacks boundary text form:\n%s", data)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Filter.Boundary != sva.BoundaryZero || got.Output.PreviewMode != "phase" {
		t.Errorf("got %+v", got)
	}
	opts, err := got.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.MissingValue != -9999 || opts.Boundary != sva.BoundaryZero {
		t.Errorf("opts=%+v", opts)
	}
}

func TestLoadConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apodize.yaml")
	yaml := "filter:\n  missingValue: .nan\n  boundary: clamp\n  threads: 3\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(float64(opts.MissingValue)) || opts.Boundary != sva.BoundaryClamp || opts.MaxThreads != 3 {
		t.Errorf("opts=%+v", opts)
	}
	if cfg.Output.Quality != 95 {
		t.Errorf("quality=%d; want default 95", cfg.Output.Quality)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	for _, body := range []string{
		"filter:\n  boundary: mirror\n",
		"filter:\n  missingValue: lots\n",
		"output:\n  lowPercentile: 0.9\n  highPercentile: 0.1\n",
		"output:\n  previewMode: hue\n",
		"output:\n  quality: 0\n",
	} {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}
