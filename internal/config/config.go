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

// Package config loads and saves the YAML configuration of the apodize tool.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mlnoga/apodize/internal/sva"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Filter parameters
	Filter struct {
		// MissingValue marks invalid samples, "nan" or a number. NaN is always missing
		MissingValue string `yaml:"missingValue"`

		// Boundary selects the neighbor policy at the edges: wrap, clamp or zero
		Boundary sva.BoundaryMode `yaml:"boundary"`

		// Threads is the number of concurrent row bands, 0 for all cores
		Threads int `yaml:"threads"`

		// BandRows is the number of rows per work unit, 0 to derive it from the CPU cache size
		BandRows int32 `yaml:"bandRows"`
	} `yaml:"filter"`

	// Output parameters
	Output struct {
		// File is the output file name. A %s pattern writes one file per band
		File string `yaml:"file"`

		// ReplaceNaNs writes zeros instead of NaNs for compatibility with other software
		ReplaceNaNs bool `yaml:"replaceNaNs"`

		// Preview is the preview file name, %auto to derive it from the output, empty for none
		Preview string `yaml:"preview"`

		// PreviewMode is amplitude, despeckle or phase
		PreviewMode string `yaml:"previewMode"`

		// Gamma applied to the preview after stretching
		Gamma float32 `yaml:"gamma"`

		// LowPercentile and HighPercentile of the amplitude in dB map to black and white
		LowPercentile  float64 `yaml:"lowPercentile"`
		HighPercentile float64 `yaml:"highPercentile"`

		// Quality of JPEG previews, 1..100
		Quality int `yaml:"quality"`
	} `yaml:"output"`

	// Server parameters
	Server struct {
		Port   int    `yaml:"port"`
		Chroot string `yaml:"chroot"`
		Setuid int    `yaml:"setuid"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Filter.MissingValue = "nan"
	cfg.Filter.Boundary = sva.BoundaryWrap
	cfg.Filter.Threads = 0
	cfg.Filter.BandRows = 0

	cfg.Output.File = "out.fits"
	cfg.Output.ReplaceNaNs = false
	cfg.Output.Preview = "%auto"
	cfg.Output.PreviewMode = "amplitude"
	cfg.Output.Gamma = 1
	cfg.Output.LowPercentile = 0.01
	cfg.Output.HighPercentile = 0.99
	cfg.Output.Quality = 95

	cfg.Server.Port = 8080
	cfg.Server.Chroot = ""
	cfg.Server.Setuid = -1

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate checks value ranges
func (cfg *Config) Validate() error {
	if _, err := sva.ParseMissingValue(cfg.Filter.MissingValue); err != nil {
		return err
	}
	if cfg.Output.LowPercentile < 0 || cfg.Output.HighPercentile > 1 || cfg.Output.LowPercentile >= cfg.Output.HighPercentile {
		return fmt.Errorf("percentiles %g..%g must satisfy 0 <= low < high <= 1", cfg.Output.LowPercentile, cfg.Output.HighPercentile)
	}
	switch cfg.Output.PreviewMode {
	case "amplitude", "despeckle", "phase":
	default:
		return fmt.Errorf("unknown preview mode %q", cfg.Output.PreviewMode)
	}
	if cfg.Output.Gamma <= 0 {
		return fmt.Errorf("gamma %g must be positive", cfg.Output.Gamma)
	}
	if cfg.Output.Quality < 1 || cfg.Output.Quality > 100 {
		return fmt.Errorf("JPEG quality %d must be in 1..100", cfg.Output.Quality)
	}
	return nil
}

// Options returns the filter settings. A zero thread count becomes GOMAXPROCS, a zero band size is kept for the caller to fill in
func (cfg *Config) Options() (sva.Options, error) {
	opts := sva.DefaultOptions()
	mv, err := sva.ParseMissingValue(cfg.Filter.MissingValue)
	if err != nil {
		return opts, err
	}
	opts.MissingValue = mv
	opts.Boundary = cfg.Filter.Boundary
	if cfg.Filter.Threads > 0 {
		opts.MaxThreads = cfg.Filter.Threads
	}
	opts.BandRows = cfg.Filter.BandRows
	return opts, nil
}
