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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	nl "github.com/mlnoga/apodize/internal"
	"github.com/mlnoga/apodize/internal/config"
	"github.com/mlnoga/apodize/internal/ops"
	"github.com/mlnoga/apodize/internal/ops/apodize"
	"github.com/mlnoga/apodize/internal/ops/report"
	"github.com/mlnoga/apodize/internal/rest"
	"github.com/mlnoga/apodize/internal/sva"
)

const version = "0.1.0"

var configFile = flag.String("config", "apodize.yaml", "load configuration from YAML `file`, if present. Flags override its values")

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var iFile = flag.String("i", "", "read in-phase band from single-plane FITS `file`, together with -q")
var qFile = flag.String("q", "", "read quadrature band from single-plane FITS `file`, together with -i")
var out = flag.String("out", "out.fits", "save output to `file`. %s writes one file per band, %d expands to the scene number")
var jpg = flag.String("jpg", "%auto", "save preview of output as JPEG or 16-bit TIFF to `file`. `%auto` replaces suffix of output file with .jpg")
var previewMode = flag.String("previewMode", "amplitude", "preview rendering, amplitude, despeckle or phase")
var logFile = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")
var statsFile = flag.String("statsFile", "", "save band statistics as CSV to `file`")
var replaceNaNs = flag.Bool("replaceNaNs", false, "write zeros instead of NaNs to FITS output for compatibility with other software")

var missing = flag.String("missing", "nan", "missing value marker, nan or a number. NaN is always treated as missing")
var boundary = flag.String("boundary", "wrap", "neighbors at the raster edges: wrap, clamp or zero")
var threads = flag.Int("threads", 0, "number of concurrent row bands, 0=all cores")
var bandRows = flag.Int("bandRows", 0, "rows per work unit, 0=derive from CPU cache size")
var memoryMB = flag.Int("memory", 0, "MiB of memory for scenes in flight, 0=0.7x physical memory")

var port = flag.Int("port", 8080, "port for serve command")
var chroot = flag.String("chroot", "", "chroot to `dir` before serving")
var setuid = flag.Int("setuid", -1, "change user id before serving, -1=don't")

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Apodize Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (filter|stats|job|serve|config|legal|version|help) args

Commands:
  filter  Filter scenes with spatially variant apodization. Inputs are FITS cubes with I and Q planes, or use -i and -q
  stats   Show band and filter statistics of input scenes without writing output
  job     Run the JSON operator job from the given file
  serve   Serve the REST API
  config  Write the effective configuration as YAML to the given file
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}

	// Initialize logging to file in addition to stdout, if selected
	if args[0] == "filter" || args[0] == "stats" || args[0] == "job" {
		if *logFile == "%auto" {
			if cfg.Output.File != "" {
				*logFile = strings.Replace(strings.TrimSuffix(cfg.Output.File, filepath.Ext(cfg.Output.File)), "%s", "", 1) + ".log"
			} else {
				*logFile = ""
			}
		}
		if *logFile != "" {
			if err := nl.LogAlsoToFile(*logFile); err != nil {
				nl.LogFatalf("Unable to open logfile '%s'\n", *logFile)
			}
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	// run actions
	switch args[0] {
	case "filter":
		err = cmdFilter(args[1:], cfg, logWriter)

	case "stats":
		err = cmdStats(args[1:], cfg, logWriter)

	case "job":
		err = cmdJob(args[1:], cfg, logWriter)

	case "serve":
		if err = rest.MakeSandbox(logWriter, cfg.Server.Chroot, cfg.Server.Setuid); err == nil {
			err = rest.Serve(cfg, version)
		}

	case "config":
		if len(args) != 2 {
			err = fmt.Errorf("config command needs exactly one file name")
		} else if err = config.SaveConfig(cfg, args[1]); err == nil {
			fmt.Fprintf(logWriter, "Wrote configuration to %s\n", args[1])
		}

	case "legal":
		fmt.Fprint(logWriter, legal)
		return

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n%s\n", version, ops.GetPlatform())
		return

	case "help", "?":
		flag.Usage()
		return

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	now := time.Now()
	elapsed := now.Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Loads the configuration file and applies all flags given explicitly on the command line
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	var ferr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.File = *out
		case "jpg":
			cfg.Output.Preview = *jpg
		case "previewMode":
			cfg.Output.PreviewMode = *previewMode
		case "replaceNaNs":
			cfg.Output.ReplaceNaNs = *replaceNaNs
		case "missing":
			cfg.Filter.MissingValue = *missing
		case "boundary":
			if cfg.Filter.Boundary, err = sva.ParseBoundaryMode(*boundary); err != nil {
				ferr = err
			}
		case "threads":
			cfg.Filter.Threads = *threads
		case "bandRows":
			cfg.Filter.BandRows = int32(*bandRows)
		case "port":
			cfg.Server.Port = *port
		case "chroot":
			cfg.Server.Chroot = *chroot
		case "setuid":
			cfg.Server.Setuid = *setuid
		}
	})
	if ferr != nil {
		return nil, ferr
	}
	return cfg, cfg.Validate()
}

// Creates an operator context from the configuration
func newContext(cfg *config.Config, logWriter io.Writer) (*ops.Context, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	c := ops.NewContext(logWriter, opts)
	if *memoryMB > 0 {
		c.SceneMemoryMB = *memoryMB
	}
	fmt.Fprintf(logWriter, "Using %d threads, %d MiB of %d MiB memory for scenes in flight\n", c.MaxThreads, c.SceneMemoryMB, c.MemoryMB)
	return c, nil
}

// Expands file name patterns with wildcards
func globAll(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

func newFilterJob(cfg *config.Config) *apodize.FilterJob {
	j := apodize.NewFilterJobDefault()
	j.Out, j.ReplaceNaNs = cfg.Output.File, cfg.Output.ReplaceNaNs
	j.Preview, j.PreviewMode = cfg.Output.Preview, cfg.Output.PreviewMode
	j.Gamma, j.Quality = cfg.Output.Gamma, cfg.Output.Quality
	j.LowPercentile, j.HighPercentile = cfg.Output.LowPercentile, cfg.Output.HighPercentile
	j.StatsFile = *statsFile
	return j
}

// Filters a single I/Q pair given with -i and -q, or all cubes matching the arguments
func cmdFilter(args []string, cfg *config.Config, logWriter io.Writer) error {
	c, err := newContext(cfg, logWriter)
	if err != nil {
		return err
	}
	if *iFile != "" || *qFile != "" {
		if len(args) > 0 {
			return fmt.Errorf("give either -i and -q or cube files, not both")
		}
		j := newFilterJob(cfg)
		j.IFile, j.QFile = *iFile, *qFile
		_, err := j.Run(0, c)
		return err
	}

	files, err := globAll(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no input files", sva.ErrMissingInput)
	}
	if len(files) > 1 && !strings.Contains(cfg.Output.File, "%d") {
		return fmt.Errorf("filtering %d scenes needs %%d in the output file name", len(files))
	}

	seq, err := newFilterJob(cfg).SequenceFrom(ops.NewOpLoadMany(files))
	if err != nil {
		return err
	}
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.SceneConcurrency(), true)
	return err
}

// Filters all input scenes and logs statistics, without writing output other than the optional CSV file
func cmdStats(args []string, cfg *config.Config, logWriter io.Writer) error {
	c, err := newContext(cfg, logWriter)
	if err != nil {
		return err
	}
	var load ops.Operator
	if *iFile != "" && *qFile != "" {
		load = ops.NewOpLoadPair(0, *iFile, *qFile)
	} else {
		load = ops.NewOpLoadMany(args)
	}
	seq := ops.NewOpSequence(load, apodize.NewOpSVADefault(), report.NewOpStats(*statsFile))
	promises, err := seq.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.SceneConcurrency(), true)
	return err
}

// Runs a JSON operator job from file
func cmdJob(args []string, cfg *config.Config, logWriter io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("job command needs exactly one job file")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		return fmt.Errorf("error parsing job %s: %w", args[0], err)
	}
	c, err := newContext(cfg, logWriter)
	if err != nil {
		return err
	}
	promises, err := op.MakePromises(nil, c)
	if err != nil {
		return err
	}
	_, err = ops.MaterializeAll(promises, c.SceneConcurrency(), true)
	return err
}
