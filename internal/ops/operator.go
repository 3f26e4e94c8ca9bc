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

package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/apodize/internal/fits"
	"github.com/mlnoga/apodize/internal/product"
	"github.com/mlnoga/apodize/internal/sva"
	"github.com/pbnjay/memory"
)

// Bytes touched per pixel while filtering one channel: input, neighbor sum and count, weight and branch, output
const bytesPerPixelInFlight = 4 + 4 + 1 + 4 + 1 + 4

// Planes held in memory per scene: I and Q in, filtered I and Q, intensity, amplitude, neighbor scratch
const planesPerScene = 7

// An execution context for operators
type Context struct {
	Log           io.Writer
	Options       sva.Options // filter settings; BandRows<=0 derives the band size from the cache
	MemoryMB      int         // memory.TotalMemory()/1024/1024
	SceneMemoryMB int         // MemoryMB*7/10, budget for scenes in flight
	MaxThreads    int         `json:"maxThreads"`
	L2CacheBytes  int         // from cpuid, <=0 if unknown
	RestrictPaths bool        // only allow relative paths inside the working directory
	MaxSceneMB    int         // largest scene seen by loaders, for bounding concurrency
}

func NewContext(log io.Writer, opts sva.Options) *Context {
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	maxThreads := opts.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.GOMAXPROCS(0)
	}
	return &Context{
		Log:           log,
		Options:       opts,
		MemoryMB:      memoryMB,
		SceneMemoryMB: memoryMB * 7 / 10,
		MaxThreads:    maxThreads,
		L2CacheBytes:  cpuid.CPU.Cache.L2,
	}
}

// Returns the filter options for a raster of the given width, sizing row bands to the L2 cache if not set explicitly
func (c *Context) OptionsFor(width int32) sva.Options {
	opts := c.Options
	opts.MaxThreads = c.MaxThreads
	if opts.BandRows > 0 {
		return opts
	}
	opts.BandRows = 64
	if c.L2CacheBytes > 0 && width > 0 {
		rows := int64(c.L2CacheBytes) / (int64(width) * bytesPerPixelInFlight)
		opts.BandRows = int32(math.Max(4, math.Min(512, float64(rows))))
	}
	return opts
}

// Number of scenes to process concurrently within the memory budget
func (c *Context) SceneConcurrency() int {
	n := c.MaxThreads
	if c.MaxSceneMB > 0 && c.SceneMemoryMB > 0 {
		if byMemory := c.SceneMemoryMB / c.MaxSceneMB; byMemory < n {
			n = byMemory
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Estimates the memory needed to process the scene in the given file from its header
func EstimateSceneMB(fileName string, logWriter io.Writer) (int, error) {
	img, err := fits.NewImageMetadataFromFile(fileName, 0, logWriter)
	if err != nil {
		return 0, err
	}
	if len(img.Naxisn) < 2 {
		return 0, nil
	}
	pixels := int64(img.Width()) * int64(img.Height())
	return int((pixels*4*planesPerScene)>>20) + 1, nil
}

// A promise for a SAR product. Returns a materialized product, or an error
type Promise func() (p *product.Product, err error)

// Materializes all promises with given concurrency limit. Errors of all failed promises are joined
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*product.Product, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	if !forget {
		outs = make([]*product.Product, len(ins))
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(ins))
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			p, err := theIn() // materialize the promise
			if err != nil {
				errs <- err
				return
			}
			if !forget {
				outs[i] = p
			}
			errs <- nil
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	collected := make([]error, 0)
	for i := 0; i < len(ins); i++ {
		if e := <-errs; e != nil {
			collected = append(collected, e)
		}
	}
	return RemoveNils(outs), errors.Join(collected...)
}

// Remove nils from an array of products, editing the underlying array in place
func RemoveNils(ps []*product.Product) []*product.Product {
	o := 0
	for i := 0; i < len(ps); i++ {
		if ps[i] != nil {
			ps[o] = ps[i]
			o++
		}
	}
	for i := o; i < len(ps); i++ {
		ps[i] = nil
	}
	return ps[:o]
}

// A general processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Unmarshals a single polymorphic operator from JSON, dispatching on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, fmt.Errorf("unknown operator type '%s' in raw JSON message '%s'", base.Type, string(raw))
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// A unary operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(p *product.Product, c *Context) (pOut *product.Product, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(p *product.Product, c *Context) (pOut *product.Product, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return nil, fmt.Errorf("%s operator with %d inputs", op.Type, len(ins))
	}
	if !op.Active {
		return ins, nil
	}
	outs = make([]Promise, len(ins))
	for i, in := range ins {
		outs[i] = op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (p *product.Product, err error) {
		if p, err = in(); err != nil { // materialize input promise
			return nil, err
		}
		return op.Apply(p, c) // apply unary operator
	}
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) { // relative paths only
		return false
	}
	if strings.Contains(p, "..") { // no going outside the tree
		return false
	}
	return true
}

func (c *Context) checkPath(p string) error {
	if c.RestrictPaths && !IsPathAllowed(p) {
		return fmt.Errorf("filename %s outside current directory tree, aborting", p)
	}
	return nil
}

// Load a single scene, either from a FITS cube or from two single-band files. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID        int    `json:"id"`
	FileName  string `json:"fileName"`  // cube with I and Q planes
	IFileName string `json:"iFileName"` // alternatively, separate I and Q files
	QFileName string `json:"qFileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault() }) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase:   OpBase{Type: "load", Active: true},
		ID:       id,
		FileName: fileName,
	}
}

func NewOpLoadPair(id int, iFileName, qFileName string) *OpLoad {
	return &OpLoad{
		OpBase:    OpBase{Type: "load", Active: true},
		ID:        id,
		IFileName: iFileName,
		QFileName: qFileName,
	}
}

func (op *OpLoad) files() []string {
	if op.FileName != "" {
		return []string{op.FileName}
	}
	return []string{op.IFileName, op.QFileName}
}

// Load scene from file(s). Takes no inputs
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	if op.FileName == "" && (op.IFileName == "" || op.QFileName == "") {
		return nil, fmt.Errorf("%d: %w: %s operator needs fileName, or iFileName and qFileName", op.ID, sva.ErrMissingInput, op.Type)
	}
	for _, f := range op.files() {
		if err := c.checkPath(f); err != nil {
			return nil, err
		}
	}
	if mb, err := EstimateSceneMB(op.files()[0], io.Discard); err == nil && mb > c.MaxSceneMB {
		c.MaxSceneMB = mb
	}

	out := func() (p *product.Product, err error) {
		return op.Apply(nil, c) // no inputs to materialize
	}
	return []Promise{out}, nil
}

func (op *OpLoad) Apply(p *product.Product, c *Context) (result *product.Product, err error) {
	if op.FileName != "" {
		p, err = product.LoadCube(op.FileName, op.ID, c.Log)
	} else {
		p, err = product.LoadPair(op.IFileName, op.QFileName, op.ID, c.Log)
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(c.Log, "%d: Loaded %s scene with bands %s from %s\n",
		p.ID, p.DimensionsToString(), bandNames(p), strings.Join(op.files(), ", "))
	return p, nil
}

func bandNames(p *product.Product) string {
	names := make([]string, 0, 4)
	for _, b := range p.Bands() {
		names = append(names, b.Name)
	}
	return strings.Join(names, ",")
}

// Load many scenes from a slice of cube filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault() }) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase:       OpBase{Type: "loadMany", Active: true},
		FilePatterns: filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	for _, pattern := range op.FilePatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if c.RestrictPaths && !IsPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			opLoad := NewOpLoad(len(outs), match)
			promises, err := opLoad.MakePromises(nil, c)
			if err != nil {
				return nil, err
			}
			outs = append(outs, promises...)
		}
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the scene id
// and for %s based on the band name. Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
	ReplaceNaNs bool   `json:"replaceNaNs"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("", false) }

func NewOpSave(filenamePattern string, replaceNaNs bool) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
		ReplaceNaNs: replaceNaNs,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def := defaults(*NewOpSaveDefault())
	def.Active = true // active unless switched off, Apply skips an empty pattern
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpSave(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

// Expands %d in the pattern with the scene ID
func ExpandID(pattern string, id int) string {
	if strings.Contains(pattern, "%d") {
		return strings.Replace(pattern, "%d", fmt.Sprintf("%d", id), 1)
	}
	return pattern
}

var fitsSuffixes = []string{".fits", ".fit", ".fts", ".fits.gz", ".fit.gz", ".fts.gz", ".fits.gzip", ".fit.gzip", ".fts.gzip"}

func (op *OpSave) Apply(p *product.Product, c *Context) (result *product.Product, err error) {
	if !op.Active || op.FilePattern == "" {
		return p, nil
	}
	fileName := ExpandID(op.FilePattern, p.ID)
	if err := c.checkPath(fileName); err != nil {
		return nil, err
	}
	fnLower := strings.ToLower(fileName)
	known := false
	for _, s := range fitsSuffixes {
		known = known || strings.HasSuffix(fnLower, s)
	}
	if !known {
		return nil, fmt.Errorf("%d: unknown suffix for FITS output %s", p.ID, fileName)
	}

	fmt.Fprintf(c.Log, "%d: Writing %s pixel product with bands %s to %s\n", p.ID, p.DimensionsToString(), bandNames(p), fileName)
	names, err := p.Save(fileName, op.ReplaceNaNs)
	if err != nil {
		return nil, fmt.Errorf("%d: error writing to file %s: %w", p.ID, fileName, err)
	}
	fmt.Fprintf(c.Log, "%d: Successfully wrote %s\n", p.ID, strings.Join(names, ", "))
	return p, nil
}

// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}

	for _, raw := range op.StepsRaw {
		step, err := UnmarshalOperator(raw)
		if err != nil {
			return err
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	if op.Steps == nil {
		buf.WriteString("[]")
	} else if inner, err = json.Marshal(op.Steps); err != nil {
		return nil, err
	} else {
		buf.Write(inner)
	}
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps) == 0 {
		return ins, nil
	}
	if ins, err = steps[0].MakePromises(ins, c); err != nil {
		return nil, err
	}
	return op.applyRecursive(steps[1:], ins, c)
}

// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation    Operator        `json:"-"`
	OperationRaw json.RawMessage `json:"operation"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault() }) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase:    OpBase{Type: "forEach", Active: operation != nil},
		Operation: operation,
	}
}

// Unmarshals the embedded polymorphic operation
func (op *OpForEach) UnmarshalJSON(b []byte) error {
	type alias OpForEach
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	if len(op.OperationRaw) > 0 && string(op.OperationRaw) != "null" {
		inner, err := UnmarshalOperator(op.OperationRaw)
		if err != nil {
			return err
		}
		op.Operation = inner
	}
	op.OperationRaw = nil
	return nil
}

func (op *OpForEach) MarshalJSON() ([]byte, error) {
	inner, err := json.Marshal(op.Operation)
	if err != nil {
		return nil, err
	}
	type alias OpForEach
	a := alias(*op)
	a.OperationRaw = inner
	return json.Marshal(a)
}

// Applies the operation to every input on its own
func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) == 0 {
		return ins, nil
	}
	if op.Operation == nil {
		return nil, fmt.Errorf("%s operator has no operation to apply", op.Type)
	}
	for _, in := range ins {
		out, err := op.Operation.MakePromises([]Promise{in}, c)
		if err != nil {
			return nil, err
		}
		if len(out) != 1 {
			return nil, fmt.Errorf("%s operator needs exactly one promise from embedded operation", op.Type)
		}
		outs = append(outs, out[0])
	}
	return outs, nil
}
