/*
Copyright © 2026 the AQMEval authors.
This file is part of AQMEval.

AQMEval is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AQMEval is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AQMEval.  If not, see <http://www.gnu.org/licenses/>.
*/

package derive

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Pipeline merges the dynamics and physics files of one forecast cycle
// and writes the merged variables and the fields of Recipe to Out.
type Pipeline struct {
	// Dyn and Phy are the dynamics and physics files, in forecast hour
	// order. Both sets must cover the same number of time steps.
	Dyn, Phy []string

	Out    string
	Recipe Recipe

	// Workers is the number of chunks processed concurrently.
	Workers int

	// SurfOnly keeps only the lowest model level.
	SurfOnly bool

	// Chunks overrides the chunk size of grid_xt and grid_yt.
	Chunks map[string]int

	Log logrus.FieldLogger
}

// outVar is a variable of the output file.
type outVar struct {
	name    string
	src     *dataset // nil for derived fields
	dims    []string
	lengths []int
	zero    interface{} // one-element slice of the stored type
	gridded bool
	field   *Field
}

// nlev is the number of levels of a gridded variable.
func (v *outVar) nlev() int {
	if len(v.dims) == 4 {
		return v.lengths[1]
	}
	return 1
}

func (v *outVar) levelDim() string {
	if len(v.dims) == 4 {
		return v.dims[1]
	}
	return ""
}

// layout is the structure of the output file.
type layout struct {
	dims    []string
	lengths map[string]int
	vars    []*outVar
	byName  map[string]*outVar
	nt      int
	ny, nx  int
}

func (l *layout) addDim(name string, n int) error {
	if m, ok := l.lengths[name]; ok {
		if m != n {
			return fmt.Errorf("aqmeval/derive: dimension %s has length %d in one file and %d in another", name, m, n)
		}
		return nil
	}
	l.dims = append(l.dims, name)
	l.lengths[name] = n
	return nil
}

func (l *layout) add(v *outVar) {
	l.vars = append(l.vars, v)
	l.byName[v.name] = v
}

// Run writes the merged file. The file is written to Out+PartialSuffix
// and renamed to Out once complete; on failure the partial file is
// removed.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	start := time.Now()
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("out", p.Out)

	dyn, err := openDataset(p.Dyn)
	if err != nil {
		return err
	}
	defer dyn.close()
	phy, err := openDataset(p.Phy)
	if err != nil {
		return err
	}
	defer phy.close()
	if dyn.nt != phy.nt {
		return fmt.Errorf("aqmeval/derive: dynamics files have %d time steps but physics files have %d", dyn.nt, phy.nt)
	}
	if dyn.nt == 0 {
		return fmt.Errorf("aqmeval/derive: no time steps in %v", p.Dyn)
	}

	l, err := p.layout(dyn, phy)
	if err != nil {
		return err
	}
	h := p.header(l, dyn)

	partial := p.Out + PartialSuffix
	ff, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("aqmeval/derive: %v", err)
	}
	defer func() {
		if err != nil {
			ff.Close()
			os.Remove(partial)
		}
	}()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("aqmeval/derive: creating %s: %v", partial, err)
	}

	for _, v := range l.vars {
		if v.gridded || v.field != nil {
			continue
		}
		if err := copyVar(f, v); err != nil {
			return err
		}
	}

	checks, err := p.processChunks(ctx, f, l, log)
	if err != nil {
		return err
	}
	for _, v := range l.vars {
		if v.field == nil || v.field.Check == nil {
			continue
		}
		if err := v.field.Check(checks[v.name]); err != nil {
			return err
		}
	}

	if err := cdf.UpdateNumRecs(ff); err != nil {
		return fmt.Errorf("aqmeval/derive: %v", err)
	}
	if err := ff.Close(); err != nil {
		return fmt.Errorf("aqmeval/derive: %v", err)
	}
	if err := os.Rename(partial, p.Out); err != nil {
		os.Remove(partial)
		return fmt.Errorf("aqmeval/derive: %v", err)
	}
	log.WithFields(logrus.Fields{
		"time_steps": l.nt,
		"variables":  len(l.vars),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("wrote derived file")
	return nil
}

// isGridded reports whether a variable with the given dimensions is
// processed chunk by chunk.
func isGridded(dims []string, zero interface{}) bool {
	if _, ok := zero.(string); ok {
		return false
	}
	n := len(dims)
	return (n == 3 || n == 4) && dims[0] == TimeDim && dims[n-2] == YDim && dims[n-1] == XDim
}

// layout decides the variables and dimensions of the output file:
// the recipe's dynamics and physics variables, the coordinate
// variables of every dimension they use and the derived fields.
func (p *Pipeline) layout(dyn, phy *dataset) (*layout, error) {
	l := &layout{lengths: make(map[string]int), byName: make(map[string]*outVar), nt: dyn.nt}
	addSource := func(name string, ds *dataset, kind string) error {
		if _, ok := l.byName[name]; ok {
			return nil
		}
		if !ds.has(name) {
			return fmt.Errorf("aqmeval/derive: %s variable %s not found in %s", kind, name, ds.files[0].path)
		}
		dims := ds.header().Dimensions(name)
		lengths := ds.lengths(name)
		for i, d := range dims {
			if p.SurfOnly && (d == LevelDim || d == HalfDim) && lengths[i] > 1 {
				lengths[i] = 1
			}
			if err := l.addDim(d, lengths[i]); err != nil {
				return err
			}
		}
		zero := ds.header().ZeroValue(name, 1)
		l.add(&outVar{name: name, src: ds, dims: dims, lengths: lengths, zero: zero,
			gridded: isGridded(dims, zero)})
		return nil
	}
	for _, v := range p.Recipe.DynVars {
		if err := addSource(v, dyn, "dynamics"); err != nil {
			return nil, err
		}
	}
	for _, v := range p.Recipe.PhyVars {
		if err := addSource(v, phy, "physics"); err != nil {
			return nil, err
		}
	}
	for _, d := range append([]string(nil), l.dims...) {
		if _, ok := l.byName[d]; ok {
			continue
		}
		switch {
		case dyn.has(d):
			if err := addSource(d, dyn, "dynamics"); err != nil {
				return nil, err
			}
		case phy.has(d):
			if err := addSource(d, phy, "physics"); err != nil {
				return nil, err
			}
		}
	}
	l.ny, l.nx = l.lengths[YDim], l.lengths[XDim]

	for i := range p.Recipe.Fields {
		fld := &p.Recipe.Fields[i]
		if _, ok := l.byName[fld.Name]; ok {
			return nil, fmt.Errorf("aqmeval/derive: derived field %s already exists", fld.Name)
		}
		level := ""
		var nlev int
		for _, in := range fld.Inputs {
			v, ok := l.byName[in]
			if !ok {
				return nil, fmt.Errorf("aqmeval/derive: input %s of %s is not available", in, fld.Name)
			}
			if !v.gridded {
				return nil, fmt.Errorf("aqmeval/derive: input %s of %s is not a gridded variable", in, fld.Name)
			}
			ld := v.levelDim()
			switch {
			case ld == "":
			case level == "":
				level, nlev = ld, v.nlev()
			case level != ld:
				return nil, fmt.Errorf("aqmeval/derive: inputs of %s mix the %s and %s dimensions", fld.Name, level, ld)
			}
		}
		v := &outVar{name: fld.Name, gridded: true, field: fld, zero: []float32{0}}
		if level == "" {
			v.dims = []string{TimeDim, YDim, XDim}
			v.lengths = []int{l.nt, l.ny, l.nx}
		} else {
			v.dims = []string{TimeDim, level, YDim, XDim}
			v.lengths = []int{l.nt, nlev, l.ny, l.nx}
		}
		l.add(v)
	}
	if len(l.vars) == 0 {
		return nil, fmt.Errorf("aqmeval/derive: no variables to write")
	}
	return l, nil
}

// header builds the output header. Global attributes are copied from
// the dynamics files.
func (p *Pipeline) header(l *layout, dyn *dataset) *cdf.Header {
	lengths := make([]int, len(l.dims))
	for i, d := range l.dims {
		lengths[i] = l.lengths[d]
	}
	h := cdf.NewHeader(l.dims, lengths)
	for _, v := range l.vars {
		h.AddVariable(v.name, v.dims, v.zero)
		if v.field != nil {
			if v.field.LongName != "" {
				h.AddAttribute(v.name, "long_name", v.field.LongName)
			}
			if v.field.Units != "" {
				h.AddAttribute(v.name, "units", v.field.Units)
			}
			continue
		}
		sh := v.src.header()
		for _, a := range sh.Attributes(v.name) {
			h.AddAttribute(v.name, a, sh.GetAttribute(v.name, a))
		}
	}
	gh := dyn.header()
	for _, a := range gh.Attributes("") {
		val := gh.GetAttribute("", a)
		if p.SurfOnly && (a == "ak" || a == "bk") {
			val = truncate(val, 2)
		}
		h.AddAttribute("", a, val)
	}
	h.Define()
	return h
}

func truncate(val interface{}, n int) interface{} {
	switch v := val.(type) {
	case []float32:
		if len(v) > n {
			return v[:n]
		}
	case []float64:
		if len(v) > n {
			return v[:n]
		}
	case []int32:
		if len(v) > n {
			return v[:n]
		}
	}
	return val
}

// copyVar copies a variable that is not processed in chunks, one row
// along its last dimension at a time. Time coordinates are copied one
// value at a time because consecutive steps may be in different files.
func copyVar(f *cdf.File, v *outVar) error {
	if len(v.lengths) == 0 {
		return copyRow(f, v, []int{}, 1)
	}
	split := len(v.lengths) - 1
	if v.dims[split] == TimeDim {
		split++
	}
	lead := v.lengths[:split]
	n := 1
	if split < len(v.lengths) {
		n = v.lengths[split]
	}
	idx := make([]int, len(v.lengths))
	for {
		if err := copyRow(f, v, idx, n); err != nil {
			return err
		}
		i := len(lead) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < lead[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}

func copyRow(f *cdf.File, v *outVar, begin []int, n int) error {
	if n == 0 {
		return nil
	}
	data, err := v.src.readRaw(v.name, begin, n)
	if err != nil {
		return err
	}
	return writeRow(f, v.name, begin, n, data)
}

func writeRow(f *cdf.File, name string, begin []int, n int, data interface{}) error {
	end := append([]int(nil), begin...)
	if len(end) > 0 {
		end[len(end)-1] += n - 1
	}
	w := f.Writer(name, begin, end)
	if _, err := w.Write(data); err != nil && err != io.EOF {
		return fmt.Errorf("aqmeval/derive: writing %s at %v: %v", name, begin, err)
	}
	return nil
}

// chunk is one time step of a block of grid cells.
type chunk struct {
	t    int
	y, x block
}

// processChunks computes and writes every gridded variable. It returns
// the values of the fields that have a Check.
func (p *Pipeline) processChunks(ctx context.Context, f *cdf.File, l *layout, log logrus.FieldLogger) (map[string][]float64, error) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	sizes := ChunkSizes(l.ny, l.nx, l.nt, workers, p.Chunks)
	var chunks []chunk
	for t := 0; t < l.nt; t++ {
		for _, y := range blocks(l.ny, sizes[YDim]) {
			for _, x := range blocks(l.nx, sizes[XDim]) {
				chunks = append(chunks, chunk{t: t, y: y, x: x})
			}
		}
	}
	log.WithFields(logrus.Fields{
		"chunks":  len(chunks),
		"workers": workers,
		YDim:      sizes[YDim],
		XDim:      sizes[XDim],
	}).Debug("processing chunks")

	checks := make(map[string][]float64)
	for _, v := range l.vars {
		if v.field != nil && v.field.Check != nil {
			checks[v.name] = make([]float64, l.nt*v.nlev()*l.ny*l.nx)
		}
	}

	var lock sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range chunks {
		c := c
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return p.processChunk(f, l, c, &lock, checks)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checks, ctx.Err()
}

// processChunk reads the gridded source variables of chunk c, computes
// the derived fields and writes all of them. Single-level inputs are
// broadcast to every level of a field.
func (p *Pipeline) processChunk(f *cdf.File, l *layout, c chunk, lock *sync.Mutex, checks map[string][]float64) error {
	ny, nx := c.y.hi-c.y.lo, c.x.hi-c.x.lo
	bufs := make(map[string]*sparse.DenseArray)

	for _, v := range l.vars {
		if !v.gridded || v.field != nil {
			continue
		}
		buf := sparse.ZerosDense(v.nlev(), ny, nx)
		for k := 0; k < v.nlev(); k++ {
			for y := 0; y < ny; y++ {
				row, err := v.src.readRow(v.name, rowIndex(v, c.t, k, c.y.lo+y, c.x.lo), nx)
				if err != nil {
					return err
				}
				copy(buf.Elements[buf.Index1d(k, y, 0):], row)
			}
		}
		bufs[v.name] = buf
	}

	for _, v := range l.vars {
		if v.field == nil {
			continue
		}
		fld := v.field
		nlev := v.nlev()
		buf := sparse.ZerosDense(nlev, ny, nx)
		in := make([]float64, len(fld.Inputs))
		inBufs := make([]*sparse.DenseArray, len(fld.Inputs))
		for i, name := range fld.Inputs {
			inBufs[i] = bufs[name]
		}
		check := checks[v.name]
		for k := 0; k < nlev; k++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					for i, b := range inBufs {
						kk := k
						if b.Shape[0] == 1 {
							kk = 0
						}
						in[i] = b.Elements[b.Index1d(kk, y, x)]
					}
					val, err := fld.Func(in)
					if err != nil {
						return err
					}
					buf.Elements[buf.Index1d(k, y, x)] = val
					if check != nil {
						check[((c.t*nlev+k)*l.ny+c.y.lo+y)*l.nx+c.x.lo+x] = val
					}
				}
			}
		}
		bufs[v.name] = buf
	}

	for _, v := range l.vars {
		if !v.gridded {
			continue
		}
		buf := bufs[v.name]
		for k := 0; k < v.nlev(); k++ {
			for y := 0; y < ny; y++ {
				i := buf.Index1d(k, y, 0)
				data := fromFloat64(buf.Elements[i:i+nx], v.zero)
				lock.Lock()
				err := writeRow(f, v.name, rowIndex(v, c.t, k, c.y.lo+y, c.x.lo), nx, data)
				lock.Unlock()
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// rowIndex is the index of the first value of a row of gridded
// variable v.
func rowIndex(v *outVar, t, k, y, x int) []int {
	if len(v.dims) == 4 {
		return []int{t, k, y, x}
	}
	return []int{t, y, x}
}
