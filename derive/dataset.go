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
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
)

type ncFile struct {
	path string
	f    *os.File
	nc   *cdf.File
	nrec int
}

// dataset is a set of NetCDF files concatenated along the time
// dimension. Variables without a time dimension are read from the first
// file.
type dataset struct {
	files []*ncFile
	nt    int
}

// openDataset opens paths in order. Every file must have a time
// dimension and the same lengths for all other dimensions.
func openDataset(paths []string) (ds *dataset, err error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("aqmeval/derive: no files to open")
	}
	ds = new(dataset)
	defer func() {
		if err != nil {
			ds.close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("aqmeval/derive: %v", err)
		}
		nf := &ncFile{path: p, f: f}
		ds.files = append(ds.files, nf)
		if nf.nc, err = cdf.Open(f); err != nil {
			return nil, fmt.Errorf("aqmeval/derive: opening %s: %v", p, err)
		}
		fi, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("aqmeval/derive: %v", err)
		}
		h := nf.nc.Header
		dims, lengths := h.Dimensions(""), h.Lengths("")
		found := false
		for i, d := range dims {
			if d != TimeDim {
				continue
			}
			found = true
			if lengths[i] == 0 {
				nf.nrec = int(h.NumRecs(fi.Size()))
			} else {
				nf.nrec = lengths[i]
			}
		}
		if !found {
			return nil, fmt.Errorf("aqmeval/derive: %s has no %s dimension", p, TimeDim)
		}
		if len(ds.files) > 1 {
			if err := ds.checkDims(nf); err != nil {
				return nil, err
			}
		}
		ds.nt += nf.nrec
	}
	return ds, nil
}

func (ds *dataset) checkDims(nf *ncFile) error {
	first := ds.files[0].nc.Header
	want := make(map[string]int)
	fdims, flengths := first.Dimensions(""), first.Lengths("")
	for i, d := range fdims {
		want[d] = flengths[i]
	}
	h := nf.nc.Header
	dims, lengths := h.Dimensions(""), h.Lengths("")
	for i, d := range dims {
		if d == TimeDim {
			continue
		}
		if l, ok := want[d]; ok && l != lengths[i] {
			return fmt.Errorf("aqmeval/derive: dimension %s has length %d in %s but %d in %s",
				d, lengths[i], nf.path, l, ds.files[0].path)
		}
	}
	return nil
}

func (ds *dataset) header() *cdf.Header { return ds.files[0].nc.Header }

func (ds *dataset) has(v string) bool {
	return ds.header().Dimensions(v) != nil
}

// lengths returns the lengths of the dimensions of v, with the time
// dimension covering all files.
func (ds *dataset) lengths(v string) []int {
	h := ds.header()
	dims := h.Dimensions(v)
	l := append([]int(nil), h.Lengths(v)...)
	for i, d := range dims {
		if d == TimeDim {
			l[i] = ds.nt
		}
	}
	return l
}

// locate returns the file holding global time step t and the time step
// within that file.
func (ds *dataset) locate(t int) (*ncFile, int, error) {
	for _, f := range ds.files {
		if t < f.nrec {
			return f, t, nil
		}
		t -= f.nrec
	}
	return nil, 0, fmt.Errorf("aqmeval/derive: time step out of range")
}

// readRaw reads n values of v that are contiguous along the last
// dimension, starting at begin. The values have the type of the
// variable; CHAR variables are read as []uint8.
func (ds *dataset) readRaw(v string, begin []int, n int) (interface{}, error) {
	f := ds.files[0]
	b := append([]int(nil), begin...)
	dims := ds.header().Dimensions(v)
	if len(dims) > 0 && dims[0] == TimeDim {
		var err error
		if f, b[0], err = ds.locate(begin[0]); err != nil {
			return nil, err
		}
	}
	e := append([]int(nil), b...)
	if len(e) > 0 {
		e[len(e)-1] += n - 1
	}
	r := f.nc.Reader(v, b, e)
	if r == nil {
		return nil, fmt.Errorf("aqmeval/derive: variable %s not found in %s", v, f.path)
	}
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("aqmeval/derive: reading %s from %s: %v", v, f.path, err)
	}
	return buf, nil
}

// readRow is like readRaw but converts the values to float64.
func (ds *dataset) readRow(v string, begin []int, n int) ([]float64, error) {
	raw, err := ds.readRaw(v, begin, n)
	if err != nil {
		return nil, err
	}
	return toFloat64(raw)
}

func (ds *dataset) close() error {
	var err error
	for _, f := range ds.files {
		if cerr := f.f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func toFloat64(raw interface{}) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []float32:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o, nil
	case []int32:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o, nil
	case []int16:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o, nil
	case []uint8:
		o := make([]float64, len(v))
		for i, x := range v {
			o[i] = float64(x)
		}
		return o, nil
	}
	return nil, fmt.Errorf("aqmeval/derive: cannot convert %T to numbers", raw)
}

// fromFloat64 converts v to a slice of the same type as like.
func fromFloat64(v []float64, like interface{}) interface{} {
	switch like.(type) {
	case []float32:
		o := make([]float32, len(v))
		for i, x := range v {
			o[i] = float32(x)
		}
		return o
	case []int32:
		o := make([]int32, len(v))
		for i, x := range v {
			o[i] = int32(x)
		}
		return o
	case []int16:
		o := make([]int16, len(v))
		for i, x := range v {
			o[i] = int16(x)
		}
		return o
	case []uint8:
		o := make([]uint8, len(v))
		for i, x := range v {
			o[i] = uint8(x)
		}
		return o
	}
	return v
}
