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

// Package derivetest writes small forecast files for tests of packages
// that derive fields from them.
package derivetest

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ctessum/cdf"
)

// Grid sizes of the files written by WriteForecast.
const (
	NY   = 2
	NX   = 3
	NLev = 2
)

const isoLayout = "2006-01-02T15:04:05"

type variable struct {
	name string
	dims []string
	// value returns the values of time step t, or every value for
	// variables without a time dimension.
	value func(t int) interface{}
}

func fixed(v interface{}) func(int) interface{} { return func(int) interface{} { return v } }

func cells(f func(i int) float64, n int) []float32 {
	o := make([]float32, n)
	for i := range o {
		o[i] = float32(f(i))
	}
	return o
}

// dynamics returns the variables of a dynamics file: every variable of
// the near-surface meteorology recipe that is read from it.
func dynamics(start time.Time) []variable {
	n := NY * NX
	return []variable{
		{name: "time", dims: []string{"time"}, value: func(t int) interface{} { return []float64{float64(t)} }},
		{name: "time_iso", dims: []string{"time", "nchars"}, value: func(t int) interface{} {
			return []byte(start.Add(time.Duration(t) * time.Hour).Format(isoLayout))
		}},
		{name: "pfull", dims: []string{"pfull"}, value: fixed([]float32{1000, 900})},
		{name: "phalf", dims: []string{"phalf"}, value: fixed([]float32{1050, 950, 850})},
		{name: "grid_yt", dims: []string{"grid_yt"}, value: fixed([]float64{1, 2})},
		{name: "grid_xt", dims: []string{"grid_xt"}, value: fixed([]float64{1, 2, 3})},
		{name: "lat", dims: []string{"grid_yt", "grid_xt"}, value: fixed([]float64{40, 40, 40, 41, 41, 41})},
		{name: "lon", dims: []string{"grid_yt", "grid_xt"}, value: fixed([]float64{-100, -99, -98, -100, -99, -98})},
		{name: "delz", dims: []string{"time", "pfull", "grid_yt", "grid_xt"}, value: fixed(cells(func(int) float64 { return -20 }, NLev*n))},
		{name: "dpres", dims: []string{"time", "pfull", "grid_yt", "grid_xt"}, value: fixed(cells(func(int) float64 { return 250 }, NLev*n))},
		{name: "hgtsfc", dims: []string{"time", "grid_yt", "grid_xt"}, value: fixed(cells(func(i int) float64 { return 100 * float64(i) }, n))},
		{name: "pressfc", dims: []string{"time", "grid_yt", "grid_xt"}, value: fixed(cells(func(i int) float64 { return 100000 - 10*float64(i) }, n))},
		{name: "tmp", dims: []string{"time", "pfull", "grid_yt", "grid_xt"}, value: func(t int) interface{} {
			return cells(func(i int) float64 { return 290 + float64(t) - 2*float64(i/n) }, NLev*n)
		}},
	}
}

// physics returns the variables of a physics file. The humidity and
// temperature give a relative humidity of about 35%.
func physics() []variable {
	n := NY * NX
	return []variable{
		{name: "time", dims: []string{"time"}, value: func(t int) interface{} { return []float64{float64(t)} }},
		{name: "grid_yt", dims: []string{"grid_yt"}, value: fixed([]float64{1, 2})},
		{name: "grid_xt", dims: []string{"grid_xt"}, value: fixed([]float64{1, 2, 3})},
		{name: "tmp2m", dims: []string{"time", "grid_yt", "grid_xt"}, value: func(t int) interface{} {
			return cells(func(i int) float64 { return 293 + float64(t) + 0.1*float64(i) }, n)
		}},
		{name: "spfh2m", dims: []string{"time", "grid_yt", "grid_xt"}, value: fixed(cells(func(i int) float64 { return 0.005 + 0.0001*float64(i) }, n))},
		{name: "ugrd10m", dims: []string{"time", "grid_yt", "grid_xt"}, value: fixed(cells(func(i int) float64 { return 1 + float64(i) }, n))},
		{name: "vgrd10m", dims: []string{"time", "grid_yt", "grid_xt"}, value: func(t int) interface{} {
			return cells(func(i int) float64 { return 2*float64(t) - float64(i) }, n)
		}},
	}
}

// WriteForecast writes a dynamics file to dyn and a physics file to phy,
// each with nt hourly time steps from start along a record dimension.
func WriteForecast(dyn, phy string, start time.Time, nt int) error {
	if err := write(dyn, nt, dynamics(start), map[string]interface{}{
		"ak": []float32{1, 2, 3},
		"bk": []float32{0, 0.5, 1},
	}); err != nil {
		return err
	}
	return write(phy, nt, physics(), nil)
}

func write(path string, nt int, vars []variable, global map[string]interface{}) error {
	h := cdf.NewHeader(
		[]string{"time", "pfull", "phalf", "grid_yt", "grid_xt", "nchars"},
		[]int{0, NLev, NLev + 1, NY, NX, len(isoLayout)})
	for _, v := range vars {
		var sample interface{} = []float32{0}
		switch v.value(0).(type) {
		case []float64:
			sample = []float64{0}
		case []byte:
			sample = ""
		}
		h.AddVariable(v.name, v.dims, sample)
	}
	for a, val := range global {
		h.AddAttribute("", a, val)
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("derivetest: %s: %v", path, errs[0])
	}
	ff, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("derivetest: %v", err)
	}
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	if err != nil {
		return fmt.Errorf("derivetest: %s: %v", path, err)
	}
	put := func(name string, begin, end []int, data interface{}) error {
		if _, err := f.Writer(name, begin, end).Write(data); err != nil && err != io.EOF {
			return fmt.Errorf("derivetest: writing %s to %s: %v", name, path, err)
		}
		return nil
	}
	for _, v := range vars {
		if v.dims[0] == "time" {
			continue
		}
		if err := put(v.name, nil, nil, v.value(0)); err != nil {
			return err
		}
	}
	for t := 0; t < nt; t++ {
		for _, v := range vars {
			if v.dims[0] != "time" {
				continue
			}
			l := h.Lengths(v.name)
			begin := make([]int, len(l))
			end := make([]int, len(l))
			begin[0], end[0] = t, t
			for j := 1; j < len(l); j++ {
				end[j] = l[j] - 1
			}
			if err := put(v.name, begin, end, v.value(t)); err != nil {
				return err
			}
		}
	}
	if err := cdf.UpdateNumRecs(ff); err != nil {
		return fmt.Errorf("derivetest: %s: %v", path, err)
	}
	return nil
}
