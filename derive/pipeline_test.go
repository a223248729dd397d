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
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval/derive/derivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNY   = 2
	testNX   = 3
	testNLev = 2
)

type testVar struct {
	name string
	dims []string
	// data holds every value for fixed variables and the values of one
	// time step, as a function of it, for time-dependent ones.
	data func(t int) interface{}
}

func fixed(v interface{}) func(int) interface{} { return func(int) interface{} { return v } }

// writeTestFile writes a NetCDF file with nt time steps starting at t0.
// The time dimension is the record dimension if record is true.
func writeTestFile(t *testing.T, path string, t0, nt int, record bool, vars []testVar, global map[string]interface{}) {
	t.Helper()
	tlen := nt
	if record {
		tlen = 0
	}
	h := cdf.NewHeader(
		[]string{TimeDim, LevelDim, HalfDim, YDim, XDim},
		[]int{tlen, testNLev, testNLev + 1, testNY, testNX})
	for _, v := range vars {
		h.AddVariable(v.name, v.dims, sample(v.data(t0)))
	}
	for a, val := range global {
		h.AddAttribute("", a, val)
	}
	h.Define()
	for _, err := range h.Check() {
		require.NoError(t, err)
	}
	ff, err := os.Create(path)
	require.NoError(t, err)
	defer ff.Close()
	f, err := cdf.Create(ff, h)
	require.NoError(t, err)

	write := func(name string, begin, end []int, data interface{}) {
		w := f.Writer(name, begin, end)
		if _, err := w.Write(data); err != nil && err != io.EOF {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	for _, v := range vars {
		if v.dims[0] == TimeDim {
			continue
		}
		write(v.name, nil, nil, v.data(0))
	}
	for i := 0; i < nt; i++ {
		for _, v := range vars {
			if v.dims[0] != TimeDim {
				continue
			}
			l := h.Lengths(v.name)
			begin := make([]int, len(l))
			end := make([]int, len(l))
			begin[0], end[0] = i, i
			for j := 1; j < len(l); j++ {
				end[j] = l[j] - 1
			}
			write(v.name, begin, end, v.data(t0+i))
		}
	}
	require.NoError(t, cdf.UpdateNumRecs(ff))
}

func sample(data interface{}) interface{} {
	switch d := data.(type) {
	case []float32:
		return []float32{0}
	case []float64:
		return []float64{0}
	default:
		return d
	}
}

func grid(f func(i int) float64, n int) []float32 {
	o := make([]float32, n)
	for i := range o {
		o[i] = float32(f(i))
	}
	return o
}

func tmpValue(t, k, i int) float64 { return 280 + float64(t) + 0.5*float64(k) + 0.1*float64(i) }
func pressValue(i int) float64 { return 100000 + 10*float64(i) }
func uValue(i int) float64 { return 1 + float64(i) }
func vValue(t, i int) float64 { return 2*float64(t) - float64(i) }

func dynVars() []testVar {
	n := testNY * testNX
	return []testVar{
		{name: TimeDim, dims: []string{TimeDim}, data: func(t int) interface{} { return []float64{float64(t)} }},
		{name: LevelDim, dims: []string{LevelDim}, data: fixed([]float32{1000, 900})},
		{name: HalfDim, dims: []string{HalfDim}, data: fixed([]float32{1050, 950, 850})},
		{name: YDim, dims: []string{YDim}, data: fixed([]float64{40, 41})},
		{name: XDim, dims: []string{XDim}, data: fixed([]float64{-100, -99, -98})},
		{name: "tmp", dims: []string{TimeDim, LevelDim, YDim, XDim}, data: func(t int) interface{} {
			return grid(func(i int) float64 { return tmpValue(t, i/n, i%n) }, testNLev*n)
		}},
		{name: "pressfc", dims: []string{TimeDim, YDim, XDim}, data: fixed(grid(pressValue, n))},
	}
}

func phyVars() []testVar {
	n := testNY * testNX
	return []testVar{
		{name: TimeDim, dims: []string{TimeDim}, data: func(t int) interface{} { return []float64{float64(t)} }},
		{name: YDim, dims: []string{YDim}, data: fixed([]float64{40, 41})},
		{name: XDim, dims: []string{XDim}, data: fixed([]float64{-100, -99, -98})},
		{name: "ugrd10m", dims: []string{TimeDim, YDim, XDim}, data: fixed(grid(uValue, n))},
		{name: "vgrd10m", dims: []string{TimeDim, YDim, XDim}, data: func(t int) interface{} {
			return grid(func(i int) float64 { return vValue(t, i) }, n)
		}},
	}
}

// testInputs writes two single-step dynamics files and one physics
// file holding both steps in its record dimension.
func testInputs(t *testing.T) (dir string, dyn, phy []string) {
	dir = t.TempDir()
	global := map[string]interface{}{
		"ak":     []float32{1, 2, 3},
		"bk":     []float32{0, 0.5, 1},
		"source": "test",
	}
	dyn = []string{filepath.Join(dir, "dynf001.nc"), filepath.Join(dir, "dynf002.nc")}
	writeTestFile(t, dyn[0], 0, 1, false, dynVars(), global)
	writeTestFile(t, dyn[1], 1, 1, false, dynVars(), global)
	phy = []string{filepath.Join(dir, "phyf.nc")}
	writeTestFile(t, phy[0], 0, 2, true, phyVars(), nil)
	return
}

func testRecipe(t *testing.T) Recipe {
	tc, err := ExpressionField("tmpc", "tmp - 273.15", "C", "temperature")
	require.NoError(t, err)
	ratio, err := ExpressionField("ratio", "tmp / pressfc", "K/Pa", "")
	require.NoError(t, err)
	var ws Field
	for _, f := range Met().Fields {
		if f.Name == "ws10m" {
			ws = f
		}
	}
	return Recipe{
		DynVars: []string{"tmp", "pressfc"},
		PhyVars: []string{"ugrd10m", "vgrd10m"},
		Fields:  []Field{ws, tc, ratio},
	}
}

func readVar(t *testing.T, f *cdf.File, name string) interface{} {
	t.Helper()
	r := f.Reader(name, nil, nil)
	require.NotNil(t, r, name)
	buf := r.Zero(-1)
	_, err := r.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("reading %s: %v", name, err)
	}
	return buf
}

func openOutput(t *testing.T, path string) *cdf.File {
	t.Helper()
	ff, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { ff.Close() })
	f, err := cdf.Open(ff)
	require.NoError(t, err)
	return f
}

func TestPipeline(t *testing.T) {
	dir, dyn, phy := testInputs(t)
	out := filepath.Join(dir, "merged.nc")
	p := &Pipeline{
		Dyn:     dyn,
		Phy:     phy,
		Out:     out,
		Recipe:  testRecipe(t),
		Workers: 4,
		Chunks:  map[string]int{XDim: 2},
		Log:     logrus.StandardLogger(),
	}
	require.NoError(t, p.Run(context.Background()))
	_, err := os.Stat(out + PartialSuffix)
	assert.True(t, os.IsNotExist(err), "partial file should be gone")

	f := openOutput(t, out)
	h := f.Header
	assert.Equal(t, []string{"tmp", "pressfc", "ugrd10m", "vgrd10m", TimeDim, LevelDim, YDim, XDim,
		"ws10m", "tmpc", "ratio"}, h.Variables())
	assert.Equal(t, []string{TimeDim, LevelDim, YDim, XDim}, h.Dimensions("tmpc"))
	assert.Equal(t, []string{TimeDim, YDim, XDim}, h.Dimensions("ws10m"))
	assert.Equal(t, "test", h.GetAttribute("", "source"))
	assert.Equal(t, []float32{1, 2, 3}, h.GetAttribute("", "ak"))
	assert.Equal(t, "C", h.GetAttribute("tmpc", "units"))

	assert.Equal(t, []float64{0, 1}, readVar(t, f, TimeDim))

	n := testNY * testNX
	tmp := readVar(t, f, "tmp").([]float32)
	tmpc := readVar(t, f, "tmpc").([]float32)
	ratio := readVar(t, f, "ratio").([]float32)
	require.Len(t, tmp, 2*testNLev*n)
	for tt := 0; tt < 2; tt++ {
		for k := 0; k < testNLev; k++ {
			for i := 0; i < n; i++ {
				j := (tt*testNLev+k)*n + i
				want := tmpValue(tt, k, i)
				assert.InDelta(t, want, float64(tmp[j]), 1e-3)
				assert.InDelta(t, want-273.15, float64(tmpc[j]), 1e-3)
				assert.InDelta(t, want/pressValue(i), float64(ratio[j]), 1e-8)
			}
		}
	}
	ws := readVar(t, f, "ws10m").([]float32)
	require.Len(t, ws, 2*n)
	for tt := 0; tt < 2; tt++ {
		for i := 0; i < n; i++ {
			want := math.Hypot(uValue(i), vValue(tt, i))
			assert.InDelta(t, want, float64(ws[tt*n+i]), 1e-4)
		}
	}
}

func TestPipelineMet(t *testing.T) {
	dir := t.TempDir()
	dyn, phy := filepath.Join(dir, "dynf001.nc"), filepath.Join(dir, "phyf001.nc")
	start := time.Date(2023, 8, 1, 13, 0, 0, 0, time.UTC)
	require.NoError(t, derivetest.WriteForecast(dyn, phy, start, 2))
	out := filepath.Join(dir, "met.nc")
	p := &Pipeline{Dyn: []string{dyn}, Phy: []string{phy}, Out: out, Recipe: Met(), Workers: 2}
	require.NoError(t, p.Run(context.Background()))

	f := openOutput(t, out)
	assert.Equal(t, []string{TimeDim, "nchars"}, f.Header.Dimensions("time_iso"))
	assert.Equal(t, []byte("2023-08-01T13:00:002023-08-01T14:00:00"), readVar(t, f, "time_iso"))
	assert.Len(t, readVar(t, f, "lat"), derivetest.NY*derivetest.NX)
	rh := readVar(t, f, "rh2m").([]float32)
	require.Len(t, rh, 2*derivetest.NY*derivetest.NX)
	for _, v := range rh {
		assert.True(t, v > 20 && v < 50, "rh2m %g", v)
	}
}

func TestPipelineSurfOnly(t *testing.T) {
	dir, dyn, phy := testInputs(t)
	out := filepath.Join(dir, "surf.nc")
	r := testRecipe(t)
	r.DynVars = append(r.DynVars, HalfDim)
	p := &Pipeline{Dyn: dyn, Phy: phy, Out: out, Recipe: r, Workers: 1, SurfOnly: true}
	require.NoError(t, p.Run(context.Background()))

	f := openOutput(t, out)
	h := f.Header
	assert.Equal(t, []int{2, 1, testNY, testNX}, h.Lengths("tmp"))
	assert.Equal(t, []int{1}, h.Lengths(HalfDim))
	assert.Equal(t, []float32{1, 2}, h.GetAttribute("", "ak"))
	assert.Equal(t, []float32{0, 0.5}, h.GetAttribute("", "bk"))
	assert.Equal(t, []float32{1000}, readVar(t, f, LevelDim))
	assert.Equal(t, []float32{1050}, readVar(t, f, HalfDim))

	n := testNY * testNX
	tmpc := readVar(t, f, "tmpc").([]float32)
	require.Len(t, tmpc, 2*n)
	assert.InDelta(t, tmpValue(1, 0, 4)-273.15, float64(tmpc[n+4]), 1e-3)
}

func TestPipelineSanityCheck(t *testing.T) {
	dir, dyn, phy := testInputs(t)
	out := filepath.Join(dir, "bad.nc")
	p := &Pipeline{Dyn: dyn, Phy: phy, Out: out, Workers: 2, Recipe: Recipe{
		DynVars: []string{"pressfc"},
		Fields: []Field{{
			Name:   "rh2m",
			Inputs: []string{"pressfc"},
			Func:   pointwise(func([]float64) float64 { return 150 }),
			Check:  CheckRelativeHumidity,
		}},
	}}
	err := p.Run(context.Background())
	var se *SanityError
	require.True(t, errors.As(err, &se), "%v", err)
	assert.InDelta(t, 150., se.Quantile90, 1e-9)
	for _, path := range []string{out, out + PartialSuffix} {
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err), path)
	}
}

func TestPipelineErrors(t *testing.T) {
	dir, dyn, phy := testInputs(t)
	tests := []struct {
		name string
		p    Pipeline
	}{
		{
			name: "time steps differ",
			p:    Pipeline{Dyn: dyn[:1], Phy: phy, Recipe: Recipe{DynVars: []string{"tmp"}}},
		},
		{
			name: "missing variable",
			p:    Pipeline{Dyn: dyn, Phy: phy, Recipe: Recipe{PhyVars: []string{"spfh2m"}}},
		},
		{
			name: "missing input",
			p: Pipeline{Dyn: dyn, Phy: phy, Recipe: Recipe{Fields: []Field{{
				Name: "x", Inputs: []string{"tmp"}, Func: pointwise(func(in []float64) float64 { return in[0] }),
			}}}},
		},
		{
			name: "non-gridded input",
			p: Pipeline{Dyn: dyn, Phy: phy, Recipe: Recipe{DynVars: []string{LevelDim}, Fields: []Field{{
				Name: "x", Inputs: []string{LevelDim}, Func: pointwise(func(in []float64) float64 { return in[0] }),
			}}}},
		},
		{
			name: "no files",
			p:    Pipeline{Phy: phy, Recipe: Recipe{DynVars: []string{"tmp"}}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := test.p
			p.Out = filepath.Join(dir, "err.nc")
			require.Error(t, p.Run(context.Background()))
			_, err := os.Stat(p.Out + PartialSuffix)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestPipelineCanceled(t *testing.T) {
	dir, dyn, phy := testInputs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Dyn: dyn, Phy: phy, Out: filepath.Join(dir, "c.nc"), Workers: 2, Recipe: testRecipe(t)}
	assert.ErrorIs(t, p.Run(ctx), context.Canceled)
}
