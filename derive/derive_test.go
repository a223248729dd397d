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
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWindDirection(t *testing.T) {
	tests := []struct {
		u, v, want float64
	}{
		{u: 0, v: -1, want: 0},
		{u: -1, v: 0, want: 90},
		{u: 0, v: 1, want: 180},
		{u: 1, v: 0, want: 270},
		{u: 1, v: 1, want: 225},
	}
	for _, test := range tests {
		got := WindDirection(test.u, test.v)
		if math.Abs(got-test.want) > 1e-9 {
			t.Errorf("WindDirection(%g, %g) = %g; want %g", test.u, test.v, got, test.want)
		}
		if got < 0 || got >= 360 {
			t.Errorf("WindDirection(%g, %g) = %g is out of range", test.u, test.v, got)
		}
	}
}

func TestWindSpeed(t *testing.T) {
	assert.InDelta(t, 5., WindSpeed(3, -4), 1e-12)
	assert.InDelta(t, 0., WindSpeed(0, 0), 1e-12)
}

func TestMoisture(t *testing.T) {
	assert.InDelta(t, 0., VaporPressure(0, 101325), 1e-12)
	assert.InDelta(t, 0., DewPoint(611.2), 1e-9)

	// Saturated air at 20 °C and 1000 hPa is close to 100%.
	es := 6.1094 * 100 * math.Exp(17.625*20/(20+243.04))
	q := 0.622 * es / 100000
	assert.InDelta(t, 100., RelativeHumidity(293.15, q, 100000), 1e-9)
	assert.InDelta(t, 50., RelativeHumidity(293.15, q/2, 100000), 1e-9)
}

func TestCheckRelativeHumidity(t *testing.T) {
	ok := make([]float64, 100)
	for i := range ok {
		ok[i] = float64(i%90) + 5
	}
	require.NoError(t, CheckRelativeHumidity(append(ok, math.NaN())))

	t.Run("not positive", func(t *testing.T) {
		err := CheckRelativeHumidity(append([]float64{0}, ok...))
		var se *SanityError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "rh2m", se.Field)
		assert.Equal(t, 0., se.Min)
	})
	t.Run("saturated", func(t *testing.T) {
		wet := make([]float64, 20)
		for i := range wet {
			wet[i] = 100 + float64(i)
		}
		err := CheckRelativeHumidity(wet)
		var se *SanityError
		require.True(t, errors.As(err, &se))
		assert.True(t, se.Quantile90 >= 100)
	})
	t.Run("empty", func(t *testing.T) {
		assert.Error(t, CheckRelativeHumidity([]float64{math.NaN()}))
	})
}

func TestExpressionField(t *testing.T) {
	f, err := ExpressionField("tc", "tmp2m - 273.15 + 0*tmp2m", "C", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp2m"}, f.Inputs)
	assert.Equal(t, "tc", f.LongName)
	v, err := f.Func([]float64{300})
	require.NoError(t, err)
	assert.InDelta(t, 26.85, v, 1e-9)

	f, err = ExpressionField("speed", "sqrt(pow(u, 2) + v*v)", "m/s", "wind speed")
	require.NoError(t, err)
	assert.Equal(t, []string{"u", "v"}, f.Inputs)
	v, err = f.Func([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5., v, 1e-12)

	f, err = ExpressionField("warm", "t > 290", "1", "")
	require.NoError(t, err)
	v, err = f.Func([]float64{295})
	require.NoError(t, err)
	assert.Equal(t, 1., v)

	for _, bad := range []struct{ name, expr string }{
		{"a", "b +"},
		{"a", "a + 1"},
		{"a", "1 + 2"},
		{"a", "nosuch(b)"},
	} {
		if _, err := ExpressionField(bad.name, bad.expr, "", ""); err == nil {
			t.Errorf("%s = %s: expected an error", bad.name, bad.expr)
		}
	}
}

func TestChunkSizes(t *testing.T) {
	tests := []struct {
		ny, nx, nt, workers int
		fixed               map[string]int
		want                map[string]int
	}{
		{ny: 10, nx: 10, nt: 2, workers: 6, want: map[string]int{YDim: 5, XDim: 5}},
		{ny: 10, nx: 10, nt: 24, workers: 6, want: map[string]int{YDim: 10, XDim: 10}},
		{ny: 10, nx: 7, nt: 1, workers: 10, want: map[string]int{YDim: 4, XDim: 3}},
		{ny: 10, nx: 10, nt: 1, workers: 1, fixed: map[string]int{XDim: 3, "pfull": 2},
			want: map[string]int{YDim: 10, XDim: 3}},
	}
	for i, test := range tests {
		got := ChunkSizes(test.ny, test.nx, test.nt, test.workers, test.fixed)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("%d: %v", i, pretty.Diff(got, test.want))
		}
	}
	assert.Equal(t, []block{{0, 2}, {2, 4}, {4, 5}}, blocks(5, 2))
	assert.Equal(t, []block{{0, 3}}, blocks(3, 5))
}

// Every recipe input must be a copied variable or an earlier field.
func TestRecipesAreClosed(t *testing.T) {
	for name, r := range map[string]Recipe{"met": Met(), "pm": PM()} {
		t.Run(name, func(t *testing.T) {
			have := make(map[string]bool)
			for _, v := range append(append([]string(nil), r.DynVars...), r.PhyVars...) {
				have[v] = true
			}
			for _, f := range r.Fields {
				for _, in := range f.Inputs {
					if !have[in] {
						t.Errorf("%s: input %s is not available", f.Name, in)
					}
				}
				have[f.Name] = true
			}
		})
	}
}

func TestPMFields(t *testing.T) {
	r := PM()
	fields := make(map[string]Field)
	for _, f := range r.Fields {
		fields[f.Name] = f
	}
	rho := AirDensity(100000, 2000, 290)
	assert.InDelta(t, 28.97*98000/(8.314*290), rho, 1e-9)

	so4 := fields["pm25_so4"]
	v, err := so4.Func([]float64{1, 2, 3, 1, 0.5, 0, 1000})
	require.NoError(t, err)
	assert.InDelta(t, 2., v, 1e-12)

	poc := fields["poc"]
	v, err = poc.Func([]float64{1.5, 2.5})
	require.NoError(t, err)
	assert.Equal(t, 4., v)
}
