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
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// surfaceDynVars are the dynamics variables every recipe carries.
var surfaceDynVars = []string{"time_iso", "lat", "lon", "pfull", "phalf",
	"delz", "dpres", "hgtsfc", "pressfc", "tmp"}

// Met returns the near-surface meteorology recipe: 2 m water vapor
// pressure, dew point and relative humidity and 10 m wind speed and
// direction.
func Met() Recipe {
	return Recipe{
		DynVars: append([]string(nil), surfaceDynVars...),
		PhyVars: []string{"tmp2m", "spfh2m", "ugrd10m", "vgrd10m"},
		Fields: []Field{
			{
				Name: "vapor", LongName: "2 meter water vapor pressure", Units: "Pa",
				Inputs: []string{"spfh2m", "pressfc"},
				Func:   pointwise(func(in []float64) float64 { return VaporPressure(in[0], in[1]) }),
			},
			{
				Name: "dew_temp", LongName: "2 meter dew point temperature", Units: "C",
				Inputs: []string{"vapor"},
				Func:   pointwise(func(in []float64) float64 { return DewPoint(in[0]) }),
			},
			{
				Name: "ws10m", LongName: "10 meter wind speed", Units: "m/s",
				Inputs: []string{"ugrd10m", "vgrd10m"},
				Func:   pointwise(func(in []float64) float64 { return WindSpeed(in[0], in[1]) }),
			},
			{
				Name: "wd10m", LongName: "10 meter wind direction", Units: "degree",
				Inputs: []string{"ugrd10m", "vgrd10m"},
				Func:   pointwise(func(in []float64) float64 { return WindDirection(in[0], in[1]) }),
			},
			{
				Name: "rh2m", LongName: "2 meter relative humidity", Units: "%",
				Inputs: []string{"tmp2m", "spfh2m", "pressfc"},
				Func: pointwise(func(in []float64) float64 {
					return RelativeHumidity(in[0], in[1], in[2])
				}),
				Check: CheckRelativeHumidity,
			},
		},
	}
}

// VaporPressure returns the water vapor pressure [Pa] from specific
// humidity q [kg/kg] and pressure p [Pa].
func VaporPressure(q, p float64) float64 {
	w := q / (1 - q)
	return w * p / (0.622 + w)
}

// DewPoint returns the dew point temperature [°C] from water vapor
// pressure e [Pa].
func DewPoint(e float64) float64 {
	l := math.Log((e / 100) / 6.112)
	return 243.5 * l / (17.269 - l)
}

// WindSpeed returns the speed of the wind with eastward component u and
// northward component v.
func WindSpeed(u, v float64) float64 {
	return math.Hypot(u, v)
}

// WindDirection returns the direction the wind with eastward component u
// and northward component v blows from, in degrees clockwise from north
// in [0, 360).
func WindDirection(u, v float64) float64 {
	d := math.Mod(270-math.Atan2(v, u)*180/math.Pi, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// RelativeHumidity returns the relative humidity [%] from temperature
// t [K], specific humidity q [kg/kg] and pressure p [Pa].
func RelativeHumidity(t, q, p float64) float64 {
	tc := t - 273.15
	es := 6.1094 * 100 * math.Exp(17.625*tc/(tc+243.04))
	ws := 0.622 * es / p
	return 100 * q / ws
}

// CheckRelativeHumidity returns a *SanityError unless the smallest
// relative humidity is positive and the 90th percentile is below 100%.
// NaN values are ignored.
func CheckRelativeHumidity(values []float64) error {
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 {
		return &SanityError{Field: "rh2m", Min: math.NaN(), Quantile90: math.NaN(), Reason: "no values"}
	}
	sort.Float64s(x)
	min := floats.Min(x)
	q90 := stat.Quantile(0.9, stat.Empirical, x, nil)
	switch {
	case min <= 0:
		return &SanityError{Field: "rh2m", Min: min, Quantile90: q90, Reason: "minimum is not positive"}
	case q90 >= 100:
		return &SanityError{Field: "rh2m", Min: min, Quantile90: q90, Reason: "90th percentile is not below 100%"}
	}
	return nil
}
