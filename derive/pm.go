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

// A tracer is an aerosol tracer and the factor its mixing ratio is
// divided by to give carbon mass.
type tracer struct {
	name    string
	divisor float64
}

var (
	// Primary organic aerosol, i and j modes.
	pociTracers = []tracer{{"alvpo1i", 1.39}, {"asvpo1i", 1.32}, {"asvpo2i", 1.26}, {"apoci", 1}}
	pocjTracers = []tracer{{"alvpo1j", 1.39}, {"asvpo1j", 1.32}, {"asvpo2j", 1.26},
		{"asvpo3j", 1.21}, {"aivpo1j", 1.17}, {"apocj", 1}}

	// Secondary organic aerosol, i and j modes.
	sociTracers = []tracer{{"alvoo1i", 2.27}, {"alvoo2i", 2.06}, {"asvoo1i", 1.88}, {"asvoo2i", 1.73}}
	socjTracers = []tracer{
		{"aiso1j", 2.20}, {"aiso2j", 2.23}, {"aiso3j", 2.80},
		{"amt1j", 1.67}, {"amt2j", 1.67}, {"amt3j", 1.72}, {"amt4j", 1.53},
		{"amt5j", 1.57}, {"amt6j", 1.40}, {"amtno3j", 1.90}, {"amthydj", 1.54},
		{"aglyj", 2.13}, {"asqtj", 1.52}, {"aorgcj", 2.00}, {"aolgbj", 2.10},
		{"aolgaj", 2.50}, {"alvoo1j", 2.27}, {"alvoo2j", 2.06}, {"asvoo1j", 1.88},
		{"asvoo2j", 1.73}, {"asvoo3j", 1.60}, {"aavb1j", 2.70}, {"aavb2j", 2.35},
		{"aavb3j", 2.17}, {"aavb4j", 1.99}, {"apcsoj", 2.00},
	}
)

// PM returns the speciated PM2.5 recipe: air density and the sulfate,
// nitrate, ammonium, elemental carbon and organic carbon mass
// concentrations. Species concentrations are the mode mixing ratios
// weighted by the PM2.5 fraction of each mode and scaled by air density.
func PM() Recipe {
	dyn := append([]string(nil), surfaceDynVars...)
	dyn = append(dyn,
		"aso4i", "aso4j", "aso4k", "ano3i", "ano3j", "ano3k", "anh4i", "anh4j", "anh4k",
		"aeci", "aecj", "aothri", "aothrj")
	for _, set := range [][]tracer{pociTracers, pocjTracers, sociTracers, socjTracers} {
		for _, t := range set {
			if !contains(dyn, t.name) {
				dyn = append(dyn, t.name)
			}
		}
	}
	dyn = append(dyn, "pm25at", "pm25ac", "pm25co")

	return Recipe{
		DynVars: dyn,
		PhyVars: []string{"tmp2m"},
		Fields: []Field{
			{
				Name: "air_density", LongName: "air density", Units: "g/m3",
				Inputs: []string{"pressfc", "dpres", "tmp"},
				Func:   pointwise(func(in []float64) float64 { return AirDensity(in[0], in[1], in[2]) }),
			},
			modeSpecies("pm25_so4", "PM25 Sulfate", "aso4i", "aso4j", "aso4k"),
			modeSpecies("pm25_no3", "PM25 Nitrate", "ano3i", "ano3j", "ano3k"),
			modeSpecies("pm25_nh4", "PM25 Ammonium", "anh4i", "anh4j", "anh4k"),
			{
				Name: "pm25_ec", LongName: "PM25 Elemental Carbon", Units: "ug/m3",
				Inputs: []string{"aeci", "aecj", "pm25at", "pm25ac", "air_density"},
				Func: pointwise(func(in []float64) float64 {
					return 0.001 * (in[0]*in[2] + in[1]*in[3]) * in[4]
				}),
			},
			carbon("poci", "Primary Organic Carbon i-mode", pociTracers),
			carbon("pocj", "Primary Organic Carbon j-mode", pocjTracers),
			sum("poc", "Primary Organic Carbon (i+j)", "poci", "pocj"),
			carbon("soci", "Secondary Organic Carbon i-mode", sociTracers),
			carbon("socj", "Secondary Organic Carbon j-mode", socjTracers),
			sum("soc", "Secondary Organic Carbon (i+j)", "soci", "socj"),
			{
				Name: "pm25_oc", LongName: "PM25 Organic Carbon (i+j)", Units: "ug/m3",
				Inputs: []string{"poci", "soci", "pocj", "socj", "pm25at", "pm25ac"},
				Func: pointwise(func(in []float64) float64 {
					return (in[0]+in[1])*in[4] + (in[2]+in[3])*in[5]
				}),
			},
		},
	}
}

// AirDensity returns the density [g/m3] of dry air at the midpoint of
// the lowest model layer from surface pressure ps [Pa], layer pressure
// thickness dp [Pa] and temperature t [K].
func AirDensity(ps, dp, t float64) float64 {
	return 28.97 * (ps - dp) / (8.314 * t)
}

// modeSpecies is a species with Aitken, accumulation and coarse modes.
func modeSpecies(name, longName, i, j, k string) Field {
	return Field{
		Name: name, LongName: longName, Units: "ug/m3",
		Inputs: []string{i, j, k, "pm25at", "pm25ac", "pm25co", "air_density"},
		Func: pointwise(func(in []float64) float64 {
			return 0.001 * (in[0]*in[3] + in[1]*in[4] + in[2]*in[5]) * in[6]
		}),
	}
}

func carbon(name, longName string, tracers []tracer) Field {
	inputs := make([]string, len(tracers)+1)
	for i, t := range tracers {
		inputs[i] = t.name
	}
	inputs[len(tracers)] = "air_density"
	return Field{
		Name: name, LongName: longName, Units: "ug/m3",
		Inputs: inputs,
		Func: pointwise(func(in []float64) float64 {
			s := 0.
			for i, t := range tracers {
				s += in[i] / t.divisor
			}
			return 0.001 * s * in[len(tracers)]
		}),
	}
}

func sum(name, longName, a, b string) Field {
	return Field{
		Name: name, LongName: longName, Units: "ug/m3",
		Inputs: []string{a, b},
		Func:   pointwise(func(in []float64) float64 { return in[0] + in[1] }),
	}
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
