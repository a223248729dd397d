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

// Package derive merges the dynamics and physics output files of one
// forecast cycle into a single NetCDF file and computes derived
// physical fields from the merged variables. Gridded variables are
// processed in independent chunks of one time step and a block of grid
// cells so that memory use is bounded by the chunk size.
package derive

import "fmt"

// Dimension names of the forecast output.
const (
	TimeDim  = "time"
	XDim     = "grid_xt"
	YDim     = "grid_yt"
	LevelDim = "pfull"
	HalfDim  = "phalf"
)

// PartialSuffix is appended to the name of an output file while it is
// being written.
const PartialSuffix = ".part"

// A Field is a derived variable computed point by point from other
// variables of the merged dataset.
type Field struct {
	Name     string
	LongName string
	Units    string

	// Inputs names the variables Func is computed from. They may be
	// read from the forecast files or be fields defined earlier in the
	// same recipe.
	Inputs []string

	// Func computes the field from the values of Inputs at one grid
	// point, in the order of Inputs.
	Func func(in []float64) (float64, error)

	// Check, if not nil, is given every computed value of the field
	// once the whole field is known.
	Check func(values []float64) error
}

// pointwise adapts a formula that cannot fail.
func pointwise(f func(in []float64) float64) func([]float64) (float64, error) {
	return func(in []float64) (float64, error) { return f(in), nil }
}

// A Recipe lists the variables copied from the dynamics and physics
// files and the fields derived from them, in computation order.
type Recipe struct {
	DynVars []string
	PhyVars []string
	Fields  []Field
}

// SanityError is returned when a derived field falls outside of its
// physically plausible range.
type SanityError struct {
	Field      string
	Min        float64
	Quantile90 float64
	Reason     string
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("aqmeval/derive: %s failed sanity check (min=%g, 90th percentile=%g): %s",
		e.Field, e.Min, e.Quantile90, e.Reason)
}
