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
	"math"

	"github.com/Knetic/govaluate"
)

func unary(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("got %d arguments for function '%s', but needs 1", len(args), name)
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("function '%s' needs a number", name)
		}
		return f(x), nil
	}
}

func binary(name string, f func(float64, float64) float64) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("got %d arguments for function '%s', but needs 2", len(args), name)
		}
		x, ok1 := args[0].(float64)
		y, ok2 := args[1].(float64)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("function '%s' needs numbers", name)
		}
		return f(x, y), nil
	}
}

// expressionFunctions are the functions available to derived expressions.
var expressionFunctions = map[string]govaluate.ExpressionFunction{
	"exp":   unary("exp", math.Exp),
	"log":   unary("log", math.Log),
	"sqrt":  unary("sqrt", math.Sqrt),
	"abs":   unary("abs", math.Abs),
	"pow":   binary("pow", math.Pow),
	"atan2": binary("atan2", math.Atan2),
	"min":   binary("min", math.Min),
	"max":   binary("max", math.Max),
}

// pointParams gives an expression the input values at one grid point.
type pointParams struct {
	index map[string]int
	in    []float64
}

func (p pointParams) Get(name string) (interface{}, error) {
	i, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("no variable %s", name)
	}
	return p.in[i], nil
}

// ExpressionField returns a field computed from an arithmetic expression
// over other variables, for example "tmp2m - 273.15" or
// "sqrt(ugrd10m*ugrd10m + vgrd10m*vgrd10m)". The functions exp, log,
// sqrt, abs, pow, atan2, min and max are available.
func ExpressionField(name, expression, units, longName string) (Field, error) {
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expression, expressionFunctions)
	if err != nil {
		return Field{}, fmt.Errorf("aqmeval/derive: parsing expression for %s: %v", name, err)
	}
	var inputs []string
	index := make(map[string]int)
	for _, v := range e.Vars() {
		if _, ok := index[v]; ok {
			continue
		}
		if v == name {
			return Field{}, fmt.Errorf("aqmeval/derive: expression for %s refers to itself", name)
		}
		index[v] = len(inputs)
		inputs = append(inputs, v)
	}
	if len(inputs) == 0 {
		return Field{}, fmt.Errorf("aqmeval/derive: expression for %s uses no variables", name)
	}
	if longName == "" {
		longName = name
	}
	return Field{
		Name:     name,
		LongName: longName,
		Units:    units,
		Inputs:   inputs,
		Func: func(in []float64) (float64, error) {
			r, err := e.Eval(pointParams{index: index, in: in})
			if err != nil {
				return math.NaN(), fmt.Errorf("aqmeval/derive: evaluating %s: %v", name, err)
			}
			switch v := r.(type) {
			case float64:
				return v, nil
			case bool:
				if v {
					return 1, nil
				}
				return 0, nil
			}
			return math.NaN(), fmt.Errorf("aqmeval/derive: expression for %s gives %T, not a number", name, r)
		},
	}, nil
}
