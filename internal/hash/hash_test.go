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

package hash

import (
	"math"
	"testing"
)

type described struct{ s string }

func (d described) String() string { return d.s }

func TestHash(t *testing.T) {
	type plain struct {
		A int
		B map[string]interface{}
	}
	tests := []struct {
		name string
		a, b interface{}
		same bool
	}{
		{"stringer equal", described{"x"}, described{"x"}, true},
		{"stringer differs", described{"x"}, described{"y"}, false},
		{"struct", struct{ A, B int }{1, 2}, struct{ A, B int }{1, 2}, true},
		{"struct differs", struct{ A, B int }{1, 2}, struct{ A, B int }{2, 1}, false},
		{"map order", plain{1, map[string]interface{}{"a": true, "b": map[string]interface{}{"c": 1}}},
			plain{1, map[string]interface{}{"b": map[string]interface{}{"c": 1}, "a": true}}, true},
		{"NaN", []float64{math.NaN()}, []float64{math.NaN()}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ha, hb := Hash(test.a), Hash(test.b)
			if len(ha) != 32 {
				t.Errorf("digest %q should have 32 hex characters", ha)
			}
			if (ha == hb) != test.same {
				t.Errorf("Hash(%v) = %s, Hash(%v) = %s", test.a, ha, test.b, hb)
			}
		})
	}
}
