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

import "math"

// ChunkSizes returns the chunk sizes of the horizontal dimensions, keyed
// by dimension name. Time steps are already processed in parallel, so
// the workers left over after one per time step are spread evenly over
// a near-square partition of the grid: each dimension is split into
// ceil(sqrt(max(1, workers-nt))) blocks. Sizes given in fixed take
// precedence.
func ChunkSizes(ny, nx, nt, workers int, fixed map[string]int) map[string]int {
	n := workers - nt
	if n < 1 {
		n = 1
	}
	side := math.Ceil(math.Sqrt(float64(n)))
	c := map[string]int{
		YDim: int(math.Ceil(float64(ny) / side)),
		XDim: int(math.Ceil(float64(nx) / side)),
	}
	for d, s := range fixed {
		if _, ok := c[d]; ok && s > 0 {
			c[d] = s
		}
	}
	for d, s := range c {
		if s < 1 {
			c[d] = 1
		}
	}
	return c
}

// block is a half-open range of grid indices.
type block struct{ lo, hi int }

// blocks splits [0, n) into blocks of at most size elements.
func blocks(n, size int) []block {
	var b []block
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		b = append(b, block{lo, hi})
	}
	return b
}
