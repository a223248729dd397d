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

// Package hash computes content identities of configuration values.
package hash

import (
	"fmt"
	"hash"
	"hash/fnv"
	"io"

	"github.com/davecgh/go-spew/spew"
)

// Hash returns a digest of the contents of object. Values that describe
// themselves with a String method are digested by their description;
// other values by a spew dump with sorted map keys, so that equal maps
// give equal digests.
func Hash(object interface{}) string {
	h := fnv.New128a()
	if s, ok := object.(fmt.Stringer); ok {
		io.WriteString(h, s.String())
		return sum(h)
	}
	printer := spew.ConfigState{
		Indent:                  " ",
		SortKeys:                true,
		DisableMethods:          true,
		SpewKeys:                true,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
	}
	printer.Fprintf(h, "%#v", object)
	return sum(h)
}

func sum(h hash.Hash) string {
	return fmt.Sprintf("%x", h.Sum(nil))
}
