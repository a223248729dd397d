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

package aqmeval

import (
	"fmt"
	"strings"
)

// FieldError is a problem with one field of a configuration document.
type FieldError struct {
	// Path is the dotted document path of the field, for example
	// aqm.models.eval.plot_kwargs.color.
	Path    string
	Message string
}

func (e FieldError) String() string { return e.Path + ": " + e.Message }

// ConfigError is returned when a configuration document violates one or
// more invariants.
type ConfigError struct {
	Problems []FieldError
}

func (e *ConfigError) Error() string {
	s := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		s[i] = p.String()
	}
	return fmt.Sprintf("aqmeval: invalid configuration:\n\t%s", strings.Join(s, "\n\t"))
}

// Has reports whether any problem was found at path.
func (e *ConfigError) Has(path string) bool {
	for _, p := range e.Problems {
		if p.Path == path {
			return true
		}
	}
	return false
}

// RunModeConflictError is returned when a pre-existing artifact conflicts
// with the run mode.
type RunModeConflictError struct {
	Mode   RunMode
	Path   string
	Reason string
}

func (e *RunModeConflictError) Error() string {
	return fmt.Sprintf("aqmeval: %s run mode: %s: %s", e.Mode, e.Path, e.Reason)
}

// UsageError is returned when tasks are run out of order or a task that
// the package does not run is requested.
type UsageError struct {
	Package PackageKey
	Task    string
	Reason  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("aqmeval: package %s, task %s: %s", e.Package, e.Task, e.Reason)
}
