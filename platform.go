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
	"io"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// PlatformTable holds the execution defaults of the known computing
// platforms, keyed by platform identifier.
type PlatformTable map[string]PlatformDefault

// DefaultPlatforms is used when no platform-default template is given.
var DefaultPlatforms = PlatformTable{
	"hera":     {NcoresPerNode: 40, Nodes: 1},
	"orion":    {NcoresPerNode: 40, Nodes: 1},
	"hercules": {NcoresPerNode: 80, Nodes: 1},
	"gaeac6":   {NcoresPerNode: 192, Nodes: 1},
	"derecho":  {NcoresPerNode: 128, Nodes: 1},
	"ursa":     {NcoresPerNode: 192, Nodes: 1},
}

// ReadPlatformTable reads a platform-default template in TOML format:
//
//	[platforms.hera]
//	ncores_per_node = 40
//	nodes = 1
func ReadPlatformTable(r io.Reader) (PlatformTable, error) {
	var f struct {
		Platforms map[string]PlatformDefault `toml:"platforms"`
	}
	md, err := toml.DecodeReader(r, &f)
	if err != nil {
		return nil, fmt.Errorf("aqmeval: reading platform defaults: %v", err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		keys := make([]string, len(u))
		for i, k := range u {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("aqmeval: unknown keys in platform defaults: %s", strings.Join(keys, ", "))
	}
	if len(f.Platforms) == 0 {
		return nil, fmt.Errorf("aqmeval: platform defaults define no platforms")
	}
	for k, p := range f.Platforms {
		if p.NcoresPerNode < 1 {
			return nil, fmt.Errorf("aqmeval: platform %q: ncores_per_node must be at least 1", k)
		}
	}
	return PlatformTable(f.Platforms), nil
}

// Keys returns the platform identifiers in sorted order.
func (t PlatformTable) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolvePlatformDefaults replaces every "auto" node or task count in doc
// with the defaults of the named platform: tasks_per_node becomes the
// platform's core count and nodes its node count (1 if unset). Counts in
// the task defaults, in each package's prep execution and in each
// package's per-task executions are resolved. doc is modified in place.
// It is an error for the platform to be absent from table.
func ResolvePlatformDefaults(platform string, table PlatformTable, doc *Document) error {
	p, ok := table[platform]
	if !ok {
		return fmt.Errorf("aqmeval: unknown platform %q; known platforms are %s",
			platform, strings.Join(table.Keys(), ", "))
	}
	nodes := p.Nodes
	if nodes < 1 {
		nodes = 1
	}
	resolve := func(e *ExecutionDocument) {
		if e == nil || e.BatchArgs == nil {
			return
		}
		if c := e.BatchArgs.Nodes; c != nil && c.Auto {
			*c = Count{N: nodes}
		}
		if c := e.BatchArgs.TasksPerNode; c != nil && c.Auto {
			*c = Count{N: p.NcoresPerNode}
		}
	}
	if doc == nil || doc.AQM == nil {
		return nil
	}
	if td := doc.AQM.TaskDefaults; td != nil {
		resolve(td.Execution)
	}
	for _, pkg := range doc.AQM.Packages {
		if pkg == nil || pkg.Execution == nil {
			continue
		}
		resolve(pkg.Execution.Prep)
		for _, e := range pkg.Execution.Tasks {
			resolve(e)
		}
	}
	return nil
}
