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
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// CycleLayout is the layout of forecast cycle directory names.
	CycleLayout = "2006010215"

	// CycleStep is the interval between forecast cycles.
	CycleStep = 24 * time.Hour
)

var (
	dynZeroHour = regexp.MustCompile(`.*dynf0+\.nc$`)
	phyZeroHour = regexp.MustCompile(`.*phyf0+\.nc$`)
)

// Cycles returns the forecast cycle times from the start to the end of the
// evaluation window, inclusive.
func Cycles(c *Config) []time.Time {
	var cycles []time.Time
	for t := c.Start(); !t.After(c.End()); t = t.Add(CycleStep) {
		cycles = append(cycles, t)
	}
	return cycles
}

// ForecastFileSpec is the raw forecast output of one model for one cycle
// together with the path of the merged file derived from it.
type ForecastFileSpec struct {
	Model string
	Cycle time.Time

	// DynPaths and PhyPaths hold the sorted dynamics and physics files,
	// excluding the zero-hour files.
	DynPaths, PhyPaths []string

	OutPath string
}

// ForecastFileSpecs lists the forecast output of the evaluated models for
// every cycle in the evaluation window. Missing cycle directories are
// skipped with a warning; it is an error for a model to have none.
func ForecastFileSpecs(c *Config, kind PackageKind, log logrus.FieldLogger) ([]ForecastFileSpec, error) {
	dataDir := c.PackageDataDir(kind.Key)
	var specs []ForecastFileSpec
	for _, key := range EvaluatedModels(c) {
		m := c.AQM.Models[key]
		found := 0
		for _, cycle := range Cycles(c) {
			name := cycle.Format(CycleLayout)
			dir := filepath.Join(m.ExptDir, name)
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				log.WithFields(logrus.Fields{"model": key, "cycle": name}).Warn("cycle directory not found")
				continue
			}
			dyn, err := matchForecastFiles(dir, "dynf*.nc", dynZeroHour)
			if err != nil {
				return nil, err
			}
			phy, err := matchForecastFiles(dir, "phyf*.nc", phyZeroHour)
			if err != nil {
				return nil, err
			}
			specs = append(specs, ForecastFileSpec{
				Model:    key,
				Cycle:    cycle,
				DynPaths: dyn,
				PhyPaths: phy,
				OutPath:  filepath.Join(dataDir, fmt.Sprintf("%s_%s.nc", kind.Prefix(key), name)),
			})
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("aqmeval: no cycle directories found in %s for model %s", m.ExptDir, key)
		}
	}
	return specs, nil
}

func matchForecastFiles(dir, pattern string, exclude *regexp.Regexp) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("aqmeval: listing forecast files: %v", err)
	}
	var files []string
	for _, f := range matches {
		if !exclude.MatchString(filepath.Base(f)) {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

// CreateLinks links the raw forecast files of the evaluated models that
// match the package link pattern into the package data directory. Links
// are named <prefix>_<cycle>_<file>; names that already exist are left
// alone. It returns the number of links created.
func CreateLinks(c *Config, kind PackageKind, log logrus.FieldLogger) (int, error) {
	if kind.LinkGlob == "" {
		return 0, nil
	}
	dataDir := c.PackageDataDir(kind.Key)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return 0, fmt.Errorf("aqmeval: creating link directory: %v", err)
	}
	created := 0
	for _, key := range EvaluatedModels(c) {
		m := c.AQM.Models[key]
		for _, cycle := range Cycles(c) {
			name := cycle.Format(CycleLayout)
			src, err := filepath.Glob(filepath.Join(m.ExptDir, name, kind.LinkGlob))
			if err != nil {
				return created, fmt.Errorf("aqmeval: listing forecast files: %v", err)
			}
			sort.Strings(src)
			for _, s := range src {
				if fi, err := os.Stat(s); err != nil || !fi.Mode().IsRegular() {
					continue
				}
				dst := filepath.Join(dataDir, fmt.Sprintf("%s_%s_%s", kind.Prefix(key), name, filepath.Base(s)))
				if _, err := os.Lstat(dst); err == nil {
					continue
				}
				abs, err := filepath.Abs(s)
				if err != nil {
					return created, fmt.Errorf("aqmeval: %v", err)
				}
				if err := os.Symlink(abs, dst); err != nil {
					return created, fmt.Errorf("aqmeval: linking forecast file: %v", err)
				}
				created++
			}
		}
	}
	log.WithFields(logrus.Fields{"package": kind.Key, "links": created}).Info("created forecast links")
	return created, nil
}
