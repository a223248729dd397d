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

	"github.com/spatialmodel/aqmeval/derive"
)

// DerivedSet identifies the set of derived fields a package computes.
type DerivedSet int

const (
	// NoDerived packages link raw forecast files instead of deriving
	// fields.
	NoDerived DerivedSet = iota
	// MetDerived packages derive near-surface meteorology.
	MetDerived
	// PMDerived packages derive speciated PM2.5.
	PMDerived
)

// PackageKind describes the fixed behavior of one evaluation package.
type PackageKind struct {
	Key PackageKey

	// DefaultTasks lists the tasks the package runs, in order, before
	// exclusions are applied.
	DefaultTasks []TaskKey

	Derived DerivedSet

	// PrefixSuffix is appended to a model key to form the prefix of the
	// package's data files.
	PrefixSuffix string

	// ObsLabel labels the observation dataset in control files.
	ObsLabel string

	// UseAirNow is passed to the analysis collaborator for the
	// observation dataset.
	UseAirNow bool

	// LinkGlob selects the raw forecast files linked into the package
	// data directory of packages without derived fields.
	LinkGlob string
}

// Kind returns the behavior of package key.
func Kind(key PackageKey) (PackageKind, error) {
	switch key {
	case Chem:
		return PackageKind{
			Key:          Chem,
			DefaultTasks: AllTasks(),
			PrefixSuffix: "_orig",
			ObsLabel:     "airnow",
			UseAirNow:    true,
			LinkGlob:     "dynf*.nc",
		}, nil
	case ISH:
		return PackageKind{
			Key: ISH,
			DefaultTasks: []TaskKey{SavePaired, Timeseries, Taylor, SpatialBias,
				SpatialOverlay, Boxplot, Stats},
			Derived:      MetDerived,
			PrefixSuffix: "_ish",
			ObsLabel:     "ish",
		}, nil
	case AQSPM:
		return PackageKind{
			Key:          AQSPM,
			DefaultTasks: AllTasks(),
			Derived:      PMDerived,
			PrefixSuffix: "_orig",
			ObsLabel:     "aqs_pm",
		}, nil
	case AQSVOC:
		return PackageKind{
			Key: AQSVOC,
			DefaultTasks: []TaskKey{SavePaired, Timeseries, Taylor, SpatialBias,
				SpatialOverlay, Boxplot, MultiBoxplot, CSI, Stats},
			PrefixSuffix: "_orig",
			ObsLabel:     "aqs_voc",
			LinkGlob:     "dynf*.nc",
		}, nil
	}
	return PackageKind{}, fmt.Errorf("aqmeval: invalid package key %q", key)
}

// Prefix returns the prefix of the package data files of model.
func (k PackageKind) Prefix(model string) string { return model + k.PrefixSuffix }

// Recipe returns the variables and derived fields computed for each
// forecast cycle, or false if the package links raw files instead.
func (k PackageKind) Recipe() (derive.Recipe, bool) {
	switch k.Derived {
	case MetDerived:
		return derive.Met(), true
	case PMDerived:
		return derive.PM(), true
	}
	return derive.Recipe{}, false
}

// DefaultMapping returns the model to observation variable mapping of a
// package that does not configure one.
func DefaultMapping(key PackageKey) map[string]string {
	switch key {
	case Chem:
		return map[string]string{"o3_ave": "OZONE", "pm25_ave": "PM2.5", "no2_ave": "NO2", "co": "CO"}
	case ISH:
		return map[string]string{"tmp2m": "temp", "ws10m": "ws", "dew_temp": "dew_pt_temp"}
	case AQSVOC:
		return map[string]string{"etha": "ETHANE", "prpa": "PROPANE", "benzene": "BENZENE",
			"tol": "TOLUENE", "isop": "ISOPRENE"}
	case AQSPM:
		return map[string]string{"pm25_so4": "SO4f", "pm25_no3": "NO3f", "pm25_nh4": "NH4+f",
			"pm25_ec": "ECf", "pm25_oc": "OCPM2.5LCTOT"}
	}
	return nil
}

// EvaluatedModels returns the keys of the models that are evaluated, in
// sorted order. The host model is left out when no_forecast is set.
func EvaluatedModels(c *Config) []string {
	var keys []string
	for _, k := range c.ModelKeys() {
		if c.AQM.NoForecast && c.AQM.Models[k].IsHost {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// ScorecardEligibleModels returns the keys of the models that may take
// part in a scorecard.
func ScorecardEligibleModels(c *Config) []string {
	return EvaluatedModels(c)
}

// EffectiveTasks returns the tasks package key runs: its default tasks,
// minus the excluded ones, minus the scorecard task when fewer than two
// models are eligible for scorecards or no scorecard is configured.
func EffectiveTasks(c *Config, key PackageKey) ([]TaskKey, error) {
	kind, err := Kind(key)
	if err != nil {
		return nil, err
	}
	p, err := c.Package(key)
	if err != nil {
		return nil, err
	}
	excluded := make(map[TaskKey]bool)
	for _, t := range p.TasksToExclude {
		excluded[t] = true
	}
	if len(ScorecardEligibleModels(c)) < 2 || len(c.AQM.Scorecards) == 0 {
		excluded[Scorecard] = true
	}
	var tasks []TaskKey
	for _, t := range kind.DefaultTasks {
		if !excluded[t] {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
