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
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ControlFile is the task specification handed to the analysis
// collaborator.
type ControlFile struct {
	Analysis ControlAnalysis         `yaml:"analysis"`
	Model    map[string]ControlModel `yaml:"model"`
	Obs      map[string]ControlObs   `yaml:"obs"`

	// Plots holds ControlPlot or ControlScorecard values keyed by plot
	// group.
	Plots map[string]interface{} `yaml:"plots,omitempty"`
	Stats *ControlStats          `yaml:"stats,omitempty"`
}

// ControlAnalysis is the analysis section of a control file.
type ControlAnalysis struct {
	StartTime string       `yaml:"start_time"`
	EndTime   string       `yaml:"end_time"`
	OutputDir string       `yaml:"output_dir"`
	Debug     bool         `yaml:"debug"`
	Save      *ControlSave `yaml:"save,omitempty"`
	Read      *ControlRead `yaml:"read,omitempty"`
}

// ControlSave asks the collaborator to save the paired data.
type ControlSave struct {
	Paired struct {
		Method string `yaml:"method"`
		Prefix string `yaml:"prefix"`
		Data   string `yaml:"data"`
	} `yaml:"paired"`
}

// ControlRead points the collaborator to previously saved paired data.
type ControlRead struct {
	Paired struct {
		Method    string            `yaml:"method"`
		Filenames map[string]string `yaml:"filenames"`
	} `yaml:"paired"`
}

// ControlModel is one model of a control file.
type ControlModel struct {
	Files             string                       `yaml:"files"`
	ModType           string                       `yaml:"mod_type"`
	ModKwargs         map[string]interface{}       `yaml:"mod_kwargs"`
	RadiusOfInfluence float64                      `yaml:"radius_of_influence"`
	Mapping           map[string]map[string]string `yaml:"mapping"`
	PlotKwargs        PlotKwargs                   `yaml:"plot_kwargs"`
}

// ControlObs is the observation dataset of a control file.
type ControlObs struct {
	Filename  string                            `yaml:"filename"`
	ObsType   string                            `yaml:"obs_type"`
	UseAirNow bool                              `yaml:"use_airnow"`
	Variables map[string]map[string]interface{} `yaml:"variables"`
}

// ControlPlot is one plot group of a control file.
type ControlPlot struct {
	Type              TaskKey                `yaml:"type"`
	FigKwargs         map[string]interface{} `yaml:"fig_kwargs"`
	DefaultPlotKwargs map[string]interface{} `yaml:"default_plot_kwargs"`
	TextKwargs        map[string]interface{} `yaml:"text_kwargs"`
	DomainType        []string               `yaml:"domain_type"`
	DomainName        []string               `yaml:"domain_name"`
	Data              []string               `yaml:"data"`
	DataProc          map[string]interface{} `yaml:"data_proc"`
}

// ControlScorecard is the plot group of one scorecard and method.
type ControlScorecard struct {
	Type                         TaskKey                `yaml:"type"`
	BetterOrWorseMethod          ScorecardMethod        `yaml:"better_or_worse_method"`
	ModelNameList                []string               `yaml:"model_name_list"`
	Data                         []string               `yaml:"data"`
	FigKwargs                    map[string]interface{} `yaml:"fig_kwargs"`
	TextKwargs                   map[string]interface{} `yaml:"text_kwargs"`
	DomainType                   []string               `yaml:"domain_type"`
	DomainName                   []string               `yaml:"domain_name"`
	RegionName                   []string               `yaml:"region_name"`
	RegionList                   []string               `yaml:"region_list"`
	UrbanRuralName               []string               `yaml:"urban_rural_name"`
	UrbanRuralDifferentiateValue string                 `yaml:"urban_rural_differentiate_value"`
	DataProc                     map[string]interface{} `yaml:"data_proc"`
}

// ControlStats is the statistics section of a control file.
type ControlStats struct {
	StatList          []string               `yaml:"stat_list"`
	RoundOutput       int                    `yaml:"round_output"`
	OutputTable       bool                   `yaml:"output_table"`
	OutputTableKwargs map[string]interface{} `yaml:"output_table_kwargs"`
	DomainType        []string               `yaml:"domain_type"`
	DomainName        []string               `yaml:"domain_name"`
	Data              []string               `yaml:"data"`
}

// ControlSpec is a rendered control file together with the task label
// that runs it.
type ControlSpec struct {
	Label    string
	Task     TaskKey
	FileName string
	File     *ControlFile
}

// Encode returns the YAML form of the control file.
func (s ControlSpec) Encode() ([]byte, error) {
	b := new(bytes.Buffer)
	enc := yaml.NewEncoder(b)
	enc.SetIndent(2)
	if err := enc.Encode(s.File); err != nil {
		return nil, fmt.Errorf("aqmeval: encoding control file %s: %v", s.FileName, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// ControlFileName returns the name of the control file of a plain task.
func ControlFileName(t TaskKey) string { return fmt.Sprintf("control_%s.yaml", t) }

// ScorecardFileName returns the name of the control file of one
// scorecard and method.
func ScorecardFileName(r ScorecardRun) string { return "control_" + r.Label() + ".yaml" }

func defaultPlotSettings(t TaskKey) PlotSettings {
	s := PlotSettings{
		DefaultPlotKwargs: map[string]interface{}{"linewidth": 2.0, "markersize": 10},
		TextKwargs:        map[string]interface{}{"fontsize": 18},
		DomainType:        []string{"all"},
		DomainName:        []string{"CONUS"},
		DataProc:          map[string]interface{}{"rem_obs_nan": true, "set_axis": false},
	}
	switch t {
	case Timeseries:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{12, 6}}
		s.DataProc["ts_select_time"] = "time"
		s.DataProc["ts_avg_window"] = "H"
	case Taylor:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{8, 8}}
		s.DataProc["set_axis"] = true
	case SpatialBias, SpatialOverlay:
		s.FigKwargs = map[string]interface{}{"states": true, "figsize": []interface{}{10, 5}}
		s.TextKwargs["fontsize"] = 16
		s.DataProc["set_axis"] = true
	case Boxplot:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{8, 6}}
		s.TextKwargs["fontsize"] = 20
	case MultiBoxplot:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{10, 8}}
		s.TextKwargs["fontsize"] = 20
	case CSI:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{10, 6}}
		s.TextKwargs["fontsize"] = 20
	default:
		s.FigKwargs = map[string]interface{}{"figsize": []interface{}{10, 6}}
	}
	return s
}

// overlay replaces the fields of s that are set in o.
func (s PlotSettings) overlay(o PlotSettings) PlotSettings {
	if o.FigKwargs != nil {
		s.FigKwargs = copyAnyMap(o.FigKwargs)
	}
	if o.DefaultPlotKwargs != nil {
		s.DefaultPlotKwargs = copyAnyMap(o.DefaultPlotKwargs)
	}
	if o.TextKwargs != nil {
		s.TextKwargs = copyAnyMap(o.TextKwargs)
	}
	if o.DomainType != nil {
		s.DomainType = copyStrings(o.DomainType)
	}
	if o.DomainName != nil {
		s.DomainName = copyStrings(o.DomainName)
	}
	if o.DataProc != nil {
		s.DataProc = copyAnyMap(o.DataProc)
	}
	return s
}

// RenderControls renders the control files of every effective task in
// plan: one per plain task and one per scorecard and method.
func RenderControls(c *Config, plan *Plan) ([]ControlSpec, error) {
	p, err := c.Package(plan.Kind.Key)
	if err != nil {
		return nil, err
	}
	var specs []ControlSpec
	for _, t := range plan.Tasks {
		if t == Scorecard {
			continue
		}
		f := baseControl(c, p, plan, t)
		switch t {
		case SavePaired:
		case Stats:
			s := defaultPlotSettings(t).overlay(p.Plots[t])
			f.Stats = &ControlStats{
				StatList:    []string{"MB", "MdnB", "R2", "RMSE", "NMB", "NME", "IOA"},
				RoundOutput: 2,
				OutputTable: false,
				OutputTableKwargs: map[string]interface{}{
					"figsize": []interface{}{7, 3}, "fontsize": 12.,
					"xscale": 1.4, "yscale": 1.4, "edges": "horizontal",
				},
				DomainType: s.DomainType,
				DomainName: s.DomainName,
				Data:       dataLabels(plan),
			}
		default:
			s := defaultPlotSettings(t).overlay(p.Plots[t])
			f.Plots = map[string]interface{}{
				string(t): ControlPlot{
					Type:              t,
					FigKwargs:         s.FigKwargs,
					DefaultPlotKwargs: s.DefaultPlotKwargs,
					TextKwargs:        s.TextKwargs,
					DomainType:        s.DomainType,
					DomainName:        s.DomainName,
					Data:              dataLabels(plan),
					DataProc:          s.DataProc,
				},
			}
		}
		specs = append(specs, ControlSpec{Label: string(t), Task: t, FileName: ControlFileName(t), File: f})
	}
	for _, r := range plan.Scorecards {
		sc := c.AQM.Scorecards[r.Scorecard]
		f := baseControl(c, p, plan, Scorecard)
		f.Plots = map[string]interface{}{
			r.Method.Prefix() + "_" + r.Scorecard: ControlScorecard{
				Type:                Scorecard,
				BetterOrWorseMethod: r.Method,
				ModelNameList:       []string{sc.Control, sc.Sensitivity},
				Data: []string{
					plan.Kind.ObsLabel + "_" + sc.Control,
					plan.Kind.ObsLabel + "_" + sc.Sensitivity,
				},
				FigKwargs:      map[string]interface{}{"figsize": []interface{}{18, 10}},
				TextKwargs:     map[string]interface{}{"fontsize": 24},
				DomainType:     []string{"all"},
				DomainName:     []string{"CONUS"},
				RegionName:     []string{"epa_region"},
				RegionList:     []string{"R1", "R2", "R3", "R4", "R5", "R6", "R7", "R8", "R9", "R10"},
				UrbanRuralName: []string{"msa_name"},
				DataProc:       map[string]interface{}{"rem_obs_nan": true, "set_axis": false},
			},
		}
		specs = append(specs, ControlSpec{Label: r.Label(), Task: Scorecard, FileName: ScorecardFileName(r), File: f})
	}
	return specs, nil
}

func dataLabels(plan *Plan) []string {
	labels := make([]string, len(plan.Models))
	for i, m := range plan.Models {
		labels[i] = plan.Kind.ObsLabel + "_" + m
	}
	return labels
}

// PairedFile returns the path the pairing task saves the paired data of
// model to.
func PairedFile(c *Config, kind PackageKind, model string) string {
	return filepath.Join(c.PackageOutputDir(kind.Key),
		fmt.Sprintf("%s_%s_%s.nc4", kind.Key, kind.ObsLabel, model))
}

func baseControl(c *Config, p PackageSpec, plan *Plan, t TaskKey) *ControlFile {
	kind := plan.Kind
	f := &ControlFile{
		Analysis: ControlAnalysis{
			StartTime: c.StartDatetime,
			EndTime:   c.EndDatetime,
			OutputDir: c.PackageOutputDir(kind.Key),
		},
		Model: make(map[string]ControlModel),
		Obs:   make(map[string]ControlObs),
	}
	if t == SavePaired {
		f.Analysis.Save = new(ControlSave)
		f.Analysis.Save.Paired.Method = "netcdf"
		f.Analysis.Save.Paired.Prefix = string(kind.Key)
		f.Analysis.Save.Paired.Data = "all"
	} else {
		f.Analysis.Read = new(ControlRead)
		f.Analysis.Read.Paired.Method = "netcdf"
		f.Analysis.Read.Paired.Filenames = make(map[string]string)
		for _, m := range plan.Models {
			f.Analysis.Read.Paired.Filenames[kind.ObsLabel+"_"+m] = PairedFile(c, kind, m)
		}
	}
	for _, key := range plan.Models {
		m := c.AQM.Models[key]
		f.Model[key] = ControlModel{
			Files:             filepath.Join(c.PackageDataDir(kind.Key), kind.Prefix(key)+"*.nc"),
			ModType:           m.Type,
			ModKwargs:         copyAnyMap(m.Kwargs),
			RadiusOfInfluence: m.RadiusOfInfluence,
			Mapping:           map[string]map[string]string{kind.ObsLabel: copyStringMap(p.Mapping)},
			PlotKwargs:        m.PlotKwargs,
		}
	}
	obs := ControlObs{
		ObsType:   "pt_sfc",
		UseAirNow: kind.UseAirNow,
		Variables: make(map[string]map[string]interface{}),
	}
	if p.ObservationTemplate != nil {
		obs.Filename = *p.ObservationTemplate
	}
	vars := make([]string, 0, len(p.Mapping))
	for _, v := range p.Mapping {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	for _, v := range vars {
		obs.Variables[v] = map[string]interface{}{}
	}
	f.Obs[kind.ObsLabel] = obs
	return f
}

// parseScorecardLabel splits a label of the form scorecard_<key>_<method>.
func parseScorecardLabel(label string) (ScorecardRun, bool) {
	prefix := string(Scorecard) + "_"
	if !strings.HasPrefix(label, prefix) {
		return ScorecardRun{}, false
	}
	rest := label[len(prefix):]
	i := strings.LastIndex(rest, "_")
	if i < 1 {
		return ScorecardRun{}, false
	}
	for _, m := range ScorecardMethods() {
		if strings.ToLower(string(m)) == rest[i+1:] {
			return ScorecardRun{Scorecard: rest[:i], Method: m}, true
		}
	}
	return ScorecardRun{}, false
}
