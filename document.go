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
	"io"

	"gopkg.in/yaml.v3"
)

// A Document is the typed, unvalidated form of a configuration document.
// Every field is optional so that documents can be layered with
// MergeDefaults before being checked by Validate. Unknown keys are
// rejected when a Document is parsed.
type Document struct {
	StartDatetime    *string                     `yaml:"start_datetime,omitempty"`
	EndDatetime      *string                     `yaml:"end_datetime,omitempty"`
	CartopyDataDir   *string                     `yaml:"cartopy_data_dir,omitempty"`
	OutputDir        *string                     `yaml:"output_dir,omitempty"`
	RunDir           *string                     `yaml:"run_dir,omitempty"`
	AQM              *AQMDocument                `yaml:"aqm,omitempty"`
	PlatformDefaults map[string]*PlatformDefault `yaml:"platform_defaults,omitempty"`
}

// AQMDocument is the aqm section of a Document.
type AQMDocument struct {
	Active       *bool                         `yaml:"active,omitempty"`
	NoForecast   *bool                         `yaml:"no_forecast,omitempty"`
	RunMode      *string                       `yaml:"run_mode,omitempty"`
	Models       map[string]*ModelDocument     `yaml:"models,omitempty"`
	Packages     map[string]*PackageDocument   `yaml:"packages,omitempty"`
	Scorecards   map[string]*ScorecardDocument `yaml:"scorecards,omitempty"`
	TaskDefaults *TaskDefaultsDocument         `yaml:"task_defaults,omitempty"`
}

// ModelDocument is the document form of a ModelSpec.
type ModelDocument struct {
	ExptDir           *string                `yaml:"expt_dir,omitempty"`
	Title             *string                `yaml:"title,omitempty"`
	IsHost            *bool                  `yaml:"is_host,omitempty"`
	PlotKwargs        *PlotKwargsDocument    `yaml:"plot_kwargs,omitempty"`
	Type              *string                `yaml:"type,omitempty"`
	Kwargs            map[string]interface{} `yaml:"kwargs,omitempty"`
	RadiusOfInfluence *float64               `yaml:"radius_of_influence,omitempty"`
}

// PlotKwargsDocument is the document form of PlotKwargs.
type PlotKwargsDocument struct {
	Color      *string `yaml:"color,omitempty"`
	Marker     *string `yaml:"marker,omitempty"`
	Linestyle  *string `yaml:"linestyle,omitempty"`
	Markersize *int    `yaml:"markersize,omitempty"`
}

// PackageDocument is the document form of a PackageSpec.
type PackageDocument struct {
	ObservationTemplate *string                               `yaml:"observation_template,omitempty"`
	Mapping             map[string]string                     `yaml:"mapping,omitempty"`
	Active              *bool                                 `yaml:"active,omitempty"`
	TasksToExclude      []string                              `yaml:"tasks_to_exclude,omitempty"`
	Execution           *PackageExecutionDocument             `yaml:"execution,omitempty"`
	Plots               map[string]*PlotSettingsDocument      `yaml:"plots,omitempty"`
	Chunks              map[string]int                        `yaml:"chunks,omitempty"`
	DerivedExpressions  map[string]*DerivedExpressionDocument `yaml:"derived_expressions,omitempty"`
}

// PackageExecutionDocument is the document form of PackageExecution.
type PackageExecutionDocument struct {
	Prep  *ExecutionDocument            `yaml:"prep,omitempty"`
	Tasks map[string]*ExecutionDocument `yaml:"tasks,omitempty"`
}

// ExecutionDocument is the document form of Execution.
type ExecutionDocument struct {
	BatchArgs *BatchArgsDocument `yaml:"batchargs,omitempty"`
}

// BatchArgsDocument is the document form of BatchArgs. Node and task
// counts may be given as "auto" and filled in by ResolvePlatformDefaults.
type BatchArgsDocument struct {
	Nodes        *Count  `yaml:"nodes,omitempty"`
	TasksPerNode *Count  `yaml:"tasks_per_node,omitempty"`
	Walltime     *string `yaml:"walltime,omitempty"`
}

// PlotSettingsDocument is the document form of PlotSettings.
type PlotSettingsDocument struct {
	FigKwargs         map[string]interface{} `yaml:"fig_kwargs,omitempty"`
	DefaultPlotKwargs map[string]interface{} `yaml:"default_plot_kwargs,omitempty"`
	TextKwargs        map[string]interface{} `yaml:"text_kwargs,omitempty"`
	DomainType        []string               `yaml:"domain_type,omitempty"`
	DomainName        []string               `yaml:"domain_name,omitempty"`
	DataProc          map[string]interface{} `yaml:"data_proc,omitempty"`
}

// DerivedExpressionDocument is the document form of DerivedExpression.
type DerivedExpressionDocument struct {
	Expression *string `yaml:"expression,omitempty"`
	Units      *string `yaml:"units,omitempty"`
	LongName   *string `yaml:"long_name,omitempty"`
}

// ScorecardDocument is the document form of a ScorecardSpec.
type ScorecardDocument struct {
	Control     *string `yaml:"control,omitempty"`
	Sensitivity *string `yaml:"sensitivity,omitempty"`
}

// TaskDefaultsDocument is the document form of TaskDefaults.
type TaskDefaultsDocument struct {
	Execution *ExecutionDocument `yaml:"execution,omitempty"`
}

// autoValue marks a count to be filled in from the platform table.
const autoValue = "auto"

// Count is a positive integer that may also hold the placeholder "auto".
type Count struct {
	N    int
	Auto bool
}

// MarshalYAML implements yaml.Marshaler.
func (c Count) MarshalYAML() (interface{}, error) {
	if c.Auto {
		return autoValue, nil
	}
	return c.N, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Count) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode && n.Value == autoValue {
		*c = Count{Auto: true}
		return nil
	}
	var v int
	if err := n.Decode(&v); err != nil {
		return fmt.Errorf("line %d: count must be an integer or %q", n.Line, autoValue)
	}
	*c = Count{N: v}
	return nil
}

type documentRoot struct {
	Root *Document `yaml:"melodies_monet_parm"`
}

// ParseDocument reads a YAML configuration document. The document must
// hold a single melodies_monet_parm root key; unknown keys anywhere in the
// document are an error.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var root documentRoot
	if err := dec.Decode(&root); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("aqmeval: empty configuration document")
		}
		return nil, fmt.Errorf("aqmeval: parsing configuration document: %v", err)
	}
	if root.Root == nil {
		return nil, fmt.Errorf("aqmeval: configuration document has no %s key", DocumentKey)
	}
	return root.Root, nil
}

// Encode writes d as a YAML configuration document.
func (d *Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(documentRoot{Root: d}); err != nil {
		return fmt.Errorf("aqmeval: writing configuration document: %v", err)
	}
	return enc.Close()
}

// Marshal writes c as a YAML configuration document that Validate turns
// back into an identical Config.
func (c *Config) Marshal(w io.Writer) error {
	return c.Document().Encode(w)
}

// String returns the document form of c.
func (c *Config) String() string {
	b := new(bytes.Buffer)
	if err := c.Marshal(b); err != nil {
		return err.Error()
	}
	return b.String()
}

// Document returns the fully populated document form of c.
func (c *Config) Document() *Document {
	d := &Document{
		StartDatetime:  ptr(c.StartDatetime),
		EndDatetime:    ptr(c.EndDatetime),
		CartopyDataDir: ptr(c.CartopyDataDir),
		OutputDir:      ptr(c.OutputDir),
		RunDir:         ptr(c.RunDir),
		AQM: &AQMDocument{
			Active:       ptr(c.AQM.Active),
			NoForecast:   ptr(c.AQM.NoForecast),
			RunMode:      ptr(string(c.AQM.RunMode)),
			Models:       make(map[string]*ModelDocument),
			Packages:     make(map[string]*PackageDocument),
			Scorecards:   make(map[string]*ScorecardDocument),
			TaskDefaults: &TaskDefaultsDocument{Execution: executionDocument(c.AQM.TaskDefaults.Execution)},
		},
	}
	for k, m := range c.AQM.Models {
		d.AQM.Models[k] = &ModelDocument{
			ExptDir: ptr(m.ExptDir),
			Title:   ptr(m.Title),
			IsHost:  ptr(m.IsHost),
			PlotKwargs: &PlotKwargsDocument{
				Color:      ptr(m.PlotKwargs.Color),
				Marker:     ptr(m.PlotKwargs.Marker),
				Linestyle:  ptr(m.PlotKwargs.Linestyle),
				Markersize: ptr(m.PlotKwargs.Markersize),
			},
			Type:              ptr(m.Type),
			Kwargs:            copyAnyMap(m.Kwargs),
			RadiusOfInfluence: ptr(m.RadiusOfInfluence),
		}
	}
	for k, p := range c.AQM.Packages {
		pd := &PackageDocument{
			Mapping:   copyStringMap(p.Mapping),
			Active:    ptr(p.Active),
			Execution: &PackageExecutionDocument{Prep: executionDocument(p.Execution.Prep)},
		}
		if p.ObservationTemplate != nil {
			pd.ObservationTemplate = ptr(*p.ObservationTemplate)
		}
		for _, t := range p.TasksToExclude {
			pd.TasksToExclude = append(pd.TasksToExclude, string(t))
		}
		if len(p.Execution.Tasks) > 0 {
			pd.Execution.Tasks = make(map[string]*ExecutionDocument)
			for t, e := range p.Execution.Tasks {
				pd.Execution.Tasks[string(t)] = executionDocument(e)
			}
		}
		if len(p.Plots) > 0 {
			pd.Plots = make(map[string]*PlotSettingsDocument)
			for t, s := range p.Plots {
				pd.Plots[string(t)] = &PlotSettingsDocument{
					FigKwargs:         copyAnyMap(s.FigKwargs),
					DefaultPlotKwargs: copyAnyMap(s.DefaultPlotKwargs),
					TextKwargs:        copyAnyMap(s.TextKwargs),
					DomainType:        copyStrings(s.DomainType),
					DomainName:        copyStrings(s.DomainName),
					DataProc:          copyAnyMap(s.DataProc),
				}
			}
		}
		if len(p.Chunks) > 0 {
			pd.Chunks = make(map[string]int)
			for dim, n := range p.Chunks {
				pd.Chunks[dim] = n
			}
		}
		if len(p.DerivedExpressions) > 0 {
			pd.DerivedExpressions = make(map[string]*DerivedExpressionDocument)
			for name, e := range p.DerivedExpressions {
				pd.DerivedExpressions[name] = &DerivedExpressionDocument{
					Expression: ptr(e.Expression),
					Units:      ptr(e.Units),
					LongName:   ptr(e.LongName),
				}
			}
		}
		d.AQM.Packages[string(k)] = pd
	}
	for k, s := range c.AQM.Scorecards {
		d.AQM.Scorecards[k] = &ScorecardDocument{
			Control:     ptr(s.Control),
			Sensitivity: ptr(s.Sensitivity),
		}
	}
	if len(c.PlatformDefaults) > 0 {
		d.PlatformDefaults = make(map[string]*PlatformDefault)
		for k, p := range c.PlatformDefaults {
			p := p
			d.PlatformDefaults[k] = &p
		}
	}
	return d
}

func executionDocument(e Execution) *ExecutionDocument {
	return &ExecutionDocument{BatchArgs: &BatchArgsDocument{
		Nodes:        &Count{N: e.BatchArgs.Nodes},
		TasksPerNode: &Count{N: e.BatchArgs.TasksPerNode},
		Walltime:     ptr(e.BatchArgs.Walltime),
	}}
}

func ptr[T any](v T) *T { return &v }

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	o := make(map[string]string, len(m))
	for k, v := range m {
		o[k] = v
	}
	return o
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// copyAnyMap deep-copies the nested maps and slices of a decoded YAML
// mapping.
func copyAnyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	o := make(map[string]interface{}, len(m))
	for k, v := range m {
		o[k] = copyAny(v)
	}
	return o
}

func copyAny(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return copyAnyMap(vv)
	case []interface{}:
		o := make([]interface{}, len(vv))
		for i, e := range vv {
			o[i] = copyAny(e)
		}
		return o
	default:
		return v
	}
}
