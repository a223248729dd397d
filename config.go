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

// Package aqmeval prepares and drives multi-model air quality and
// meteorology evaluations. It validates an experiment configuration,
// derives physical fields from raw forecast output, renders one analysis
// control file per evaluation task, and runs those tasks in dependency
// order through an external analysis program.
package aqmeval

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Version gives the version number.
const Version = "0.3.0"

const (
	// DocumentKey is the root key of a configuration document.
	DocumentKey = "melodies_monet_parm"

	// DateLayout is the layout of the start_datetime and
	// end_datetime configuration fields (yyyy-mm-dd-HH:MM:SS, UTC).
	DateLayout = "2006-01-02-15:04:05"

	// MaxModels is the largest number of models a configuration may hold.
	MaxModels = 4
)

// RunMode selects how pre-existing artifacts are treated.
type RunMode string

const (
	// Strict treats any pre-existing artifact as a conflict.
	Strict RunMode = "strict"
	// Resume reuses pre-existing artifacts verbatim.
	Resume RunMode = "resume"
)

// TaskKey identifies one unit of analysis work within a package.
type TaskKey string

// The evaluation tasks, in their canonical order.
const (
	SavePaired     TaskKey = "save_paired"
	Timeseries     TaskKey = "timeseries"
	Taylor         TaskKey = "taylor"
	SpatialBias    TaskKey = "spatial_bias"
	SpatialOverlay TaskKey = "spatial_overlay"
	Boxplot        TaskKey = "boxplot"
	MultiBoxplot   TaskKey = "multi_boxplot"
	Scorecard      TaskKey = "scorecard"
	CSI            TaskKey = "csi"
	Stats          TaskKey = "stats"
)

// AllTasks returns every task key in canonical order.
func AllTasks() []TaskKey {
	return []TaskKey{SavePaired, Timeseries, Taylor, SpatialBias,
		SpatialOverlay, Boxplot, MultiBoxplot, Scorecard, CSI, Stats}
}

// ParseTaskKey returns the task key named by s.
func ParseTaskKey(s string) (TaskKey, error) {
	for _, t := range AllTasks() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("aqmeval: invalid task key %q", s)
}

// PackageKey identifies an evaluation package.
type PackageKey string

// The evaluation packages.
const (
	Chem   PackageKey = "chem"
	ISH    PackageKey = "ish"
	AQSPM  PackageKey = "aqs_pm"
	AQSVOC PackageKey = "aqs_voc"
)

// AllPackages returns every package key.
func AllPackages() []PackageKey {
	return []PackageKey{Chem, ISH, AQSPM, AQSVOC}
}

// ParsePackageKey returns the package key named by s.
func ParsePackageKey(s string) (PackageKey, error) {
	for _, p := range AllPackages() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("aqmeval: invalid package key %q", s)
}

// ScorecardMethod is one of the statistical methods a scorecard is
// rendered for.
type ScorecardMethod string

// The scorecard methods.
const (
	RMSE ScorecardMethod = "RMSE"
	IOA  ScorecardMethod = "IOA"
	NMB  ScorecardMethod = "NMB"
	NME  ScorecardMethod = "NME"
)

// ScorecardMethods returns the scorecard methods in rendering order.
func ScorecardMethods() []ScorecardMethod { return []ScorecardMethod{RMSE, IOA, NMB, NME} }

// Prefix returns the plot-group prefix used for this method.
func (m ScorecardMethod) Prefix() string { return "scorecard_" + strings.ToLower(string(m)) }

// BatchArgs holds the batch-scheduler resources for one task.
type BatchArgs struct {
	Nodes        int    `yaml:"nodes"`
	TasksPerNode int    `yaml:"tasks_per_node"`
	Walltime     string `yaml:"walltime"`
}

// Execution holds the execution settings for one task.
type Execution struct {
	BatchArgs BatchArgs `yaml:"batchargs"`
}

// PackageExecution holds the execution settings for a package's
// preparation step and any per-task overrides.
type PackageExecution struct {
	Prep  Execution             `yaml:"prep"`
	Tasks map[TaskKey]Execution `yaml:"tasks,omitempty"`
}

// PlotKwargs holds a model's plotting style.
type PlotKwargs struct {
	Color      string `yaml:"color"`
	Marker     string `yaml:"marker"`
	Linestyle  string `yaml:"linestyle"`
	Markersize int    `yaml:"markersize"`
}

// PlotSettings overrides the rendered settings of one plotting or
// statistics task. Empty fields keep the package defaults.
type PlotSettings struct {
	FigKwargs         map[string]interface{} `yaml:"fig_kwargs,omitempty"`
	DefaultPlotKwargs map[string]interface{} `yaml:"default_plot_kwargs,omitempty"`
	TextKwargs        map[string]interface{} `yaml:"text_kwargs,omitempty"`
	DomainType        []string               `yaml:"domain_type,omitempty"`
	DomainName        []string               `yaml:"domain_name,omitempty"`
	DataProc          map[string]interface{} `yaml:"data_proc,omitempty"`
}

// DerivedExpression defines an additional derived field as an arithmetic
// expression over variables already present in the merged dataset.
type DerivedExpression struct {
	Expression string `yaml:"expression"`
	Units      string `yaml:"units"`
	LongName   string `yaml:"long_name"`
}

// ModelSpec describes one evaluated forecast source.
type ModelSpec struct {
	// Key uniquely identifies the model. It is also used as a file
	// prefix and plot label.
	Key string `yaml:"-"`

	// ExptDir is the experiment directory holding the cycle
	// directories of raw forecast output.
	ExptDir string `yaml:"expt_dir"`

	// Title is the display title. It defaults to Key.
	Title string `yaml:"title"`

	// IsHost marks the primary experiment being evaluated.
	IsHost bool `yaml:"is_host"`

	PlotKwargs PlotKwargs `yaml:"plot_kwargs"`

	// Type and Kwargs are passed through to the analysis collaborator.
	Type   string                 `yaml:"type"`
	Kwargs map[string]interface{} `yaml:"kwargs"`

	// RadiusOfInfluence is the pairing radius in meters.
	RadiusOfInfluence float64 `yaml:"radius_of_influence"`
}

// SurfOnly reports whether only the lowest model level should be kept
// for this model.
func (m ModelSpec) SurfOnly() bool {
	v, ok := m.Kwargs["surf_only"]
	if !ok {
		return false
	}
	return cast.ToBool(v)
}

// PackageSpec describes one evaluation package.
type PackageSpec struct {
	Key PackageKey `yaml:"-"`

	// ObservationTemplate is the observation file path template. It may
	// only be nil if the package is inactive.
	ObservationTemplate *string `yaml:"observation_template"`

	// Mapping maps model variable names to observation variable names.
	Mapping map[string]string `yaml:"mapping"`

	Active         bool      `yaml:"active"`
	TasksToExclude []TaskKey `yaml:"tasks_to_exclude"`

	Execution PackageExecution `yaml:"execution"`

	// Plots holds per-task overrides of the rendered settings.
	Plots map[TaskKey]PlotSettings `yaml:"plots,omitempty"`

	// Chunks optionally fixes the chunk sizes of the horizontal
	// dimensions used by the derived-field pipeline.
	Chunks map[string]int `yaml:"chunks,omitempty"`

	// DerivedExpressions adds user-defined derived fields.
	DerivedExpressions map[string]DerivedExpression `yaml:"derived_expressions,omitempty"`
}

// ScorecardSpec is a named comparison between two models.
type ScorecardSpec struct {
	Key         string `yaml:"-"`
	Control     string `yaml:"control"`
	Sensitivity string `yaml:"sensitivity"`
}

// TaskDefaults holds fallback execution settings for tasks without a
// package-level override.
type TaskDefaults struct {
	Execution Execution `yaml:"execution"`
}

// AQMConfig is the aqm section of a configuration.
type AQMConfig struct {
	Active       bool                       `yaml:"active"`
	NoForecast   bool                       `yaml:"no_forecast"`
	RunMode      RunMode                    `yaml:"run_mode"`
	Models       map[string]ModelSpec       `yaml:"models"`
	Packages     map[PackageKey]PackageSpec `yaml:"packages"`
	Scorecards   map[string]ScorecardSpec   `yaml:"scorecards"`
	TaskDefaults TaskDefaults               `yaml:"task_defaults"`
}

// PlatformDefault holds the execution defaults of one computing platform.
type PlatformDefault struct {
	NcoresPerNode int `yaml:"ncores_per_node" toml:"ncores_per_node"`
	Nodes         int `yaml:"nodes" toml:"nodes"`
}

// Config is a validated experiment configuration. A Config is only
// created by Validate and must not be modified afterwards.
type Config struct {
	StartDatetime  string
	EndDatetime    string
	CartopyDataDir string
	OutputDir      string
	RunDir         string
	AQM            AQMConfig

	// PlatformDefaults holds any platform table carried in the document.
	PlatformDefaults map[string]PlatformDefault

	start, end time.Time
}

// Start returns the beginning of the evaluation window.
func (c *Config) Start() time.Time { return c.start }

// End returns the end of the evaluation window.
func (c *Config) End() time.Time { return c.end }

// Host returns the host model. It is an error for no model to be the
// host, which Validate never allows.
func (c *Config) Host() (ModelSpec, error) {
	for _, m := range c.AQM.Models {
		if m.IsHost {
			return m, nil
		}
	}
	return ModelSpec{}, fmt.Errorf("aqmeval: no model is the host model")
}

// ModelKeys returns the model keys in sorted order.
func (c *Config) ModelKeys() []string {
	keys := make([]string, 0, len(c.AQM.Models))
	for k := range c.AQM.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScorecardKeys returns the scorecard keys in sorted order.
func (c *Config) ScorecardKeys() []string {
	keys := make([]string, 0, len(c.AQM.Scorecards))
	for k := range c.AQM.Scorecards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PackageKeys returns the configured package keys in canonical order.
func (c *Config) PackageKeys() []PackageKey {
	var keys []PackageKey
	for _, k := range AllPackages() {
		if _, ok := c.AQM.Packages[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Package returns the specification of package key.
func (c *Config) Package(key PackageKey) (PackageSpec, error) {
	p, ok := c.AQM.Packages[key]
	if !ok {
		return PackageSpec{}, fmt.Errorf("aqmeval: package %q is not configured", key)
	}
	return p, nil
}

// PackageRunDir returns the directory holding a package's control files.
func (c *Config) PackageRunDir(key PackageKey) string {
	return filepath.Join(c.RunDir, string(key))
}

// PackageDataDir returns the directory holding a package's links and
// derived files.
func (c *Config) PackageDataDir(key PackageKey) string {
	return filepath.Join(c.RunDir, string(key), "data")
}

// PackageOutputDir returns the directory the analysis collaborator writes
// a package's paired data, plots and tables to.
func (c *Config) PackageOutputDir(key PackageKey) string {
	return filepath.Join(c.OutputDir, string(key))
}

// BatchArgsFor returns the batch resources of a task in a package: the
// package override if there is one, otherwise the task defaults.
func (c *Config) BatchArgsFor(pkg PackageKey, task TaskKey) BatchArgs {
	if p, ok := c.AQM.Packages[pkg]; ok {
		if e, ok := p.Execution.Tasks[task]; ok {
			return e.BatchArgs
		}
	}
	return c.AQM.TaskDefaults.Execution.BatchArgs
}
