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
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spatialmodel/aqmeval/derive"
)

// Model defaults.
const (
	DefaultModelType         = "rrfs"
	DefaultRadiusOfInfluence = 20000.
	DefaultWalltime          = "01:00:00"
)

// DefaultModelKwargs returns the kwargs given to a model that does not
// specify any.
func DefaultModelKwargs() map[string]interface{} {
	return map[string]interface{}{"surf_only": true, "mech": "cb6r3_ae6_aq"}
}

// DefaultPlotKwargs returns the plot style of a model that does not
// specify one.
func DefaultPlotKwargs() PlotKwargs {
	return PlotKwargs{Color: "g", Marker: "^", Linestyle: "-", Markersize: 4}
}

var walltimeRegexp = regexp.MustCompile(`^[0-9]+:[0-5][0-9]:[0-5][0-9]$`)

// validator accumulates the problems found in a document.
type validator struct {
	problems []FieldError
}

func (v *validator) addf(path, format string, args ...interface{}) {
	v.problems = append(v.problems, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) requireString(path string, s *string) string {
	if s == nil || *s == "" {
		v.addf(path, "required")
		return ""
	}
	return *s
}

func (v *validator) existingDir(path string, s *string) string {
	dir := v.requireString(path, s)
	if dir == "" {
		return dir
	}
	fi, err := os.Stat(dir)
	switch {
	case err != nil:
		v.addf(path, "directory %s does not exist", dir)
	case !fi.IsDir():
		v.addf(path, "%s is not a directory", dir)
	}
	return dir
}

func (v *validator) date(path string, s *string) (string, time.Time) {
	d := v.requireString(path, s)
	if d == "" {
		return d, time.Time{}
	}
	t, err := time.Parse(DateLayout, d)
	if err != nil {
		v.addf(path, "%q does not match the date format yyyy-mm-dd-HH:MM:SS", d)
	}
	return d, t
}

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks doc against every configuration invariant, fills in
// defaults and returns the resulting configuration. Each model, package
// and scorecard is first checked on its own; the invariants that span
// entities are checked only once every entity is valid. If any problem
// is found, a *ConfigError listing all of them is returned and no Config
// is created.
func Validate(doc *Document) (*Config, error) {
	v := new(validator)
	if doc == nil {
		doc = new(Document)
	}
	c := new(Config)
	c.StartDatetime, c.start = v.date("start_datetime", doc.StartDatetime)
	c.EndDatetime, c.end = v.date("end_datetime", doc.EndDatetime)
	if !c.start.IsZero() && !c.end.IsZero() && c.end.Before(c.start) {
		v.addf("end_datetime", "%s is before start_datetime %s", c.EndDatetime, c.StartDatetime)
	}
	c.CartopyDataDir = v.existingDir("cartopy_data_dir", doc.CartopyDataDir)
	c.OutputDir = v.requireString("output_dir", doc.OutputDir)
	c.RunDir = v.requireString("run_dir", doc.RunDir)

	if len(doc.PlatformDefaults) > 0 {
		c.PlatformDefaults = make(map[string]PlatformDefault)
		for _, k := range sortedKeys(doc.PlatformDefaults) {
			p := doc.PlatformDefaults[k]
			if p == nil || p.NcoresPerNode < 1 {
				v.addf("platform_defaults."+k+".ncores_per_node", "must be at least 1")
				continue
			}
			c.PlatformDefaults[k] = *p
		}
	}

	if doc.AQM == nil {
		v.addf("aqm", "required")
		return nil, &ConfigError{Problems: v.problems}
	}
	a := doc.AQM
	c.AQM.Active = orDefault(a.Active, true)
	c.AQM.NoForecast = orDefault(a.NoForecast, false)
	switch m := RunMode(orDefault(a.RunMode, string(Strict))); m {
	case Strict, Resume:
		c.AQM.RunMode = m
	default:
		v.addf("aqm.run_mode", "%q is not one of %s, %s", m, Strict, Resume)
	}

	c.AQM.Models = make(map[string]ModelSpec)
	for _, k := range sortedKeys(a.Models) {
		c.AQM.Models[k] = v.model("aqm.models."+k, k, a.Models[k])
	}
	c.AQM.Packages = make(map[PackageKey]PackageSpec)
	for _, k := range sortedKeys(a.Packages) {
		path := "aqm.packages." + k
		key, err := ParsePackageKey(k)
		if err != nil {
			v.addf(path, "unknown package; valid packages are %s", joinKeys(AllPackages()))
			continue
		}
		c.AQM.Packages[key] = v.pkg(path, key, a.Packages[k])
	}
	c.AQM.Scorecards = make(map[string]ScorecardSpec)
	for _, k := range sortedKeys(a.Scorecards) {
		path := "aqm.scorecards." + k
		s := a.Scorecards[k]
		if s == nil {
			s = new(ScorecardDocument)
		}
		c.AQM.Scorecards[k] = ScorecardSpec{
			Key:         k,
			Control:     v.requireString(path+".control", s.Control),
			Sensitivity: v.requireString(path+".sensitivity", s.Sensitivity),
		}
	}
	var tdExec *ExecutionDocument
	if a.TaskDefaults != nil {
		tdExec = a.TaskDefaults.Execution
	}
	c.AQM.TaskDefaults.Execution = v.execution("aqm.task_defaults.execution", tdExec)

	if len(v.problems) == 0 {
		v.crossCheck(c)
	}
	if len(v.problems) > 0 {
		return nil, &ConfigError{Problems: v.problems}
	}
	return c, nil
}

func (v *validator) model(path, key string, d *ModelDocument) ModelSpec {
	if d == nil {
		d = new(ModelDocument)
	}
	m := ModelSpec{
		Key:               key,
		ExptDir:           v.existingDir(path+".expt_dir", d.ExptDir),
		Title:             orDefault(d.Title, key),
		IsHost:            orDefault(d.IsHost, false),
		PlotKwargs:        DefaultPlotKwargs(),
		Type:              orDefault(d.Type, DefaultModelType),
		Kwargs:            copyAnyMap(d.Kwargs),
		RadiusOfInfluence: orDefault(d.RadiusOfInfluence, DefaultRadiusOfInfluence),
	}
	if m.Title == "" {
		v.addf(path+".title", "must not be empty")
	}
	if len(m.Kwargs) == 0 {
		m.Kwargs = DefaultModelKwargs()
	}
	if m.RadiusOfInfluence <= 0 {
		v.addf(path+".radius_of_influence", "must be positive")
	}
	if pk := d.PlotKwargs; pk != nil {
		m.PlotKwargs.Color = orDefault(pk.Color, m.PlotKwargs.Color)
		m.PlotKwargs.Marker = orDefault(pk.Marker, m.PlotKwargs.Marker)
		m.PlotKwargs.Linestyle = orDefault(pk.Linestyle, m.PlotKwargs.Linestyle)
		m.PlotKwargs.Markersize = orDefault(pk.Markersize, m.PlotKwargs.Markersize)
	}
	if m.PlotKwargs.Markersize < 1 {
		v.addf(path+".plot_kwargs.markersize", "must be at least 1")
	}
	return m
}

func (v *validator) pkg(path string, key PackageKey, d *PackageDocument) PackageSpec {
	if d == nil {
		d = new(PackageDocument)
	}
	p := PackageSpec{
		Key:     key,
		Active:  orDefault(d.Active, true),
		Mapping: copyStringMap(d.Mapping),
	}
	if d.ObservationTemplate != nil {
		p.ObservationTemplate = ptr(*d.ObservationTemplate)
	}
	if p.Active && (p.ObservationTemplate == nil || *p.ObservationTemplate == "") {
		v.addf(path+".observation_template", "required for an active package")
	}
	if len(p.Mapping) == 0 {
		p.Mapping = DefaultMapping(key)
	}
	for i, t := range d.TasksToExclude {
		tk, err := ParseTaskKey(t)
		if err != nil {
			v.addf(fmt.Sprintf("%s.tasks_to_exclude.%d", path, i), "unknown task %q", t)
			continue
		}
		p.TasksToExclude = append(p.TasksToExclude, tk)
	}

	var prep *ExecutionDocument
	var tasks map[string]*ExecutionDocument
	if d.Execution != nil {
		prep, tasks = d.Execution.Prep, d.Execution.Tasks
	}
	p.Execution.Prep = v.execution(path+".execution.prep", prep)
	for _, t := range sortedKeys(tasks) {
		tpath := path + ".execution.tasks." + t
		tk, err := ParseTaskKey(t)
		if err != nil {
			v.addf(tpath, "unknown task")
			continue
		}
		if p.Execution.Tasks == nil {
			p.Execution.Tasks = make(map[TaskKey]Execution)
		}
		p.Execution.Tasks[tk] = v.execution(tpath, tasks[t])
	}

	for _, t := range sortedKeys(d.Plots) {
		tk, err := ParseTaskKey(t)
		if err != nil {
			v.addf(path+".plots."+t, "unknown task")
			continue
		}
		if p.Plots == nil {
			p.Plots = make(map[TaskKey]PlotSettings)
		}
		s := d.Plots[t]
		if s == nil {
			s = new(PlotSettingsDocument)
		}
		p.Plots[tk] = PlotSettings{
			FigKwargs:         copyAnyMap(s.FigKwargs),
			DefaultPlotKwargs: copyAnyMap(s.DefaultPlotKwargs),
			TextKwargs:        copyAnyMap(s.TextKwargs),
			DomainType:        copyStrings(s.DomainType),
			DomainName:        copyStrings(s.DomainName),
			DataProc:          copyAnyMap(s.DataProc),
		}
	}

	for _, dim := range sortedKeys(d.Chunks) {
		n := d.Chunks[dim]
		switch {
		case dim != derive.XDim && dim != derive.YDim:
			v.addf(path+".chunks."+dim, "only %s and %s may be chunked", derive.XDim, derive.YDim)
		case n < 1:
			v.addf(path+".chunks."+dim, "must be at least 1")
		default:
			if p.Chunks == nil {
				p.Chunks = make(map[string]int)
			}
			p.Chunks[dim] = n
		}
	}

	for _, name := range sortedKeys(d.DerivedExpressions) {
		epath := path + ".derived_expressions." + name
		e := d.DerivedExpressions[name]
		if e == nil {
			e = new(DerivedExpressionDocument)
		}
		de := DerivedExpression{
			Expression: v.requireString(epath+".expression", e.Expression),
			Units:      orDefault(e.Units, ""),
			LongName:   orDefault(e.LongName, name),
		}
		if de.Expression != "" {
			if _, err := derive.ExpressionField(name, de.Expression, de.Units, de.LongName); err != nil {
				v.addf(epath+".expression", "%v", err)
			}
		}
		if p.DerivedExpressions == nil {
			p.DerivedExpressions = make(map[string]DerivedExpression)
		}
		p.DerivedExpressions[name] = de
	}
	return p
}

func (v *validator) execution(path string, d *ExecutionDocument) Execution {
	b := BatchArgs{Nodes: 1, TasksPerNode: 1, Walltime: DefaultWalltime}
	if d == nil || d.BatchArgs == nil {
		return Execution{BatchArgs: b}
	}
	count := func(field string, c *Count, def int) int {
		switch {
		case c == nil:
			return def
		case c.Auto:
			v.addf(path+".batchargs."+field, "\"auto\" was not resolved from platform defaults")
		case c.N < 1:
			v.addf(path+".batchargs."+field, "must be at least 1")
		}
		return c.N
	}
	b.Nodes = count("nodes", d.BatchArgs.Nodes, b.Nodes)
	b.TasksPerNode = count("tasks_per_node", d.BatchArgs.TasksPerNode, b.TasksPerNode)
	b.Walltime = orDefault(d.BatchArgs.Walltime, b.Walltime)
	if !walltimeRegexp.MatchString(b.Walltime) {
		v.addf(path+".batchargs.walltime", "%q is not in HH:MM:SS format", b.Walltime)
	}
	return Execution{BatchArgs: b}
}

// crossCheck checks the invariants that span entities.
func (v *validator) crossCheck(c *Config) {
	models := c.AQM.Models
	keys := c.ModelKeys()
	switch {
	case len(models) == 0:
		v.addf("aqm.models", "at least one model is required")
	case len(models) > MaxModels:
		v.addf("aqm.models", "at most %d models are allowed, found %d", MaxModels, len(models))
	}
	if len(c.AQM.Packages) == 0 {
		v.addf("aqm.packages", "at least one package is required")
	}

	var hosts []string
	for _, k := range keys {
		if models[k].IsHost {
			hosts = append(hosts, k)
		}
	}
	if len(hosts) != 1 {
		v.addf("aqm.models", "exactly one model must have is_host set, found %d (%s)",
			len(hosts), strings.Join(hosts, ", "))
	}
	host := ""
	if len(hosts) == 1 {
		host = hosts[0]
	}

	titles := make(map[string]string)
	colors := make(map[string]string)
	for _, k := range keys {
		m := models[k]
		if other, ok := titles[m.Title]; ok {
			v.addf("aqm.models."+k+".title", "title %q is also used by model %s", m.Title, other)
		} else {
			titles[m.Title] = k
		}
		if c.AQM.NoForecast && k == host {
			continue
		}
		if other, ok := colors[m.PlotKwargs.Color]; ok {
			v.addf("aqm.models."+k+".plot_kwargs.color", "color %q is also used by model %s",
				m.PlotKwargs.Color, other)
		} else {
			colors[m.PlotKwargs.Color] = k
		}
	}

	for _, k := range c.ScorecardKeys() {
		s := c.AQM.Scorecards[k]
		for _, ref := range []struct{ field, model string }{
			{"control", s.Control}, {"sensitivity", s.Sensitivity},
		} {
			path := "aqm.scorecards." + k + "." + ref.field
			if _, ok := models[ref.model]; !ok {
				v.addf(path, "model %q does not exist", ref.model)
			} else if c.AQM.NoForecast && ref.model == host {
				v.addf(path, "the host model %q cannot be used in a scorecard when no_forecast is set", ref.model)
			}
		}
	}

	// Model keys select files by prefix, so no key may be a prefix of
	// another.
	for i, a := range keys {
		for j, b := range keys {
			if i != j && strings.HasPrefix(b, a) {
				v.addf("aqm.models."+b, "model key %q starts with model key %q", b, a)
			}
		}
	}
}

func joinKeys(keys []PackageKey) string {
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}
