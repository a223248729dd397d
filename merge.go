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

// MergeDefaults layers over on top of base and returns the result.
// Values set in over replace the values in base at every leaf; mappings
// are merged key by key; lists are leaves and are replaced whole.
// Neither argument is modified and the result shares no memory with them.
// Merging is idempotent: MergeDefaults(MergeDefaults(a, b), b) equals
// MergeDefaults(a, b).
func MergeDefaults(base, over *Document) *Document {
	if base == nil {
		base = new(Document)
	}
	if over == nil {
		over = new(Document)
	}
	return &Document{
		StartDatetime:    pick(base.StartDatetime, over.StartDatetime),
		EndDatetime:      pick(base.EndDatetime, over.EndDatetime),
		CartopyDataDir:   pick(base.CartopyDataDir, over.CartopyDataDir),
		OutputDir:        pick(base.OutputDir, over.OutputDir),
		RunDir:           pick(base.RunDir, over.RunDir),
		AQM:              mergeAQM(base.AQM, over.AQM),
		PlatformDefaults: mergeMap(base.PlatformDefaults, over.PlatformDefaults, mergePlatformDefault),
	}
}

// pick returns a copy of the right value if it is set and of the left
// value otherwise.
func pick[T any](l, r *T) *T {
	switch {
	case r != nil:
		v := *r
		return &v
	case l != nil:
		v := *l
		return &v
	}
	return nil
}

// mergeMap merges two maps key-wise using f to merge values present in
// both.
func mergeMap[V any](l, r map[string]V, f func(l, r V) V) map[string]V {
	if l == nil && r == nil {
		return nil
	}
	var zero V
	o := make(map[string]V, len(l)+len(r))
	for k, v := range l {
		o[k] = f(v, zero)
	}
	for k, v := range r {
		if lv, ok := l[k]; ok {
			o[k] = f(lv, v)
		} else {
			o[k] = f(zero, v)
		}
	}
	return o
}

func pickSlice[T any](l, r []T) []T {
	switch {
	case r != nil:
		return append([]T(nil), r...)
	case l != nil:
		return append([]T(nil), l...)
	}
	return nil
}

func mergeAQM(l, r *AQMDocument) *AQMDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(AQMDocument)
	}
	if r == nil {
		r = new(AQMDocument)
	}
	return &AQMDocument{
		Active:       pick(l.Active, r.Active),
		NoForecast:   pick(l.NoForecast, r.NoForecast),
		RunMode:      pick(l.RunMode, r.RunMode),
		Models:       mergeMap(l.Models, r.Models, mergeModel),
		Packages:     mergeMap(l.Packages, r.Packages, mergePackage),
		Scorecards:   mergeMap(l.Scorecards, r.Scorecards, mergeScorecard),
		TaskDefaults: mergeTaskDefaults(l.TaskDefaults, r.TaskDefaults),
	}
}

func mergeModel(l, r *ModelDocument) *ModelDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(ModelDocument)
	}
	if r == nil {
		r = new(ModelDocument)
	}
	return &ModelDocument{
		ExptDir:           pick(l.ExptDir, r.ExptDir),
		Title:             pick(l.Title, r.Title),
		IsHost:            pick(l.IsHost, r.IsHost),
		PlotKwargs:        mergePlotKwargs(l.PlotKwargs, r.PlotKwargs),
		Type:              pick(l.Type, r.Type),
		Kwargs:            mergeAny(l.Kwargs, r.Kwargs),
		RadiusOfInfluence: pick(l.RadiusOfInfluence, r.RadiusOfInfluence),
	}
}

func mergePlotKwargs(l, r *PlotKwargsDocument) *PlotKwargsDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(PlotKwargsDocument)
	}
	if r == nil {
		r = new(PlotKwargsDocument)
	}
	return &PlotKwargsDocument{
		Color:      pick(l.Color, r.Color),
		Marker:     pick(l.Marker, r.Marker),
		Linestyle:  pick(l.Linestyle, r.Linestyle),
		Markersize: pick(l.Markersize, r.Markersize),
	}
}

func mergePackage(l, r *PackageDocument) *PackageDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(PackageDocument)
	}
	if r == nil {
		r = new(PackageDocument)
	}
	return &PackageDocument{
		ObservationTemplate: pick(l.ObservationTemplate, r.ObservationTemplate),
		Mapping:             overlayMap(l.Mapping, r.Mapping),
		Active:              pick(l.Active, r.Active),
		TasksToExclude:      pickSlice(l.TasksToExclude, r.TasksToExclude),
		Execution:           mergePackageExecution(l.Execution, r.Execution),
		Plots:               mergeMap(l.Plots, r.Plots, mergePlotSettings),
		Chunks:              overlayMap(l.Chunks, r.Chunks),
		DerivedExpressions:  mergeMap(l.DerivedExpressions, r.DerivedExpressions, mergeDerivedExpression),
	}
}

// overlayMap returns the entries of l replaced by or added to those of
// r. An entry of r replaces the one of l even if it is the zero value.
func overlayMap[V any](l, r map[string]V) map[string]V {
	if l == nil && r == nil {
		return nil
	}
	o := make(map[string]V, len(l)+len(r))
	for k, v := range l {
		o[k] = v
	}
	for k, v := range r {
		o[k] = v
	}
	return o
}

func mergePackageExecution(l, r *PackageExecutionDocument) *PackageExecutionDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(PackageExecutionDocument)
	}
	if r == nil {
		r = new(PackageExecutionDocument)
	}
	return &PackageExecutionDocument{
		Prep:  mergeExecution(l.Prep, r.Prep),
		Tasks: mergeMap(l.Tasks, r.Tasks, mergeExecution),
	}
}

func mergeTaskDefaults(l, r *TaskDefaultsDocument) *TaskDefaultsDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(TaskDefaultsDocument)
	}
	if r == nil {
		r = new(TaskDefaultsDocument)
	}
	return &TaskDefaultsDocument{Execution: mergeExecution(l.Execution, r.Execution)}
}

func mergeExecution(l, r *ExecutionDocument) *ExecutionDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(ExecutionDocument)
	}
	if r == nil {
		r = new(ExecutionDocument)
	}
	return &ExecutionDocument{BatchArgs: mergeBatchArgs(l.BatchArgs, r.BatchArgs)}
}

func mergeBatchArgs(l, r *BatchArgsDocument) *BatchArgsDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(BatchArgsDocument)
	}
	if r == nil {
		r = new(BatchArgsDocument)
	}
	return &BatchArgsDocument{
		Nodes:        pick(l.Nodes, r.Nodes),
		TasksPerNode: pick(l.TasksPerNode, r.TasksPerNode),
		Walltime:     pick(l.Walltime, r.Walltime),
	}
}

func mergePlotSettings(l, r *PlotSettingsDocument) *PlotSettingsDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(PlotSettingsDocument)
	}
	if r == nil {
		r = new(PlotSettingsDocument)
	}
	return &PlotSettingsDocument{
		FigKwargs:         mergeAny(l.FigKwargs, r.FigKwargs),
		DefaultPlotKwargs: mergeAny(l.DefaultPlotKwargs, r.DefaultPlotKwargs),
		TextKwargs:        mergeAny(l.TextKwargs, r.TextKwargs),
		DomainType:        pickSlice(l.DomainType, r.DomainType),
		DomainName:        pickSlice(l.DomainName, r.DomainName),
		DataProc:          mergeAny(l.DataProc, r.DataProc),
	}
}

func mergeDerivedExpression(l, r *DerivedExpressionDocument) *DerivedExpressionDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(DerivedExpressionDocument)
	}
	if r == nil {
		r = new(DerivedExpressionDocument)
	}
	return &DerivedExpressionDocument{
		Expression: pick(l.Expression, r.Expression),
		Units:      pick(l.Units, r.Units),
		LongName:   pick(l.LongName, r.LongName),
	}
}

func mergeScorecard(l, r *ScorecardDocument) *ScorecardDocument {
	if l == nil && r == nil {
		return nil
	}
	if l == nil {
		l = new(ScorecardDocument)
	}
	if r == nil {
		r = new(ScorecardDocument)
	}
	return &ScorecardDocument{
		Control:     pick(l.Control, r.Control),
		Sensitivity: pick(l.Sensitivity, r.Sensitivity),
	}
}

func mergePlatformDefault(l, r *PlatformDefault) *PlatformDefault {
	return pick(l, r)
}

// mergeAny merges the free-form mappings carried in pass-through fields
// such as model kwargs.
func mergeAny(l, r map[string]interface{}) map[string]interface{} {
	if l == nil && r == nil {
		return nil
	}
	o := copyAnyMap(l)
	if o == nil {
		o = make(map[string]interface{}, len(r))
	}
	for k, rv := range r {
		lm, lok := o[k].(map[string]interface{})
		rm, rok := rv.(map[string]interface{})
		if lok && rok {
			o[k] = mergeAny(lm, rm)
			continue
		}
		o[k] = copyAny(rv)
	}
	return o
}
