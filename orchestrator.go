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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval/derive"
)

// Step is one operation of the analysis collaborator.
type Step string

// The analysis steps.
const (
	OpenModels   Step = "open_models"
	OpenObs      Step = "open_obs"
	PairData     Step = "pair_data"
	SaveAnalysis Step = "save_analysis"
	ReadAnalysis Step = "read_analysis"
	Plotting     Step = "plotting"
	ComputeStats Step = "stats"
)

// StepsFor returns the analysis steps that run task t.
func StepsFor(t TaskKey) []Step {
	switch t {
	case SavePaired:
		return []Step{OpenModels, OpenObs, PairData, SaveAnalysis}
	case SpatialOverlay, SpatialBias:
		return []Step{ReadAnalysis, OpenModels, Plotting}
	case Stats:
		return []Step{ReadAnalysis, ComputeStats}
	default:
		return []Step{ReadAnalysis, Plotting}
	}
}

// Analysis is the external analysis collaborator. Execute reads the
// control file at path and performs steps in order.
type Analysis interface {
	Execute(control string, steps []Step) error
}

// AnalysisFunc adapts a function to the Analysis interface.
type AnalysisFunc func(control string, steps []Step) error

// Execute calls f.
func (f AnalysisFunc) Execute(control string, steps []Step) error { return f(control, steps) }

var defaultPlans = NewPlanCache(64)

// Orchestrator drives one evaluation package through initialization and
// task execution.
type Orchestrator struct {
	Config   *Config
	Key      PackageKey
	Analysis Analysis

	// Workers is the size of the derived-field worker pool.
	Workers int

	// Plans memoizes package plans. A shared cache is used if it is nil.
	Plans *PlanCache

	Log logrus.FieldLogger
}

// NewOrchestrator returns an orchestrator for package key of cfg. The
// worker count defaults to the tasks per node of the package's
// preparation step.
func NewOrchestrator(cfg *Config, key PackageKey, analysis Analysis) (*Orchestrator, error) {
	p, err := cfg.Package(key)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		Config:   cfg,
		Key:      key,
		Analysis: analysis,
		Workers:  p.Execution.Prep.BatchArgs.TasksPerNode,
		Log:      logrus.StandardLogger(),
	}, nil
}

func (o *Orchestrator) log() logrus.FieldLogger {
	l := o.Log
	if l == nil {
		l = logrus.StandardLogger()
	}
	return l.WithField("package", o.Key)
}

// Plan returns the package plan.
func (o *Orchestrator) Plan() (*Plan, error) {
	pc := o.Plans
	if pc == nil {
		pc = defaultPlans
	}
	return pc.Plan(o.Config, o.Key)
}

func (o *Orchestrator) statePath() string {
	return filepath.Join(o.Config.PackageRunDir(o.Key), StateFileName)
}

// Initialize prepares the package: it creates the package directories,
// links raw forecast files or derives merged forecast files, and writes
// one control file per effective task and per scorecard and method.
// Under the strict run mode any pre-existing package directory or
// artifact is a *RunModeConflictError; under the resume run mode they are
// reused unchanged.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	c := o.Config
	mode := c.AQM.RunMode
	log := o.log()
	plan, err := o.Plan()
	if err != nil {
		return err
	}
	for _, dir := range []string{c.OutputDir, c.RunDir, c.PackageRunDir(o.Key)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("aqmeval: creating directory: %v", err)
		}
	}
	for _, dir := range []string{c.PackageDataDir(o.Key), c.PackageOutputDir(o.Key)} {
		if mode == Resume {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("aqmeval: creating directory: %v", err)
			}
			continue
		}
		if err := os.Mkdir(dir, 0755); os.IsExist(err) {
			return &RunModeConflictError{Mode: mode, Path: dir, Reason: "directory already exists"}
		} else if err != nil {
			return fmt.Errorf("aqmeval: creating directory: %v", err)
		}
	}

	if _, err := CreateLinks(c, plan.Kind, log); err != nil {
		return err
	}
	if err := o.deriveFiles(ctx, plan); err != nil {
		return err
	}

	specs, err := RenderControls(c, plan)
	if err != nil {
		return err
	}
	for _, s := range specs {
		path := filepath.Join(c.PackageRunDir(o.Key), s.FileName)
		if _, err := os.Stat(path); err == nil {
			if mode == Resume {
				log.WithField("path", path).Debug("keeping existing control file")
				continue
			}
			return &RunModeConflictError{Mode: mode, Path: path, Reason: "control file already exists"}
		}
		b, err := s.Encode()
		if err != nil {
			return err
		}
		if err := writeFileAtomic(path, b); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"task": s.Label, "path": path}).Debug("wrote control file")
	}

	st, err := loadState(o.statePath())
	if err != nil {
		return err
	}
	st.Initialized = true
	if err := saveState(o.statePath(), st); err != nil {
		return err
	}
	log.WithField("controls", len(specs)).Info("initialized package")
	return nil
}

// deriveFiles writes one merged file of derived fields per model and
// forecast cycle for packages that require them.
func (o *Orchestrator) deriveFiles(ctx context.Context, plan *Plan) error {
	recipe, ok := plan.Kind.Recipe()
	if !ok {
		return nil
	}
	c := o.Config
	p, err := c.Package(o.Key)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(p.DerivedExpressions))
	for name := range p.DerivedExpressions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := p.DerivedExpressions[name]
		f, err := derive.ExpressionField(name, e.Expression, e.Units, e.LongName)
		if err != nil {
			return fmt.Errorf("aqmeval: derived expression %s: %v", name, err)
		}
		recipe.Fields = append(recipe.Fields, f)
	}

	log := o.log()
	specs, err := ForecastFileSpecs(c, plan.Kind, log)
	if err != nil {
		return err
	}
	for _, s := range specs {
		if _, err := os.Stat(s.OutPath + derive.PartialSuffix); err == nil {
			return &RunModeConflictError{Mode: c.AQM.RunMode, Path: s.OutPath + derive.PartialSuffix,
				Reason: "incomplete derived file; remove it to regenerate"}
		}
		// Under the strict run mode the data directory was just created,
		// so an existing file means the package is being resumed.
		if _, err := os.Stat(s.OutPath); err == nil {
			log.WithField("path", s.OutPath).Info("keeping existing derived file")
			continue
		}
		pl := &derive.Pipeline{
			Dyn:      s.DynPaths,
			Phy:      s.PhyPaths,
			Out:      s.OutPath,
			Recipe:   recipe,
			Workers:  o.Workers,
			SurfOnly: c.AQM.Models[s.Model].SurfOnly(),
			Chunks:   p.Chunks,
			Log:      log.WithFields(logrus.Fields{"model": s.Model, "cycle": s.Cycle.Format(CycleLayout)}),
		}
		if err := pl.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run runs the task named by label: a task key, "scorecard" for every
// scorecard and method, or scorecard_<scorecard>_<method> for one of
// them. The package must have been initialized, the task must be one of
// the package's effective tasks, and every task other than save_paired
// requires save_paired to have completed; violations are a *UsageError.
// Errors from the analysis collaborator are returned wrapped.
func (o *Orchestrator) Run(label string) error {
	c := o.Config
	st, err := loadState(o.statePath())
	if err != nil {
		return err
	}
	if !st.Initialized {
		return &UsageError{Package: o.Key, Task: label, Reason: "the package has not been initialized"}
	}
	plan, err := o.Plan()
	if err != nil {
		return err
	}
	specs, err := RenderControls(c, plan)
	if err != nil {
		return err
	}
	var selected []ControlSpec
	var task TaskKey
	if r, ok := parseScorecardLabel(label); ok {
		task = Scorecard
		for _, s := range specs {
			if s.Label == r.Label() {
				selected = append(selected, s)
			}
		}
		if len(selected) == 0 && plan.HasTask(Scorecard) {
			return &UsageError{Package: o.Key, Task: label, Reason: "no such scorecard"}
		}
	} else {
		t, err := ParseTaskKey(label)
		if err != nil {
			return &UsageError{Package: o.Key, Task: label, Reason: "unknown task"}
		}
		task = t
		for _, s := range specs {
			if s.Task == t {
				selected = append(selected, s)
			}
		}
	}
	if !plan.HasTask(task) {
		return &UsageError{Package: o.Key, Task: label, Reason: "not one of the package's tasks"}
	}
	if task != SavePaired && !st.done(string(SavePaired)) {
		return &UsageError{Package: o.Key, Task: label, Reason: "save_paired must complete first"}
	}

	log := o.log()
	for _, s := range selected {
		path := filepath.Join(c.PackageRunDir(o.Key), s.FileName)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("aqmeval: control file for task %s: %v", s.Label, err)
		}
		log.WithFields(logrus.Fields{"task": s.Label, "control": path}).Info("running task")
		if err := o.Analysis.Execute(path, StepsFor(s.Task)); err != nil {
			return fmt.Errorf("aqmeval: package %s, task %s: %w", o.Key, s.Label, err)
		}
		st.complete(s.Label)
		if err := saveState(o.statePath(), st); err != nil {
			return err
		}
	}
	return nil
}

// Finalize releases the resources of the orchestrator. It holds none
// at present.
func (o *Orchestrator) Finalize() error {
	o.log().Debug("finalized package")
	return nil
}

// Execute runs label and then finalizes the orchestrator whether or not
// the task succeeded.
func (o *Orchestrator) Execute(label string) (err error) {
	defer func() {
		if ferr := o.Finalize(); err == nil {
			err = ferr
		}
	}()
	return o.Run(label)
}
