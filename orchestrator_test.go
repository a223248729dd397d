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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spatialmodel/aqmeval/derive/derivetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type recorder struct {
	controls []string
	steps    [][]Step
	err      error
}

func (r *recorder) Execute(control string, steps []Step) error {
	if r.err != nil {
		return r.err
	}
	r.controls = append(r.controls, filepath.Base(control))
	r.steps = append(r.steps, steps)
	return nil
}

func newTestOrchestrator(t *testing.T, c *Config, key PackageKey, r *recorder) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(c, key, r)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	o.Log = log
	o.Plans = NewPlanCache(8)
	return o
}

func TestCycles(t *testing.T) {
	_, c := testConfig(t, Strict)
	cycles := Cycles(c)
	require.Len(t, cycles, 3)
	assert.Equal(t, "2023080312", cycles[2].Format(CycleLayout))

	kind, err := Kind(ISH)
	require.NoError(t, err)
	specs, err := ForecastFileSpecs(c, kind, logrus.StandardLogger())
	require.NoError(t, err)
	require.Len(t, specs, 4, "the missing third cycle is skipped")
	s := specs[0]
	assert.Equal(t, "base", s.Model)
	assert.Equal(t, []string{filepath.Join(c.AQM.Models["base"].ExptDir, "2023080112", "dynf001.nc")}, s.DynPaths)
	assert.Equal(t, []string{filepath.Join(c.AQM.Models["base"].ExptDir, "2023080112", "phyf001.nc")}, s.PhyPaths)
	assert.Equal(t, filepath.Join(c.PackageDataDir(ISH), "base_ish_2023080112.nc"), s.OutPath)
}

func TestNoCycles(t *testing.T) {
	_, doc := testExperiment(t, Strict)
	doc.EndDatetime = ptr("2023-07-02-12:00:00")
	doc.StartDatetime = ptr("2023-07-01-12:00:00")
	c, err := Validate(doc)
	require.NoError(t, err)
	kind, _ := Kind(ISH)
	_, err = ForecastFileSpecs(c, kind, logrus.StandardLogger())
	assert.Error(t, err)
}

func TestInitializeAndRun(t *testing.T) {
	_, c := testConfig(t, Strict)
	r := new(recorder)
	o := newTestOrchestrator(t, c, Chem, r)

	var ue *UsageError
	require.True(t, errors.As(o.Run(string(SavePaired)), &ue), "run before initialization")

	require.NoError(t, o.Initialize(context.Background()))

	links, err := filepath.Glob(filepath.Join(c.PackageDataDir(Chem), "*"))
	require.NoError(t, err)
	assert.Len(t, links, 2*2*2, "models x cycles x dynamics files")
	target, err := os.Readlink(filepath.Join(c.PackageDataDir(Chem), "eval_orig_2023080212_dynf001.nc"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.AQM.Models["eval"].ExptDir, "2023080212", "dynf001.nc"), target)

	controls, err := filepath.Glob(filepath.Join(c.PackageRunDir(Chem), "control_*.yaml"))
	require.NoError(t, err)
	assert.Len(t, controls, len(AllTasks())-1+len(ScorecardMethods()))

	b, err := os.ReadFile(filepath.Join(c.PackageRunDir(Chem), ControlFileName(Timeseries)))
	require.NoError(t, err)
	var cf ControlFile
	require.NoError(t, yaml.Unmarshal(b, &cf))
	assert.Equal(t, PairedFile(c, mustKind(t, Chem), "eval"), cf.Analysis.Read.Paired.Filenames["airnow_eval"])
	assert.Equal(t, filepath.Join(c.PackageDataDir(Chem), "base_orig*.nc"), cf.Model["base"].Files)
	assert.Equal(t, "/obs/airnow.nc", cf.Obs["airnow"].Filename)

	t.Run("dependencies", func(t *testing.T) {
		for _, label := range []string{string(Timeseries), string(Scorecard), "scorecard_eval_vs_base_nmb"} {
			err := o.Run(label)
			require.True(t, errors.As(err, &ue), "%s: %v", label, err)
			assert.Equal(t, label, ue.Task)
		}
		assert.Empty(t, r.controls)
	})

	require.NoError(t, o.Run(string(SavePaired)))
	assert.Equal(t, []string{ControlFileName(SavePaired)}, r.controls)
	assert.Equal(t, StepsFor(SavePaired), r.steps[0])

	require.NoError(t, o.Run(string(Stats)))
	assert.Equal(t, []Step{ReadAnalysis, ComputeStats}, r.steps[1])

	r.controls = nil
	require.NoError(t, o.Run(string(Scorecard)))
	assert.Equal(t, []string{
		"control_scorecard_eval_vs_base_rmse.yaml",
		"control_scorecard_eval_vs_base_ioa.yaml",
		"control_scorecard_eval_vs_base_nmb.yaml",
		"control_scorecard_eval_vs_base_nme.yaml",
	}, r.controls)

	r.controls = nil
	require.NoError(t, o.Run("scorecard_eval_vs_base_ioa"))
	assert.Equal(t, []string{"control_scorecard_eval_vs_base_ioa.yaml"}, r.controls)

	for _, label := range []string{"scorecard_nope_rmse", "nap", "scorecard_eval_vs_base_mae"} {
		err := o.Run(label)
		assert.True(t, errors.As(err, &ue), "%s: %v", label, err)
	}

	sentinel := errors.New("analysis failed")
	r.err = sentinel
	err = o.Run(string(Taylor))
	assert.True(t, errors.Is(err, sentinel))
	st, err := loadState(o.statePath())
	require.NoError(t, err)
	assert.True(t, st.Initialized)
	assert.Equal(t, []string{"save_paired", "stats",
		"scorecard_eval_vs_base_rmse", "scorecard_eval_vs_base_ioa",
		"scorecard_eval_vs_base_nmb", "scorecard_eval_vs_base_nme"}, st.Completed)

	var ce *RunModeConflictError
	assert.True(t, errors.As(o.Initialize(context.Background()), &ce), "strict reinitialization")
}

func mustKind(t *testing.T, key PackageKey) PackageKind {
	t.Helper()
	k, err := Kind(key)
	require.NoError(t, err)
	return k
}

func TestExcludedTask(t *testing.T) {
	_, c := testConfig(t, Strict)
	r := new(recorder)
	o := newTestOrchestrator(t, c, AQSVOC, r)
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.Run(string(SavePaired)))
	var ue *UsageError
	assert.True(t, errors.As(o.Run(string(CSI)), &ue))
	assert.True(t, errors.As(o.Run(string(Scorecard)), &ue), "aqs_voc has no scorecard task")
	_, err := os.Stat(filepath.Join(c.PackageRunDir(AQSVOC), ControlFileName(CSI)))
	assert.True(t, os.IsNotExist(err))
}

func TestNoScorecards(t *testing.T) {
	_, doc := testExperiment(t, Strict)
	doc.AQM.Scorecards = nil
	c, err := Validate(doc)
	require.NoError(t, err)
	r := new(recorder)
	o := newTestOrchestrator(t, c, Chem, r)
	require.NoError(t, o.Initialize(context.Background()))
	require.NoError(t, o.Run(string(SavePaired)))

	var ue *UsageError
	for _, label := range []string{string(Scorecard), "scorecard_eval_vs_base_rmse"} {
		err := o.Run(label)
		require.True(t, errors.As(err, &ue), "%s: %v", label, err)
		assert.Equal(t, "not one of the package's tasks", ue.Reason)
	}
	assert.Equal(t, []string{ControlFileName(SavePaired)}, r.controls)
	controls, err := filepath.Glob(filepath.Join(c.PackageRunDir(Chem), "control_scorecard*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, controls)
}

func TestResume(t *testing.T) {
	_, c := testConfig(t, Resume)
	r := new(recorder)
	o := newTestOrchestrator(t, c, Chem, r)
	require.NoError(t, o.Initialize(context.Background()))

	path := filepath.Join(c.PackageRunDir(Chem), ControlFileName(Boxplot))
	require.NoError(t, os.WriteFile(path, []byte("edited: true\n"), 0644))
	stale := filepath.Join(c.PackageDataDir(Chem), "stale.nc")
	require.NoError(t, os.WriteFile(stale, nil, 0644))

	require.NoError(t, o.Initialize(context.Background()))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "edited: true\n", string(b), "existing control files are kept")
	assert.FileExists(t, stale)
}

func TestDerivedFiles(t *testing.T) {
	addISH := func(doc *Document) {
		doc.AQM.Packages["ish"] = &PackageDocument{ObservationTemplate: ptr("/obs/ish.nc")}
	}

	// derived returns the modification time and contents of each
	// derived file of the package.
	derived := func(t *testing.T, c *Config) (map[string]time.Time, map[string][]byte) {
		t.Helper()
		paths, err := filepath.Glob(filepath.Join(c.PackageDataDir(ISH), "*_ish_*.nc"))
		require.NoError(t, err)
		require.Len(t, paths, 4, "models x cycles")
		mod := make(map[string]time.Time)
		content := make(map[string][]byte)
		for _, p := range paths {
			fi, err := os.Stat(p)
			require.NoError(t, err)
			mod[p] = fi.ModTime()
			b, err := os.ReadFile(p)
			require.NoError(t, err)
			content[p] = b
		}
		return mod, content
	}

	t.Run("resume keeps derived files", func(t *testing.T) {
		dir, doc := testExperiment(t, Resume)
		writeForecasts(t, dir)
		addISH(doc)
		c, err := Validate(doc)
		require.NoError(t, err)
		o := newTestOrchestrator(t, c, ISH, new(recorder))
		require.NoError(t, o.Initialize(context.Background()))

		// Move the files back in time so that a rewrite would show.
		old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		mod, _ := derived(t, c)
		for p := range mod {
			require.NoError(t, os.Chtimes(p, old, old))
		}
		mod, content := derived(t, c)
		for _, b := range content {
			require.NotEmpty(t, b)
		}

		require.NoError(t, o.Initialize(context.Background()))
		mod2, content2 := derived(t, c)
		for p, m := range mod {
			assert.True(t, m.Equal(mod2[p]), "%s modified at %v", p, mod2[p])
			assert.Equal(t, content[p], content2[p], p)
		}
		controls, err := filepath.Glob(filepath.Join(c.PackageRunDir(ISH), "control_*.yaml"))
		require.NoError(t, err)
		assert.Len(t, controls, len(mustKind(t, ISH).DefaultTasks))
	})

	t.Run("strict reinitialization", func(t *testing.T) {
		dir, doc := testExperiment(t, Strict)
		writeForecasts(t, dir)
		addISH(doc)
		c, err := Validate(doc)
		require.NoError(t, err)
		o := newTestOrchestrator(t, c, ISH, new(recorder))
		require.NoError(t, o.Initialize(context.Background()))
		mod, content := derived(t, c)

		var ce *RunModeConflictError
		require.True(t, errors.As(o.Initialize(context.Background()), &ce))
		assert.Equal(t, c.PackageDataDir(ISH), ce.Path)
		assert.Equal(t, Strict, ce.Mode)
		mod2, content2 := derived(t, c)
		for p, m := range mod {
			assert.True(t, m.Equal(mod2[p]), p)
			assert.Equal(t, content[p], content2[p], p)
		}
	})

	t.Run("partial file", func(t *testing.T) {
		_, doc := testExperiment(t, Resume)
		addISH(doc)
		c, err := Validate(doc)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(c.PackageDataDir(ISH), 0755))
		part := filepath.Join(c.PackageDataDir(ISH), "base_ish_2023080112.nc.part")
		require.NoError(t, os.WriteFile(part, nil, 0644))
		o := newTestOrchestrator(t, c, ISH, new(recorder))
		var ce *RunModeConflictError
		require.True(t, errors.As(o.Initialize(context.Background()), &ce))
		assert.Equal(t, part, ce.Path)
	})

	t.Run("unreadable forecast", func(t *testing.T) {
		_, doc := testExperiment(t, Strict)
		addISH(doc)
		c, err := Validate(doc)
		require.NoError(t, err)
		o := newTestOrchestrator(t, c, ISH, new(recorder))
		assert.Error(t, o.Initialize(context.Background()))
		out, err := filepath.Glob(filepath.Join(c.PackageDataDir(ISH), "*"))
		require.NoError(t, err)
		assert.Empty(t, out)
		st, err := loadState(o.statePath())
		require.NoError(t, err)
		assert.False(t, st.Initialized)
	})
}

// writeForecasts replaces the single-step forecast files of each model
// and cycle of the experiment in dir with readable ones.
func writeForecasts(t *testing.T, dir string) {
	t.Helper()
	for _, m := range []string{"base", "eval"} {
		for _, cycle := range []string{"2023080112", "2023080212"} {
			start, err := time.Parse(CycleLayout, cycle)
			require.NoError(t, err)
			cd := filepath.Join(dir, m, cycle)
			require.NoError(t, derivetest.WriteForecast(
				filepath.Join(cd, "dynf001.nc"), filepath.Join(cd, "phyf001.nc"), start.Add(time.Hour), 1))
		}
	}
}

func TestExecuteFinalizes(t *testing.T) {
	_, c := testConfig(t, Strict)
	o := newTestOrchestrator(t, c, Chem, new(recorder))
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	o.Log = log

	start := time.Now()
	var ue *UsageError
	require.True(t, errors.As(o.Execute(string(Timeseries)), &ue))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "finalized package", entry.Message)
	assert.False(t, entry.Time.Before(start.Add(-time.Second)))
}
