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

package aqmutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spatialmodel/aqmeval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDocument = `melodies_monet_parm:
  start_datetime: 2023-08-01-12:00:00
  end_datetime: 2023-08-02-12:00:00
  cartopy_data_dir: %[1]s
  output_dir: %[2]s
  run_dir: %[3]s
  aqm:
    models:
      eval:
        expt_dir: %[4]s
        is_host: true
    packages:
      chem:
        observation_template: /obs/airnow_%%Y%%m%%d.nc
        execution:
          prep:
            batchargs:
              nodes: 1
              tasks_per_node: auto
        tasks_to_exclude: [taylor]
`

type experiment struct {
	dir, output, run, expt string
}

// newExperiment writes an experiment with forecast output for the first
// of its two cycles.
func newExperiment(t *testing.T) experiment {
	t.Helper()
	dir := t.TempDir()
	e := experiment{
		dir:    dir,
		output: filepath.Join(dir, "output"),
		run:    filepath.Join(dir, "run"),
		expt:   filepath.Join(dir, "expt"),
	}
	cycle := filepath.Join(e.expt, "2023080112")
	require.NoError(t, os.MkdirAll(cycle, 0755))
	for _, f := range []string{"dynf000.nc", "dynf001.nc", "dynf002.nc", "phyf001.nc"} {
		require.NoError(t, os.WriteFile(filepath.Join(cycle, f), []byte("x"), 0644))
	}
	doc := fmt.Sprintf(testDocument, dir, e.output, e.run, e.expt)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(doc), 0644))
	return e
}

type call struct {
	control string
	steps   []aqmeval.Step
}

// execute runs the command line args with a fresh configuration and
// records the analyses it runs.
func execute(args []string, calls *[]call) (string, error) {
	cfg := InitializeConfig()
	cfg.Analysis = aqmeval.AnalysisFunc(func(control string, steps []aqmeval.Step) error {
		*calls = append(*calls, call{control: control, steps: steps})
		return nil
	})
	var out bytes.Buffer
	cfg.Root.SetOutput(&out)
	cfg.Log.Out = &out
	cfg.Root.SetArgs(args)
	err := cfg.Root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute([]string{"version"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "AQMEval v"+aqmeval.Version+"\n", out)
}

func TestInitRun(t *testing.T) {
	e := newExperiment(t)
	var calls []call
	common := []string{"--expt-dir", e.dir, "--package", "chem", "--platform", "hera"}

	_, err := execute(append([]string{"run", "--task", "timeseries"}, common...), &calls)
	var ue *aqmeval.UsageError
	require.True(t, errors.As(err, &ue), "run before init: %v", err)

	_, err = execute(append([]string{"init"}, common...), &calls)
	require.NoError(t, err)

	links, err := filepath.Glob(filepath.Join(e.run, "chem", "data", "eval_orig_2023080112_dynf*.nc"))
	require.NoError(t, err)
	assert.Len(t, links, 3)

	controls, err := filepath.Glob(filepath.Join(e.run, "chem", "control_*.yaml"))
	require.NoError(t, err)
	assert.Len(t, controls, len(aqmeval.AllTasks())-2)

	_, err = execute(append([]string{"run", "--task", "timeseries"}, common...), &calls)
	require.True(t, errors.As(err, &ue), "run before save_paired: %v", err)
	assert.Empty(t, calls)

	_, err = execute(append([]string{"run", "-t", "save_paired"}, common...), &calls)
	require.NoError(t, err)
	_, err = execute(append([]string{"run", "-t", "timeseries"}, common...), &calls)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, filepath.Join(e.run, "chem", aqmeval.ControlFileName(aqmeval.SavePaired)), calls[0].control)
	assert.Equal(t, aqmeval.StepsFor(aqmeval.SavePaired), calls[0].steps)
	assert.Equal(t, filepath.Join(e.run, "chem", aqmeval.ControlFileName(aqmeval.Timeseries)), calls[1].control)

	_, err = execute(append([]string{"run", "-t", "taylor"}, common...), &calls)
	assert.Error(t, err, "excluded task")

	_, err = execute(append([]string{"init"}, common...), &calls)
	var ce *aqmeval.RunModeConflictError
	assert.True(t, errors.As(err, &ce), "second strict init: %v", err)
}

func TestInitErrors(t *testing.T) {
	e := newExperiment(t)
	for _, args := range [][]string{
		{"init", "--expt-dir", e.dir, "--package", "chem"},
		{"init", "--expt-dir", e.dir, "--package", "nope", "--platform", "hera"},
		{"init", "--expt-dir", e.dir, "--package", "ish", "--platform", "hera"},
		{"init", "--expt-dir", e.dir, "--package", "chem", "--platform", "nowhere"},
		{"init", "--package", "chem", "--platform", "hera"},
		{"init", "--expt-dir", e.dir, "--package", "chem", "--platform", "hera", "--log_level", "loud"},
	} {
		_, err := execute(args, nil)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestPlan(t *testing.T) {
	e := newExperiment(t)
	out, err := execute([]string{"plan", "--expt-dir", e.dir, "--platform", "hercules"}, nil)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1+1+len(aqmeval.AllTasks())-2)
	assert.Equal(t, []string{"chem", "prep", "1", "80", aqmeval.DefaultWalltime, "-"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"chem", "save_paired", "1", "1", aqmeval.DefaultWalltime, "prep"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"chem", "timeseries", "1", "1", aqmeval.DefaultWalltime, "save_paired"}, strings.Fields(lines[3]))
	assert.NotContains(t, out, "taylor")
}

func TestPlatformDefaultsFile(t *testing.T) {
	e := newExperiment(t)
	table := filepath.Join(e.dir, "platforms.toml")
	require.NoError(t, os.WriteFile(table, []byte("[platforms.lab]\nncores_per_node = 12\n"), 0644))
	out, err := execute([]string{"plan", "--expt-dir", e.dir, "--platform", "lab", "--platform_defaults", table}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "chem")
	assert.Equal(t, []string{"chem", "prep", "1", "12", aqmeval.DefaultWalltime, "-"},
		strings.Fields(strings.Split(out, "\n")[1]))

	_, err = execute([]string{"plan", "--expt-dir", e.dir, "--platform", "hera", "--platform_defaults", table}, nil)
	assert.Error(t, err)
}

func TestWorkers(t *testing.T) {
	cfg := InitializeConfig()
	t.Setenv("SLURM_TASKS_PER_NODE", "")
	w, err := cfg.workers()
	require.NoError(t, err)
	assert.Equal(t, 0, w)

	t.Setenv("SLURM_TASKS_PER_NODE", "36(x2)")
	w, err = cfg.workers()
	require.NoError(t, err)
	assert.Equal(t, 36, w)

	t.Setenv("SLURM_TASKS_PER_NODE", "many")
	_, err = cfg.workers()
	assert.Error(t, err)

	cfg.Set("workers", 3)
	w, err = cfg.workers()
	require.NoError(t, err)
	assert.Equal(t, 3, w)
}

func TestConcatStats(t *testing.T) {
	dir := t.TempDir()
	stats := filepath.Join(dir, "aqs_voc")
	require.NoError(t, os.MkdirAll(stats, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(stats, "stats.TOLUENE.all.CONUS.2023-08-01_12.2023-08-02_12.csv"),
		[]byte("Stat_ID,Stat_FullName,eval\nMB,Mean Bias,0.5\n"), 0644))
	_, err := execute([]string{"concat-stats", "--output-dir", dir}, nil)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "stats_concat.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "MB,Mean Bias,eval,0.5,TOLUENE,all,CONUS")
	assert.FileExists(t, filepath.Join(dir, "stats_concat.xlsx"))
}
