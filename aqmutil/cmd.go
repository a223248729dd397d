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

// Package aqmutil holds the command-line interface of AQMEval.
package aqmutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval"
	"github.com/spatialmodel/aqmeval/statsconcat"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information and the commands that use it.
type Cfg struct {
	*viper.Viper

	Root, versionCmd, initCmd, runCmd, planCmd, concatCmd *cobra.Command

	// Analysis, if not nil, replaces the external analysis command.
	Analysis aqmeval.Analysis

	// Log receives the log output of the commands.
	Log *logrus.Logger
}

type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// InitializeConfig creates the commands and binds their flags to a new
// configuration.
func InitializeConfig() *Cfg {
	cfg := &Cfg{
		Viper: viper.New(),
		Log:   logrus.New(),
	}
	cfg.Log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	cfg.Root = &cobra.Command{
		Use:   "aqmeval",
		Short: "Evaluate air quality forecasts against observations.",
		Long: `aqmeval prepares and runs the evaluation of air quality and meteorology
forecasts against surface observations. An experiment is described by a YAML
document (aqmeval.yaml in the experiment directory). Each evaluation package
is first initialized, which links or derives the forecast files and writes one
analysis control file per task, and its tasks are then run one at a time.

Settings can be given as command-line arguments, in a configuration file
named with --config, or as environment variables in the format 'AQMEVAL_var'
where 'var' is the name of the setting with dashes replaced by underscores.`,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return cfg.setConfig() },
	}

	cfg.versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "version prints the version number of this version of AQMEval.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("AQMEval v%s\n", aqmeval.Version)
		},
		DisableAutoGenTag: true,
	}

	cfg.initCmd = &cobra.Command{
		Use:   "init",
		Short: "Initialize an evaluation package",
		Long: `init prepares an evaluation package: it creates the package directories,
links or derives the forecast files and writes the analysis control files.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := cfg.orchestrator()
			if err != nil {
				return err
			}
			defer o.Finalize()
			return o.Initialize(context.Background())
		},
		DisableAutoGenTag: true,
	}

	cfg.runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one task of an evaluation package",
		Long: `run runs one task of an initialized evaluation package through the
analysis program. save_paired must be run before any other task. The task may
be a task name, "scorecard" for every scorecard, or
scorecard_<scorecard>_<method> for a single scorecard method.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := cfg.GetString("task")
			if task == "" {
				return fmt.Errorf("aqmutil: --task is required")
			}
			o, err := cfg.orchestrator()
			if err != nil {
				return err
			}
			return o.Execute(task)
		},
		DisableAutoGenTag: true,
	}

	cfg.planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Print the tasks of every package",
		Long: `plan prints, for every configured package, the tasks that will be run,
their batch resources and the task each depends on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cfg.LoadConfig()
			if err != nil {
				return err
			}
			return WritePlan(cmd.OutOrStdout(), c)
		},
		DisableAutoGenTag: true,
	}

	cfg.concatCmd = &cobra.Command{
		Use:   "concat-stats",
		Short: "Concatenate the statistics tables",
		Long: `concat-stats collects every stats.*.csv table under the output directory
into stats_concat.csv and stats_concat.xlsx in the same directory. The output
directory is --output-dir or, if that is not set, the output_dir of the
experiment configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cfg.GetString("output-dir")
			if dir == "" {
				c, err := cfg.LoadConfig()
				if err != nil {
					return err
				}
				dir = c.OutputDir
			}
			_, err := statsconcat.Write(dir, dir, cfg.Log)
			return err
		},
		DisableAutoGenTag: true,
	}

	cfg.Root.AddCommand(cfg.versionCmd, cfg.initCmd, cfg.runCmd, cfg.planCmd, cfg.concatCmd)

	experiment := []*pflag.FlagSet{cfg.initCmd.Flags(), cfg.runCmd.Flags(), cfg.planCmd.Flags(), cfg.concatCmd.Flags()}
	pkg := []*pflag.FlagSet{cfg.initCmd.Flags(), cfg.runCmd.Flags()}
	options := []option{
		{
			name: "config",
			usage: `
              config specifies the location of a file holding settings for
              this program. It is not the experiment configuration.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level is the minimum level of log messages: debug, info,
              warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "expt-dir",
			usage: `
              expt-dir is the experiment directory. It holds the experiment
              configuration unless config_file is set.`,
			shorthand:  "e",
			defaultVal: "",
			flagsets:   experiment,
		},
		{
			name: "config_file",
			usage: `
              config_file is the path to the experiment configuration
              document. It defaults to aqmeval.yaml in expt-dir.`,
			defaultVal: "",
			flagsets:   experiment,
		},
		{
			name: "defaults",
			usage: `
              defaults is the path to a configuration document whose settings
              are used where the experiment configuration has none.`,
			defaultVal: "",
			flagsets:   experiment,
		},
		{
			name: "platform",
			usage: `
              platform names the computing platform used to resolve "auto"
              node and task counts.`,
			defaultVal: "",
			flagsets:   experiment,
		},
		{
			name: "platform_defaults",
			usage: `
              platform_defaults is the path to a TOML file with the cores per
              node of each platform. A built-in table is used if it is empty.`,
			defaultVal: "",
			flagsets:   experiment,
		},
		{
			name: "package",
			usage: `
              package is the evaluation package: chem, ish, aqs_pm or aqs_voc.`,
			shorthand:  "p",
			defaultVal: "",
			flagsets:   pkg,
		},
		{
			name: "workers",
			usage: `
              workers is the number of chunks of forecast data processed at
              once when deriving fields. If it is 0, SLURM_TASKS_PER_NODE is
              used if set, and otherwise the package's prep tasks_per_node.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{cfg.initCmd.Flags()},
		},
		{
			name: "analysis_command",
			usage: `
              analysis_command is the program that runs an analysis control
              file. It is called as: analysis_command --steps s1,s2 control.yaml`,
			defaultVal: "melodies-monet",
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
		{
			name: "task",
			usage: `
              task is the task to run.`,
			shorthand:  "t",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.runCmd.Flags()},
		},
		{
			name: "output-dir",
			usage: `
              output-dir is the directory searched for statistics tables.`,
			shorthand:  "o",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.concatCmd.Flags()},
		},
	}

	// Set the prefix for configuration environment variables.
	cfg.SetEnvPrefix("AQMEVAL")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, v, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, v, option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, v, option.usage)
				} else {
					set.IntP(option.name, option.shorthand, v, option.usage)
				}
			default:
				panic("invalid argument type")
			}
		}
		cfg.BindPFlag(option.name, option.flagsets[0].Lookup(option.name))
	}
	return cfg
}

// setConfig reads in the settings file, if there is one, and sets the
// log level.
func (cfg *Cfg) setConfig() error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("aqmutil: problem reading configuration file: %v", err)
		}
	}
	level, err := logrus.ParseLevel(cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("aqmutil: %v", err)
	}
	cfg.Log.SetLevel(level)
	return nil
}

// orchestrator returns the orchestrator of the selected package.
func (cfg *Cfg) orchestrator() (*aqmeval.Orchestrator, error) {
	c, err := cfg.LoadConfig()
	if err != nil {
		return nil, err
	}
	key, err := aqmeval.ParsePackageKey(cfg.GetString("package"))
	if err != nil {
		return nil, fmt.Errorf("aqmutil: --package: %v", err)
	}
	analysis := cfg.Analysis
	if analysis == nil {
		analysis = &CommandAnalysis{
			Command: cfg.GetString("analysis_command"),
			Stdout:  cfg.Root.OutOrStdout(),
			Stderr:  cfg.Root.OutOrStderr(),
			Log:     cfg.Log,
		}
	}
	o, err := aqmeval.NewOrchestrator(c, key, analysis)
	if err != nil {
		return nil, err
	}
	o.Log = cfg.Log
	if w, err := cfg.workers(); err != nil {
		return nil, err
	} else if w > 0 {
		o.Workers = w
	}
	return o, nil
}
