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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval"
	"github.com/spf13/cast"
)

// ConfigFileName is the name of the experiment configuration in the
// experiment directory.
const ConfigFileName = "aqmeval.yaml"

// configPath returns the path of the experiment configuration.
func (cfg *Cfg) configPath() (string, error) {
	if p := cfg.GetString("config_file"); p != "" {
		return os.ExpandEnv(p), nil
	}
	dir := cfg.GetString("expt-dir")
	if dir == "" {
		return "", fmt.Errorf("aqmutil: either --expt-dir or --config_file must be set")
	}
	return filepath.Join(os.ExpandEnv(dir), ConfigFileName), nil
}

func readDocument(path string) (*aqmeval.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("aqmutil: opening configuration: %v", err)
	}
	defer f.Close()
	doc, err := aqmeval.ParseDocument(f)
	if err != nil {
		return nil, fmt.Errorf("aqmutil: %s: %v", path, err)
	}
	return doc, nil
}

// LoadConfig reads, merges, resolves and validates the experiment
// configuration named by the settings.
func (cfg *Cfg) LoadConfig() (*aqmeval.Config, error) {
	path, err := cfg.configPath()
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	if d := cfg.GetString("defaults"); d != "" {
		base, err := readDocument(os.ExpandEnv(d))
		if err != nil {
			return nil, err
		}
		doc = aqmeval.MergeDefaults(base, doc)
	}
	if platform := cfg.GetString("platform"); platform != "" {
		table, err := cfg.platformTable(doc)
		if err != nil {
			return nil, err
		}
		if err := aqmeval.ResolvePlatformDefaults(platform, table, doc); err != nil {
			return nil, err
		}
	}
	c, err := aqmeval.Validate(doc)
	if err != nil {
		return nil, err
	}
	cfg.Log.WithFields(logrus.Fields{
		"config":   path,
		"packages": len(c.PackageKeys()),
	}).Debug("loaded configuration")
	return c, nil
}

// platformTable returns the platform defaults: the template file if one
// is set and the built-in table otherwise, overridden by any table in
// doc.
func (cfg *Cfg) platformTable(doc *aqmeval.Document) (aqmeval.PlatformTable, error) {
	table := make(aqmeval.PlatformTable)
	if path := cfg.GetString("platform_defaults"); path != "" {
		f, err := os.Open(os.ExpandEnv(path))
		if err != nil {
			return nil, fmt.Errorf("aqmutil: opening platform defaults: %v", err)
		}
		t, err := aqmeval.ReadPlatformTable(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		for k, v := range t {
			table[k] = v
		}
	} else {
		for k, v := range aqmeval.DefaultPlatforms {
			table[k] = v
		}
	}
	for k, v := range doc.PlatformDefaults {
		if v != nil {
			table[k] = *v
		}
	}
	return table, nil
}

// workers returns the worker count: the workers setting if it is
// positive, otherwise the task count of the batch allocation, otherwise
// 0 to keep the package's default.
func (cfg *Cfg) workers() (int, error) {
	if w := cfg.GetInt("workers"); w > 0 {
		return w, nil
	} else if w < 0 {
		return 0, fmt.Errorf("aqmutil: workers must not be negative")
	}
	s := os.Getenv("SLURM_TASKS_PER_NODE")
	if s == "" {
		return 0, nil
	}
	// The variable may look like "40(x2)".
	if i := strings.Index(s, "("); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, ","); i >= 0 {
		s = s[:i]
	}
	w, err := cast.ToIntE(s)
	if err != nil || w < 1 {
		return 0, fmt.Errorf("aqmutil: invalid SLURM_TASKS_PER_NODE %q", os.Getenv("SLURM_TASKS_PER_NODE"))
	}
	return w, nil
}

// WritePlan writes the effective tasks of every package of c with their
// batch resources and the task each one waits for.
func WritePlan(w io.Writer, c *aqmeval.Config) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "package\ttask\tnodes\ttasks_per_node\twalltime\tafter")
	for _, key := range c.PackageKeys() {
		p, err := c.Package(key)
		if err != nil {
			return err
		}
		prep := p.Execution.Prep.BatchArgs
		fmt.Fprintf(tw, "%s\tprep\t%d\t%d\t%s\t-\n", key, prep.Nodes, prep.TasksPerNode, prep.Walltime)
		plan, err := aqmeval.NewPlan(c, key)
		if err != nil {
			return err
		}
		for _, t := range plan.Tasks {
			after := string(aqmeval.SavePaired)
			if t == aqmeval.SavePaired {
				after = "prep"
			}
			ba := c.BatchArgsFor(key, t)
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", key, t, ba.Nodes, ba.TasksPerNode, ba.Walltime, after)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("aqmutil: %v", err)
	}
	return nil
}
