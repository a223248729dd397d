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
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/aqmeval"
)

// CommandAnalysis runs an external program for each analysis. The
// program is called as
//
//	Command Args... --steps step1,step2 control
type CommandAnalysis struct {
	Command string
	Args    []string

	Stdout, Stderr io.Writer
	Log            logrus.FieldLogger
}

// Execute implements aqmeval.Analysis.
func (a *CommandAnalysis) Execute(control string, steps []aqmeval.Step) error {
	if a.Command == "" {
		return fmt.Errorf("aqmutil: no analysis command is set")
	}
	s := make([]string, len(steps))
	for i, st := range steps {
		s[i] = string(st)
	}
	args := append(append([]string(nil), a.Args...), "--steps", strings.Join(s, ","), control)
	cmd := exec.Command(a.Command, args...)
	cmd.Stdout = a.Stdout
	cmd.Stderr = a.Stderr
	if a.Log != nil {
		a.Log.WithFields(logrus.Fields{
			"command": a.Command,
			"control": control,
			"steps":   s,
		}).Info("running analysis")
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("aqmutil: analysis of %s: %v", control, err)
	}
	return nil
}
