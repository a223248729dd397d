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
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StateFileName is the name of the file recording the progress of a
// package in its run directory.
const StateFileName = "state.yaml"

// packageState records the progress of a package so that initialization
// and individual tasks may be run by separate processes.
type packageState struct {
	Initialized bool     `yaml:"initialized"`
	Completed   []string `yaml:"completed,omitempty"`
}

func (s *packageState) done(label string) bool {
	for _, c := range s.Completed {
		if c == label {
			return true
		}
	}
	return false
}

func (s *packageState) complete(label string) {
	if !s.done(label) {
		s.Completed = append(s.Completed, label)
	}
}

func loadState(path string) (*packageState, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return new(packageState), nil
	} else if err != nil {
		return nil, fmt.Errorf("aqmeval: reading package state: %v", err)
	}
	s := new(packageState)
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("aqmeval: reading package state %s: %v", path, err)
	}
	return s, nil
}

func saveState(path string, s *packageState) error {
	b := new(bytes.Buffer)
	if err := yaml.NewEncoder(b).Encode(s); err != nil {
		return fmt.Errorf("aqmeval: writing package state: %v", err)
	}
	return writeFileAtomic(path, b.Bytes())
}

// writeFileAtomic writes data to a temporary file next to path and
// renames it into place, so that path either holds all of data or does
// not change.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("aqmeval: %v", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("aqmeval: writing %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("aqmeval: writing %s: %v", path, err)
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("aqmeval: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("aqmeval: writing %s: %v", path, err)
	}
	return nil
}
