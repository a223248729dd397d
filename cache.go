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
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/spatialmodel/aqmeval/internal/hash"
)

// ScorecardRun is one scorecard rendered for one method.
type ScorecardRun struct {
	Scorecard string
	Method    ScorecardMethod
}

// Label returns the task label that runs s.
func (s ScorecardRun) Label() string {
	return fmt.Sprintf("%s_%s_%s", Scorecard, s.Scorecard, strings.ToLower(string(s.Method)))
}

// Plan holds the values computed from a configuration for one package.
type Plan struct {
	Kind PackageKind

	// Models holds the evaluated model keys.
	Models []string

	// Tasks holds the effective tasks in order.
	Tasks []TaskKey

	// Scorecards holds one entry per scorecard and method when the
	// scorecard task is effective.
	Scorecards []ScorecardRun
}

// HasTask reports whether t is one of the plan's effective tasks.
func (p *Plan) HasTask(t TaskKey) bool {
	for _, e := range p.Tasks {
		if e == t {
			return true
		}
	}
	return false
}

// NewPlan computes the plan of package key.
func NewPlan(c *Config, key PackageKey) (*Plan, error) {
	kind, err := Kind(key)
	if err != nil {
		return nil, err
	}
	tasks, err := EffectiveTasks(c, key)
	if err != nil {
		return nil, err
	}
	p := &Plan{Kind: kind, Models: EvaluatedModels(c), Tasks: tasks}
	if p.HasTask(Scorecard) {
		for _, s := range c.ScorecardKeys() {
			for _, m := range ScorecardMethods() {
				p.Scorecards = append(p.Scorecards, ScorecardRun{Scorecard: s, Method: m})
			}
		}
	}
	return p, nil
}

// PlanCache memoizes plans by configuration content and package, so
// configurations with equal contents share plans and distinct
// configurations never do. It is safe for concurrent use.
type PlanCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewPlanCache returns a cache holding at most maxEntries plans.
func NewPlanCache(maxEntries int) *PlanCache {
	return &PlanCache{cache: lru.New(maxEntries)}
}

// Plan returns the plan of package key in c, computing it if it is not
// already cached.
func (pc *PlanCache) Plan(c *Config, key PackageKey) (*Plan, error) {
	k := hash.Hash(c) + "/" + string(key)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if p, ok := pc.cache.Get(k); ok {
		return p.(*Plan), nil
	}
	p, err := NewPlan(c, key)
	if err != nil {
		return nil, err
	}
	pc.cache.Add(k, p)
	return p, nil
}

// Len returns the number of cached plans.
func (pc *PlanCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.cache.Len()
}
