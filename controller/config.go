/*
DESCRIPTION
  config.go provides controller configuration and its validation.

AUTHORS
  The beamctl authors

LICENSE
  Copyright (C) 2026 the Australian Ocean Lab (AusOcean)

  It is free software: you can redistribute it and/or modify them
  under the terms of the GNU General Public License as published by the
  Free Software Foundation, either version 3 of the License, or (at your
  option) any later version.

  It is distributed in the hope that it will be useful, but WITHOUT
  ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
  FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License
  for more details.

  You should have received a copy of the GNU General Public License
  along with beamctl in gpl.txt. If not, see http://www.gnu.org/licenses.
*/

package controller

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ausocean/utils/sliceutils"

	"github.com/ausocean/beamctl/search"
)

// Strategy names.
const (
	StrategyGain          = "gain"
	StrategyPatternSearch = "pattern-search"
)

// Objective names for the pattern-search strategy.
const (
	ObjectiveError    = "error"    // |setpoint - signal|, minimised.
	ObjectiveMinimize = "minimize" // First search signal, minimised.
	ObjectiveMaximize = "maximize" // First search signal, maximised.
	ObjectiveRMS      = "rms"      // RMS deviation of search signals from target, minimised.
)

// Tuning limits.
const (
	minGain = 0.001
	maxGain = 1000
)

// Defaults applied by New where fields are left zero.
const (
	DefaultWriteTimeout = time.Second
	DefaultPeriod       = 100 * time.Millisecond
)

// Actuator describes a writable process variable and its safe operating range.
type Actuator struct {
	Name string   `koanf:"name"`
	Min  float64  `koanf:"min"`
	Max  float64  `koanf:"max"`
	Safe *float64 `koanf:"safe"` // Written on fault if set.
}

// SearchConfig holds pattern-search strategy parameters.
type SearchConfig struct {
	Steps         []float64     `koanf:"steps"`
	Tolerance     float64       `koanf:"tolerance"`
	MaxIterations int           `koanf:"maxiterations"`
	Contraction   float64       `koanf:"contraction"`
	Objective     string        `koanf:"objective"`
	Signals       []string      `koanf:"signals"`
	Target        float64       `koanf:"target"`      // For the rms objective.
	EvalTimeout   time.Duration `koanf:"evaltimeout"` // Wait for a post-settle snapshot.
}

// Config holds the configuration of one feedback controller.
type Config struct {
	Name            string        `koanf:"name"`
	Signal          string        `koanf:"signal"`
	Actuators       []Actuator    `koanf:"actuators"`
	Setpoint        float64       `koanf:"setpoint"`
	Strategy        string        `koanf:"strategy"`
	Gain            float64       `koanf:"gain"`
	MaxStep         float64       `koanf:"maxstep"`
	MaxCorrection   float64       `koanf:"maxcorrection"` // Per cycle change limit; zero disables.
	Tolerance       float64       `koanf:"tolerance"`
	MaxIterations   int           `koanf:"maxiterations"`
	Settle          time.Duration `koanf:"settle"`
	Period          time.Duration `koanf:"period"`
	ReadTimeout     time.Duration `koanf:"readtimeout"`
	WriteTimeout    time.Duration `koanf:"writetimeout"`
	MaxBadSnapshots int           `koanf:"maxbadsnapshots"` // Zero waits indefinitely.
	Regulate        bool          `koanf:"regulate"`        // Resume correcting from CONVERGED on drift.
	Cutoff          string        `koanf:"cutoff"`          // Written with CutoffValue on fault.
	CutoffValue     float64       `koanf:"cutoffvalue"`
	Search          SearchConfig  `koanf:"search"`
}

// Validate checks c for consistency.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("no controller name")
	}
	if len(c.Actuators) == 0 {
		return fmt.Errorf("%s: no actuators", c.Name)
	}
	seen := make(map[string]bool)
	for _, a := range c.Actuators {
		switch {
		case a.Name == "":
			return fmt.Errorf("%s: actuator with no name", c.Name)
		case seen[a.Name]:
			return fmt.Errorf("%s: duplicate actuator %s", c.Name, a.Name)
		case !(a.Min < a.Max):
			return fmt.Errorf("%s: actuator %s has invalid range [%g, %g]", c.Name, a.Name, a.Min, a.Max)
		case a.Safe != nil && (*a.Safe < a.Min || *a.Safe > a.Max):
			return fmt.Errorf("%s: safe value %g for %s outside range", c.Name, *a.Safe, a.Name)
		}
		seen[a.Name] = true
	}
	if !(c.Tolerance > 0) {
		return fmt.Errorf("%s: tolerance must be positive", c.Name)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("%s: max iterations must be at least 1", c.Name)
	}
	if c.Settle < 0 || c.Period < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%s: negative duration", c.Name)
	}
	if c.MaxCorrection < 0 || c.MaxBadSnapshots < 0 {
		return fmt.Errorf("%s: negative limit", c.Name)
	}

	switch c.Strategy {
	case StrategyGain, "":
		if c.Signal == "" {
			return fmt.Errorf("%s: gain strategy needs a signal", c.Name)
		}
		if len(c.Actuators) != 1 {
			return fmt.Errorf("%s: gain strategy drives exactly one actuator", c.Name)
		}
		if g := math.Abs(c.Gain); g < minGain || g > maxGain {
			return fmt.Errorf("%s: inappropriate gain value: %f", c.Name, c.Gain)
		}
		if !(c.MaxStep > 0) {
			return fmt.Errorf("%s: max step must be positive", c.Name)
		}
	case StrategyPatternSearch:
		s := c.Search
		if len(s.Steps) != len(c.Actuators) {
			return fmt.Errorf("%s: %d search steps for %d actuators", c.Name, len(s.Steps), len(c.Actuators))
		}
		opts := search.Options{Steps: s.Steps, Tolerance: s.Tolerance, MaxIterations: s.MaxIterations, Contraction: s.Contraction}
		err := opts.Validate(len(c.Actuators))
		if err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
		switch s.Objective {
		case ObjectiveError:
			if c.Signal == "" {
				return fmt.Errorf("%s: error objective needs a signal", c.Name)
			}
		case ObjectiveMinimize, ObjectiveMaximize, ObjectiveRMS:
			if len(s.Signals) == 0 && c.Signal == "" {
				return fmt.Errorf("%s: %s objective needs signals", c.Name, s.Objective)
			}
		default:
			return fmt.Errorf("%s: unknown objective %q", c.Name, s.Objective)
		}
		if s.EvalTimeout < 0 {
			return fmt.Errorf("%s: negative evaluation timeout", c.Name)
		}
	default:
		return fmt.Errorf("%s: unknown strategy %q", c.Name, c.Strategy)
	}
	return nil
}

// Required returns the names of the signals the controller needs to be good
// before it acts.
func (c Config) Required() []string {
	var names []string
	add := func(n string) {
		if n != "" && !sliceutils.ContainsString(names, n) {
			names = append(names, n)
		}
	}
	add(c.Signal)
	if c.Strategy == StrategyPatternSearch {
		for _, n := range c.Search.Signals {
			add(n)
		}
	}
	return names
}
