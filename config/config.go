/*
DESCRIPTION
  config.go provides loading and validation of beamctl configuration.

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

// Package config provides the beamctl configuration. Defaults are overlaid
// with a YAML file using koanf.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ausocean/utils/sliceutils"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/controller"
	"github.com/ausocean/beamctl/interlock"
	"github.com/ausocean/beamctl/smoothing"
)

// Process variable sources.
const (
	SourceSim    = "sim"
	SourceWebmap = "webmap"
)

// Log verbosity names.
var verbosities = []string{"debug", "info", "warning", "error", "fatal"}

// Log configures logging.
type Log struct {
	Dir       string `koanf:"dir"` // Empty logs to stderr only.
	Verbosity string `koanf:"verbosity"`
	Suppress  bool   `koanf:"suppress"`
	MaxSize   int    `koanf:"maxsize"` // MB.
	MaxBackup int    `koanf:"maxbackup"`
	MaxAge    int    `koanf:"maxage"` // Days.
}

// WebmapVariable maps a process variable name to its webmap request.
type WebmapVariable struct {
	Name    string `koanf:"name"`
	Request string `koanf:"request"`
}

// Webmap configures the webmap process variable client.
type Webmap struct {
	URL       string           `koanf:"url"` // Read URL.
	Referer   string           `koanf:"referer"`
	MinUpdate time.Duration    `koanf:"minupdate"`
	Ready     time.Duration    `koanf:"ready"` // Longest wait for the server at startup.
	Variables []WebmapVariable `koanf:"variables"`
}

// SimVariable is an initial simulated process variable value.
type SimVariable struct {
	Name  string  `koanf:"name"`
	Value float64 `koanf:"value"`
}

// Coupling makes a simulated signal respond to an actuator.
type Coupling struct {
	Actuator string  `koanf:"actuator"`
	Signal   string  `koanf:"signal"`
	Gain     float64 `koanf:"gain"`
	Offset   float64 `koanf:"offset"`
}

// Sim configures the simulated plant.
type Sim struct {
	Latency   time.Duration `koanf:"latency"`
	Variables []SimVariable `koanf:"variables"`
	Couplings []Coupling    `koanf:"couplings"`
}

// Config is the complete beamctl configuration.
type Config struct {
	Addr        string              `koanf:"addr"`
	Source      string              `koanf:"source"`
	Log         Log                 `koanf:"log"`
	Webmap      Webmap              `koanf:"webmap"`
	Sim         Sim                 `koanf:"sim"`
	Acquisition acquisition.Config  `koanf:"acquisition"`
	Interlock   interlock.Config    `koanf:"interlock"`
	Controllers []controller.Config `koanf:"controllers"`
}

// Defaults returns the default configuration. It has no signals or
// controllers and so does not validate on its own.
func Defaults() Config {
	return Config{
		Addr:   ":8000",
		Source: SourceSim,
		Log: Log{
			Verbosity: "info",
			MaxSize:   500,
			MaxBackup: 10,
			MaxAge:    28,
		},
		Webmap: Webmap{
			MinUpdate: 500 * time.Millisecond,
			Ready:     30 * time.Second,
		},
		Acquisition: acquisition.Config{
			Interval:    100 * time.Millisecond,
			ReadTimeout: 50 * time.Millisecond,
			StatsWindow: acquisition.DefaultStatsWindow,
		},
		Interlock: interlock.Config{
			Debounce:   3,
			DutyWindow: time.Minute,
		},
	}
}

// Example returns a complete configuration for a simulated two corrector
// beamline.
func Example() Config {
	c := Defaults()
	ma := smoothing.Config{Kind: smoothing.MovingAverage, Window: 4, MaxInvalid: 10}
	c.Sim = Sim{
		Variables: []SimVariable{{Name: "BEAM", Value: 1}, {Name: "CURRENT", Value: 40}},
		Couplings: []Coupling{
			{Actuator: "COR1", Signal: "BPM1", Gain: 1, Offset: 3},
			{Actuator: "COR2", Signal: "BPM2", Gain: 0.8, Offset: -2},
		},
	}
	c.Acquisition.Signals = []acquisition.SignalConfig{
		{Name: "BPM1", Filter: ma},
		{Name: "BPM2", Filter: ma},
		{Name: "CURRENT", Filter: smoothing.Config{Kind: smoothing.Exponential, Alpha: 0.3}},
	}
	c.Interlock.Thresholds = []interlock.Threshold{
		{Signal: "BPM1", Rate: 50, Absolute: 20},
		{Signal: "BPM2", Rate: 50, Absolute: 20},
		{Signal: "CURRENT", Absolute: 100},
	}
	zero := 0.0
	c.Controllers = []controller.Config{
		{
			Name:          "orbit-x",
			Signal:        "BPM1",
			Actuators:     []controller.Actuator{{Name: "COR1", Min: -10, Max: 10, Safe: &zero}},
			Strategy:      controller.StrategyGain,
			Gain:          0.5,
			MaxStep:       1,
			MaxCorrection: 2,
			Tolerance:     0.05,
			MaxIterations: 50,
			Settle:        500 * time.Millisecond,
			Period:        200 * time.Millisecond,
			WriteTimeout:  time.Second,
			Regulate:      true,
			Cutoff:        "BEAM",
		},
		{
			Name:          "orbit-y",
			Actuators:     []controller.Actuator{{Name: "COR2", Min: -10, Max: 10, Safe: &zero}},
			Strategy:      controller.StrategyPatternSearch,
			Tolerance:     0.05,
			MaxIterations: 10,
			Settle:        300 * time.Millisecond,
			Period:        200 * time.Millisecond,
			WriteTimeout:  time.Second,
			Search: controller.SearchConfig{
				Steps:         []float64{1},
				Tolerance:     0.02,
				MaxIterations: 40,
				Objective:     controller.ObjectiveRMS,
				Signals:       []string{"BPM2"},
			},
		},
	}
	return c
}

// Load returns the defaults overlaid with the YAML file at path. A missing
// file is not an error.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("could not load defaults: %w", err)
	}
	if path != "" {
		err = k.Load(file.Provider(path), yaml.Parser())
		if err != nil && !strings.Contains(err.Error(), "no such") {
			return Config{}, fmt.Errorf("could not load %s: %w", path, err)
		}
	}

	var c Config
	err = k.Unmarshal("", &c)
	if err != nil {
		return Config{}, fmt.Errorf("could not unmarshal config: %w", err)
	}
	return c, nil
}

// Validate checks every section and that controllers and interlock thresholds
// refer to acquired signals.
func (c Config) Validate() error {
	switch c.Source {
	case SourceSim:
	case SourceWebmap:
		if c.Webmap.URL == "" {
			return errors.New("webmap source needs a url")
		}
		for _, v := range c.Webmap.Variables {
			if v.Name == "" || v.Request == "" {
				return fmt.Errorf("webmap variable %q needs a name and request", v.Name)
			}
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if !sliceutils.ContainsString(verbosities, strings.ToLower(c.Log.Verbosity)) {
		return fmt.Errorf("unknown log verbosity %q", c.Log.Verbosity)
	}

	err := c.Acquisition.Validate()
	if err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}
	signals := c.Signals()

	err = c.Interlock.Validate()
	if err != nil {
		return fmt.Errorf("interlock: %w", err)
	}
	for _, th := range c.Interlock.Thresholds {
		if !sliceutils.ContainsString(signals, th.Signal) {
			return fmt.Errorf("interlock: %s is not acquired", th.Signal)
		}
	}

	if c.Source == SourceWebmap {
		var mapped []string
		for _, v := range c.Webmap.Variables {
			mapped = append(mapped, v.Name)
		}
		for _, n := range c.variables() {
			if !sliceutils.ContainsString(mapped, n) {
				return fmt.Errorf("webmap: no request for %s", n)
			}
		}
	}

	var names []string
	owner := make(map[string]string) // Actuator to the controller driving it.
	for _, cc := range c.Controllers {
		err := cc.Validate()
		if err != nil {
			return fmt.Errorf("controller: %w", err)
		}
		if sliceutils.ContainsString(names, cc.Name) {
			return fmt.Errorf("duplicate controller %s", cc.Name)
		}
		names = append(names, cc.Name)
		for _, a := range cc.Actuators {
			if o, ok := owner[a.Name]; ok {
				return fmt.Errorf("actuator %s driven by both %s and %s", a.Name, o, cc.Name)
			}
			owner[a.Name] = cc.Name
		}
		for _, s := range cc.Required() {
			if !sliceutils.ContainsString(signals, s) {
				return fmt.Errorf("controller %s: %s is not acquired", cc.Name, s)
			}
		}
	}

	// A cutoff may be shared between controllers but not be another's actuator.
	for _, cc := range c.Controllers {
		if o, ok := owner[cc.Cutoff]; ok && cc.Cutoff != "" {
			return fmt.Errorf("cutoff %s of %s is driven by %s", cc.Cutoff, cc.Name, o)
		}
	}
	return nil
}

// Signals returns the names of the acquired signals.
func (c Config) Signals() []string {
	names := make([]string, len(c.Acquisition.Signals))
	for i, s := range c.Acquisition.Signals {
		names[i] = s.Name
	}
	return names
}

// variables returns the names of every process variable read or written.
func (c Config) variables() []string {
	names := c.Signals()
	add := func(n string) {
		if n != "" && !sliceutils.ContainsString(names, n) {
			names = append(names, n)
		}
	}
	for _, cc := range c.Controllers {
		for _, a := range cc.Actuators {
			add(a.Name)
		}
		add(cc.Cutoff)
	}
	return names
}
