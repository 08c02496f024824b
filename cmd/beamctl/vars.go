/*
DESCRIPTION
  vars.go provides the table of controller variables tunable at runtime.

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

package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ausocean/utils/sliceutils"

	"github.com/ausocean/beamctl/controller"
)

var errUnknownVar = errors.New("unknown variable")

// Information for controller variables that are tunable. A variable with no
// strategies applies to every controller.
var variables = []struct {
	name       string
	typ        string
	strategies []string
	update     func(c *controller.Controller, value string) error
}{
	{
		name: "Setpoint",
		typ:  "float",
		update: func(c *controller.Controller, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("could not convert Setpoint variable value to float: %w", err)
			}
			return c.SetSetpoint(f)
		},
	},
	{
		name:       "Gain",
		typ:        "float",
		strategies: []string{controller.StrategyGain},
		update: func(c *controller.Controller, v string) error {
			g, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("could not convert Gain variable value to float: %w", err)
			}
			return c.SetGain(g)
		},
	},
	{
		name:       "MaxStep",
		typ:        "float",
		strategies: []string{controller.StrategyGain},
		update: func(c *controller.Controller, v string) error {
			s, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("could not convert MaxStep variable value to float: %w", err)
			}
			return c.SetMaxStep(s)
		},
	},
	{
		name: "Tolerance",
		typ:  "float",
		update: func(c *controller.Controller, v string) error {
			t, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("could not convert Tolerance variable value to float: %w", err)
			}
			return c.SetTolerance(t)
		},
	},
	{
		name: "Settle",
		typ:  "duration",
		update: func(c *controller.Controller, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("could not convert Settle variable value to duration: %w", err)
			}
			return c.SetSettle(d)
		},
	},
}

// Uses variables []struct to create a map of name->type format for the
// variables that apply to c.
func createVarMap(c *controller.Controller) map[string]string {
	m := make(map[string]string, len(variables))
	for _, v := range variables {
		if applies(v.strategies, c) {
			m[v.name] = v.typ
		}
	}
	return m
}

// updateVar sets the named variable of c from its string value.
func updateVar(c *controller.Controller, name, value string) error {
	for _, v := range variables {
		if v.name == name && applies(v.strategies, c) {
			return v.update(c, value)
		}
	}
	return fmt.Errorf("%w: %s", errUnknownVar, name)
}

func applies(strategies []string, c *controller.Controller) bool {
	return len(strategies) == 0 || sliceutils.ContainsString(strategies, c.Config().Strategy)
}
