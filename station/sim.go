/*
DESCRIPTION
  sim.go provides construction of a simulated plant from configuration.

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

package station

import (
	"github.com/ausocean/beamctl/config"
	"github.com/ausocean/beamctl/pv"
)

// NewSim returns a simulated plant with the configured variables and
// couplings. Actuators named only in controllers are created at zero.
func NewSim(cfg config.Config) *pv.Sim {
	sim := pv.NewSim(pv.WithLatency(cfg.Sim.Latency))
	for _, cc := range cfg.Controllers {
		for _, a := range cc.Actuators {
			sim.Set(a.Name, 0)
		}
	}
	for _, s := range cfg.Acquisition.Signals {
		sim.Set(s.Name, 0)
	}
	for _, v := range cfg.Sim.Variables {
		sim.Set(v.Name, v.Value)
	}
	for _, c := range cfg.Sim.Couplings {
		sim.Couple(c.Actuator, c.Signal, c.Gain, c.Offset)
	}
	return sim
}
