/*
DESCRIPTION
  station.go composes the acquisition engine, interlock monitor and feedback
  controllers of a beamline station and runs them as independent tasks.

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

// Package station composes the periodic tasks of a beamline: one acquisition
// engine, an interlock monitor watching its snapshots and any number of
// feedback controllers consulting the monitor. The tasks share nothing but
// published snapshots and the interlock's tripped state.
package station

import (
	"context"
	"fmt"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/config"
	"github.com/ausocean/beamctl/controller"
	"github.com/ausocean/beamctl/interlock"
	"github.com/ausocean/beamctl/pv"
)

// Station holds the tasks of a beamline.
type Station struct {
	cfg   config.Config
	log   logging.Logger
	eng   *acquisition.Engine
	mon   *interlock.Monitor
	ctrls []*controller.Controller
}

// New builds a station reading and writing process variables through vars.
func New(vars pv.Variables, cfg config.Config, log logging.Logger) (*Station, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	eng, err := acquisition.New(vars, cfg.Acquisition, log)
	if err != nil {
		return nil, fmt.Errorf("could not create acquisition engine: %w", err)
	}
	mon, err := interlock.New(cfg.Interlock, log)
	if err != nil {
		return nil, fmt.Errorf("could not create interlock monitor: %w", err)
	}
	if cfg.Interlock.Period == 0 {
		eng.Subscribe(mon.Evaluate)
	}

	s := &Station{cfg: cfg, log: log, eng: eng, mon: mon}
	for _, cc := range cfg.Controllers {
		c, err := controller.New(vars, eng, mon, cc, log)
		if err != nil {
			return nil, fmt.Errorf("could not create controller %s: %w", cc.Name, err)
		}
		s.ctrls = append(s.ctrls, c)
	}
	return s, nil
}

// Engine returns the acquisition engine.
func (s *Station) Engine() *acquisition.Engine { return s.eng }

// Monitor returns the interlock monitor.
func (s *Station) Monitor() *interlock.Monitor { return s.mon }

// Controllers returns the controllers in configuration order.
func (s *Station) Controllers() []*controller.Controller { return s.ctrls }

// Controller returns the named controller.
func (s *Station) Controller(name string) (*controller.Controller, bool) {
	for _, c := range s.ctrls {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Run starts acquisition, the interlock and the controllers, and blocks until
// ctx is done. Controllers are then stopped, letting any actuator write in
// progress complete, before acquisition stops.
func (s *Station) Run(ctx context.Context) error {
	err := s.eng.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	defer s.eng.Stop()

	// Controllers run on their own context so that cancellation reaches them
	// through Stop rather than mid-cycle.
	cctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if p := s.cfg.Interlock.Period; p > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mon.Run(cctx, s.eng, p)
		}()
	}
	for _, c := range s.ctrls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Run(cctx)
		}()
	}
	s.log.Info("station running", "controllers", len(s.ctrls))

	<-ctx.Done()
	s.log.Info("stopping station")
	for _, c := range s.ctrls {
		c.Stop(cctx)
	}
	cancel()
	wg.Wait()
	return nil
}
