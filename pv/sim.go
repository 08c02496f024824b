/*
DESCRIPTION
  sim.go provides an in-memory simulated plant implementing Variables,
  used by tests and by the host when no live process variables are available.

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

package pv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSimClock sets the clock used to timestamp samples.
func WithSimClock(now func() time.Time) SimOption {
	return func(s *Sim) { s.now = now }
}

// WithLatency delays every read and write by d, or until the context is done.
func WithLatency(d time.Duration) SimOption {
	return func(s *Sim) { s.latency = d }
}

// Sim is a concurrency safe simulated plant. Signals may be coupled to
// actuators so that writes to an actuator move the signals that depend on it,
// and may be scripted to produce a value per read.
type Sim struct {
	mu      sync.Mutex
	vars    map[string]*simVar
	deps    map[string]*response // Keyed by signal.
	writes  []Sample
	now     func() time.Time
	latency time.Duration
}

type simVar struct {
	value   float64
	quality Quality
	err     error
	script  func(n int) float64
	reads   int
}

// response describes a signal as offset + sum(gain*actuator).
type response struct {
	offset float64
	gains  map[string]float64
}

// NewSim returns a new Sim with no variables.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		vars: make(map[string]*simVar),
		deps: make(map[string]*response),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set defines name if needed and sets its value. Set does not clear a failure
// injected with Fail.
func (s *Sim) Set(name string, v float64) {
	s.mu.Lock()
	s.variable(name).value = v
	s.mu.Unlock()
}

// Get returns the current value of name.
func (s *Sim) Get(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.vars[name]
	if !ok {
		return 0, false
	}
	return sv.value, true
}

// Fail causes reads and writes of name to return err. A nil err clears the
// failure.
func (s *Sim) Fail(name string, err error) {
	s.mu.Lock()
	s.variable(name).err = err
	s.mu.Unlock()
}

// SetQuality sets the quality reported with reads of name.
func (s *Sim) SetQuality(name string, q Quality) {
	s.mu.Lock()
	s.variable(name).quality = q
	s.mu.Unlock()
}

// Script makes reads of name return fn(n), where n counts reads of name from
// zero. Writes to a scripted variable are recorded but do not change what it
// reads.
func (s *Sim) Script(name string, fn func(n int) float64) {
	s.mu.Lock()
	sv := s.variable(name)
	sv.script = fn
	sv.reads = 0
	s.mu.Unlock()
}

// Couple makes signal respond to actuator with the given gain. Signals may be
// coupled to several actuators; offset is the signal value with all actuators
// at zero. The signal is updated immediately and after every write to one of
// its actuators.
func (s *Sim) Couple(actuator, signal string, gain, offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variable(actuator)
	r, ok := s.deps[signal]
	if !ok {
		r = &response{gains: make(map[string]float64)}
		s.deps[signal] = r
	}
	r.offset = offset
	r.gains[actuator] = gain
	s.respond(signal, r)
}

// Writes returns the history of successful writes.
func (s *Sim) Writes() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := make([]Sample, len(s.writes))
	copy(w, s.writes)
	return w
}

// Read implements Reader.
func (s *Sim) Read(ctx context.Context, name string) (Sample, error) {
	if err := s.wait(ctx); err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.vars[name]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	if sv.err != nil {
		return Sample{}, sv.err
	}
	if sv.script != nil {
		sv.value = sv.script(sv.reads)
		sv.reads++
	}
	return Sample{Name: name, Value: sv.value, Time: s.now(), Quality: sv.quality}, nil
}

// Write implements Writer.
func (s *Sim) Write(ctx context.Context, name string, v float64) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sv, ok := s.vars[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVariable, name)
	}
	if sv.err != nil {
		return sv.err
	}
	sv.value = v
	s.writes = append(s.writes, Sample{Name: name, Value: v, Time: s.now(), Quality: Good})
	for sig, r := range s.deps {
		if _, ok := r.gains[name]; ok {
			s.respond(sig, r)
		}
	}
	return nil
}

func (s *Sim) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// variable returns the named variable, creating it if needed. s.mu must be
// held.
func (s *Sim) variable(name string) *simVar {
	sv, ok := s.vars[name]
	if !ok {
		sv = &simVar{}
		s.vars[name] = sv
	}
	return sv
}

// respond recalculates signal from its actuators. s.mu must be held.
func (s *Sim) respond(signal string, r *response) {
	v := r.offset
	for act, g := range r.gains {
		v += g * s.variable(act).value
	}
	sv := s.variable(signal)
	if sv.script == nil {
		sv.value = v
	}
}
