/*
DESCRIPTION
  controller.go provides a feedback controller that measures signals from
  acquisition snapshots, computes corrections and writes them to actuators,
  faulting to safe values when the interlock trips or a limit is breached.

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

// Package controller provides closed-loop feedback controllers. A controller
// is a state machine stepped once per control cycle with the latest
// acquisition snapshot. It consults an interlock before anything else on every
// step and enters FAULTED, writing actuator safe values, when the interlock
// is tripped or a read, write or limit fails.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/google/uuid"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/search"
)

// Mode is a controller state.
type Mode int

// Controller modes.
const (
	Idle Mode = iota
	Armed
	Measuring
	Computing
	Applying
	Settling
	Converged
	Faulted
	Stopped
)

var modeNames = [...]string{
	Idle:      "IDLE",
	Armed:     "ARMED",
	Measuring: "MEASURING",
	Computing: "COMPUTING",
	Applying:  "APPLYING",
	Settling:  "SETTLING",
	Converged: "CONVERGED",
	Faulted:   "FAULTED",
	Stopped:   "STOPPED",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// active reports whether m is a mode in which the controller acts.
func (m Mode) active() bool { return m >= Armed && m <= Converged }

// Tripper reports interlock state.
type Tripper interface {
	Tripped() bool
}

// Option configures a Controller.
type Option func(*Controller) error

// WithClock sets the clock used for settle timing and fault records.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) error {
		if now == nil {
			return errors.New("nil clock")
		}
		c.now = now
		return nil
	}
}

// WithTransitionHook registers fn to be called on every mode change. fn is
// called with the controller's state lock held and must not call back into
// the controller.
func WithTransitionHook(fn func(from, to Mode)) Option {
	return func(c *Controller) error {
		c.hooks = append(c.hooks, fn)
		return nil
	}
}

// WithStrategy replaces the configured strategy.
func WithStrategy(s Strategy) Option {
	return func(c *Controller) error {
		if s == nil {
			return errors.New("nil strategy")
		}
		c.strategy = s
		return nil
	}
}

// Status is a point in time view of a controller.
type Status struct {
	Name       string
	Mode       Mode
	Setpoint   float64
	Iteration  int
	Metric     float64 // Last convergence metric; NaN before the first.
	Settings   []float64
	Correction []float64 // Last applied change.
	LastSeq    uint64    // Last snapshot consumed.
	Fault      *Fault    // Most recent fault.
}

// Controller is a feedback controller.
type Controller struct {
	cfg      Config
	vars     pv.Variables
	src      acquisition.Source
	lock     Tripper
	log      logging.Logger
	now      func() time.Time
	strategy Strategy
	required []string
	hooks    []func(from, to Mode)

	step     sync.Mutex // Serialises steps and commands.
	stopping atomic.Bool
	cancelMu sync.Mutex
	cancel   context.CancelFunc // Cancels an in-progress computation.

	// Fields below are guarded by mu. They are only modified with step held.
	mu          sync.Mutex
	mode        Mode
	setpoint    float64
	gain        float64
	maxStep     float64
	tolerance   float64
	settle      time.Duration
	settings    []float64
	last        Correction
	iteration   int
	metric      float64
	lastSeq     uint64
	appliedSeq  uint64
	settleUntil time.Time
	bad         int
	faults      []Fault
}

// New returns a new Controller in IDLE. vars provides actuator access, src the
// latest snapshot for strategies that wait on the plant and lock the
// interlock state.
func New(vars pv.Variables, src acquisition.Source, lock Tripper, cfg Config, log logging.Logger, opts ...Option) (*Controller, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if lock == nil {
		return nil, errors.New("no interlock")
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyGain
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = cfg.WriteTimeout
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}

	c := &Controller{
		cfg:       cfg,
		vars:      vars,
		src:       src,
		lock:      lock,
		log:       log,
		now:       time.Now,
		required:  cfg.Required(),
		setpoint:  cfg.Setpoint,
		gain:      cfg.Gain,
		maxStep:   cfg.MaxStep,
		tolerance: cfg.Tolerance,
		settle:    cfg.Settle,
		metric:    math.NaN(),
	}
	for i, opt := range opts {
		err := opt(c)
		if err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}
	if c.strategy == nil {
		switch cfg.Strategy {
		case StrategyGain:
			c.strategy = gainLaw{signal: cfg.Signal}
		case StrategyPatternSearch:
			if src == nil {
				return nil, errors.New("pattern search needs a snapshot source")
			}
			c.strategy = newPatternSearch(c)
		}
	}
	return c, nil
}

// Name returns the controller's name.
func (c *Controller) Name() string { return c.cfg.Name }

// Config returns the controller's configuration.
func (c *Controller) Config() Config { return c.cfg }

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Status returns the controller's status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Name:       c.cfg.Name,
		Mode:       c.mode,
		Setpoint:   c.setpoint,
		Iteration:  c.iteration,
		Metric:     c.metric,
		Settings:   append([]float64(nil), c.settings...),
		Correction: append([]float64(nil), c.last.Delta...),
		LastSeq:    c.lastSeq,
	}
	if n := len(c.faults); n > 0 {
		f := c.faults[n-1]
		s.Fault = &f
	}
	return s
}

// Faults returns the retained fault history, oldest first.
func (c *Controller) Faults() []Fault {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fault(nil), c.faults...)
}

// SetSetpoint sets the target value of the controlled signal.
func (c *Controller) SetSetpoint(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("inappropriate setpoint value: %f", v)
	}
	c.mu.Lock()
	c.setpoint = v
	c.mu.Unlock()
	return nil
}

// SetGain sets the proportional gain.
func (c *Controller) SetGain(g float64) error {
	if a := math.Abs(g); a < minGain || a > maxGain {
		return fmt.Errorf("inappropriate gain value: %f", g)
	}
	c.mu.Lock()
	c.gain = g
	c.mu.Unlock()
	return nil
}

// SetMaxStep sets the largest change the gain law makes in one cycle.
func (c *Controller) SetMaxStep(s float64) error {
	if !(s > 0) || math.IsInf(s, 0) {
		return fmt.Errorf("inappropriate max step value: %f", s)
	}
	c.mu.Lock()
	c.maxStep = s
	c.mu.Unlock()
	return nil
}

// SetTolerance sets the convergence tolerance.
func (c *Controller) SetTolerance(t float64) error {
	if !(t > 0) || math.IsInf(t, 0) {
		return fmt.Errorf("inappropriate tolerance value: %f", t)
	}
	c.mu.Lock()
	c.tolerance = t
	c.mu.Unlock()
	return nil
}

// SetSettle sets the time allowed for the plant to respond to a correction.
func (c *Controller) SetSettle(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("inappropriate settle time: %v", d)
	}
	c.mu.Lock()
	c.settle = d
	c.mu.Unlock()
	return nil
}

// Start arms an IDLE controller after reading back the current actuator
// settings. If the interlock is tripped the controller faults and
// ErrInterlockTripped is returned. A failed read back leaves the controller
// IDLE with nothing written, so Start may be retried.
func (c *Controller) Start(ctx context.Context) error {
	c.step.Lock()
	defer c.step.Unlock()

	if m := c.Mode(); m != Idle {
		return fmt.Errorf("cannot start from %s: %w", m, ErrNotIdle)
	}
	if c.lock.Tripped() {
		c.fault(ctx, FaultInterlock, ErrInterlockTripped)
		return ErrInterlockTripped
	}

	settings := make([]float64, len(c.cfg.Actuators))
	for i, a := range c.cfg.Actuators {
		s, err := pv.Read(ctx, c.vars, a.Name, c.cfg.ReadTimeout)
		if err == nil && s.Quality != pv.Good {
			err = &pv.ReadError{Name: a.Name, Err: fmt.Errorf("quality %s", s.Quality)}
		}
		if err != nil {
			c.log.Warning("could not read back actuator", "controller", c.cfg.Name, "actuator", a.Name, "error", err)
			return fmt.Errorf("could not read actuator: %w", err)
		}
		settings[i] = s.Value
	}

	c.stopping.Store(false)
	c.mu.Lock()
	c.settings = settings
	c.iteration = 0
	c.bad = 0
	c.metric = math.NaN()
	c.last = Correction{}
	c.transition(Armed)
	c.mu.Unlock()
	return nil
}

// Stop stops the controller, cancelling any computation in progress. An
// actuator write in progress completes first. Actuators keep their last
// settings unless the interlock is tripped, in which case safe values are
// written. Stopping a FAULTED controller leaves it FAULTED.
func (c *Controller) Stop(ctx context.Context) {
	c.stopping.Store(true)
	c.cancelMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancelMu.Unlock()

	c.step.Lock()
	defer c.step.Unlock()
	c.stopping.Store(false)

	c.mu.Lock()
	m := c.mode
	if m == Faulted || m == Stopped {
		c.mu.Unlock()
		return
	}
	c.transition(Stopped)
	c.mu.Unlock()

	if c.lock.Tripped() {
		c.driveSafe(ctx)
	}
}

// Reset returns a FAULTED, STOPPED or CONVERGED controller to IDLE. It is the
// only way to leave FAULTED.
func (c *Controller) Reset() error {
	c.step.Lock()
	defer c.step.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case Idle:
		return nil
	case Faulted, Stopped, Converged:
		c.iteration = 0
		c.bad = 0
		c.transition(Idle)
		return nil
	default:
		return fmt.Errorf("cannot reset from %s: %w", c.mode, ErrBusy)
	}
}

// Run steps the controller with the source's latest snapshot once per
// configured period until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Step(ctx, c.src.Latest())
		}
	}
}

// Step runs one control cycle with snapshot s. Snapshots older than the last
// consumed are ignored.
func (c *Controller) Step(ctx context.Context, s *acquisition.Snapshot) {
	c.step.Lock()
	defer c.step.Unlock()

	m := c.Mode()
	if !m.active() {
		return
	}
	if c.lock.Tripped() {
		c.fault(ctx, FaultInterlock, ErrInterlockTripped)
		return
	}
	if s == nil {
		return
	}

	c.mu.Lock()
	if s.Seq < c.lastSeq {
		c.mu.Unlock()
		c.log.Debug("ignoring old snapshot", "controller", c.cfg.Name, "seq", s.Seq)
		return
	}
	fresh := s.Seq > c.lastSeq
	c.lastSeq = s.Seq
	c.mu.Unlock()
	if !fresh {
		return
	}

	switch m {
	case Armed:
		if !s.Good(c.required...) {
			c.unusable(ctx, s)
			return
		}
		c.setMode(Measuring)
		c.measure(ctx, s)
	case Measuring:
		c.measure(ctx, s)
	case Settling:
		c.settled(ctx, s)
	case Converged:
		c.regulate(ctx, s)
	}
}

// measure computes and applies a correction from s, leaving the controller
// SETTLING or FAULTED.
func (c *Controller) measure(ctx context.Context, s *acquisition.Snapshot) {
	if !s.Good(c.required...) {
		c.unusable(ctx, s)
		return
	}
	c.mu.Lock()
	c.bad = 0
	in := c.input(s)
	c.transition(Computing)
	c.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	corr, err := c.strategy.Compute(cctx, in)
	c.cancelMu.Lock()
	c.cancel = nil
	c.cancelMu.Unlock()
	cancel()

	if c.stopping.Load() {
		c.log.Info("computation abandoned", "controller", c.cfg.Name)
		return
	}
	switch {
	case errors.Is(err, ErrInterlockTripped):
		c.fault(ctx, FaultInterlock, err)
		return
	case errors.Is(err, search.ErrAborted):
		c.fault(ctx, FaultSearch, err)
		return
	case err != nil:
		c.fault(ctx, FaultCompute, err)
		return
	}

	if c.lock.Tripped() {
		c.log.Warning("discarding correction", "controller", c.cfg.Name, "target", corr.Target)
		c.fault(ctx, FaultInterlock, ErrInterlockTripped)
		return
	}
	err = c.checkBounds(in.Current, corr)
	if err != nil {
		c.fault(ctx, FaultSafetyBound, err)
		return
	}

	c.setMode(Applying)
	for i, a := range c.cfg.Actuators {
		err := pv.Write(context.WithoutCancel(ctx), c.vars, a.Name, corr.Target[i], c.cfg.WriteTimeout)
		if err != nil {
			c.fault(ctx, FaultWrite, err)
			return
		}
	}

	seq := s.Seq
	if l := c.src.Latest(); l != nil && l.Seq > seq {
		seq = l.Seq
	}
	c.mu.Lock()
	c.settings = append(c.settings[:0], corr.Target...)
	c.last = corr
	c.iteration++
	c.appliedSeq = seq
	c.settleUntil = c.now().Add(c.settle)
	c.log.Debug("correction applied", "controller", c.cfg.Name, "iteration", c.iteration, "delta", corr.Delta, "target", corr.Target)
	c.transition(Settling)
	c.mu.Unlock()
}

// settled evaluates convergence once the settle time has passed and a
// snapshot taken after it is available.
func (c *Controller) settled(ctx context.Context, s *acquisition.Snapshot) {
	c.mu.Lock()
	wait := s.Seq <= c.appliedSeq || s.Time.Before(c.settleUntil)
	c.mu.Unlock()
	if wait {
		return
	}
	if !s.Good(c.required...) {
		c.unusable(ctx, s)
		return
	}

	c.mu.Lock()
	in := c.input(s)
	last := c.last
	c.mu.Unlock()
	metric, err := c.strategy.Metric(in, last)
	if err != nil {
		c.log.Warning("could not evaluate convergence", "controller", c.cfg.Name, "error", err)
		c.unusable(ctx, s)
		return
	}

	c.mu.Lock()
	c.bad = 0
	c.metric = metric
	n, tol := c.iteration, c.tolerance
	switch {
	case metric <= tol:
		c.log.Info("converged", "controller", c.cfg.Name, "metric", metric, "iterations", n)
		c.transition(Converged)
		c.mu.Unlock()
	case n >= c.cfg.MaxIterations:
		c.mu.Unlock()
		c.fault(ctx, FaultIterationLimit, fmt.Errorf("%w: metric %g after %d iterations", ErrIterationLimit, metric, n))
	default:
		c.transition(Measuring)
		c.mu.Unlock()
		c.measure(ctx, s)
	}
}

// regulate resumes correction from CONVERGED when regulating and the metric
// has drifted beyond tolerance.
func (c *Controller) regulate(ctx context.Context, s *acquisition.Snapshot) {
	if !c.cfg.Regulate || !s.Good(c.required...) {
		return
	}
	c.mu.Lock()
	in := c.input(s)
	last := c.last
	c.mu.Unlock()
	metric, err := c.strategy.Metric(in, last)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.metric = metric
	if metric <= c.tolerance {
		c.mu.Unlock()
		return
	}
	c.log.Info("drift beyond tolerance", "controller", c.cfg.Name, "metric", metric)
	c.iteration = 0
	c.transition(Measuring)
	c.mu.Unlock()
	c.measure(ctx, s)
}

// unusable counts a fresh snapshot lacking good required signals and faults
// once the configured limit is exceeded.
func (c *Controller) unusable(ctx context.Context, s *acquisition.Snapshot) {
	c.mu.Lock()
	c.bad++
	n := c.bad
	c.mu.Unlock()
	c.log.Debug("waiting for good signals", "controller", c.cfg.Name, "seq", s.Seq, "count", n)
	if c.cfg.MaxBadSnapshots > 0 && n > c.cfg.MaxBadSnapshots {
		c.fault(ctx, FaultRead, fmt.Errorf("%w: %d", ErrBadSnapshots, n))
	}
}

// input assembles strategy input. c.mu must be held.
func (c *Controller) input(s *acquisition.Snapshot) Input {
	return Input{
		Setpoint: c.setpoint,
		Gain:     c.gain,
		MaxStep:  c.maxStep,
		Settle:   c.settle,
		Current:  append([]float64(nil), c.settings...),
		Snapshot: s,
	}
}

// checkBounds returns a *SafetyBoundError if corr would take an actuator
// outside its range or change it by more than the correction limit.
func (c *Controller) checkBounds(current []float64, corr Correction) error {
	if len(corr.Target) != len(c.cfg.Actuators) {
		return fmt.Errorf("correction has %d settings for %d actuators", len(corr.Target), len(c.cfg.Actuators))
	}
	for i, a := range c.cfg.Actuators {
		v := corr.Target[i]
		switch {
		case math.IsNaN(v) || v > a.Max:
			return &SafetyBoundError{Actuator: a.Name, Value: v, Limit: a.Max}
		case v < a.Min:
			return &SafetyBoundError{Actuator: a.Name, Value: v, Limit: a.Min}
		}
		if d := v - current[i]; c.cfg.MaxCorrection > 0 && math.Abs(d) > c.cfg.MaxCorrection {
			return &SafetyBoundError{Actuator: a.Name, Value: d, Limit: c.cfg.MaxCorrection, Change: true}
		}
	}
	return nil
}

// fault records a fault, enters FAULTED and drives actuators to their safe
// values.
func (c *Controller) fault(ctx context.Context, kind FaultKind, err error) {
	c.mu.Lock()
	f := Fault{ID: uuid.New(), Time: c.now(), Mode: c.mode, Kind: kind, Err: err}
	c.faults = append(c.faults, f)
	if len(c.faults) > maxFaults {
		c.faults = c.faults[len(c.faults)-maxFaults:]
	}
	c.transition(Faulted)
	c.mu.Unlock()

	c.log.Error("controller faulted", "controller", c.cfg.Name, "mode", f.Mode.String(), "kind", kind.String(), "error", err, "id", f.ID.String())
	c.driveSafe(ctx)
}

// driveSafe writes safe values and the cutoff. Failures are logged.
func (c *Controller) driveSafe(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i, a := range c.cfg.Actuators {
		if a.Safe == nil {
			continue
		}
		err := pv.Write(ctx, c.vars, a.Name, *a.Safe, c.cfg.WriteTimeout)
		if err != nil {
			c.log.Error("could not write safe value", "controller", c.cfg.Name, "actuator", a.Name, "error", err)
			continue
		}
		c.mu.Lock()
		if i < len(c.settings) {
			c.settings[i] = *a.Safe
		}
		c.mu.Unlock()
	}
	if c.cfg.Cutoff == "" {
		return
	}
	err := pv.Write(ctx, c.vars, c.cfg.Cutoff, c.cfg.CutoffValue, c.cfg.WriteTimeout)
	if err != nil {
		c.log.Error("could not write cutoff", "controller", c.cfg.Name, "variable", c.cfg.Cutoff, "error", err)
	}
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	c.transition(m)
	c.mu.Unlock()
}

// transition changes mode. c.mu must be held.
func (c *Controller) transition(to Mode) {
	from := c.mode
	if from == to {
		return
	}
	c.mode = to
	c.log.Info("controller transition", "controller", c.cfg.Name, "from", from.String(), "to", to.String())
	for _, fn := range c.hooks {
		fn(from, to)
	}
}
