/*
DESCRIPTION
  strategy.go provides the correction strategies used by a controller: a
  clamped proportional gain law and a pattern search over the actuators.

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
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ausocean/utils/logging"
	"gonum.org/v1/gonum/floats"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/search"
)

// Input is what a strategy computes a correction from.
type Input struct {
	Setpoint float64
	Gain     float64
	MaxStep  float64
	Settle   time.Duration
	Current  []float64 // Actuator settings, in configuration order.
	Snapshot *acquisition.Snapshot
}

// Correction is a computed change of actuator settings.
type Correction struct {
	Target   []float64
	Delta    []float64
	Baseline float64 // Objective before the correction, for strategies that use one.
	Score    float64 // Expected objective after the correction.
}

// Strategy computes corrections and judges convergence.
type Strategy interface {
	// Compute returns the correction to apply for in. It must return promptly
	// once ctx is cancelled.
	Compute(ctx context.Context, in Input) (Correction, error)

	// Metric returns the convergence metric for the settled snapshot in
	// in.Snapshot after last was applied. The controller converges once the
	// metric is within tolerance.
	Metric(in Input, last Correction) (float64, error)
}

var errNoSignal = errors.New("signal missing from snapshot")

func smoothed(s *acquisition.Snapshot, name string) (float64, error) {
	sig, ok := s.Signal(name)
	if !ok {
		return math.NaN(), fmt.Errorf("%s: %w", name, errNoSignal)
	}
	if sig.Quality != pv.Good || math.IsNaN(sig.Smoothed) {
		return math.NaN(), fmt.Errorf("%s has quality %s", name, sig.Quality)
	}
	return sig.Smoothed, nil
}

// gainLaw is a proportional controller driving a single actuator so that
// signal approaches the setpoint. Each step is clamped to MaxStep.
type gainLaw struct{ signal string }

func (g gainLaw) Compute(_ context.Context, in Input) (Correction, error) {
	v, err := smoothed(in.Snapshot, g.signal)
	if err != nil {
		return Correction{}, err
	}
	e := in.Setpoint - v
	d := math.Max(-in.MaxStep, math.Min(in.MaxStep, in.Gain*e))
	return Correction{
		Target:   []float64{in.Current[0] + d},
		Delta:    []float64{d},
		Baseline: math.Abs(e),
		Score:    math.Abs(e - d),
	}, nil
}

func (g gainLaw) Metric(in Input, _ Correction) (float64, error) {
	v, err := smoothed(in.Snapshot, g.signal)
	if err != nil {
		return math.NaN(), err
	}
	return math.Abs(in.Setpoint - v), nil
}

// objective scores a snapshot.
type objective func(s *acquisition.Snapshot, setpoint float64) (float64, error)

func newObjective(cfg Config) (objective, search.Direction) {
	signals := cfg.Search.Signals
	if len(signals) == 0 {
		signals = []string{cfg.Signal}
	}
	switch cfg.Search.Objective {
	case ObjectiveError:
		return func(s *acquisition.Snapshot, sp float64) (float64, error) {
			v, err := smoothed(s, cfg.Signal)
			return math.Abs(sp - v), err
		}, search.Minimize
	case ObjectiveMaximize:
		return func(s *acquisition.Snapshot, _ float64) (float64, error) {
			return smoothed(s, signals[0])
		}, search.Maximize
	case ObjectiveRMS:
		return func(s *acquisition.Snapshot, _ float64) (float64, error) {
			dev := make([]float64, len(signals))
			for i, n := range signals {
				v, err := smoothed(s, n)
				if err != nil {
					return math.NaN(), err
				}
				dev[i] = v
			}
			floats.AddConst(-cfg.Search.Target, dev)
			return floats.Norm(dev, 2) / math.Sqrt(float64(len(dev))), nil
		}, search.Minimize
	default:
		return func(s *acquisition.Snapshot, _ float64) (float64, error) {
			return smoothed(s, signals[0])
		}, search.Minimize
	}
}

// errOutOfBounds is returned by the search evaluator for probes outside the
// actuator limits. It is not fatal to the search.
var errOutOfBounds = errors.New("probe outside actuator limits")

// patternSearch drives all actuators with search.Search. Each evaluation
// writes a probe, waits for the plant to settle and scores the next snapshot.
type patternSearch struct {
	vars          pv.Writer
	src           acquisition.Source
	lock          Tripper
	log           logging.Logger
	now           func() time.Time
	actuators     []Actuator
	maxCorrection float64
	period        time.Duration
	writeTimeout  time.Duration
	evalTimeout   time.Duration // Zero derives the timeout from the settle time.
	poll          time.Duration
	opts          search.Options
	score         objective
}

// Minimum interval at which the evaluator polls for a settled snapshot.
const minPoll = time.Millisecond

func newPatternSearch(c *Controller) *patternSearch {
	cfg := c.cfg
	obj, dir := newObjective(cfg)
	p := &patternSearch{
		vars:          c.vars,
		src:           c.src,
		lock:          c.lock,
		log:           c.log,
		now:           c.now,
		actuators:     cfg.Actuators,
		maxCorrection: cfg.MaxCorrection,
		period:        cfg.Period,
		writeTimeout:  cfg.WriteTimeout,
		evalTimeout:   cfg.Search.EvalTimeout,
		opts: search.Options{
			Steps:         cfg.Search.Steps,
			Tolerance:     cfg.Search.Tolerance,
			MaxIterations: cfg.Search.MaxIterations,
			Contraction:   cfg.Search.Contraction,
			Direction:     dir,
		},
		score: obj,
	}
	p.poll = max(cfg.Period/10, minPoll)
	return p
}

func (p *patternSearch) Compute(ctx context.Context, in Input) (Correction, error) {
	start := append(search.Point(nil), in.Current...)
	eval := func(ctx context.Context, x search.Point) (float64, error) {
		return p.evaluate(ctx, x, start, in)
	}
	res, err := search.Search(ctx, eval, start, p.opts)
	if err != nil {
		return Correction{}, err
	}
	p.log.Debug("search finished", "best", []float64(res.Best), "score", res.Score, "start", res.StartScore,
		"iterations", res.Iterations, "evaluations", res.Evaluations, "failures", res.Failures, "converged", res.Converged)
	if math.IsInf(res.Score, 0) {
		return Correction{}, fmt.Errorf("no successful evaluation in %d attempts", res.Evaluations)
	}

	d := make([]float64, len(start))
	floats.SubTo(d, res.Best, start)
	return Correction{Target: res.Best, Delta: d, Baseline: res.StartScore, Score: res.Score}, nil
}

// Metric is the change in objective achieved by the last correction.
func (p *patternSearch) Metric(in Input, last Correction) (float64, error) {
	v, err := p.score(in.Snapshot, in.Setpoint)
	if err != nil {
		return math.NaN(), err
	}
	if math.IsNaN(last.Baseline) {
		return math.Inf(1), nil
	}
	return math.Abs(last.Baseline - v), nil
}

// evaluate writes x, waits in.Settle for the plant and scores the first
// snapshot taken after it settled.
func (p *patternSearch) evaluate(ctx context.Context, x, start search.Point, in Input) (float64, error) {
	if p.lock.Tripped() {
		return 0, search.Fatal(ErrInterlockTripped)
	}
	for i, a := range p.actuators {
		if x[i] < a.Min || x[i] > a.Max {
			return 0, fmt.Errorf("%s=%g: %w", a.Name, x[i], errOutOfBounds)
		}
		if p.maxCorrection > 0 && math.Abs(x[i]-start[i]) > p.maxCorrection {
			return 0, fmt.Errorf("%s change %g: %w", a.Name, x[i]-start[i], errOutOfBounds)
		}
	}

	var seq uint64
	if s := p.src.Latest(); s != nil {
		seq = s.Seq
	}
	for i, a := range p.actuators {
		err := pv.Write(context.WithoutCancel(ctx), p.vars, a.Name, x[i], p.writeTimeout)
		if err != nil {
			return 0, search.Fatal(err)
		}
	}
	settled := p.now().Add(in.Settle)

	if in.Settle > 0 {
		t := time.NewTimer(in.Settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return 0, ctx.Err()
		case <-t.C:
		}
	}

	timeout := p.evalTimeout
	if timeout == 0 {
		timeout = 10*p.period + in.Settle
	}
	s, err := p.await(ctx, seq, settled, timeout)
	if err != nil {
		return 0, err
	}
	return p.score(s, in.Setpoint)
}

// await polls the source for a snapshot newer than seq taken no earlier than
// settled.
func (p *patternSearch) await(ctx context.Context, seq uint64, settled time.Time, timeout time.Duration) (*acquisition.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(p.poll)
	defer tick.Stop()
	for {
		s := p.src.Latest()
		if s != nil && s.Seq > seq && !s.Time.Before(settled) {
			return s, nil
		}
		if p.lock.Tripped() {
			return nil, search.Fatal(ErrInterlockTripped)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("no settled snapshot within %v", timeout)
			}
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}
