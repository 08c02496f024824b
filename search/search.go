/*
DESCRIPTION
  search.go provides a derivative free coordinate pattern search optimizer.

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

// Package search provides derivative free optimization of objectives that may
// be expensive to evaluate, such as those requiring actuator moves and fresh
// measurements.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultContraction is the step contraction factor used when none is given.
const DefaultContraction = 0.5

// Point is a parameter vector.
type Point []float64

// Objective scores a point. An error marks the point as no improvement unless
// it was created by Fatal, in which case the search is aborted.
type Objective func(ctx context.Context, p Point) (float64, error)

// Direction selects whether lower or higher scores are better.
type Direction int

// Search directions.
const (
	Minimize Direction = iota
	Maximize
)

// ParseDirection parses "minimize" or "maximize". The empty string is
// Minimize.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "minimize", "min":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	default:
		return Minimize, fmt.Errorf("unknown search direction: %q", s)
	}
}

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// ErrAborted is matched by errors returned from an aborted search.
var ErrAborted = errors.New("search aborted")

// AbortedError is returned when a search is aborted by a fatal evaluation
// error or by cancellation. Result holds the best point found before the
// abort.
type AbortedError struct {
	Result Result
	Err    error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("search aborted after %d evaluations: %v", e.Result.Evaluations, e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAborted.
func (e *AbortedError) Is(target error) bool { return target == ErrAborted }

type fatalError struct{ err error }

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as fatal to the search. An Objective returning a fatal
// error aborts the search.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Options holds search parameters.
type Options struct {
	Steps         []float64 // Initial step size per dimension.
	Tolerance     float64   // Search converges when every step is below this.
	MaxIterations int
	Contraction   float64 // Step multiplier applied when no move improves; in (0, 1).
	Direction     Direction
}

// Validate checks o for a search over dims dimensions, defaulting a zero
// contraction.
func (o *Options) Validate(dims int) error {
	if dims == 0 {
		return errors.New("empty start point")
	}
	if len(o.Steps) != dims {
		return fmt.Errorf("have %d steps for %d dimensions", len(o.Steps), dims)
	}
	for i, s := range o.Steps {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("step %d must be positive and finite, got %v", i, s)
		}
	}
	if !(o.Tolerance > 0) {
		return fmt.Errorf("tolerance must be positive, got %v", o.Tolerance)
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", o.MaxIterations)
	}
	if o.Contraction == 0 {
		o.Contraction = DefaultContraction
	}
	if !(o.Contraction > 0 && o.Contraction < 1) {
		return fmt.Errorf("contraction must be in (0, 1), got %v", o.Contraction)
	}
	return nil
}

// Result describes the outcome of a search.
type Result struct {
	Best        Point
	Score       float64 // Score at Best; infinite if no evaluation succeeded.
	StartScore  float64 // Score at the start point; NaN if it could not be evaluated.
	Iterations  int
	Evaluations int
	Failures    int // Evaluations that returned a non-fatal error or NaN.
	Converged   bool
}

// Search performs a coordinate pattern search from start. Each iteration
// probes point±step along every dimension in turn, moving to the better
// improving probe of a dimension before probing the next. When an iteration
// makes no move all steps are multiplied by the contraction factor. The search
// converges once every step is below the tolerance and stops unconverged
// after the maximum number of iterations.
func Search(ctx context.Context, f Objective, start Point, opts Options) (Result, error) {
	err := opts.Validate(len(start))
	if err != nil {
		return Result{}, fmt.Errorf("invalid search options: %w", err)
	}

	s := &searcher{f: f, dir: opts.Direction}
	steps := append([]float64(nil), opts.Steps...)
	p := append(Point(nil), start...)

	worst := math.Inf(1)
	if opts.Direction == Maximize {
		worst = math.Inf(-1)
	}

	abort := func(best float64, err error) (Result, error) {
		s.res.Best, s.res.Score = p, best
		return s.res, &AbortedError{Result: s.res, Err: err}
	}

	best, ok, err := s.eval(ctx, p)
	if err != nil {
		return abort(worst, err)
	}
	s.res.StartScore = best
	if !ok {
		s.res.StartScore = math.NaN()
		best = worst
	}

	for s.res.Iterations < opts.MaxIterations && floats.Max(steps) >= opts.Tolerance {
		s.res.Iterations++
		var moved bool
		for d := range p {
			cand, move := best, 0.0
			for _, sign := range [...]float64{1, -1} {
				q := append(Point(nil), p...)
				q[d] += sign * steps[d]
				v, ok, err := s.eval(ctx, q)
				if err != nil {
					return abort(best, err)
				}
				if ok && s.better(v, cand) {
					cand, move = v, sign*steps[d]
				}
			}
			if move != 0 {
				p[d] += move
				best = cand
				moved = true
			}
		}
		if !moved {
			floats.Scale(opts.Contraction, steps)
		}
	}

	s.res.Best, s.res.Score = p, best
	s.res.Converged = floats.Max(steps) < opts.Tolerance
	return s.res, nil
}

type searcher struct {
	f   Objective
	dir Direction
	res Result
}

// eval evaluates p. ok is false for points that failed non-fatally. A non-nil
// error means the search must abort.
func (s *searcher) eval(ctx context.Context, p Point) (v float64, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.res.Evaluations++
	v, err = s.f(ctx, p)
	var fe *fatalError
	if errors.As(err, &fe) {
		return 0, false, fe.err
	}
	if err != nil || math.IsNaN(v) {
		s.res.Failures++
		return 0, false, nil
	}
	return v, true, nil
}

func (s *searcher) better(v, ref float64) bool {
	if s.dir == Maximize {
		return v > ref
	}
	return v < ref
}
