/*
DESCRIPTION
  filter.go provides moving average and exponential smoothing filters for
  process variable sample streams.

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

// Package smoothing provides noise reduction for process variable streams and
// running window statistics.
package smoothing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ausocean/beamctl/pv"
)

// Kind identifies a filter algorithm.
type Kind string

// Filter kinds.
const (
	MovingAverage Kind = "moving-average"
	Exponential   Kind = "exponential"
)

// ErrStaleStream is matched by errors returned when a stream has produced too
// many consecutive unusable samples.
var ErrStaleStream = errors.New("stale stream")

// StaleStreamError reports the number of consecutive unusable samples seen.
type StaleStreamError struct {
	Consecutive int
	Max         int
}

func (e *StaleStreamError) Error() string {
	return fmt.Sprintf("stale stream: %d consecutive unusable samples (max %d)", e.Consecutive, e.Max)
}

// Is reports whether target is ErrStaleStream.
func (e *StaleStreamError) Is(target error) bool { return target == ErrStaleStream }

// Config holds filter parameters.
type Config struct {
	Kind       Kind    `koanf:"kind"`
	Window     int     `koanf:"window"`     // Samples averaged by a moving average.
	Alpha      float64 `koanf:"alpha"`      // Weight of new samples for exponential.
	MaxInvalid int     `koanf:"maxinvalid"` // Consecutive unusable samples tolerated; <= 0 for no limit.
}

// Validate checks that c describes a usable filter.
func (c Config) Validate() error {
	switch c.Kind {
	case MovingAverage:
		if c.Window < 1 {
			return fmt.Errorf("moving average window must be at least 1, got %d", c.Window)
		}
	case Exponential:
		if !(c.Alpha > 0 && c.Alpha <= 1) {
			return fmt.Errorf("exponential alpha must be in (0, 1], got %v", c.Alpha)
		}
	default:
		return fmt.Errorf("unknown filter kind: %q", c.Kind)
	}
	return nil
}

// Filter smooths one stream of samples. A Filter is not safe for concurrent
// use; each stream owns its own.
type Filter struct {
	cfg     Config
	win     []float64 // Ring buffer for moving average.
	i, l    int
	value   float64
	primed  bool
	invalid int
}

// New returns a new Filter for the given configuration.
func New(cfg Config) (*Filter, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	f := &Filter{cfg: cfg, value: math.NaN()}
	if cfg.Kind == MovingAverage {
		f.win = make([]float64, cfg.Window)
	}
	return f, nil
}

// Update adds s to the filter and returns the smoothed value. Samples that are
// not of good quality, or that carry a NaN or infinite value, are excluded
// without disturbing the filter state; the last smoothed value is returned,
// or NaN if there has never been a good sample. When more than MaxInvalid
// consecutive samples have been excluded, Update also returns a
// *StaleStreamError.
func (f *Filter) Update(s pv.Sample) (float64, error) {
	if s.Quality != pv.Good || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		f.invalid++
		if f.cfg.MaxInvalid > 0 && f.invalid > f.cfg.MaxInvalid {
			return f.value, &StaleStreamError{Consecutive: f.invalid, Max: f.cfg.MaxInvalid}
		}
		return f.value, nil
	}
	f.invalid = 0

	switch f.cfg.Kind {
	case MovingAverage:
		f.win[f.i] = s.Value
		f.i = (f.i + 1) % len(f.win)
		if f.l != len(f.win) {
			f.l++
		}
		f.value = stat.Mean(f.win[:f.l], nil)
	case Exponential:
		if !f.primed {
			f.value = s.Value
			break
		}
		f.value = f.cfg.Alpha*s.Value + (1-f.cfg.Alpha)*f.value
	}
	f.primed = true
	return f.value, nil
}

// Value returns the current smoothed value, NaN if the filter has seen no
// good samples.
func (f *Filter) Value() float64 { return f.value }

// Primed reports whether the filter has seen a good sample since creation or
// the last Reset.
func (f *Filter) Primed() bool { return f.primed }

// Reset discards all filter state.
func (f *Filter) Reset() {
	f.i, f.l, f.invalid = 0, 0, 0
	f.value = math.NaN()
	f.primed = false
}
