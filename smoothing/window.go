/*
DESCRIPTION
  window.go provides running statistics over a fixed size window of values.

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

package smoothing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Window holds the last n values added and provides statistics over them.
type Window struct {
	win     []float64
	sorted  []float64
	n, i, l int
}

// NewWindow returns a new Window of size n. A size below 1 is treated as 1.
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{n: n, win: make([]float64, n), sorted: make([]float64, n)}
}

// Add adds v to the window, displacing the oldest value once full.
func (w *Window) Add(v float64) {
	w.win[w.i] = v
	w.i = (w.i + 1) % w.n
	if w.l != w.n {
		w.l++
	}
}

// Len returns the number of values held.
func (w *Window) Len() int { return w.l }

// Mean returns the mean of the window, NaN if empty.
func (w *Window) Mean() float64 {
	if w.l == 0 {
		return math.NaN()
	}
	return stat.Mean(w.win[:w.l], nil)
}

// StdDev returns the sample standard deviation of the window. It is zero for
// fewer than two values.
func (w *Window) StdDev() float64 {
	if w.l < 2 {
		return 0
	}
	_, sd := stat.MeanStdDev(w.win[:w.l], nil)
	return sd
}

// Median returns the median of the window, NaN if empty.
func (w *Window) Median() float64 {
	if w.l == 0 {
		return math.NaN()
	}
	s := w.sorted[:w.l]
	copy(s, w.win[:w.l])
	sort.Float64s(s)
	if w.l%2 == 0 {
		return (s[(w.l/2)-1] + s[w.l/2]) / 2.0
	}
	return s[w.l/2]
}

// Reset empties the window.
func (w *Window) Reset() { w.i, w.l = 0, 0 }
