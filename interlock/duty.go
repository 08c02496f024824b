/*
DESCRIPTION
  duty.go provides calculation of the fraction of time a condition has held
  over a sliding window.

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

package interlock

import "time"

// DutyCycle tracks the fraction of a sliding time window during which a
// condition was high. Report must not be called concurrently with other
// methods; Calculate does not modify d.
type DutyCycle struct {
	window time.Duration
	spans  []span
}

// span is a period the condition was high; end is zero while still high.
type span struct {
	start, end time.Time
}

// NewDutyCycle returns a DutyCycle over the given window.
func NewDutyCycle(window time.Duration) *DutyCycle {
	return &DutyCycle{window: window}
}

// Report records the state of the condition at t. Reports must be made in time
// order. Spans that ended before the window ending at t are discarded.
func (d *DutyCycle) Report(high bool, t time.Time) {
	open := len(d.spans) > 0 && d.spans[len(d.spans)-1].end.IsZero()
	switch {
	case high && !open:
		d.spans = append(d.spans, span{start: t})
	case !high && open:
		d.spans[len(d.spans)-1].end = t
	}

	from := t.Add(-d.window)
	var n int
	for _, s := range d.spans {
		if s.end.IsZero() || s.end.After(from) {
			break
		}
		n++
	}
	d.spans = d.spans[n:]
}

// Calculate returns the fraction of the window ending at t during which the
// condition was high. t should not precede the last report.
func (d *DutyCycle) Calculate(t time.Time) float64 {
	if d.window <= 0 {
		return 0
	}
	from := t.Add(-d.window)

	var high time.Duration
	for _, s := range d.spans {
		start, end := s.start, s.end
		if end.IsZero() || end.After(t) {
			end = t
		}
		if start.Before(from) {
			start = from
		}
		if end.After(start) {
			high += end.Sub(start)
		}
	}
	return float64(high) / float64(d.window)
}
