/*
DESCRIPTION
  snapshot.go provides the versioned, immutable snapshot published by an
  acquisition engine each cycle.

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

package acquisition

import (
	"time"

	"github.com/ausocean/beamctl/pv"
)

// Signal holds one process variable's sample and derived values for a cycle.
type Signal struct {
	Name     string
	Raw      pv.Sample
	Smoothed float64    // Filter output; NaN until the filter has a good sample.
	Rate     float64    // Change in smoothed value per second; zero when this cycle's sample is not good.
	Mean     float64    // Mean of recent good raw values.
	StdDev   float64    // Standard deviation of recent good raw values.
	Median   float64    // Median of recent good raw values.
	Quality  pv.Quality // Quality of this cycle's data for the signal.
}

// Snapshot is one acquisition cycle's worth of signals. Snapshots are
// published by reference and must not be modified by consumers.
type Snapshot struct {
	Seq     uint64        // Strictly increasing from 1 for an engine.
	Time    time.Time     // Start of the acquisition cycle.
	Elapsed time.Duration // Time taken to acquire.
	Overrun bool          // Acquisition took longer than the engine interval.
	Signals []Signal
}

// Signal returns the named signal.
func (s *Snapshot) Signal(name string) (Signal, bool) {
	if s == nil {
		return Signal{}, false
	}
	for _, sig := range s.Signals {
		if sig.Name == name {
			return sig, true
		}
	}
	return Signal{}, false
}

// Good reports whether every named signal is present with good quality.
func (s *Snapshot) Good(names ...string) bool {
	for _, n := range names {
		sig, ok := s.Signal(n)
		if !ok || sig.Quality != pv.Good {
			return false
		}
	}
	return true
}

// Source provides the most recently published snapshot.
type Source interface {
	Latest() *Snapshot
}
