/*
DESCRIPTION
  batch.go provides smoothing helpers that operate on complete data series,
  such as scan profiles collected by an optimizer.

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

import "gonum.org/v1/gonum/stat"

// SmoothAvg returns data smoothed by a centred sliding average of n points.
// Near the ends of the series the window shrinks to the points available. For
// n < 2 a copy of data is returned.
func SmoothAvg(data []float64, n int) []float64 {
	out := make([]float64, len(data))
	if n < 2 {
		copy(out, data)
		return out
	}

	start := n / 2
	end := n - start
	for i := range data {
		lo := i - start
		hi := i + end
		if lo < 0 {
			lo = 0
		}
		if hi > len(data) {
			hi = len(data)
		}
		out[i] = stat.Mean(data[lo:hi], nil)
	}
	return out
}

// CollapseSame merges points sharing the same x value into one point whose y
// is the mean of their y values. Points at the origin are treated as missing
// and dropped. x is expected to be ordered so that equal values are adjacent.
func CollapseSame(x, y []float64) (rx, ry []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if x[i] == 0 && y[i] == 0 {
			continue
		}
		if count > 0 && x[i] == rx[len(rx)-1] {
			sum += y[i]
			count++
			ry[len(ry)-1] = sum / float64(count)
			continue
		}
		rx = append(rx, x[i])
		ry = append(ry, y[i])
		sum, count = y[i], 1
	}
	return rx, ry
}
