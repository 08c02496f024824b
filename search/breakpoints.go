/*
DESCRIPTION
  breakpoints.go provides location of characteristic points in a scan profile.

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

package search

import "math"

// Breakpoints locates a hi-lo-higher-hi pattern in a scan profile such as a
// charge versus phase scan. It returns the indices of a first local maximum,
// the minimum that follows it and the global maximum, considering only values
// above threshold. The global maximum is the first occurrence of the largest
// value. Indices that cannot be found are -1.
func Breakpoints(data []float64, threshold float64) [3]int {
	max2, max2n := math.SmallestNonzeroFloat64, -1
	for i, d := range data {
		if d > threshold && d > max2 {
			max2, max2n = d, i
		}
	}

	var (
		max1, max1n = math.SmallestNonzeroFloat64, -1
		min1n       = -1
		minS, minSn = max2, -1 // Candidate minimum while seeking backwards.
	)
	for i := max2n - 1; i >= 0; i-- {
		d := data[i]
		switch {
		case d > threshold && d < minS:
			minS, minSn = d, i
			max1 = 0
		case minSn > -1 && d > threshold && d > max1:
			max1, max1n = d, i
			min1n = minSn
		}
	}
	return [3]int{max1n, min1n, max2n}
}
