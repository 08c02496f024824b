/*
DESCRIPTION
  scan.go provides analysis of scan profiles, such as charge versus phase
  scans, posted by operators.

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

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ausocean/beamctl/search"
	"github.com/ausocean/beamctl/smoothing"
)

// scanRequest is a scan profile of y measured at each x.
type scanRequest struct {
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
	Smooth    int       `json:"smooth"`    // Points in the smoothing average; below 2 disables it.
	Threshold float64   `json:"threshold"` // Values at or below this are ignored when seeking breakpoints.
}

// scanView is an analysed profile. Breakpoints holds the indices of the first
// peak, the trough after it and the highest peak; -1 where absent. Positions
// holds the x values at those indices.
type scanView struct {
	X           []float64   `json:"x"`
	Y           []float64   `json:"y"`
	Breakpoints [3]int      `json:"breakpoints"`
	Positions   [3]*float64 `json:"positions"`
}

var errBadScan = errors.New("bad scan profile")

// analyseScan collapses repeated x values, smooths y and locates the
// hi-lo-higher-hi breakpoints of the profile.
func analyseScan(req scanRequest) (scanView, error) {
	if len(req.X) == 0 || len(req.X) != len(req.Y) {
		return scanView{}, fmt.Errorf("%w: have %d x and %d y values", errBadScan, len(req.X), len(req.Y))
	}
	x, y := smoothing.CollapseSame(req.X, req.Y)
	if len(x) == 0 {
		return scanView{}, fmt.Errorf("%w: no points after removing missing values", errBadScan)
	}
	y = smoothing.SmoothAvg(y, req.Smooth)

	v := scanView{X: x, Y: y, Breakpoints: search.Breakpoints(y, req.Threshold)}
	for i, b := range v.Breakpoints {
		if b >= 0 {
			v.Positions[i] = num(x[b])
		}
	}
	return v, nil
}

func (s *server) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v, err := analyseScan(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Debug("scan analysed", "points", len(v.X), "breakpoints", v.Breakpoints)
	respond(w, v)
}
