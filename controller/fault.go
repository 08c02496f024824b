/*
DESCRIPTION
  fault.go provides fault records and the errors that drive a controller
  into its faulted state.

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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxFaults is the number of fault records retained.
const maxFaults = 32

// Errors.
var (
	ErrInterlockTripped = errors.New("interlock tripped")
	ErrBusy             = errors.New("controller is active")
	ErrNotIdle          = errors.New("controller is not idle")
	ErrIterationLimit   = errors.New("iteration limit reached without convergence")
	ErrBadSnapshots     = errors.New("too many consecutive unusable snapshots")
)

// SafetyBoundError is returned when a correction would take an actuator
// outside its configured limits.
type SafetyBoundError struct {
	Actuator string
	Value    float64 // Offending value or change.
	Limit    float64
	Change   bool // Value is a change in setting rather than a setting.
}

func (e *SafetyBoundError) Error() string {
	if e.Change {
		return fmt.Sprintf("correction of %g to %s exceeds limit %g", e.Value, e.Actuator, e.Limit)
	}
	return fmt.Sprintf("setting %g for %s exceeds limit %g", e.Value, e.Actuator, e.Limit)
}

// FaultKind classifies a fault.
type FaultKind int

// Fault kinds.
const (
	FaultInterlock FaultKind = iota
	FaultRead
	FaultWrite
	FaultSafetyBound
	FaultSearch
	FaultIterationLimit
	FaultCompute
)

var faultKindNames = [...]string{
	FaultInterlock:      "interlock",
	FaultRead:           "read",
	FaultWrite:          "write",
	FaultSafetyBound:    "safety-bound",
	FaultSearch:         "search",
	FaultIterationLimit: "iteration-limit",
	FaultCompute:        "compute",
}

func (k FaultKind) String() string {
	if k < 0 || int(k) >= len(faultKindNames) {
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
	return faultKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k FaultKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Fault records a transition to the faulted state.
type Fault struct {
	ID   uuid.UUID
	Time time.Time
	Mode Mode // Mode in which the fault occurred.
	Kind FaultKind
	Err  error
}

func (f Fault) String() string {
	return fmt.Sprintf("%s fault in %s at %s: %v (%s)", f.Kind, f.Mode, f.Time.Format(time.RFC3339Nano), f.Err, f.ID)
}
