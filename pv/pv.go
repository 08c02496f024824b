/*
DESCRIPTION
  pv.go provides process variable samples, quality and the access interface
  used to read and write named process variables with bounded timeouts.

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

// Package pv provides the abstraction through which beamctl components read
// and write named process variables. The transport behind a process variable
// (live hardware, simulator or web map) is opaque to its users.
package pv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Quality describes how trustworthy a sample is.
type Quality int

// Sample qualities.
const (
	Good Quality = iota
	Stale
	Invalid
)

func (q Quality) String() string {
	switch q {
	case Good:
		return "GOOD"
	case Stale:
		return "STALE"
	case Invalid:
		return "INVALID"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

// MarshalText implements encoding.TextMarshaler so qualities appear by name
// in JSON output.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	for _, c := range []Quality{Good, Stale, Invalid} {
		if string(b) == c.String() {
			*q = c
			return nil
		}
	}
	return fmt.Errorf("unknown quality %q", b)
}

// Sample is a single reading of a process variable. Samples are immutable once
// produced.
type Sample struct {
	Name    string
	Value   float64
	Time    time.Time
	Quality Quality
}

// Reader reads the current value of a named process variable.
type Reader interface {
	// Read returns the current sample for name. Implementations must return
	// once ctx is done.
	Read(ctx context.Context, name string) (Sample, error)
}

// Writer writes a value to a named process variable.
type Writer interface {
	// Write sets name to v. Implementations must return once ctx is done.
	Write(ctx context.Context, name string, v float64) error
}

// Variables provides read and write access to process variables.
type Variables interface {
	Reader
	Writer
}

// Errors returned by Variables implementations.
var (
	ErrUnknownVariable = errors.New("unknown process variable")
	ErrUnavailable     = errors.New("process variable unavailable")
)

// ReadError is returned when a process variable could not be read.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("could not read %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Timeout reports whether the read failed because its deadline expired.
func (e *ReadError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// WriteError is returned when a process variable could not be written.
type WriteError struct {
	Name  string
	Value float64
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("could not write %g to %s: %v", e.Value, e.Name, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Timeout reports whether the write failed because its deadline expired.
func (e *WriteError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

// Read reads name from r, giving up after timeout. A non-positive timeout
// relies on ctx alone. Failures are returned as *ReadError.
func Read(ctx context.Context, r Reader, name string, timeout time.Duration) (Sample, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s, err := r.Read(ctx, name)
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			return Sample{Name: name, Quality: Invalid}, err
		}
		return Sample{Name: name, Quality: Invalid}, &ReadError{Name: name, Err: err}
	}
	if s.Name == "" {
		s.Name = name
	}
	return s, nil
}

// Write writes v to name using w, giving up after timeout. A non-positive
// timeout relies on ctx alone. Failures are returned as *WriteError.
func Write(ctx context.Context, w Writer, name string, v float64, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := w.Write(ctx, name, v)
	if err == nil {
		return nil
	}
	var we *WriteError
	if errors.As(err, &we) {
		return err
	}
	return &WriteError{Name: name, Value: v, Err: err}
}
