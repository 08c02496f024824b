/*
DESCRIPTION
  interlock_test.go provides testing for the interlock monitor and duty cycle
  calculation.

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

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/utils/logging"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// feeder produces snapshots for a single signal at 100ms intervals.
type feeder struct {
	name string
	seq  uint64
}

func (f *feeder) next(v float64, q pv.Quality) *acquisition.Snapshot {
	f.seq++
	tm := t0.Add(time.Duration(f.seq) * 100 * time.Millisecond)
	return &acquisition.Snapshot{
		Seq:  f.seq,
		Time: tm,
		Signals: []acquisition.Signal{{
			Name:    f.name,
			Raw:     pv.Sample{Name: f.name, Value: v, Time: tm, Quality: q},
			Quality: q,
		}},
	}
}

func newMonitor(t *testing.T, th Threshold, debounce int) *Monitor {
	m, err := New(Config{Thresholds: []Threshold{th}, Debounce: debounce}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create monitor: %v", err)
	}
	return m
}

func TestDebounce(t *testing.T) {
	tests := []struct {
		values  []float64
		tripped []bool
	}{
		{
			// A single step gives one excessive rate.
			values:  []float64{0, 0, 10, 10, 10},
			tripped: []bool{false, false, false, false, false},
		},
		{
			// A spike gives two.
			values:  []float64{0, 0, 10, 0, 0},
			tripped: []bool{false, false, false, false, false},
		},
		{
			// A sustained ramp trips on the third excessive rate.
			values:  []float64{0, 10, 20, 30, 30, 30, 30},
			tripped: []bool{false, false, false, true, true, true, true},
		},
	}

	for i, test := range tests {
		m := newMonitor(t, Threshold{Signal: "BPM1", Rate: 50}, 3)
		f := &feeder{name: "BPM1"}
		for j, v := range test.values {
			m.Evaluate(f.next(v, pv.Good))
			if m.Tripped() != test.tripped[j] {
				t.Errorf("did not get expected result from test: %d, sample: %d. Got: %v, Want: %v", i, j, m.Tripped(), test.tripped[j])
			}
		}
	}
}

func TestStickyReset(t *testing.T) {
	m := newMonitor(t, Threshold{Signal: "BPM1", Rate: 50}, 3)
	f := &feeder{name: "BPM1"}
	for _, v := range []float64{0, 10, 20, 30} {
		m.Evaluate(f.next(v, pv.Good))
	}
	if !m.Tripped() {
		t.Fatal("expected trip")
	}

	r, ok := m.LastTripReason()
	if !ok {
		t.Fatal("no trip reason")
	}
	if r.Signal != "BPM1" || r.Kind != Rate || r.Threshold != 50 || math.Abs(r.Value-100) > 1e-6 {
		t.Errorf("unexpected trip reason: %+v", r)
	}
	if !r.Time.Equal(t0.Add(400 * time.Millisecond)) {
		t.Errorf("unexpected trip time: %v", r.Time)
	}

	// Condition clears but trip persists.
	for i := 0; i < 5; i++ {
		m.Evaluate(f.next(30, pv.Good))
	}
	if !m.Tripped() {
		t.Fatal("trip cleared without reset")
	}

	err := m.Reset(Ack{Operator: "ops"})
	if !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("expected ErrNotConfirmed, got: %v", err)
	}
	err = m.Reset(Ack{Confirm: true})
	if !errors.Is(err, ErrNotConfirmed) {
		t.Errorf("expected ErrNotConfirmed without operator, got: %v", err)
	}
	err = m.Reset(Ack{Operator: "ops", Confirm: true})
	if err != nil {
		t.Fatalf("unexpected reset error: %v", err)
	}
	if m.Tripped() {
		t.Error("still tripped after reset")
	}
	if _, ok := m.LastTripReason(); !ok {
		t.Error("trip reason lost on reset")
	}
}

func TestResetConditionActive(t *testing.T) {
	m := newMonitor(t, Threshold{Signal: "MAG1:I", Absolute: 5}, 1)
	f := &feeder{name: "MAG1:I"}
	m.Evaluate(f.next(-6, pv.Good))
	if !m.Tripped() {
		t.Fatal("expected absolute trip")
	}
	r, _ := m.LastTripReason()
	if r.Kind != Absolute || r.Value != -6 || r.Threshold != 5 {
		t.Errorf("unexpected trip reason: %+v", r)
	}

	err := m.Reset(Ack{Operator: "ops", Confirm: true})
	if !errors.Is(err, ErrConditionActive) {
		t.Errorf("expected ErrConditionActive, got: %v", err)
	}

	m.Evaluate(f.next(1, pv.Good))
	err = m.Reset(Ack{Operator: "ops", Confirm: true})
	if err != nil || m.Tripped() {
		t.Errorf("reset failed after condition cleared: %v", err)
	}
}

func TestUnusableSamples(t *testing.T) {
	m := newMonitor(t, Threshold{Signal: "BPM1", Absolute: 5}, 2)
	f := &feeder{name: "BPM1"}

	m.Evaluate(f.next(6, pv.Good))
	m.Evaluate(f.next(math.NaN(), pv.Invalid))
	m.Evaluate(f.next(100, pv.Stale))
	if m.Tripped() {
		t.Fatal("tripped on unusable samples")
	}
	m.Evaluate(f.next(6, pv.Good))
	if !m.Tripped() {
		t.Error("unusable samples reset the debounce count")
	}
}

func TestArmingAndOrdering(t *testing.T) {
	m := newMonitor(t, Threshold{Signal: "BPM1", Absolute: 5}, 1)
	f := &feeder{name: "BPM1"}

	m.Disarm()
	m.Evaluate(f.next(6, pv.Good))
	if m.Tripped() || m.Armed() {
		t.Fatal("disarmed monitor tripped")
	}

	m.Arm()
	old := f.next(7, pv.Good)
	m.Evaluate(f.next(1, pv.Good))
	m.Evaluate(old)
	if m.Tripped() {
		t.Error("older snapshot was evaluated")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Debounce: 1, Thresholds: []Threshold{{Signal: "A", Rate: 1}}}, true},
		{Config{Debounce: 0, Thresholds: []Threshold{{Signal: "A", Rate: 1}}}, false},
		{Config{Debounce: 1, Thresholds: []Threshold{{Signal: "A"}}}, false},
		{Config{Debounce: 1, Thresholds: []Threshold{{Signal: "A", Rate: -1}}}, false},
		{Config{Debounce: 1, Thresholds: []Threshold{{Signal: "A", Rate: 1, Window: 1}}}, false},
		{Config{Debounce: 1, Thresholds: []Threshold{{Signal: "A", Rate: 1}, {Signal: "A", Absolute: 1}}}, false},
	}
	for i, test := range tests {
		err := test.cfg.Validate()
		if (err == nil) != test.ok {
			t.Errorf("did not get expected result from test: %d. Got error: %v, want ok: %v", i, err, test.ok)
		}
	}
}

// latest is an acquisition.Source returning a settable snapshot.
type latest struct{ p atomic.Pointer[acquisition.Snapshot] }

func (l *latest) Latest() *acquisition.Snapshot { return l.p.Load() }

func TestRun(t *testing.T) {
	m := newMonitor(t, Threshold{Signal: "BPM1", Absolute: 5}, 1)
	f := &feeder{name: "BPM1"}
	src := &latest{}
	src.p.Store(f.next(9, pv.Good))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, src, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !m.Tripped() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if !m.Tripped() {
		t.Error("polling monitor did not trip")
	}
}

func TestDutyCycle(t *testing.T) {
	d := NewDutyCycle(500 * time.Millisecond)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

	tests := []struct {
		ms     int
		report *bool
		want   float64
	}{
		{0, ptr(true), 0},
		{100, ptr(true), 0.2},
		{300, ptr(true), 0.6},
		{500, ptr(true), 1},
		{600, ptr(false), 1},
		{700, ptr(false), 0.8},
		{800, nil, 0.6},
		{900, ptr(true), 0.4},
		{1000, nil, 0.4},
	}

	for i, test := range tests {
		if test.report != nil {
			d.Report(*test.report, at(test.ms))
		}
		got := d.Calculate(at(test.ms))
		if math.Abs(got-test.want) > 1e-9 {
			t.Errorf("did not get expected result from test: %d. Got: %f, Want: %f", i, got, test.want)
		}
	}
}

func TestTripDuty(t *testing.T) {
	m, err := New(Config{Thresholds: []Threshold{{Signal: "BPM1", Absolute: 5}}, Debounce: 1, DutyWindow: time.Second}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create monitor: %v", err)
	}
	f := &feeder{name: "BPM1"}
	m.Evaluate(f.next(0, pv.Good))
	for i := 0; i < 5; i++ {
		m.Evaluate(f.next(6, pv.Good))
	}
	if got := m.TripDuty(); math.Abs(got-0.4) > 1e-9 {
		t.Errorf("unexpected trip duty, got: %f, want: 0.4", got)
	}
}

func TestTripDutyConcurrent(t *testing.T) {
	m, err := New(Config{Thresholds: []Threshold{{Signal: "BPM1", Absolute: 5}}, Debounce: 1, DutyWindow: 300 * time.Millisecond}, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create monitor: %v", err)
	}
	f := &feeder{name: "BPM1"}

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				d := m.TripDuty()
				if d < 0 || d > 1 {
					t.Errorf("trip duty out of range: %f", d)
					return
				}
			}
		}()
	}

	// Trip and reset repeatedly so spans open, close and expire.
	for i := 0; i < 200; i++ {
		m.Evaluate(f.next(6, pv.Good))
		m.Evaluate(f.next(0, pv.Good))
		err := m.Reset(Ack{Operator: "op", Confirm: true})
		if err != nil {
			t.Errorf("unexpected reset error at %d: %v", i, err)
		}
	}
	close(done)
	wg.Wait()
}

func ptr(b bool) *bool { return &b }
