/*
DESCRIPTION
  engine_test.go provides testing for the acquisition pull engine.

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
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/smoothing"
	"github.com/ausocean/utils/logging"
)

var direct = smoothing.Config{Kind: smoothing.MovingAverage, Window: 1}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig(names ...string) Config {
	cfg := Config{Interval: 100 * time.Millisecond, ReadTimeout: 50 * time.Millisecond}
	for _, n := range names {
		cfg.Signals = append(cfg.Signals, SignalConfig{Name: n, Filter: direct})
	}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		mod func(*Config)
		ok  bool
	}{
		{func(c *Config) {}, true},
		{func(c *Config) { c.Interval = 0 }, false},
		{func(c *Config) { c.ReadTimeout = 0 }, false},
		{func(c *Config) { c.ReadTimeout = time.Second }, false},
		{func(c *Config) { c.Signals = nil }, false},
		{func(c *Config) { c.Signals = append(c.Signals, c.Signals[0]) }, false},
		{func(c *Config) { c.Signals[0].Filter.Window = 0 }, false},
	}

	for i, test := range tests {
		cfg := testConfig("A", "B")
		test.mod(&cfg)
		err := cfg.Validate()
		if (err == nil) != test.ok {
			t.Errorf("did not get expected result from test: %d. Got error: %v, want ok: %v", i, err, test.ok)
		}
	}
}

func TestPartialSnapshot(t *testing.T) {
	sim := pv.NewSim()
	sim.Set("BPM1", 1)
	sim.Set("BPM2", 2)
	sim.Fail("BPM2", errors.New("channel down"))
	sim.Set("BPM3", 3)

	e, err := New(sim, testConfig("BPM1", "BPM2", "BPM3"), (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}

	snap := e.Acquire(context.Background())
	if snap == nil {
		t.Fatal("no snapshot published")
	}
	if len(snap.Signals) != 3 {
		t.Fatalf("unexpected signal count: %d", len(snap.Signals))
	}
	for _, test := range []struct {
		name string
		q    pv.Quality
	}{
		{"BPM1", pv.Good},
		{"BPM2", pv.Invalid},
		{"BPM3", pv.Good},
	} {
		sig, ok := snap.Signal(test.name)
		if !ok {
			t.Fatalf("missing signal %s", test.name)
		}
		if sig.Quality != test.q {
			t.Errorf("unexpected quality for %s, got: %v, want: %v", test.name, sig.Quality, test.q)
		}
	}
	if snap.Good("BPM1", "BPM2") {
		t.Errorf("snapshot reported good with invalid signal")
	}
	if !snap.Good("BPM1", "BPM3") {
		t.Errorf("snapshot reported not good with good signals")
	}
	if e.Latest() != snap {
		t.Errorf("latest snapshot not published")
	}

	// Failed reads are retried on the next cycle.
	sim.Fail("BPM2", nil)
	snap = e.Acquire(context.Background())
	if !snap.Good("BPM1", "BPM2", "BPM3") || snap.Seq != 2 {
		t.Errorf("unexpected snapshot after recovery: %+v", snap)
	}
}

func TestRateOfChange(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sim := pv.NewSim()
	sim.Script("BPM1", func(n int) float64 { return []float64{0, 10, 10, 5, 5}[n] })

	e, err := New(sim, testConfig("BPM1"), (*logging.TestLogger)(t), WithClock(clk.now))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}

	want := []float64{0, 100, 0, -50, 0}
	for i, w := range want {
		snap := e.Acquire(context.Background())
		sig, _ := snap.Signal("BPM1")
		if math.Abs(sig.Rate-w) > 1e-9 {
			t.Errorf("did not get expected result from cycle: %d. Got: %f, Want: %f", i, sig.Rate, w)
		}
		if snap.Seq != uint64(i+1) {
			t.Errorf("unexpected sequence number: %d", snap.Seq)
		}
		clk.advance(100 * time.Millisecond)
	}
}

func TestWindowStats(t *testing.T) {
	sim := pv.NewSim()
	sim.Script("BPM1", func(n int) float64 { return []float64{4, 1, 100, 2, 3}[n] })

	cfg := testConfig("BPM1")
	cfg.StatsWindow = 3
	e, err := New(sim, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}

	tests := []struct {
		mean, median float64
	}{
		{4, 4},
		{2.5, 2.5},
		{35, 4},
		{103.0 / 3, 2},
		{35, 3},
	}

	for i, test := range tests {
		snap := e.Acquire(context.Background())
		sig, _ := snap.Signal("BPM1")
		if math.Abs(sig.Mean-test.mean) > 1e-9 || math.Abs(sig.Median-test.median) > 1e-9 {
			t.Errorf("did not get expected result from cycle: %d. Got: %f, %f, Want: %f, %f", i, sig.Mean, sig.Median, test.mean, test.median)
		}
	}
}

func TestStaleSignal(t *testing.T) {
	sim := pv.NewSim()
	sim.Set("BPM1", 4)
	cfg := testConfig("BPM1")
	cfg.Signals[0].Filter.MaxInvalid = 2

	e, err := New(sim, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}
	e.Acquire(context.Background())

	sim.SetQuality("BPM1", pv.Invalid)
	want := []pv.Quality{pv.Invalid, pv.Invalid, pv.Stale, pv.Stale}
	for i, w := range want {
		sig, _ := e.Acquire(context.Background()).Signal("BPM1")
		if sig.Quality != w {
			t.Errorf("did not get expected result from cycle: %d. Got: %v, Want: %v", i, sig.Quality, w)
		}
		if sig.Smoothed != 4 {
			t.Errorf("smoothed value changed by unusable sample: %v", sig.Smoothed)
		}
	}
}

func TestOverrun(t *testing.T) {
	sim := pv.NewSim(pv.WithLatency(5 * time.Millisecond))
	names := []string{"A", "B", "C", "D"}
	for _, n := range names {
		sim.Set(n, 1)
	}
	cfg := testConfig(names...)
	cfg.Interval = 10 * time.Millisecond
	cfg.ReadTimeout = 10 * time.Millisecond

	var reported time.Duration
	e, err := New(sim, cfg, (*logging.TestLogger)(t), WithOverrunHandler(func(d time.Duration) { reported = d }))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}

	snap := e.Acquire(context.Background())
	if !snap.Overrun {
		t.Errorf("expected overrun, elapsed: %v", snap.Elapsed)
	}
	if e.Overruns() != 1 || reported != snap.Elapsed {
		t.Errorf("overrun not reported, count: %d, reported: %v", e.Overruns(), reported)
	}
	if !snap.Good(names...) {
		t.Errorf("overrunning cycle did not publish good data")
	}
}

func TestStartStop(t *testing.T) {
	sim := pv.NewSim()
	sim.Set("A", 1)
	cfg := testConfig("A")
	cfg.Interval = 5 * time.Millisecond
	cfg.ReadTimeout = 5 * time.Millisecond

	e, err := New(sim, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create engine: %v", err)
	}

	var mu sync.Mutex
	var seqs []uint64
	e.Subscribe(func(s *Snapshot) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		mu.Unlock()
	})

	err = e.Start(context.Background())
	if err != nil {
		t.Fatalf("could not start engine: %v", err)
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning from second start, got: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	e.Stop()

	mu.Lock()
	n := len(seqs)
	got := append([]uint64(nil), seqs...)
	mu.Unlock()
	if n < 2 {
		t.Fatalf("too few snapshots published: %d", n)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("sequence not strictly increasing at %d: %d after %d", i, got[i], got[i-1])
		}
	}

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := len(seqs)
	mu.Unlock()
	if after != n {
		t.Errorf("snapshots published after stop: %d", after-n)
	}
}
