/*
DESCRIPTION
  engine.go provides the acquisition pull engine, which periodically samples
  process variables, smooths them and publishes snapshots to subscribers.

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

// Package acquisition provides periodic sampling of process variables into
// versioned snapshots.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/smoothing"
	"github.com/ausocean/utils/logging"
)

// Defaults.
const (
	DefaultStatsWindow = 10
	overrunLogPeriod   = 10 * time.Second
)

// ErrRunning is returned by Start when the engine is already running.
var ErrRunning = errors.New("engine already running")

// SignalConfig binds a process variable to a smoothing filter.
type SignalConfig struct {
	Name   string           `koanf:"name"`
	Filter smoothing.Config `koanf:"filter"`
}

// Config holds acquisition engine parameters.
type Config struct {
	Interval    time.Duration  `koanf:"interval"`
	ReadTimeout time.Duration  `koanf:"readtimeout"`
	StatsWindow int            `koanf:"statswindow"`
	Signals     []SignalConfig `koanf:"signals"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("acquisition interval must be positive, got %v", c.Interval)
	}
	if c.ReadTimeout <= 0 || c.ReadTimeout > c.Interval {
		return fmt.Errorf("read timeout must be positive and no longer than the interval, got %v", c.ReadTimeout)
	}
	if len(c.Signals) == 0 {
		return errors.New("no signals configured")
	}
	seen := make(map[string]bool)
	for _, s := range c.Signals {
		if s.Name == "" {
			return errors.New("signal with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate signal: %s", s.Name)
		}
		seen[s.Name] = true
		err := s.Filter.Validate()
		if err != nil {
			return fmt.Errorf("invalid filter for %s: %w", s.Name, err)
		}
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine) error

// WithClock sets the clock used to timestamp cycles.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return errors.New("nil clock")
		}
		e.now = now
		return nil
	}
}

// WithOverrunHandler sets a function called with the cycle duration whenever a
// cycle overruns the interval. It is called from the acquisition goroutine and
// must not block.
func WithOverrunHandler(fn func(elapsed time.Duration)) Option {
	return func(e *Engine) error {
		e.onOverrun = fn
		return nil
	}
}

// stream holds per signal state. It is only touched by the cycle holding
// Engine.cycle.
type stream struct {
	name     string
	filter   *smoothing.Filter
	stats    *smoothing.Window
	prev     float64
	prevTime time.Time
}

// Engine samples a fixed set of process variables once per interval and
// publishes each cycle as a Snapshot.
type Engine struct {
	cfg       Config
	vars      pv.Reader
	log       logging.Logger
	now       func() time.Time
	onOverrun func(time.Duration)
	limiter   *rate.Limiter

	cycle   sync.Mutex // Serialises cycles.
	streams []*stream
	seq     uint64

	latest   atomic.Pointer[Snapshot]
	overruns atomic.Uint64

	subMu sync.RWMutex
	subs  []func(*Snapshot)

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a new Engine reading from vars.
func New(vars pv.Reader, cfg Config, log logging.Logger, opts ...Option) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid acquisition config: %w", err)
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = DefaultStatsWindow
	}

	e := &Engine{
		cfg:     cfg,
		vars:    vars,
		log:     log,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(overrunLogPeriod), 1),
	}
	for i, opt := range opts {
		err := opt(e)
		if err != nil {
			return nil, fmt.Errorf("could not apply option %d: %w", i, err)
		}
	}

	for _, s := range cfg.Signals {
		f, err := smoothing.New(s.Filter)
		if err != nil {
			return nil, fmt.Errorf("could not create filter for %s: %w", s.Name, err)
		}
		e.streams = append(e.streams, &stream{
			name:   s.Name,
			filter: f,
			stats:  smoothing.NewWindow(cfg.StatsWindow),
			prev:   math.NaN(),
		})
	}
	return e, nil
}

// Subscribe registers fn to be called with every published snapshot. fn is
// called from the acquisition goroutine and must not block.
func (e *Engine) Subscribe(fn func(*Snapshot)) {
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

// Latest returns the most recently published snapshot, or nil if none has been
// published. Concurrency safe.
func (e *Engine) Latest() *Snapshot { return e.latest.Load() }

// Overruns returns the number of cycles that took longer than the interval.
func (e *Engine) Overruns() uint64 { return e.overruns.Load() }

// Interval returns the acquisition interval.
func (e *Engine) Interval() time.Duration { return e.cfg.Interval }

// Acquire performs one acquisition cycle and publishes the resulting snapshot,
// which is also returned. A failed read marks only that signal invalid; the
// rest of the cycle completes. If ctx is done before the snapshot is
// assembled nothing is published and nil is returned.
func (e *Engine) Acquire(ctx context.Context) *Snapshot {
	e.cycle.Lock()
	defer e.cycle.Unlock()

	start := e.now()
	sigs := make([]Signal, len(e.streams))
	for i, st := range e.streams {
		sigs[i] = e.sample(ctx, st, start)
	}
	if ctx.Err() != nil {
		return nil
	}

	elapsed := e.now().Sub(start)
	e.seq++
	snap := &Snapshot{
		Seq:     e.seq,
		Time:    start,
		Elapsed: elapsed,
		Overrun: elapsed > e.cfg.Interval,
		Signals: sigs,
	}
	e.latest.Store(snap)

	e.subMu.RLock()
	for _, fn := range e.subs {
		fn(snap)
	}
	e.subMu.RUnlock()

	if snap.Overrun {
		e.overrun(elapsed)
	}
	return snap
}

// sample reads and filters one signal.
func (e *Engine) sample(ctx context.Context, st *stream, now time.Time) Signal {
	raw, err := pv.Read(ctx, e.vars, st.name, e.cfg.ReadTimeout)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Warning("could not read process variable", "name", st.name, "error", err)
		}
		raw = pv.Sample{Name: st.name, Value: math.NaN(), Quality: pv.Invalid}
	}
	if raw.Time.IsZero() {
		raw.Time = now
	}

	sig := Signal{Name: st.name, Raw: raw, Quality: raw.Quality}
	sm, err := st.filter.Update(raw)
	if err != nil {
		e.log.Warning("signal stale", "name", st.name, "error", err)
		sig.Quality = pv.Stale
	}
	sig.Smoothed = sm

	if raw.Quality == pv.Good && !math.IsNaN(raw.Value) {
		st.stats.Add(raw.Value)
		if !math.IsNaN(st.prev) {
			dt := now.Sub(st.prevTime).Seconds()
			if dt > 0 {
				sig.Rate = (sm - st.prev) / dt
			}
		}
		st.prev, st.prevTime = sm, now
	}
	sig.Mean = st.stats.Mean()
	sig.StdDev = st.stats.StdDev()
	sig.Median = st.stats.Median()
	return sig
}

func (e *Engine) overrun(elapsed time.Duration) {
	n := e.overruns.Add(1)
	if e.limiter.Allow() {
		e.log.Warning("acquisition cycle overran interval", "elapsed", elapsed, "interval", e.cfg.Interval, "overruns", n)
	}
	if e.onOverrun != nil {
		e.onOverrun(elapsed)
	}
}

// Start begins periodic acquisition. The first cycle runs immediately; later
// cycles are paced by a wall clock ticker and a cycle that overruns causes the
// missed tick to be skipped rather than queued. Acquisition continues until
// Stop is called or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done != nil {
		return ErrRunning
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx, e.done)
	e.log.Info("acquisition started", "interval", e.cfg.Interval, "signals", len(e.streams))
	return nil
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(e.cfg.Interval)
	defer tick.Stop()
	for {
		snap := e.Acquire(ctx)
		if snap != nil && snap.Overrun {
			// Drop any tick that arrived during the overrun.
			select {
			case <-tick.C:
			default:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// Stop stops periodic acquisition and waits for any cycle in progress to
// finish. No snapshots are published after Stop returns.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.log.Info("acquisition stopped")
}
