/*
DESCRIPTION
  interlock.go provides an interlock monitor that trips on excessive rate of
  change or magnitude of monitored signals.

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

// Package interlock provides a safety monitor that watches acquisition
// snapshots and trips when a signal changes too fast or grows too large. A
// trip is sticky: it is cleared only by a confirmed operator reset once the
// condition has gone. The monitor never writes to actuators; controllers
// consult Tripped.
package interlock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/utils/logging"
)

// Defaults.
const (
	DefaultRateWindow = 2
	DefaultDutyWindow = 10 * time.Second
)

// Errors returned by Reset.
var (
	ErrNotConfirmed    = errors.New("reset not confirmed by an operator")
	ErrConditionActive = errors.New("trip condition still active")
)

// Kind identifies the check that tripped.
type Kind int

// Trip kinds.
const (
	Rate Kind = iota
	Absolute
)

func (k Kind) String() string {
	switch k {
	case Rate:
		return "RATE"
	case Absolute:
		return "ABSOLUTE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "RATE":
		*k = Rate
	case "ABSOLUTE":
		*k = Absolute
	default:
		return fmt.Errorf("unknown trip kind %q", b)
	}
	return nil
}

// Threshold sets the limits for one signal. A zero limit disables that check.
type Threshold struct {
	Signal   string  `koanf:"signal"`
	Rate     float64 `koanf:"rate"`     // Limit on |rate of change| per second.
	Absolute float64 `koanf:"absolute"` // Limit on |value|.
	Window   int     `koanf:"window"`   // Samples in the rate fit; at least 2.
}

// Config holds monitor parameters.
type Config struct {
	Thresholds []Threshold   `koanf:"thresholds"`
	Debounce   int           `koanf:"debounce"` // Consecutive violating evaluations required to trip.
	DutyWindow time.Duration `koanf:"dutywindow"`
	Period     time.Duration `koanf:"period"` // Evaluation period when polling; zero evaluates on publication only.
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Debounce < 1 {
		return fmt.Errorf("debounce must be at least 1, got %d", c.Debounce)
	}
	if c.Period < 0 || c.DutyWindow < 0 {
		return errors.New("negative period or duty window")
	}
	seen := make(map[string]bool)
	for _, th := range c.Thresholds {
		if th.Signal == "" {
			return errors.New("threshold with empty signal name")
		}
		if seen[th.Signal] {
			return fmt.Errorf("duplicate threshold for %s", th.Signal)
		}
		seen[th.Signal] = true
		if th.Rate < 0 || th.Absolute < 0 {
			return fmt.Errorf("negative threshold for %s", th.Signal)
		}
		if th.Rate == 0 && th.Absolute == 0 {
			return fmt.Errorf("no limits set for %s", th.Signal)
		}
		if th.Window != 0 && th.Window < 2 {
			return fmt.Errorf("rate window for %s must be at least 2, got %d", th.Signal, th.Window)
		}
	}
	return nil
}

// Reason describes why the monitor tripped.
type Reason struct {
	Signal    string
	Kind      Kind
	Value     float64 // Offending value or rate.
	Threshold float64
	Time      time.Time
}

func (r Reason) String() string {
	return fmt.Sprintf("%s %s %g exceeded %g at %s", r.Signal, r.Kind, r.Value, r.Threshold, r.Time.Format(time.RFC3339Nano))
}

// Ack is an operator acknowledgement required to reset a trip.
type Ack struct {
	Operator string
	Confirm  bool
}

// watch holds the evaluation state of one threshold.
type watch struct {
	th        Threshold
	ts, vs    []float64 // Rate fit window; ts in seconds since t0.
	t0        time.Time
	rateCount int
	absCount  int
	violating bool
}

// add adds a value at t to the rate window.
func (w *watch) add(t time.Time, v float64) {
	if len(w.ts) == 0 {
		w.t0 = t
	}
	w.ts = append(w.ts, t.Sub(w.t0).Seconds())
	w.vs = append(w.vs, v)
	if n := len(w.ts) - w.th.Window; n > 0 {
		w.ts, w.vs = w.ts[n:], w.vs[n:]
	}
}

// rate returns the least squares slope of the window.
func (w *watch) rate() (float64, bool) {
	if len(w.ts) < 2 || w.ts[len(w.ts)-1] == w.ts[0] {
		return 0, false
	}
	_, beta := stat.LinearRegression(w.ts, w.vs, nil, false)
	return beta, !math.IsNaN(beta)
}

// Monitor evaluates snapshots against thresholds. It is safe for concurrent
// use.
type Monitor struct {
	cfg Config
	log logging.Logger

	mu        sync.RWMutex
	armed     bool
	tripped   bool
	reason    Reason
	hasReason bool
	active    bool // A threshold was violated at the last evaluation.
	lastSeq   uint64
	lastTime  time.Time
	watches   []*watch
	duty      *DutyCycle
}

// New returns a new armed Monitor.
func New(cfg Config, log logging.Logger) (*Monitor, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid interlock config: %w", err)
	}
	if cfg.DutyWindow == 0 {
		cfg.DutyWindow = DefaultDutyWindow
	}
	m := &Monitor{cfg: cfg, log: log, armed: true, duty: NewDutyCycle(cfg.DutyWindow)}
	for _, th := range cfg.Thresholds {
		if th.Window == 0 {
			th.Window = DefaultRateWindow
		}
		m.watches = append(m.watches, &watch{th: th})
	}
	return m, nil
}

// Evaluate checks s against every threshold. Snapshots not newer than the last
// evaluated are ignored. Signals that are missing or not of good quality leave
// their debounce counters unchanged.
func (m *Monitor) Evaluate(s *acquisition.Snapshot) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Seq <= m.lastSeq {
		return
	}
	m.lastSeq, m.lastTime = s.Seq, s.Time

	var active bool
	for _, w := range m.watches {
		sig, ok := s.Signal(w.th.Signal)
		if !ok || sig.Raw.Quality != pv.Good || math.IsNaN(sig.Raw.Value) {
			active = active || w.violating
			continue
		}

		v := sig.Raw.Value
		w.add(s.Time, v)
		rate, haveRate := w.rate()
		absHigh := w.th.Absolute > 0 && math.Abs(v) > w.th.Absolute
		rateHigh := w.th.Rate > 0 && haveRate && math.Abs(rate) > w.th.Rate
		w.absCount = bump(w.absCount, absHigh)
		w.rateCount = bump(w.rateCount, rateHigh)
		w.violating = absHigh || rateHigh
		active = active || w.violating
		if w.violating {
			m.log.Debug("interlock threshold exceeded", "signal", w.th.Signal, "value", v, "rate", rate, "abs", w.absCount, "rateCount", w.rateCount)
		}

		if !m.armed || m.tripped {
			continue
		}
		switch {
		case w.absCount >= m.cfg.Debounce:
			m.trip(Reason{Signal: w.th.Signal, Kind: Absolute, Value: v, Threshold: w.th.Absolute, Time: s.Time})
		case w.rateCount >= m.cfg.Debounce:
			m.trip(Reason{Signal: w.th.Signal, Kind: Rate, Value: rate, Threshold: w.th.Rate, Time: s.Time})
		}
	}
	m.active = active
	m.duty.Report(m.tripped, s.Time)
}

func bump(n int, high bool) int {
	if high {
		return n + 1
	}
	return 0
}

// trip latches the trip state. m.mu must be held.
func (m *Monitor) trip(r Reason) {
	m.tripped = true
	m.reason, m.hasReason = r, true
	m.log.Error("interlock tripped", "signal", r.Signal, "kind", r.Kind.String(), "value", r.Value, "threshold", r.Threshold)
}

// Run evaluates the latest snapshot from src every period until ctx is done.
func (m *Monitor) Run(ctx context.Context, src acquisition.Source, period time.Duration) {
	tick := time.NewTicker(period)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.Evaluate(src.Latest())
		}
	}
}

// Tripped reports whether the interlock is tripped. Concurrency safe.
func (m *Monitor) Tripped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tripped
}

// LastTripReason returns the reason for the most recent trip. ok is false if
// the monitor has never tripped. The reason is retained after a reset.
func (m *Monitor) LastTripReason() (r Reason, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason, m.hasReason
}

// Arm enables tripping.
func (m *Monitor) Arm() {
	m.mu.Lock()
	m.armed = true
	m.mu.Unlock()
	m.log.Info("interlock armed")
}

// Disarm disables tripping. A trip already latched is unaffected.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	m.armed = false
	m.mu.Unlock()
	m.log.Warning("interlock disarmed")
}

// Armed reports whether the monitor can trip.
func (m *Monitor) Armed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.armed
}

// Reset clears a trip. It requires a confirmed acknowledgement naming the
// operator, and fails if any threshold was violated at the last evaluation.
func (m *Monitor) Reset(ack Ack) error {
	if !ack.Confirm || ack.Operator == "" {
		return ErrNotConfirmed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tripped {
		return nil
	}
	if m.active {
		return ErrConditionActive
	}
	m.tripped = false
	for _, w := range m.watches {
		w.absCount, w.rateCount = 0, 0
	}
	m.log.Info("interlock reset", "operator", ack.Operator, "reason", m.reason.String())
	return nil
}

// TripDuty returns the fraction of the duty window, ending at the last
// evaluation, during which the interlock was tripped.
func (m *Monitor) TripDuty() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duty.Calculate(m.lastTime)
}
