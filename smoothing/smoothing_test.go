/*
DESCRIPTION
  smoothing_test.go provides testing for filters, running window statistics
  and batch smoothing helpers.

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

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ausocean/beamctl/pv"
)

func good(v float64) pv.Sample {
	return pv.Sample{Name: "test", Value: v, Time: time.Now(), Quality: pv.Good}
}

func bad() pv.Sample {
	return pv.Sample{Name: "test", Value: math.NaN(), Time: time.Now(), Quality: pv.Invalid}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		cfg Config
		ok  bool
	}{
		{Config{Kind: MovingAverage, Window: 1}, true},
		{Config{Kind: MovingAverage, Window: 0}, false},
		{Config{Kind: Exponential, Alpha: 1}, true},
		{Config{Kind: Exponential, Alpha: 0}, false},
		{Config{Kind: Exponential, Alpha: 1.5}, false},
		{Config{Kind: "median", Window: 3}, false},
	}

	for i, test := range tests {
		err := test.cfg.Validate()
		if (err == nil) != test.ok {
			t.Errorf("did not get expected result from test: %d. Got error: %v, want ok: %v", i, err, test.ok)
		}
	}
}

func TestMovingAverage(t *testing.T) {
	f, err := New(Config{Kind: MovingAverage, Window: 3})
	if err != nil {
		t.Fatalf("could not create filter: %v", err)
	}

	tests := []struct {
		in   pv.Sample
		want float64
	}{
		{good(3), 3},
		{good(6), 4.5},
		{bad(), 4.5},
		{good(9), 6},
		{good(12), 9},
		{good(12), 11},
		{good(12), 12},
	}

	for i, test := range tests {
		got, err := f.Update(test.in)
		if err != nil {
			t.Fatalf("unexpected error from test %d: %v", i, err)
		}
		if got != test.want {
			t.Errorf("did not get expected result from test: %d. Got: %f, Want: %f", i, got, test.want)
		}
	}
}

func TestMovingAverageConverges(t *testing.T) {
	const v = 7.25
	f, _ := New(Config{Kind: MovingAverage, Window: 5})
	for _, x := range []float64{100, -40, 3, 0.5} {
		f.Update(good(x))
	}
	var got float64
	for i := 0; i < 5; i++ {
		got, _ = f.Update(good(v))
	}
	if got != v {
		t.Errorf("moving average did not converge, got: %v, want: %v", got, v)
	}
}

func TestExponentialBound(t *testing.T) {
	const (
		alpha   = 0.3
		initial = 50.0
		v       = 2.0
	)
	f, _ := New(Config{Kind: Exponential, Alpha: alpha})
	got, _ := f.Update(good(initial))
	if got != initial {
		t.Fatalf("expected first sample to initialise filter, got: %v", got)
	}

	for n := 1; n <= 30; n++ {
		got, _ = f.Update(good(v))
		bound := math.Pow(1-alpha, float64(n)) * math.Abs(initial-v)
		if math.Abs(got-v) > bound+1e-12 {
			t.Errorf("bound exceeded after %d updates: |%v - %v| > %v", n, got, v, bound)
		}
	}
}

func TestInvalidExcluded(t *testing.T) {
	f, _ := New(Config{Kind: Exponential, Alpha: 0.5, MaxInvalid: 2})
	f.Update(good(4))

	for i := 0; i < 2; i++ {
		got, err := f.Update(bad())
		if err != nil {
			t.Fatalf("unexpected error on invalid sample %d: %v", i, err)
		}
		if got != 4 {
			t.Errorf("invalid sample changed state, got: %v", got)
		}
	}

	got, err := f.Update(pv.Sample{Value: 100, Quality: pv.Stale})
	if !errors.Is(err, ErrStaleStream) {
		t.Fatalf("expected stale stream error, got: %v", err)
	}
	var se *StaleStreamError
	if !errors.As(err, &se) || se.Consecutive != 3 {
		t.Errorf("unexpected stale stream error: %v", err)
	}
	if got != 4 {
		t.Errorf("expected last value with stale error, got: %v", got)
	}

	got, err = f.Update(good(8))
	if err != nil {
		t.Errorf("unexpected error after recovery: %v", err)
	}
	if got != 6 {
		t.Errorf("did not get expected value after recovery, got: %v, want: 6", got)
	}
}

func TestUnprimed(t *testing.T) {
	f, _ := New(Config{Kind: MovingAverage, Window: 2})
	got, err := f.Update(bad())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(got) || f.Primed() {
		t.Errorf("expected NaN from unprimed filter, got: %v", got)
	}
	f.Update(good(1))
	f.Reset()
	if f.Primed() || !math.IsNaN(f.Value()) {
		t.Errorf("reset did not clear filter")
	}
}

func TestWindowMedian(t *testing.T) {
	w := NewWindow(5)

	tests := []struct {
		update, want float64
	}{
		{13, 13},
		{46, 29.5},
		{5, 13},
		{53, 29.5},
		{26, 26},
		{21, 26},
		{33, 26},
		{67, 33},
		{8, 26},
		{3, 21},
	}

	for i, test := range tests {
		w.Add(test.update)
		if got := w.Median(); got != test.want {
			t.Errorf("did not get expected result from test: %d. Got: %f, Want: %f", i, got, test.want)
		}
	}
}

func TestWindowStdDev(t *testing.T) {
	w := NewWindow(5)

	tests := []struct {
		update, want float64
	}{
		{13, 0},
		{46, 23.33},
		{5, 21.73},
		{53, 23.78},
		{26, 20.65},
		{21, 19.41},
		{33, 17.54},
		{67, 19.39},
		{8, 22.10},
		{3, 25.53},
	}

	for i, test := range tests {
		w.Add(test.update)
		got := math.Round(w.StdDev()*100) / 100
		if got != test.want {
			t.Errorf("did not get expected result from test: %d. Got: %f, Want: %f", i, got, test.want)
		}
	}
}

func TestSmoothAvg(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

	tests := []struct {
		n    int
		want []float64
	}{
		{1, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}},
		{2, []float64{1, 1.5, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5, 9.5, 10.5}},
		{3, []float64{1.5, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10.5}},
		{4, []float64{1.5, 2, 2.5, 3.5, 4.5, 5.5, 6.5, 7.5, 8.5, 9.5, 10}},
		{5, []float64{2, 2.5, 3, 4, 5, 6, 7, 8, 9, 9.5, 10}},
	}

	for i, test := range tests {
		got := SmoothAvg(data, test.n)
		for j := range got {
			if got[j] != test.want[j] {
				t.Errorf("did not get expected result from test: %d, index: %d. Got: %f, Want: %f", i, j, got[j], test.want[j])
			}
		}
	}
}

func TestCollapseSame(t *testing.T) {
	x := []float64{0, 1, 2, 2, 3, 4, 4, 4, 5, 6, 7, 8, 8, 8, 8, 8, 9, 10, 11}
	y := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18}
	wantX := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	wantY := []float64{1, 2.5, 4, 6, 8, 9, 10, 13, 16, 17, 18}

	rx, ry := CollapseSame(x, y)
	if len(rx) != len(wantX) || len(ry) != len(wantY) {
		t.Fatalf("unexpected lengths: %d, %d", len(rx), len(ry))
	}
	for i := range rx {
		if rx[i] != wantX[i] || ry[i] != wantY[i] {
			t.Errorf("did not get expected result at index: %d. Got: (%f, %f), Want: (%f, %f)", i, rx[i], ry[i], wantX[i], wantY[i])
		}
	}
}
