/*
DESCRIPTION
  http_test.go provides testing of the HTTP interface against a station
  on a simulated plant.

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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/beamctl/config"
	"github.com/ausocean/beamctl/controller"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/station"
)

func newTestServer(t *testing.T) (*httptest.Server, *station.Station, *pv.Sim) {
	t.Helper()
	cfg := config.Example()
	sim := station.NewSim(cfg)
	st, err := station.New(sim, cfg, (*logging.TestLogger)(t))
	if err != nil {
		t.Fatalf("could not create station: %v", err)
	}
	ts := httptest.NewServer(newRouter(st, nil, (*logging.TestLogger)(t)))
	t.Cleanup(ts.Close)
	return ts, st, sim
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var b bytes.Buffer
	if body != nil {
		err := json.NewEncoder(&b).Encode(body)
		if err != nil {
			t.Fatalf("could not encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &b)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSnapshot(t *testing.T) {
	ts, st, sim := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/snapshot", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("did not get expected status before acquisition. Got: %d", resp.StatusCode)
	}

	sim.Fail("BPM2", errors.New("offline"))
	st.Engine().Acquire(context.Background())
	resp = do(t, http.MethodGet, ts.URL+"/snapshot", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("did not get expected status. Got: %d", resp.StatusCode)
	}

	var got snapshotView
	err := json.NewDecoder(resp.Body).Decode(&got)
	if err != nil {
		t.Fatalf("could not decode snapshot: %v", err)
	}
	if got.Seq != 1 || len(got.Signals) != 3 {
		t.Fatalf("did not get expected snapshot: %+v", got)
	}
	bpm1, bpm2 := got.Signals[0], got.Signals[1]
	if bpm1.Value == nil || *bpm1.Value != 3 || bpm1.Quality != pv.Good {
		t.Errorf("did not get expected BPM1: %+v", bpm1)
	}
	if bpm2.Smoothed != nil || bpm2.Quality != pv.Invalid {
		t.Errorf("did not get expected BPM2: %+v", bpm2)
	}
}

func TestControllerCommands(t *testing.T) {
	ts, st, _ := newTestServer(t)
	base := ts.URL + "/controllers/orbit-x"

	tests := []struct {
		method string
		path   string
		body   interface{}
		want   int
	}{
		{http.MethodGet, "", nil, http.StatusOK},
		{http.MethodPost, "/start", nil, http.StatusOK},
		{http.MethodPost, "/start", nil, http.StatusConflict},
		{http.MethodPost, "/reset", nil, http.StatusConflict},
		{http.MethodPost, "/launch", nil, http.StatusBadRequest},
		{http.MethodPut, "/vars/Setpoint", valueT{"1.5"}, http.StatusOK},
		{http.MethodPut, "/vars/Setpoint", valueT{"high"}, http.StatusBadRequest},
		{http.MethodPut, "/vars/Gain", valueT{"0"}, http.StatusBadRequest},
		{http.MethodPut, "/vars/Colour", valueT{"red"}, http.StatusNotFound},
		{http.MethodPut, "/vars/Settle", valueT{"250ms"}, http.StatusOK},
		{http.MethodPost, "/stop", nil, http.StatusOK},
		{http.MethodPost, "/reset", nil, http.StatusOK},
	}

	for i, test := range tests {
		resp := do(t, test.method, base+test.path, test.body)
		if resp.StatusCode != test.want {
			t.Errorf("did not get expected result from test: %d. Got: %d, Want: %d", i, resp.StatusCode, test.want)
		}
	}

	c, _ := st.Controller("orbit-x")
	if s := c.Status(); s.Mode != controller.Idle || s.Setpoint != 1.5 {
		t.Errorf("did not get expected status: %+v", s)
	}
	if resp := do(t, http.MethodGet, ts.URL+"/controllers/orbit-z", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("did not get expected status for unknown controller. Got: %d", resp.StatusCode)
	}
}

func TestStatusView(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/controllers", nil)

	var got []map[string]interface{}
	err := json.NewDecoder(resp.Body).Decode(&got)
	if err != nil {
		t.Fatalf("could not decode statuses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("did not get expected number of controllers. Got: %d", len(got))
	}
	if got[0]["mode"] != "IDLE" || got[0]["metric"] != nil {
		t.Errorf("did not get expected status: %v", got[0])
	}
}

func TestInterlockEndpoints(t *testing.T) {
	ts, st, sim := newTestServer(t)
	ctx := context.Background()

	sim.Set("CURRENT", 150)
	for i := 0; i < 3; i++ {
		st.Engine().Acquire(ctx)
	}

	var v interlockView
	resp := do(t, http.MethodGet, ts.URL+"/interlock", nil)
	err := json.NewDecoder(resp.Body).Decode(&v)
	if err != nil {
		t.Fatalf("could not decode interlock: %v", err)
	}
	if !v.Tripped || v.Reason == nil || v.Reason.Signal != "CURRENT" {
		t.Errorf("did not get expected interlock state: %+v", v)
	}

	tests := []struct {
		ack  interface{}
		want int
	}{
		{map[string]interface{}{"operator": "op", "confirm": false}, http.StatusBadRequest},
		{map[string]interface{}{"operator": "op", "confirm": true}, http.StatusConflict},
	}
	for i, test := range tests {
		resp := do(t, http.MethodPost, ts.URL+"/interlock/reset", test.ack)
		if resp.StatusCode != test.want {
			t.Errorf("did not get expected result from test: %d. Got: %d, Want: %d", i, resp.StatusCode, test.want)
		}
	}

	sim.Set("CURRENT", 40)
	st.Engine().Acquire(ctx)
	resp = do(t, http.MethodPost, ts.URL+"/interlock/reset", map[string]interface{}{"operator": "op", "confirm": true})
	if resp.StatusCode != http.StatusOK || st.Monitor().Tripped() {
		t.Errorf("could not reset interlock. Status: %d", resp.StatusCode)
	}
}

func TestVariables(t *testing.T) {
	ts, _, _ := newTestServer(t)

	tests := []struct {
		controller string
		want       map[string]string
	}{
		{"orbit-x", map[string]string{"Setpoint": "float", "Gain": "float", "MaxStep": "float", "Tolerance": "float", "Settle": "duration"}},
		{"orbit-y", map[string]string{"Setpoint": "float", "Tolerance": "float", "Settle": "duration"}},
	}

	for i, test := range tests {
		resp := do(t, http.MethodGet, ts.URL+"/controllers/"+test.controller+"/vars", nil)
		var got map[string]string
		err := json.NewDecoder(resp.Body).Decode(&got)
		if err != nil {
			t.Fatalf("could not decode variables for test %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("did not get expected result from test: %d. Got: %v, Want: %v", i, got, test.want)
		}
	}

	resp := do(t, http.MethodPut, ts.URL+"/controllers/orbit-y/vars/Gain", valueT{"2"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("gain accepted by pattern search controller. Status: %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPut, ts.URL+"/controllers/orbit-y/vars/Settle", valueT{"20ms"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("could not set settle. Status: %d", resp.StatusCode)
	}
}

func TestScan(t *testing.T) {
	ts, _, _ := newTestServer(t)

	y := []float64{0.0, 0.1, 0.2, 1.0, 7.0, 6.0, 5.0, 7.1, 8.0, 7.5, 8.5, 10.0, 9.0, 8.0, 7.0, 0.5, 0.2, 0.1, 0.0}
	x := make([]float64, len(y))
	for i := range x {
		x[i] = float64(i + 1)
	}

	resp := do(t, http.MethodPost, ts.URL+"/scan", scanRequest{X: x, Y: y, Threshold: 0.1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var got scanView
	err := json.NewDecoder(resp.Body).Decode(&got)
	if err != nil {
		t.Fatalf("could not decode scan: %v", err)
	}
	if want := [3]int{4, 6, 11}; got.Breakpoints != want {
		t.Errorf("did not get expected breakpoints. Got: %v, Want: %v", got.Breakpoints, want)
	}
	for i, want := range []float64{5, 7, 12} {
		if got.Positions[i] == nil || *got.Positions[i] != want {
			t.Errorf("did not get expected result from test: %d. Got: %v, Want: %f", i, got.Positions[i], want)
		}
	}

	tests := []scanRequest{
		{X: []float64{1, 2}, Y: []float64{1}},
		{},
		{X: []float64{0, 0}, Y: []float64{0, 0}},
	}
	for i, test := range tests {
		resp := do(t, http.MethodPost, ts.URL+"/scan", test)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("did not get expected result from test: %d. Got: %d, Want: %d", i, resp.StatusCode, http.StatusBadRequest)
		}
	}
}
