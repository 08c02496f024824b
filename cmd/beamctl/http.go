/*
DESCRIPTION
  http.go provides the HTTP interface to a running station.

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
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/ausocean/beamctl/acquisition"
	"github.com/ausocean/beamctl/controller"
	"github.com/ausocean/beamctl/interlock"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/smartlogger"
	"github.com/ausocean/beamctl/station"
)

// num returns v, or nil if v is not representable in JSON.
func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type signalView struct {
	Name     string     `json:"name"`
	Value    *float64   `json:"value"`
	Time     time.Time  `json:"time"`
	Quality  pv.Quality `json:"quality"`
	Smoothed *float64   `json:"smoothed"`
	Rate     *float64   `json:"rate"`
	Mean     *float64   `json:"mean"`
	StdDev   *float64   `json:"stddev"`
	Median   *float64   `json:"median"`
}

type snapshotView struct {
	Seq     uint64       `json:"seq"`
	Time    time.Time    `json:"time"`
	Elapsed string       `json:"elapsed"`
	Overrun bool         `json:"overrun"`
	Signals []signalView `json:"signals"`
}

func newSnapshotView(s *acquisition.Snapshot) snapshotView {
	v := snapshotView{Seq: s.Seq, Time: s.Time, Elapsed: s.Elapsed.String(), Overrun: s.Overrun}
	for _, sig := range s.Signals {
		v.Signals = append(v.Signals, signalView{
			Name:     sig.Name,
			Value:    num(sig.Raw.Value),
			Time:     sig.Raw.Time,
			Quality:  sig.Quality,
			Smoothed: num(sig.Smoothed),
			Rate:     num(sig.Rate),
			Mean:     num(sig.Mean),
			StdDev:   num(sig.StdDev),
			Median:   num(sig.Median),
		})
	}
	return v
}

type reasonView struct {
	Signal    string         `json:"signal"`
	Kind      interlock.Kind `json:"kind"`
	Value     *float64       `json:"value"`
	Threshold float64        `json:"threshold"`
	Time      time.Time      `json:"time"`
}

type interlockView struct {
	Tripped bool        `json:"tripped"`
	Armed   bool        `json:"armed"`
	Duty    *float64    `json:"duty"`
	Reason  *reasonView `json:"reason,omitempty"`
}

type faultView struct {
	ID    string               `json:"id"`
	Time  time.Time            `json:"time"`
	Mode  controller.Mode      `json:"mode"`
	Kind  controller.FaultKind `json:"kind"`
	Error string               `json:"error"`
}

type statusView struct {
	Name       string          `json:"name"`
	Mode       controller.Mode `json:"mode"`
	Setpoint   float64         `json:"setpoint"`
	Iteration  int             `json:"iteration"`
	Metric     *float64        `json:"metric"`
	Settings   []float64       `json:"settings"`
	Correction []float64       `json:"correction"`
	LastSeq    uint64          `json:"lastseq"`
	Fault      *faultView      `json:"fault,omitempty"`
}

func newStatusView(s controller.Status) statusView {
	v := statusView{
		Name:       s.Name,
		Mode:       s.Mode,
		Setpoint:   s.Setpoint,
		Iteration:  s.Iteration,
		Metric:     num(s.Metric),
		Settings:   s.Settings,
		Correction: s.Correction,
		LastSeq:    s.LastSeq,
	}
	if f := s.Fault; f != nil {
		v.Fault = &faultView{ID: f.ID.String(), Time: f.Time, Mode: f.Mode, Kind: f.Kind, Error: f.Err.Error()}
	}
	return v
}

// valueT is the request body for setting a variable.
type valueT struct {
	Value string `json:"value"`
}

// server serves the HTTP interface of a station.
type server struct {
	st  *station.Station
	sl  *smartlogger.Smartlogger // May be nil.
	log logging.Logger
}

// newRouter returns a router exposing st.
func newRouter(st *station.Station, sl *smartlogger.Smartlogger, log logging.Logger) chi.Router {
	s := &server{st: st, sl: sl, log: log}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/snapshot", s.snapshot)
	r.Route("/interlock", func(r chi.Router) {
		r.Get("/", s.interlock)
		r.Post("/reset", s.resetInterlock)
		r.Post("/arm", s.arm(true))
		r.Post("/disarm", s.arm(false))
	})
	r.Get("/controllers", s.controllers)
	r.Route("/controllers/{name}", func(r chi.Router) {
		r.Get("/", s.status)
		r.Get("/faults", s.faults)
		r.Post("/{command}", s.command)
		r.Get("/vars", s.vars)
		r.Put("/vars/{var}", s.setVar)
	})
	r.Post("/scan", s.scan)
	r.Post("/logs/rotate", s.rotate)
	return r
}

func respond(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.st.Engine().Latest()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	respond(w, newSnapshotView(snap))
}

func (s *server) interlock(w http.ResponseWriter, r *http.Request) {
	m := s.st.Monitor()
	v := interlockView{Tripped: m.Tripped(), Armed: m.Armed(), Duty: num(m.TripDuty())}
	if rs, ok := m.LastTripReason(); ok {
		v.Reason = &reasonView{Signal: rs.Signal, Kind: rs.Kind, Value: num(rs.Value), Threshold: rs.Threshold, Time: rs.Time}
	}
	respond(w, v)
}

func (s *server) resetInterlock(w http.ResponseWriter, r *http.Request) {
	var ack struct {
		Operator string `json:"operator"`
		Confirm  bool   `json:"confirm"`
	}
	err := json.NewDecoder(r.Body).Decode(&ack)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.st.Monitor().Reset(interlock.Ack{Operator: ack.Operator, Confirm: ack.Confirm})
	switch {
	case errors.Is(err, interlock.ErrNotConfirmed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interlock.ErrConditionActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *server) arm(armed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if armed {
			s.st.Monitor().Arm()
		} else {
			s.st.Monitor().Disarm()
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *server) controllers(w http.ResponseWriter, r *http.Request) {
	var v []statusView
	for _, c := range s.st.Controllers() {
		v = append(v, newStatusView(c.Status()))
	}
	respond(w, v)
}

// controller returns the controller named in the request path, responding
// with an error if there is none.
func (s *server) controller(w http.ResponseWriter, r *http.Request) (*controller.Controller, bool) {
	name := chi.URLParam(r, "name")
	c, ok := s.st.Controller(name)
	if !ok {
		http.Error(w, "no controller "+name, http.StatusNotFound)
	}
	return c, ok
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	respond(w, newStatusView(c.Status()))
}

func (s *server) faults(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	v := []faultView{}
	for _, f := range c.Faults() {
		v = append(v, faultView{ID: f.ID.String(), Time: f.Time, Mode: f.Mode, Kind: f.Kind, Error: f.Err.Error()})
	}
	respond(w, v)
}

func (s *server) command(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	// Commands outlive the request.
	ctx := context.WithoutCancel(r.Context())
	var err error
	switch cmd := chi.URLParam(r, "command"); cmd {
	case "start":
		err = c.Start(ctx)
	case "stop":
		c.Stop(ctx)
	case "reset":
		err = c.Reset()
	default:
		http.Error(w, "unknown command "+cmd, http.StatusBadRequest)
		return
	}
	switch {
	case errors.Is(err, controller.ErrNotIdle), errors.Is(err, controller.ErrBusy), errors.Is(err, controller.ErrInterlockTripped):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Info("controller command", "controller", c.Name(), "command", chi.URLParam(r, "command"))
	respond(w, newStatusView(c.Status()))
}

func (s *server) vars(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	respond(w, createVarMap(c))
}

func (s *server) setVar(w http.ResponseWriter, r *http.Request) {
	c, ok := s.controller(w, r)
	if !ok {
		return
	}
	var v valueT
	err := json.NewDecoder(r.Body).Decode(&v)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "var")
	err = updateVar(c, name, v.Value)
	switch {
	case errors.Is(err, errUnknownVar):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.log.Warning("could not update variable", "controller", c.Name(), "name", name, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Info("variable updated", "controller", c.Name(), "name", name, "value", v.Value)
	w.WriteHeader(http.StatusOK)
}

func (s *server) rotate(w http.ResponseWriter, r *http.Request) {
	if s.sl == nil {
		http.Error(w, "not logging to file", http.StatusNotFound)
		return
	}
	err := s.sl.Rotate()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n, err := s.sl.Archive()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respond(w, map[string]int{"archived": n})
}
