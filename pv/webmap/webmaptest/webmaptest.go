/*
DESCRIPTION
  webmaptest.go provides a fake web map endpoint for testing clients of
  package webmap.

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

// Package webmaptest provides a fake web map server. It serves batch reads of
// registered request strings and records writes.
package webmaptest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Endpoint paths served by Server.
const (
	ReadPath  = "/action/webmap_read"
	WritePath = "/action/webmap_write"
)

// Write is a write received by the server.
type Write struct {
	Request string
	Value   float64
}

// Server is a fake web map endpoint backed by httptest.Server.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	values  map[string]float64
	writes  []Write
	reads   int
	failing bool
}

// NewServer starts and returns a new Server. Callers should call Close when
// done.
func NewServer() *Server {
	s := &Server{values: make(map[string]float64)}
	mux := http.NewServeMux()
	mux.HandleFunc(ReadPath, s.readHandler)
	mux.HandleFunc(WritePath, s.writeHandler)
	s.Server = httptest.NewServer(mux)
	return s
}

// ReadURL returns the URL of the read endpoint.
func (s *Server) ReadURL() string { return s.URL + ReadPath }

// Set sets the value served for request.
func (s *Server) Set(request string, v float64) {
	s.mu.Lock()
	s.values[request] = v
	s.mu.Unlock()
}

// Value returns the value held for request.
func (s *Server) Value(request string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[request]
	return v, ok
}

// Writes returns all writes received.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Reads returns the number of batch reads served.
func (s *Server) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// SetFailing makes the server answer every request with an internal error.
func (s *Server) SetFailing(f bool) {
	s.mu.Lock()
	s.failing = f
	s.mu.Unlock()
}

// readHandler answers a batch read. Unknown requests yield an empty field.
func (s *Server) readHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := s.body(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var fields []string
	for i, f := range strings.Split(body, "@") {
		if len(f) < 6 {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		req := strings.TrimSuffix(f[3:], "001")
		field := fmt.Sprintf("%03d", i)
		if v, ok := s.values[req]; ok {
			field += strconv.FormatFloat(v, 'f', -1, 64)
		}
		fields = append(fields, field)
	}
	io.WriteString(w, strings.Join(fields, "@"))
}

// writeHandler applies a write to the longest known request matching the
// body prefix.
func (s *Server) writeHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := s.body(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	known := make([]string, 0, len(s.values))
	for k := range s.values {
		known = append(known, k)
	}
	sort.Slice(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })
	for _, req := range known {
		prefix := "000" + req + "001"
		if !strings.HasPrefix(body, prefix) {
			continue
		}
		v, err := strconv.ParseFloat(body[len(prefix):], 64)
		if err != nil {
			http.Error(w, "invalid value", http.StatusBadRequest)
			return
		}
		s.values[req] = v
		s.writes = append(s.writes, Write{Request: req, Value: v})
		return
	}
	http.Error(w, "unknown request", http.StatusNotFound)
}

func (s *Server) body(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	if failing {
		http.Error(w, "device failure", http.StatusInternalServerError)
		return "", false
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return "", false
	}
	return string(b), true
}
