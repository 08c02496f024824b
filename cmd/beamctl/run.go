/*
DESCRIPTION
  run.go provides the run command: logging setup, process variable source
  selection, and the station and HTTP server lifecycle.

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
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/ausocean/beamctl/config"
	"github.com/ausocean/beamctl/pv"
	"github.com/ausocean/beamctl/pv/webmap"
	"github.com/ausocean/beamctl/smartlogger"
	"github.com/ausocean/beamctl/station"
)

const (
	logName         = "beamctl"
	shutdownTimeout = 5 * time.Second
)

var levels = map[string]int8{
	"debug":   logging.Debug,
	"info":    logging.Info,
	"warning": logging.Warning,
	"error":   logging.Error,
	"fatal":   logging.Fatal,
}

// newLogger returns a JSON logger writing to stderr and, if a log directory is
// configured, a rotating log file.
func newLogger(c config.Log) (*logging.JSONLogger, *smartlogger.Smartlogger) {
	var (
		w  io.Writer = os.Stderr
		sl *smartlogger.Smartlogger
	)
	if c.Dir != "" {
		sl = smartlogger.New(c.Dir, logName)
		sl.LogRoller.MaxSize = c.MaxSize
		sl.LogRoller.MaxBackups = c.MaxBackup
		sl.LogRoller.MaxAge = c.MaxAge
		w = io.MultiWriter(sl, os.Stderr)
	}
	return logging.New(levels[strings.ToLower(c.Verbosity)], w, c.Suppress), sl
}

// newSource returns the configured process variable source. A webmap source
// is registered and waited on until reachable.
func newSource(ctx context.Context, c config.Config, log logging.Logger) (pv.Variables, error) {
	switch c.Source {
	case config.SourceSim:
		return station.NewSim(c), nil
	case config.SourceWebmap:
		wm, err := webmap.New(c.Webmap.URL, c.Webmap.Referer, log, webmap.WithMinUpdate(c.Webmap.MinUpdate))
		if err != nil {
			return nil, fmt.Errorf("could not create webmap client: %w", err)
		}
		for _, v := range c.Webmap.Variables {
			_, err := wm.Register(v.Name, v.Request)
			if err != nil {
				return nil, fmt.Errorf("could not register %s: %w", v.Name, err)
			}
		}
		err = wm.WaitReady(ctx, c.Webmap.Ready)
		if err != nil {
			return nil, fmt.Errorf("webmap not reachable: %w", err)
		}
		return wm, nil
	default:
		return nil, fmt.Errorf("unknown source %q", c.Source)
	}
}

// run runs the station and HTTP server until interrupted.
func run(c config.Config) {
	log, sl := newLogger(c.Log)
	if sl != nil {
		n, err := sl.Archive()
		if err != nil {
			log.Warning("could not archive old logs", "error", err)
		}
		log.Debug("archived old logs", "count", n)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vars, err := newSource(ctx, c, log)
	if err != nil {
		log.Fatal("could not create process variable source", "error", err)
	}
	st, err := station.New(vars, c, log)
	if err != nil {
		log.Fatal("could not create station", "error", err)
	}

	srv := &http.Server{Addr: c.Addr, Handler: newRouter(st, sl, log)}
	go func() {
		log.Info("now listening for requests", "addr", c.Addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	err = st.Run(ctx)
	if err != nil {
		log.Error("station failed", "error", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(sctx)
	if err != nil {
		log.Warning("http server did not shut down cleanly", "error", err)
	}
	if sl != nil {
		sl.Close()
	}
}
