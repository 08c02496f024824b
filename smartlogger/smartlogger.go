/*
DESCRIPTION
  smartlogger implements log file rotation and archives rotated log files
  into a backups directory.

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

package smartlogger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults.
const (
	DefaultMaxSize    = 500 // MB.
	DefaultMaxBackups = 10
	DefaultMaxAge     = 28 // Days.
)

// backupDir is the directory within the log directory holding archived logs.
const backupDir = "backups"

// Smartlogger is a rotating log file writer.
type Smartlogger struct {
	dir       string
	name      string
	LogRoller lumberjack.Logger
}

// New returns a Smartlogger writing to dir/name.log.
func New(dir, name string) *Smartlogger {
	return &Smartlogger{
		dir:  dir,
		name: name,
		LogRoller: lumberjack.Logger{
			Filename:   filepath.Join(dir, name+".log"),
			MaxSize:    DefaultMaxSize,
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAge,
		},
	}
}

// Write implements io.Writer.
func (s *Smartlogger) Write(p []byte) (int, error) { return s.LogRoller.Write(p) }

// Close closes the current log file.
func (s *Smartlogger) Close() error { return s.LogRoller.Close() }

// Rotate closes the current log file and dates it, followed by opening a new log file.
func (s *Smartlogger) Rotate() error {
	return s.LogRoller.Rotate()
}

// Backups returns the paths of rotated log files not yet archived.
func (s *Smartlogger) Backups() ([]string, error) {
	return filepath.Glob(filepath.Join(s.dir, s.name+"-*"))
}

// Archive moves rotated log files into the backups directory, out of reach of
// rotation cleanup, and returns the number moved. A call to Archive should be
// preceded by a call to Rotate if the most recent log messages are required.
func (s *Smartlogger) Archive() (int, error) {
	files, err := s.Backups()
	if err != nil {
		return 0, fmt.Errorf("can't glob matching log files: %w", err)
	}
	if len(files) == 0 {
		return 0, nil
	}

	dst := filepath.Join(s.dir, backupDir)
	err = os.MkdirAll(dst, os.ModePerm)
	if err != nil {
		return 0, fmt.Errorf("can't create backup directory: %w", err)
	}
	var n int
	for _, f := range files {
		err = os.Rename(f, filepath.Join(dst, filepath.Base(f)))
		if err != nil {
			return n, fmt.Errorf("can't move log file %s: %w", filepath.Base(f), err)
		}
		n++
	}
	return n, nil
}
