/*
DESCRIPTION
  beamctl runs the acquisition, interlock and feedback control tasks of a
  beamline station and exposes them over HTTP.

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

// beamctl runs the acquisition, interlock and feedback control tasks of a
// beamline station and exposes them over HTTP.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	yml "gopkg.in/yaml.v2"

	"github.com/ausocean/beamctl/config"
)

// Version is the version number. Typically injected via ldflags.
var Version = "1"

func usage() {
	str := `beamctl samples beamline process variables, watches them with a safety
interlock and runs feedback controllers that correct actuator settings.

Usage:
	beamctl [-config file] <command>

Commands:
	run     start the station and HTTP interface
	mkconf  write an example configuration file
	conf    print the effective configuration
	version print the version
	help    describe configuration`
	fmt.Println(str)
}

func help() {
	str := `beamctl is configured with a YAML file, beamctl.yml by default. For a
primer on YAML, see https://yaml.org/start.html

mkconf writes a complete example for a simulated beamline with two correctors.

source selects how process variables are reached:
- sim: an in-memory plant. sim.couplings make signals respond linearly to
  actuators.
- webmap: an HTTP web map endpoint. webmap.url is the read URL; writes go to
  the same URL with "read" replaced by "write". Every process variable named
  in acquisition signals and controller actuators needs a webmap.variables
  entry.

acquisition.signals lists the sampled process variables and their smoothing
filter ("moving-average" with window, or "exponential" with alpha).

interlock.thresholds sets rate (per second) and absolute limits per signal.
A trip is sticky and cleared with POST /interlock/reset.

controllers use strategy "gain" (proportional, one actuator) or
"pattern-search" (any number of actuators, objective error, minimize,
maximize or rms). Controllers start IDLE; start them with
POST /controllers/{name}/start.`
	fmt.Println(str)
}

func main() {
	path := flag.String("config", "beamctl.yml", "configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		return
	}
	switch cmd := flag.Arg(0); cmd {
	case "run":
		c, err := config.Load(*path)
		if err != nil {
			log.Fatal(err)
		}
		err = c.Validate()
		if err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
		run(c)
	case "mkconf":
		mkconf(*path)
	case "conf":
		printconf(*path)
	case "version":
		fmt.Printf("beamctl version %v\n", Version)
	case "help":
		help()
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}

func mkconf(path string) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(config.Example())
	if err != nil {
		log.Fatal(err)
	}
}

func printconf(path string) {
	c, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}
