// Shadow
// Copyright (C) 2013-2024+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package cli handles all of the core command line parsing. It's the first
// entry point after the real main function, and it wires flags onto a
// master.Options and runs the simulation.
package cli

import (
	"context"
	"fmt"
	"os"

	cliUtil "github.com/purpleidea/shadow/cli/util"
	"github.com/purpleidea/shadow/util/errwrap"

	"github.com/alexflint/go-arg"
)

// CLI is the entry point for running shadow normally from the CLI.
func CLI(ctx context.Context, data *cliUtil.Data) error {
	if data == nil {
		return fmt.Errorf("this CLI was not run correctly")
	}
	if data.Program == "" || data.Version == "" {
		return fmt.Errorf("program was not compiled correctly")
	}
	if data.Copying == "" {
		return fmt.Errorf("program copyrights were removed, can't run")
	}

	args := Args{}
	args.version = data.Version
	args.description = data.Tagline

	config := arg.Config{
		Program: data.Program,
	}
	parser, err := arg.NewParser(config, &args)
	if err != nil {
		// programming error
		return errwrap.Wrapf(err, "cli config error")
	}
	err = parser.Parse(data.Args[1:]) // argv[0] needs to be dropped
	if err == arg.ErrHelp {
		parser.WriteHelp(os.Stdout)
		return nil
	}
	if err == arg.ErrVersion {
		fmt.Printf("%s\n", data.Version) // byon: bring your own newline
		return nil
	}
	if err != nil {
		return cliUtil.CliParseError(err) // consistent errors
	}

	if args.License {
		fmt.Printf("%s", data.Copying) // file comes with a trailing nl
		return nil
	}

	data.Flags = cliUtil.Flags{Debug: args.Debug, Verbose: args.Verbose}

	if ok, err := args.Run(ctx, data); err != nil {
		return err
	} else if ok { // did we activate one of the commands?
		return nil
	}

	return runSimulation(ctx, args.ConfigPaths, args, data)
}

// Args is the CLI parsing structure and type of the parsed result.
type Args struct {
	ConfigPaths []string `arg:"positional" help:"one or more configuration file paths"`

	Threads  int    `arg:"-t,--threads" default:"0" help:"number of scheduler worker threads (0 = single-threaded)"`
	Seed     int64  `arg:"-s,--seed" default:"1" help:"master RNG seed"`
	LogLevel string `arg:"-l,--log-level" default:"message" help:"one of: error, critical, warning, message, info, debug"`

	Runahead        int  `arg:"--runahead" default:"10" help:"minimum runahead in milliseconds"`
	TCPWindows      int  `arg:"--tcp-windows" default:"10" help:"initial TCP window in packets"`
	InterfaceBuffer int  `arg:"--interface-buffer" help:"receive queue depth in packets for nodes without their own interfacebuffer (a packet count, not bytes)"`
	InterfaceBatch  int  `arg:"--interface-batch" help:"batch time in milliseconds; parsed but not used by the simulator"`
	Echo            bool `arg:"--echo" help:"run the built-in example scenario without a config file"`
	File            bool `arg:"--file" help:"alias of --echo"`

	MetricsListen string `arg:"--metrics-listen" help:"address to serve /metrics on, empty disables it"`
	ArtifactRoot  string `arg:"--artifacts" help:"directory for per-host pcap-equivalent traces and logs"`

	Debug   bool `arg:"--debug" help:"add file:line info to the startup banner's log output"`
	Verbose bool `arg:"--verbose" help:"shorthand for --log-level debug"`

	License bool `arg:"--license" help:"display the license and exit"`

	ResolveCmd *ResolveArgs `arg:"subcommand:resolve" help:"resolve a hostname against a booted scenario's DNS table"`

	version     string `arg:"-"` // ignored from parsing
	description string `arg:"-"` // ignored from parsing
}

// Version returns the version string. Part of the go-arg API.
func (obj *Args) Version() string {
	return obj.version
}

// Description returns a description string. Part of the go-arg API.
func (obj *Args) Description() string {
	return obj.description
}

// Run executes the correct subcommand. It returns true if it activated
// one, false if there wasn't one, in which case the top-level caller
// falls through to running the simulation directly.
func (obj *Args) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	if cmd := obj.ResolveCmd; cmd != nil {
		name := cliUtil.LookupSubcommand(obj, cmd) // "resolve"
		ok, err := cmd.Run(ctx, data)
		if err != nil {
			return ok, errwrap.Wrapf(err, "%s", name)
		}
		return ok, nil
	}
	return false, nil
}
