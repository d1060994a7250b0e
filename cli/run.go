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

package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	cliUtil "github.com/purpleidea/shadow/cli/util"
	"github.com/purpleidea/shadow/master"

	"github.com/spf13/afero"
)

// logLevels orders the six levels of spec.md §6.2 from least to most
// verbose; a message at level i is printed only if the configured level
// is also at or past i.
var logLevels = []string{"error", "critical", "warning", "message", "info", "debug"}

func levelIndex(level string) int {
	for i, l := range logLevels {
		if l == level {
			return i
		}
	}
	return 3 // "message", the spec.md default
}

// leveledLogf builds a master.Logf that mirrors the teacher's
// util.LogWriter prefixing convention ("component: message") but filters
// by one of the six named levels instead of a boolean debug switch. A
// message is tagged with a level by leading its format string with
// "LEVEL: " (e.g. "debug: worker stalled"); untagged messages are always
// at "message" level.
func leveledLogf(configured string) master.Logf {
	threshold := levelIndex(configured)
	logger := log.New(os.Stderr, "", log.LstdFlags)
	return func(format string, v ...interface{}) {
		msgLevel := 3
		for i, l := range logLevels {
			if len(format) > len(l)+1 && format[:len(l)+1] == l+":" {
				msgLevel = i
				break
			}
		}
		if msgLevel > threshold {
			return
		}
		logger.Printf(format, v...)
	}
}

// runSimulation boots and runs a simulation from the parsed Args, the
// way the teacher's RunArgs.Run boots lib.Main from RunArgs.
func runSimulation(ctx context.Context, configPaths []string, args Args, data *cliUtil.Data) error {
	cliUtil.Hello(data.Program, data.Version, data.Flags) // say hello!
	logLevel := args.LogLevel
	if args.Verbose {
		logLevel = "debug"
	}
	logf := leveledLogf(logLevel)
	defer logf("goodbye!")

	opts := master.Options{
		Threads:                args.Threads,
		Seed:                   args.Seed,
		Runahead:               time.Duration(args.Runahead) * time.Millisecond,
		TCPWindowSegments:      args.TCPWindows,
		InterfaceBufferPackets: args.InterfaceBuffer,
		MetricsListen:          args.MetricsListen,
		ArtifactRoot:           args.ArtifactRoot,
		Fs:                     afero.NewOsFs(),
		Logf:                   logf,
	}

	// --echo/--file both mean "run the built-in scenario"; an explicit
	// config path always wins even if one of them was also passed.
	if len(configPaths) == 0 && !args.Echo && !args.File {
		return cliUtil.CliParseError(fmt.Errorf("no configuration file given (pass a path, or --echo)"))
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := master.Run(ctx, configPaths, opts)
	if err != nil {
		return err
	}

	logf("message: simulation complete: sent=%d delivered=%d dropped=%d drop-rate=%.4f",
		summary.PacketsSent, summary.PacketsDelivered, summary.PacketsDropped, summary.DropRate)
	return nil
}
