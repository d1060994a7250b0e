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

// Command shadow is the executable entry point: it hands argv over to the
// cli package and turns any returned error into a process exit code, the
// way the teacher's top-level main glues its own cli package to os.Args.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/purpleidea/shadow/cli"
	cliUtil "github.com/purpleidea/shadow/cli/util"
)

// program and version are overridden at build time via:
//
//	go build -ldflags "-X main.program=shadow -X main.version=$(git describe)"
var (
	program = "shadow"
	version = "unknown"
)

//go:embed copying.txt
var copying string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data := &cliUtil.Data{
		Program: cliUtil.SafeProgram(program),
		Version: version,
		Copying: copying,
		Tagline: "a parallel discrete-event network simulator",
		Args:    os.Args,
	}

	if err := cli.CLI(ctx, data); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %+v\n", data.Program, err)
		os.Exit(1)
	}
}
