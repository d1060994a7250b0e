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

	cliUtil "github.com/purpleidea/shadow/cli/util"
	"github.com/purpleidea/shadow/config"
	"github.com/purpleidea/shadow/master"
	mergeerr "github.com/purpleidea/shadow/util/errwrap"
)

// ResolveArgs boots a scenario's DNS table (without running the
// simulation) and prints the address one or more names resolve to, the
// way the teacher's DeployArgs is a self-contained subcommand hanging off
// the top-level Args.
type ResolveArgs struct {
	ConfigPaths []string `arg:"positional" help:"configuration file paths (omit to resolve against the built-in echo scenario)"`
	Names       []string `arg:"--name,required" help:"hostname(s) to resolve"`
}

// Run implements the `resolve` subcommand: it boots just far enough to
// build the DNS table, then looks up every requested name.
func (obj *ResolveArgs) Run(ctx context.Context, data *cliUtil.Data) (bool, error) {
	var doc *config.Document
	var err error
	if len(obj.ConfigPaths) == 0 {
		doc = master.EchoDocument()
	} else {
		doc, err = config.ParseFile(obj.ConfigPaths[0])
		if err != nil {
			return true, err
		}
	}

	sim, err := master.Boot(doc, master.Options{Threads: 1, Seed: 1})
	if err != nil {
		return true, cliUtil.CliParseError(err)
	}

	// Every unresolved name is collected rather than stopping at the
	// first, so a multi-name lookup reports the complete set of misses
	// in one pass.
	var reterr error
	for _, name := range obj.Names {
		addr, ok := sim.DNS.Lookup(name)
		if !ok {
			reterr = mergeerr.Append(reterr, fmt.Errorf("unknown host %q", name))
			continue
		}
		fmt.Printf("%s\t%s\n", name, addr)
	}
	if reterr != nil {
		return true, fmt.Errorf("cli: resolve: %s", mergeerr.String(reterr))
	}
	return true, nil
}
