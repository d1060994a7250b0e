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

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// resolveCmd stub mirroring cli.ResolveArgs's shape closely enough to
// exercise LookupSubcommand's tag-matching logic without importing the
// cli package (which itself imports this one).
type resolveCmd struct{ Names []string }

type topLevelArgs struct {
	ResolveCmd *resolveCmd `arg:"subcommand:resolve"`
	Other      string      `arg:"--other"`
}

func TestLookupSubcommandFindsTaggedField(t *testing.T) {
	cmd := &resolveCmd{Names: []string{"h1"}}
	args := &topLevelArgs{ResolveCmd: cmd}

	assert.Equal(t, "resolve", LookupSubcommand(args, cmd))
}

func TestLookupSubcommandReturnsEmptyWhenNotASubcommandField(t *testing.T) {
	args := &topLevelArgs{Other: "x"}

	assert.Equal(t, "", LookupSubcommand(args, args.Other))
}
