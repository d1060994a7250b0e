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

import "testing"

// Hello only prints to stderr/stdout and has no return value to assert
// on; this just confirms it doesn't panic on an empty program name or
// with Debug set, the two branches it special-cases.
func TestHelloDoesNotPanic(t *testing.T) {
	Hello("", "v0", Flags{})
	Hello("shadow", "v1.2.3", Flags{Debug: true})
}
