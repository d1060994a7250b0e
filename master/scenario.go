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

package master

import "github.com/purpleidea/shadow/config"

// echoTopology is a minimal two-vertex, one-edge GraphML body: a client
// network and a server network joined by a single link.
const echoTopology = `<graphml><graph>
<node id="clientnet" reliability="1.0"/>
<node id="servernet" reliability="1.0"/>
<edge source="clientnet" target="servernet" weight="10" reliability="0.99"/>
</graph></graphml>`

// EchoDocument builds the scenario the --echo/--file CLI flag runs when
// no config file is given: one client and one server host, each running
// the built-in echo plug-in, on a two-network topology.
func EchoDocument() *config.Document {
	return &config.Document{
		Topology: config.Topology{Body: echoTopology},
		Plugins: []config.Plugin{
			{ID: "echo", Path: "built-in"},
		},
		Nodes: []config.Node{
			{
				ID:            "server",
				GeoCodeHint:   "servernet",
				Quantity:      1,
				CPUFrequency:  2_000_000,
				BandwidthUp:   1024,
				BandwidthDown: 1024,
				Applications: []config.Application{
					{Plugin: "echo", StartTime: 0},
				},
			},
			{
				ID:            "client",
				GeoCodeHint:   "clientnet",
				Quantity:      1,
				CPUFrequency:  2_000_000,
				BandwidthUp:   1024,
				BandwidthDown: 1024,
				Applications: []config.Application{
					{Plugin: "echo", StartTime: 0},
				},
			},
		},
	}
}
