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

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<shadow>
  <topology><![CDATA[
    <graphml><graph>
      <node id="netA" reliability="1.0"/>
      <node id="netB" reliability="1.0"/>
      <edge source="netA" target="netB" weight="10" reliability="0.99"/>
    </graph></graphml>
  ]]></topology>
  <plugin id="echo" path="/usr/lib/shadow/echo.so"/>
  <node id="client" quantity="2" bandwidthdown="1024" bandwidthup="512" cpufrequency="2000000">
    <application plugin="echo" arguments="--port=9000" starttime="0" stoptime="60"/>
  </node>
  <kill time="120"/>
</shadow>`

func TestParseDecodesAllElements(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	require.Len(t, doc.Plugins, 1)
	assert.Equal(t, "echo", doc.Plugins[0].ID)

	require.Len(t, doc.Nodes, 1)
	node := doc.Nodes[0]
	assert.Equal(t, "client", node.ID)
	assert.Equal(t, 2, node.Quantity)
	assert.Equal(t, 1024, node.BandwidthDown)
	require.Len(t, node.Applications, 1)
	assert.Equal(t, "echo", node.Applications[0].Plugin)

	require.NotNil(t, doc.Kill)
	assert.Equal(t, 120.0, doc.Kill.Time)

	require.NoError(t, doc.Validate())
}

func TestParseDefaultsQuantityToOne(t *testing.T) {
	doc, err := Parse(strings.NewReader(`<shadow><node id="solo"/></shadow>`))
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, 1, doc.Nodes[0].Quantity)
}

func TestValidateReportsMissingRequiredAttributes(t *testing.T) {
	doc, err := Parse(strings.NewReader(`<shadow><plugin path="/x"/><node/></shadow>`))
	require.NoError(t, err)
	err = doc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin[0]: missing required id")
	assert.Contains(t, err.Error(), "node[0]: missing required id")
}

func TestLoadTopologyFromInlineGraphML(t *testing.T) {
	doc, err := Parse(strings.NewReader(sampleDoc))
	require.NoError(t, err)

	g, err := LoadTopology(doc)
	require.NoError(t, err)
	assert.Equal(t, 2, g.NumVertices())

	path, err := g.Path("netA", "netB")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, path.CDF.Center)
	assert.InDelta(t, 0.99, path.Reliability, 1e-9)
}
