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

// Package config parses the <shadow> XML configuration document and its
// inline/external GraphML topology body into the structures master.Boot
// consumes, the way the teacher's config.go/configwatch.go parse their
// own YAML graphs: a single Parse entry point, a typed Document, and an
// fsnotify-backed Watcher for optional hot-reload.
package config

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	errwrap "github.com/pkg/errors"

	mergeerr "github.com/purpleidea/shadow/util/errwrap"
)

// Document is the decoded <shadow> root element.
type Document struct {
	XMLName  xml.Name   `xml:"shadow"`
	Topology Topology   `xml:"topology"`
	Plugins  []Plugin   `xml:"plugin"`
	Nodes    []Node     `xml:"node"`
	Kill     *Kill      `xml:"kill"`
}

// Topology is either an external GraphML file reference (Path) or an
// inline GraphML body (Body, via CDATA).
type Topology struct {
	Path string `xml:"path,attr"`
	Body string `xml:",cdata"`
}

// Plugin declares one loadable application image.
type Plugin struct {
	ID   string `xml:"id,attr"`
	Path string `xml:"path,attr"`
}

// Application is one instance of a plugin running on a Node.
type Application struct {
	Plugin    string  `xml:"plugin,attr"`
	Arguments string  `xml:"arguments,attr"`
	StartTime float64 `xml:"starttime,attr"`
	StopTime  float64 `xml:"stoptime,attr"`
}

// Node declares one or more simulated hosts (Quantity of them) sharing
// the same resource profile.
type Node struct {
	ID                 string        `xml:"id,attr"`
	IPHint             string        `xml:"iphint,attr"`
	GeoCodeHint        string        `xml:"geocodehint,attr"`
	TypeHint           string        `xml:"typehint,attr"`
	Quantity           int           `xml:"quantity,attr"`
	BandwidthDown      int           `xml:"bandwidthdown,attr"` // KiB/s
	BandwidthUp        int           `xml:"bandwidthup,attr"`   // KiB/s
	CPUFrequency       int           `xml:"cpufrequency,attr"`  // kHz
	HeartbeatFrequency int           `xml:"heartbeatfrequency,attr"`
	LogLevel           string        `xml:"loglevel,attr"`
	HeartbeatLogLevel  string        `xml:"heartbeatloglevel,attr"`
	HeartbeatLogInfo   string        `xml:"heartbeatloginfo,attr"`
	LogPcap            bool          `xml:"logpcap,attr"`
	PcapDir            string        `xml:"pcapdir,attr"`
	SocketRecvBuffer   int           `xml:"socketrecvbuffer,attr"`
	SocketSendBuffer   int           `xml:"socketsendbuffer,attr"`
	InterfaceBuffer    int           `xml:"interfacebuffer,attr"`
	Applications       []Application `xml:"application"`
}

// Kill schedules the simulation's end at Time seconds.
type Kill struct {
	Time float64 `xml:"time,attr"`
}

// Parse decodes a <shadow> document from r and fills in Quantity
// defaults, the way the teacher's config.go returns a ready-to-use
// struct rather than a raw unmarshal result.
func Parse(r io.Reader) (*Document, error) {
	doc := &Document{}
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return nil, errwrap.Wrapf(err, "config: malformed XML")
	}
	for i := range doc.Nodes {
		if doc.Nodes[i].Quantity == 0 {
			doc.Nodes[i].Quantity = 1
		}
	}
	return doc, nil
}

// ParseFile opens and parses path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errwrap.Wrapf(err, "config: reading %s", path)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		return nil, errwrap.Wrapf(err, "config: parsing %s", path)
	}
	return doc, nil
}

// Validate checks the required ('*') attributes of spec.md §6.1 and
// returns every violation found, not just the first, so a malformed
// config is reported completely in one pass.
func (d *Document) Validate() error {
	var reterr error
	for i, p := range d.Plugins {
		if p.ID == "" {
			reterr = mergeerr.Append(reterr, fmt.Errorf("plugin[%d]: missing required id", i))
		}
		if p.Path == "" {
			reterr = mergeerr.Append(reterr, fmt.Errorf("plugin[%d]: missing required path", i))
		}
	}
	for i, n := range d.Nodes {
		if n.ID == "" {
			reterr = mergeerr.Append(reterr, fmt.Errorf("node[%d]: missing required id", i))
		}
		for j, a := range n.Applications {
			if a.Plugin == "" {
				reterr = mergeerr.Append(reterr, fmt.Errorf("node[%d].application[%d]: missing required plugin", i, j))
			}
		}
	}
	if d.Kill != nil && d.Kill.Time <= 0 {
		reterr = mergeerr.Append(reterr, fmt.Errorf("kill: time must be a positive number of seconds"))
	}
	return reterr
}

// resolvePath expands a leading "~" to the user's home directory, the
// way spec.md's "absolute or home-prefixed path" topology path allows.
func resolvePath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errwrap.Wrapf(err, "config: resolving home-prefixed path %q", p)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
