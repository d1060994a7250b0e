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

// Package artifact writes per-host output for a simulation run: a
// simplified packet-trace line format (not real pcap, since no pcap
// library exists in the reference corpus) and a per-host log file, both
// through an afero.Fs so tests can run against an in-memory filesystem.
package artifact

import (
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/spf13/afero"

	"github.com/purpleidea/shadow/packet"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/util"
)

const traceLogFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// Store writes every host's trace and log files under a single root
// directory, one subdirectory per host id.
type Store struct {
	Fs   afero.Fs
	Root string

	mu    sync.Mutex
	trace map[string]afero.File
	logs  map[string]afero.File
}

// NewStore builds a Store rooted at root on fs, creating the root
// directory if it does not already exist.
func NewStore(fs afero.Fs, root string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		Fs:    fs,
		Root:  root,
		trace: make(map[string]afero.File),
		logs:  make(map[string]afero.File),
	}, nil
}

func (s *Store) hostDir(hostID string) string {
	return path.Join(s.Root, hostID)
}

func (s *Store) traceFile(hostID string) (afero.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.trace[hostID]; ok {
		return f, nil
	}
	dir := s.hostDir(hostID)
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := s.Fs.OpenFile(path.Join(dir, "packets.trace"), traceLogFlags, 0o644)
	if err != nil {
		return nil, err
	}
	s.trace[hostID] = f
	return f, nil
}

func (s *Store) logFile(hostID string) (afero.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.logs[hostID]; ok {
		return f, nil
	}
	dir := s.hostDir(hostID)
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := s.Fs.OpenFile(path.Join(dir, "host.log"), traceLogFlags, 0o644)
	if err != nil {
		return nil, err
	}
	s.logs[hostID] = f
	return f, nil
}

// TracePacket appends one line describing p's current delivery trace to
// hostID's packet trace file.
func (s *Store) TracePacket(hostID string, now simtime.Time, p *packet.Packet) error {
	f, err := s.traceFile(hostID)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%d proto=%s prio=%d trace=%v\n", now, p.Protocol(), p.Priority(), p.Trace())
	_, err = f.WriteString(line)
	return err
}

// Logf returns a Logf callback that appends prefixed, formatted lines to
// hostID's log file. It routes through util.LogWriter, which prepends
// the prefix on every Write the way the ambient logging convention
// prefixes each component's lines by kind/name.
func (s *Store) Logf(hostID string) func(format string, v ...interface{}) {
	writer := &util.LogWriter{
		Prefix: fmt.Sprintf("host[%s]: ", hostID),
		Logf: func(format string, v ...interface{}) {
			f, err := s.logFile(hostID)
			if err != nil {
				return
			}
			fmt.Fprintf(f, format, v...)
		},
	}
	return func(format string, v ...interface{}) {
		fmt.Fprintf(writer, format+"\n", v...)
	}
}

// Tree returns a string rendering of the store's directory layout.
func (s *Store) Tree() (string, error) {
	return util.ArtifactTree(s.Fs, s.Root)
}

// Close flushes and closes every open trace/log file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.trace {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, f := range s.logs {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
