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
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	errwrap "github.com/pkg/errors"
)

// Watcher notifies on every write/rename/remove touching one config
// file, an optional hot-reload hook the master is never required to
// use (spec.md's own operations never depend on it). Unlike the
// teacher's ConfigWatch, this watches a single already-present file
// directly rather than climbing toward an absent ancestor directory,
// since a simulation's config file is a required, already-resolved
// argument at watch-setup time.
type Watcher struct {
	Events <-chan struct{}
	Errors <-chan error

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path's containing directory (fsnotify
// watches directories, not bare files, for rename-then-recreate
// editors) and filters events down to path itself.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errwrap.Wrapf(err, "config: starting watcher for %s", path)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errwrap.Wrapf(err, "config: watching %s", dir)
	}

	events := make(chan struct{})
	errs := make(chan error)
	done := make(chan struct{})

	go func() {
		defer close(events)
		defer close(errs)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(path) {
					select {
					case events <- struct{}{}:
					case <-done:
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				select {
				case errs <- err:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	return &Watcher{Events: events, Errors: errs, watcher: w, done: done}, nil
}

// Close stops the underlying fsnotify watcher and its forwarding goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
