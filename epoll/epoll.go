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

// Package epoll implements the readiness-notification engine virtual
// hosts use to multiplex their sockets: a watch Set keyed by descriptor
// id, fed by transport.Socket's Notifier callback, with level- and
// edge-triggered semantics and single-shot re-arming matching Linux
// epoll(7).
package epoll

import (
	"errors"
	"sync"

	errwrap "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/purpleidea/shadow/transport"
)

// Events is a bitmask of epoll readiness/registration flags.
type Events uint32

const (
	// In means the descriptor has data available to read.
	In Events = Events(unix.EPOLLIN)
	// Out means the descriptor can accept a write without blocking.
	Out Events = Events(unix.EPOLLOUT)
	// HangUp means the peer closed its end.
	HangUp Events = Events(unix.EPOLLHUP)
	// Err means the descriptor has an error pending.
	Err Events = Events(unix.EPOLLERR)
	// EdgeTriggered requests edge- rather than level-triggered delivery:
	// a notification fires once per state transition, not once per
	// Wait call while the condition remains true.
	EdgeTriggered Events = Events(unix.EPOLLET)
	// OneShot disarms In/Out interest after a single notification; the
	// owner must re-arm it with Control(Mod, ...).
	OneShot Events = Events(unix.EPOLLONESHOT)
)

// levelMask is the subset of Events that participates in readiness
// matching; EdgeTriggered and OneShot are registration modifiers, not
// readiness bits themselves.
const levelMask = In | Out | HangUp | Err

// Op selects the Control operation, mirroring epoll_ctl's op argument.
type Op int

const (
	// Add registers a new descriptor. Fails with ErrExist if already watched.
	Add Op = iota
	// Mod changes a watched descriptor's interest set and re-arms OneShot.
	Mod
	// Del removes a watched descriptor. Fails with ErrNotExist if absent.
	Del
)

// ErrExist is returned by Control(Add, ...) on an already-registered descriptor.
var ErrExist = errors.New("epoll: descriptor already registered")

// ErrNotExist is returned by Control(Mod/Del, ...) on an unregistered descriptor.
var ErrNotExist = errors.New("epoll: descriptor not registered")

type watch struct {
	events       Events
	ready        Events
	ownerProcess string
	pending      bool
}

// Ready describes one descriptor's outstanding readiness, as returned by Wait.
type Ready struct {
	Descriptor   int
	Events       Events
	OwnerProcess string
}

// Metrics is the narrow hook Set reports fired wakeups through, so this
// package never depends on the metrics package.
type Metrics interface {
	EpollNotify()
}

// Set is one process's (or host's) collection of watched descriptors. A
// Set optionally pass-throughs to a real OS epoll instance for
// non-virtual descriptors (e.g. a host's real stdin/timerfd), via
// golang.org/x/sys/unix, the same dependency the teacher's
// util/socketset package uses for raw netlink sockets; when the OS
// instance can't be created (non-Linux, or sandboxed), Set falls back
// to pure in-memory tracking and every caller still works against
// virtual descriptors only.
type Set struct {
	mu      sync.Mutex
	watches map[int]*watch
	epfd    int
	readyCh chan int
	closed  bool

	Metrics Metrics
}

// NewSet creates an empty watch set, opening a real OS epoll instance
// when available.
func NewSet() *Set {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		epfd = -1
	}
	return &Set{
		watches: make(map[int]*watch),
		epfd:    epfd,
		readyCh: make(chan int, 64),
	}
}

// Control adds, modifies, or removes a watched descriptor, following
// epoll_ctl(2)'s EEXIST/ENOENT error semantics.
func (s *Set) Control(op Op, fd int, events Events, ownerProcess string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case Add:
		if _, ok := s.watches[fd]; ok {
			return ErrExist
		}
		s.watches[fd] = &watch{events: events, ownerProcess: ownerProcess}
		if s.epfd >= 0 {
			if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}); err != nil {
				return errwrap.Wrapf(err, "epoll: add fd %d", fd)
			}
		}
		return nil

	case Mod:
		w, ok := s.watches[fd]
		if !ok {
			return ErrNotExist
		}
		w.events = events
		w.pending = false // re-arming clears any stale coalesced notification
		if s.epfd >= 0 {
			if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}); err != nil {
				return errwrap.Wrapf(err, "epoll: mod fd %d", fd)
			}
		}
		return nil

	case Del:
		if _, ok := s.watches[fd]; !ok {
			return ErrNotExist
		}
		delete(s.watches, fd)
		if s.epfd >= 0 {
			if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
				return errwrap.Wrapf(err, "epoll: del fd %d", fd)
			}
		}
		return nil

	default:
		return errwrap.Errorf("epoll: unknown op %d", op)
	}
}

// NotifyReady implements transport.Notifier: it is called by a Socket
// whenever its buffered/closed state changes. Only flags the descriptor
// is actually registered for are latched; at most one notification is
// ever outstanding per descriptor between Wait calls (the coalesced
// single-pending-notification rule), so a burst of state changes before
// the owner drains Wait produces one wakeup, not one per change.
func (s *Set) NotifyReady(descriptorID int, flags transport.ReadyFlags) {
	s.mu.Lock()

	w, ok := s.watches[descriptorID]
	if !ok {
		s.mu.Unlock()
		return
	}

	var ev Events
	if flags.Readable {
		ev |= In
	}
	if flags.Writable {
		ev |= Out
	}
	if flags.HangUp {
		ev |= HangUp
	}
	if flags.Error {
		ev |= Err
	}

	interested := ev & w.events & levelMask

	if w.events&EdgeTriggered != 0 {
		w.ready |= interested
	} else {
		// Level-triggered readiness always mirrors the descriptor's
		// current state rather than its history, so it can fall back
		// to zero (and stop waking Wait) once the condition clears,
		// the same way it rose the last time NotifyReady fired.
		w.ready = interested
	}

	if interested == 0 {
		if w.events&EdgeTriggered == 0 && w.pending && !s.closed {
			// The level-triggered condition cleared: drop the queued
			// repeat so the next Wait no longer reports it.
			for n := len(s.readyCh); n > 0; n-- {
				select {
				case id := <-s.readyCh:
					if id != descriptorID {
						s.readyCh <- id
					}
				default:
				}
			}
			w.pending = false
		}
		s.mu.Unlock()
		return
	}

	if w.events&OneShot != 0 {
		w.events &^= (In | Out)
	}

	alreadyPending := w.pending
	w.pending = true
	s.mu.Unlock()

	if alreadyPending {
		return
	}
	if s.Metrics != nil {
		s.Metrics.EpollNotify()
	}
	select {
	case s.readyCh <- descriptorID:
	default:
		// readyCh is sized generously; if it's ever full, clear the
		// pending mark so a later notification queues this descriptor
		// again instead of being coalesced into an entry that was never
		// queued.
		s.mu.Lock()
		w.pending = false
		s.mu.Unlock()
	}
}

// Wait blocks until at least one watched descriptor has outstanding
// readiness, then returns every descriptor ready at that moment (not
// just the first). It returns nil once the Set has been closed and
// drained. Level-triggered descriptors reappear on every subsequent
// Wait call while their condition still holds, even if nothing calls
// NotifyReady again in between; edge-triggered descriptors report once
// per transition.
func (s *Set) Wait() []Ready {
	fd, ok := <-s.readyCh
	if !ok {
		return nil
	}
	return s.drain(fd)
}

func (s *Set) drain(first int) []Ready {
	ids := []int{first}
collect:
	for {
		select {
		case id := <-s.readyCh:
			ids = append(ids, id)
		default:
			break collect
		}
	}

	s.mu.Lock()
	out := make([]Ready, 0, len(ids))
	var requeue []int
	for _, id := range ids {
		w, ok := s.watches[id]
		if !ok {
			continue
		}
		out = append(out, Ready{Descriptor: id, Events: w.ready, OwnerProcess: w.ownerProcess})
		if w.events&EdgeTriggered != 0 {
			w.ready = 0
			w.pending = false
			continue
		}
		// Still level-triggered-ready under the watch's *current*
		// interest (re-checked here since OneShot may have just
		// disarmed it above): re-arm the channel entry now rather
		// than waiting for another NotifyReady call, so the next
		// Wait reports it again instead of blocking forever.
		if w.ready&w.events&levelMask != 0 {
			requeue = append(requeue, id)
		} else {
			w.pending = false
		}
	}
	s.mu.Unlock()

	for _, id := range requeue {
		select {
		case s.readyCh <- id:
		default:
		}
	}
	return out
}

// Close releases the OS epoll instance, if one was opened, and unblocks
// any pending Wait call.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.readyCh)
	if s.epfd >= 0 {
		return unix.Close(s.epfd)
	}
	return nil
}

var _ transport.Notifier = (*Set)(nil)
