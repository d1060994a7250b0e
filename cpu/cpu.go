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

// Package cpu implements per-host virtual CPU accounting: it converts
// byte-level work into a future "CPU available at" timestamp and reports
// whether the host is currently blocked on CPU.
package cpu

import (
	"time"

	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/util/corepool"
)

// NeverBlocks is the threshold sentinel meaning this CPU never reports
// itself blocked, regardless of backlog (spec: threshold == INVALID).
const NeverBlocks time.Duration = -1

// Account is the per-host CPU accumulator.
type Account struct {
	now               simtime.Time
	timeCPUAvailable  simtime.Time
	freqRatio         float64       // raw_frequency / frequency
	threshold         time.Duration // backlog above this blocks; NeverBlocks disables
	precision         time.Duration // rounding granularity for AddDelay
	concurrencyLimit  int
	cores             *corepool.Pool
}

// Options configures a new Account.
type Options struct {
	// Frequency is the host's configured CPU frequency (kHz in config
	// terms, but this package treats it only as a ratio input).
	Frequency float64
	// RawFrequency is the real machine's measured rate used to scale
	// charged delays.
	RawFrequency float64
	// Threshold is the backlog above which IsBlocked reports true. Use
	// NeverBlocks to disable blocking entirely.
	Threshold time.Duration
	// Precision is the rounding granularity (e.g. time.Microsecond).
	// Zero disables rounding.
	Precision time.Duration
	// Concurrency bounds the number of in-flight AddDelay callers; it
	// defaults to 1 (a single virtual CPU core) if zero.
	Concurrency int
}

// New builds an Account from the given options.
func New(opts Options) *Account {
	ratio := 1.0
	if opts.Frequency > 0 {
		ratio = opts.RawFrequency / opts.Frequency
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Account{
		freqRatio:        ratio,
		threshold:        opts.Threshold,
		precision:        opts.Precision,
		concurrencyLimit: concurrency,
		cores:            corepool.New(concurrency),
	}
}

// AddDelay charges rawNs nanoseconds of real CPU work, scaled by the
// frequency ratio and rounded to Precision (standard round-half-up), onto
// timeCPUAvailable. It acquires the concurrency gate for the duration of
// the accounting update, so that concurrently-running virtual processes
// within the same host serialize their charges safely.
func (a *Account) AddDelay(rawNs time.Duration) {
	if err := a.cores.Acquire(1); err != nil {
		return // account closed
	}
	defer a.cores.Release(1)

	scaled := time.Duration(float64(rawNs) * a.freqRatio)
	scaled = roundHalfUp(scaled, a.precision)
	a.timeCPUAvailable = a.timeCPUAvailable.Add(scaled)
}

// CoresInUse reports how many of this host's virtual cores are currently
// claimed by an in-flight AddDelay call.
func (a *Account) CoresInUse() int {
	return a.cores.InUse()
}

// roundHalfUp rounds d to the nearest multiple of precision, rounding
// .5 up, matching the spec's "standard round-half-up" requirement.
func roundHalfUp(d, precision time.Duration) time.Duration {
	if precision <= 0 {
		return d
	}
	half := precision / 2
	return ((d + half) / precision) * precision
}

// UpdateTime advances now and clamps timeCPUAvailable to be at least now.
func (a *Account) UpdateTime(now simtime.Time) {
	a.now = now
	if a.timeCPUAvailable < now {
		a.timeCPUAvailable = now
	}
}

// Now returns the last time passed to UpdateTime.
func (a *Account) Now() simtime.Time {
	return a.now
}

// TimeCPUAvailable returns the simulated time at which the CPU will next
// be free of backlog.
func (a *Account) TimeCPUAvailable() simtime.Time {
	return a.timeCPUAvailable
}

// IsBlocked reports whether the current backlog exceeds the threshold. A
// NeverBlocks threshold always returns false.
func (a *Account) IsBlocked() bool {
	if a.threshold == NeverBlocks {
		return false
	}
	return a.timeCPUAvailable.Sub(a.now) > a.threshold
}

// GetDelay returns the whole current backlog once it exceeds the
// threshold, or zero if the CPU is not currently considered blocked.
func (a *Account) GetDelay() time.Duration {
	if !a.IsBlocked() {
		return 0
	}
	return a.timeCPUAvailable.Sub(a.now)
}

// Close releases the concurrency gate, unblocking any callers waiting in
// AddDelay so that host shutdown does not deadlock.
func (a *Account) Close() {
	a.cores.Close()
}
