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

// Package master is the entry point: it owns configuration, DNS,
// topology, and the scheduler/worker pool, boots hosts from a parsed
// config.Document, and drives the run to completion.
package master

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/purpleidea/shadow/artifact"
	"github.com/purpleidea/shadow/config"
	"github.com/purpleidea/shadow/cpu"
	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/host"
	"github.com/purpleidea/shadow/metrics"
	"github.com/purpleidea/shadow/plugin/echo"
	"github.com/purpleidea/shadow/scheduler"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/topology"
	"github.com/purpleidea/shadow/transport"
)

// Logf is the top-level logging callback, threaded down into every
// component this package boots.
type Logf func(format string, v ...interface{})

// Options configures one simulation run, the boot-time equivalent of
// the parsed CLI flags of spec.md §6.2.
type Options struct {
	// Threads is the worker count; 0 (or 1) means single-threaded.
	Threads int
	// Seed is the master RNG seed every worker's stream derives from.
	Seed int64
	// Runahead is the minimum runahead window.
	Runahead time.Duration
	// TCPWindowSegments is the initial TCP window, in MSS-sized segments.
	TCPWindowSegments int
	// RawCPUFrequencyKHz models the real underlying machine's clock
	// rate, scaling every host's configured cpufrequency into a
	// freqRatio (spec.md §4.4); it has no config-file equivalent since
	// it describes the simulator's host, not the simulated one.
	RawCPUFrequencyKHz float64
	// CPUBlockThreshold is the backlog above which a host's CPU
	// account reports itself blocked; cpu.NeverBlocks disables it.
	CPUBlockThreshold time.Duration
	// InterfaceBufferPackets is the fallback receive-queue depth (in
	// packets) for a node that doesn't set its own <node interfacebuffer>
	// attribute; 0 leaves each socket's own built-in default in place.
	InterfaceBufferPackets int

	// MetricsListen, if non-empty, starts the Prometheus endpoint
	// there (see metrics.DefaultListen). Empty disables metrics.Start
	// but Gather still works.
	MetricsListen string
	// ArtifactRoot, if non-empty, persists per-host trace/log files
	// under this directory via Fs (afero.NewOsFs() if Fs is nil).
	ArtifactRoot string
	Fs           afero.Fs

	Logf Logf
}

// withDefaults fills in the zero-value defaults spec.md §6.2 documents.
func (o Options) withDefaults() Options {
	if o.Threads < 1 {
		o.Threads = 1
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	if o.Runahead <= 0 {
		o.Runahead = scheduler.DefaultMinRunahead
	}
	if o.TCPWindowSegments <= 0 {
		o.TCPWindowSegments = transport.DefaultInitialWindowSegments
	}
	if o.RawCPUFrequencyKHz <= 0 {
		o.RawCPUFrequencyKHz = 2_000_000 // 2 GHz, an arbitrary but fixed reference machine
	}
	if o.CPUBlockThreshold == 0 {
		o.CPUBlockThreshold = cpu.NeverBlocks
	}
	if o.Logf == nil {
		o.Logf = func(string, ...interface{}) {}
	}
	return o
}

// Simulation is a fully booted, not-yet-run simulation: every host,
// process, and the scheduler/network wiring between them.
type Simulation struct {
	Options   Options
	DNS       *host.DNS
	Registry  *host.Registry
	Topology  *topology.Graph
	Scheduler *scheduler.Scheduler
	Pool      *scheduler.Pool
	Network   *transport.Network
	Metrics   *metrics.Metrics
	Artifacts *artifact.Store

	logf Logf
}

// Summary is the final report produced once a run completes.
type Summary struct {
	PacketsSent      uint64
	PacketsDelivered uint64
	PacketsDropped   uint64
	Retransmits      uint64
	FastRecoveries   uint64
	DropRate         float64
	PerHostCPUBacklog map[string]time.Duration
}

// Boot parses doc and constructs every host, process, and the
// scheduler/network wiring between them, but does not start the run.
func Boot(doc *config.Document, opts Options) (*Simulation, error) {
	opts = opts.withDefaults()

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	graph, err := config.LoadTopology(doc)
	if err != nil {
		return nil, err
	}

	dns := host.NewDNS()
	registry := host.NewRegistry()
	sched := scheduler.New(scheduler.Options{
		NumWorkers:  opts.Threads,
		MinRunahead: opts.Runahead,
		Logf:        scheduler.Logf(opts.Logf),
	})

	vertexIDs := graph.VertexIDs()
	vertexOf := func(hostID string) (string, bool) {
		h, ok := registry.Get(hostID)
		if !ok {
			return "", false
		}
		return h.Vertex, true
	}

	net := transport.NewNetwork(graph, sched, vertexOf)
	net.Resolve = dns.Reverse
	net.Bandwidth = func(hostID string) (up, down *rate.Limiter) {
		h, ok := registry.Get(hostID)
		if !ok || h.Eth == nil {
			return nil, nil
		}
		return h.Eth.Up, h.Eth.Down
	}

	// Metrics are always collected, even if MetricsListen is empty: the
	// final Summary reads them back via Gather regardless of whether the
	// /metrics http endpoint is ever served (that part only starts in
	// Run, gated on MetricsListen).
	m := &metrics.Metrics{Listen: opts.MetricsListen}
	if err := m.Init(); err != nil {
		return nil, err
	}
	net.Metrics = m

	var artifacts *artifact.Store
	var artifactFs afero.Fs
	if opts.ArtifactRoot != "" {
		artifactFs = opts.Fs
		if artifactFs == nil {
			artifactFs = afero.NewOsFs()
		}
		artifacts, err = artifact.NewStore(artifactFs, opts.ArtifactRoot)
		if err != nil {
			return nil, err
		}
		net.Tracer = artifacts
	}

	nextAddr := 1
	for ni := range doc.Nodes {
		node := &doc.Nodes[ni]
		vertex := nodeVertex(node, vertexIDs)

		for q := 0; q < node.Quantity; q++ {
			hostID := node.ID
			if node.Quantity > 1 {
				hostID = fmt.Sprintf("%s.%d", node.ID, q)
			}

			addr := node.IPHint
			if addr == "" || node.Quantity > 1 {
				addr = fmt.Sprintf("11.0.0.%d", nextAddr)
				nextAddr++
			}
			if err := dns.Register(hostID, addr); err != nil {
				return nil, err
			}

			logf := Logf(func(format string, v ...interface{}) {})
			if artifacts != nil {
				logf = artifacts.Logf(hostID)
			}

			h := host.New(host.Options{
				ID:   hostID,
				Addr: addr,
				CPU: cpu.Options{
					Frequency:    float64(node.CPUFrequency),
					RawFrequency: opts.RawCPUFrequencyKHz,
					Threshold:    opts.CPUBlockThreshold,
				},
				EthUpBytesPerSec:   node.BandwidthUp * 1024,
				EthDownBytesPerSec: node.BandwidthDown * 1024,
				Logf:               host.Logf(logf),
			})
			h.Vertex = vertex
			h.Epoll.Metrics = m

			if err := registry.Add(h); err != nil {
				return nil, err
			}
			if err := sched.RegisterHost(hostID, -1); err != nil {
				return nil, err
			}

			recvMax := opts.InterfaceBufferPackets
			if node.InterfaceBuffer > 0 {
				recvMax = node.InterfaceBuffer
			}
			for ai, app := range node.Applications {
				if err := bootApplication(h, net, sched, opts, hostID, addr, app, ai, recvMax); err != nil {
					return nil, err
				}
			}
		}
	}
	dns.Freeze()

	if doc.Kill != nil {
		killAt := simtime.Zero.Add(time.Duration(doc.Kill.Time * float64(time.Second)))
		scheduleKill(sched, killAt)
	}

	m.HostBooted(registry.Len())

	pool := scheduler.NewPool(sched, registry, opts.Seed)
	pool.Metrics = m

	return &Simulation{
		Options:   opts,
		DNS:       dns,
		Registry:  registry,
		Topology:  graph,
		Scheduler: sched,
		Pool:      pool,
		Network:   net,
		Metrics:   m,
		Artifacts: artifacts,

		logf: opts.Logf,
	}, nil
}

// nodeVertex resolves the topology vertex a node attaches to: its
// GeoCodeHint if that names a real vertex, else the first entry of
// vertexIDs, whose order is not defined (a single-network topology is
// the common case and needs no hint at all).
func nodeVertex(node *config.Node, vertexIDs []string) string {
	for _, id := range vertexIDs {
		if node.GeoCodeHint != "" && id == node.GeoCodeHint {
			return id
		}
	}
	if len(vertexIDs) > 0 {
		return vertexIDs[0]
	}
	return ""
}

// bootApplication registers app's plug-in instance on h and schedules
// its New/Activate/Free lifecycle at the configured start/stop times.
// Dynamic plug-in loading is out of scope (spec.md §1): only the
// built-in "echo" image is resolvable today.
func bootApplication(h *host.Host, net *transport.Network, sched *scheduler.Scheduler, opts Options, hostID, addr string, app config.Application, index, recvMax int) error {
	if app.Plugin != "echo" {
		return fmt.Errorf("master: host %q: unknown plugin %q (only \"echo\" is built in)", hostID, app.Plugin)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	descriptor := transport.Descriptor(h.NextDescriptor())
	proc := h.AddProcess(fmt.Sprintf("%s[%d]", app.Plugin, index), nil)
	plugin := &echo.Plugin{
		Net:         net,
		RNG:         rng,
		HostID:      hostID,
		Addr:        addr,
		Port:        uint16(7 + index),
		Descriptor:  descriptor,
		RecvMax:     recvMax,
		NextEventID: proc.NextEventID,
	}
	plugin.Notifier = &reactivateNotifier{sched: sched, hostID: hostID, nextEventID: proc.NextEventID, activate: plugin.Activate}
	proc.Plugin = plugin

	startAt := simtime.Zero.Add(time.Duration(app.StartTime * float64(time.Second)))
	task := event.NewTask(func(now simtime.Time) {
		_ = plugin.New(now)
		_ = plugin.Activate(now)
	}, nil)
	if _, err := net.Sched.Push(hostID, hostID, startAt, task, proc.NextEventID()); err != nil {
		return err
	}

	if app.StopTime > 0 {
		stopAt := simtime.Zero.Add(time.Duration(app.StopTime * float64(time.Second)))
		stopTask := event.NewTask(func(now simtime.Time) {
			_ = plugin.Free(now)
		}, nil)
		if _, err := net.Sched.Push(hostID, hostID, stopAt, stopTask, proc.NextEventID()); err != nil {
			return err
		}
	}

	return nil
}

// reactivateNotifier implements transport.Notifier: a readable socket
// does not re-invoke Activate on its own, since the scheduler only runs
// a process in reaction to a pushed event. NotifyReady pushes a follow-up
// Activate event straight onto the scheduler, synchronously within the
// delivery task's own call stack (the worker goroutine that just
// buffered the datagram), so the new event is already queued before that
// worker's next Pop can see an empty queue and decide the run is over.
// This intentionally bypasses host.Epoll's own Wait()-based consumer
// loop, which would read the wakeup from a separate goroutine and race
// the scheduler's termination check.
type reactivateNotifier struct {
	sched       *scheduler.Scheduler
	hostID      string
	nextEventID func() uint64
	activate    func(now simtime.Time) error
}

func (n *reactivateNotifier) NotifyReady(descriptorID int, flags transport.ReadyFlags) {
	if !flags.Readable {
		return
	}
	now := n.sched.Barrier()
	task := event.NewTask(func(t simtime.Time) {
		_ = n.activate(t)
	}, nil)
	_, _ = n.sched.Push(n.hostID, n.hostID, now, task, n.nextEventID())
}

// killHostID is a reserved control host used only to carry the <kill>
// deadline's shutdown task; it owns no real sockets or processes.
const killHostID = "__kill__"

func scheduleKill(sched *scheduler.Scheduler, at simtime.Time) {
	if err := sched.RegisterHost(killHostID, 0); err != nil {
		return // already registered is impossible at boot, but never fatal here
	}
	task := event.NewTask(func(now simtime.Time) {
		sched.Shutdown()
	}, nil)
	_, _ = sched.Push(killHostID, killHostID, at, task, 0)
}

// Run starts the worker pool and blocks until the simulation terminates
// (every queue drains, or the configured <kill> deadline fires), then
// returns a final Summary.
func (s *Simulation) Run(ctx context.Context) Summary {
	if s.Options.MetricsListen != "" {
		_ = s.Metrics.Start()
		defer s.Metrics.Stop(ctx)
	}
	if s.Artifacts != nil {
		defer s.Artifacts.Close()
	}

	s.Pool.Run()

	// Every host's epoll set is otherwise unused once the run is over.
	s.Registry.Range(func(h *host.Host) {
		_ = h.Epoll.Close()
	})

	g := s.Metrics.Gather()
	summary := Summary{
		PerHostCPUBacklog: make(map[string]time.Duration),
		PacketsSent:       uint64(g.PacketsSent),
		PacketsDelivered:  uint64(g.PacketsDelivered),
		PacketsDropped:    uint64(g.PacketsDropped),
		Retransmits:       uint64(g.Retransmits),
		FastRecoveries:    uint64(g.FastRecoveries),
	}
	if summary.PacketsSent > 0 {
		summary.DropRate = float64(summary.PacketsDropped) / float64(summary.PacketsSent)
	}
	s.Registry.Range(func(h *host.Host) {
		if h.ID == killHostID {
			return
		}
		summary.PerHostCPUBacklog[h.ID] = h.CPU.TimeCPUAvailable().Sub(h.CPU.Now())
	})

	s.logf("simulation complete: sent=%d delivered=%d dropped=%d drop-rate=%.4f",
		summary.PacketsSent, summary.PacketsDelivered, summary.PacketsDropped, summary.DropRate)

	if s.Artifacts != nil {
		if tree, err := s.Artifacts.Tree(); err == nil {
			s.logf("debug: artifacts written under %s:\n%s", s.Options.ArtifactRoot, tree)
		}
	}
	return summary
}

// Run parses the first config path (or the built-in echo scenario), boots,
// and runs the simulation to completion in one call.
func Run(ctx context.Context, configPaths []string, opts Options) (Summary, error) {
	doc, err := loadDocument(configPaths)
	if err != nil {
		return Summary{}, err
	}
	sim, err := Boot(doc, opts)
	if err != nil {
		return Summary{}, err
	}
	return sim.Run(ctx), nil
}

func loadDocument(configPaths []string) (*config.Document, error) {
	if len(configPaths) == 0 {
		return EchoDocument(), nil
	}
	// Only the first path is used to build the topology/host set;
	// spec.md's "one or more configuration file paths" positional
	// argument otherwise composes multiple scenario fragments, which
	// is out of this module's scope (no multi-file merge rules are
	// specified).
	return config.ParseFile(configPaths[0])
}
