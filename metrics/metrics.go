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

// Package metrics provides functions that are useful to control and
// manage the built-in prometheus instance, exposing counters and gauges
// for a single simulation run.
package metrics

import (
	"context"
	"net/http"

	errwrap "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// DefaultListen is registered in
// https://github.com/prometheus/prometheus/wiki/Default-port-allocations
const DefaultListen = "127.0.0.1:9234"

// Metrics holds the registered counters/gauges for one simulation run.
// Run Init() before use. Each instance owns its own prometheus registry
// rather than registering against the global DefaultRegisterer, so more
// than one simulation run (e.g. one per test) can exist in the same
// process without a duplicate-registration error.
type Metrics struct {
	Listen string // listen address for the net/http server

	registry *prometheus.Registry

	packetsSent      prometheus.Counter
	packetsDelivered prometheus.Counter
	packetsDropped   *prometheus.CounterVec // by caller-supplied reason label
	packetsDroppedTotal prometheus.Counter  // sum across every reason, for Gather
	retransmits      prometheus.Counter
	fastRecoveries   prometheus.Counter
	epollNotifies    prometheus.Counter
	cpuReschedules   prometheus.Counter
	hostsBooted      prometheus.Gauge

	server *http.Server
}

// Init registers every metric with this instance's own prometheus
// registry. It does not start the /metrics http server; call Start for
// that once the simulation's listen address (if any) is decided.
func (m *Metrics) Init() error {
	if m.Listen == "" {
		m.Listen = DefaultListen
	}
	m.registry = prometheus.NewRegistry()

	m.packetsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_packets_sent_total",
		Help: "Number of packets handed to the network layer.",
	})
	m.packetsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_packets_delivered_total",
		Help: "Number of packets delivered to a destination socket.",
	})
	m.packetsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadow_packets_dropped_total",
		Help: "Number of packets dropped, by reason.",
	}, []string{"reason"})
	m.packetsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_packets_dropped_sum_total",
		Help: "Number of packets dropped, summed across every reason.",
	})
	m.retransmits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_tcp_retransmits_total",
		Help: "Number of TCP segments retransmitted after a timeout.",
	})
	m.fastRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_tcp_fast_recoveries_total",
		Help: "Number of times a TCP connection entered fast recovery.",
	})
	m.epollNotifies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_epoll_notifications_total",
		Help: "Number of readiness notifications delivered by the epoll engine.",
	})
	m.cpuReschedules = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadow_cpu_blocked_reschedules_total",
		Help: "Number of events deferred because their host was CPU-blocked.",
	})
	m.hostsBooted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadow_hosts_booted",
		Help: "Number of hosts currently booted in this run.",
	})

	for _, c := range []prometheus.Collector{
		m.packetsSent, m.packetsDelivered, m.packetsDropped, m.packetsDroppedTotal,
		m.retransmits, m.fastRecoveries, m.epollNotifies,
		m.cpuReschedules, m.hostsBooted,
	} {
		if err := m.registry.Register(c); err != nil {
			return errwrap.Wrapf(err, "metrics: registering collector")
		}
	}
	return nil
}

// Start runs an http server in a goroutine that responds to /metrics as
// prometheus would expect.
func (m *Metrics) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Addr: m.Listen, Handler: mux}
	go m.server.ListenAndServe()
	return nil
}

// Stop shuts the http server down, if it was started.
func (m *Metrics) Stop(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// PacketSent increments the sent-packet counter.
func (m *Metrics) PacketSent() { m.packetsSent.Inc() }

// PacketDelivered increments the delivered-packet counter.
func (m *Metrics) PacketDelivered() { m.packetsDelivered.Inc() }

// PacketDropped increments the dropped-packet counter for reason.
func (m *Metrics) PacketDropped(reason string) {
	m.packetsDropped.With(prometheus.Labels{"reason": reason}).Inc()
	m.packetsDroppedTotal.Inc()
}

// Retransmit increments the TCP retransmit counter.
func (m *Metrics) Retransmit() { m.retransmits.Inc() }

// FastRecovery increments the TCP fast-recovery-entered counter.
func (m *Metrics) FastRecovery() { m.fastRecoveries.Inc() }

// EpollNotify increments the epoll notification counter.
func (m *Metrics) EpollNotify() { m.epollNotifies.Inc() }

// CPUReschedule increments the CPU-blocked reschedule counter.
func (m *Metrics) CPUReschedule() { m.cpuReschedules.Inc() }

// HostBooted sets the number of currently booted hosts.
func (m *Metrics) HostBooted(n int) { m.hostsBooted.Set(float64(n)) }

// Summary is the point-in-time snapshot reported at shutdown.
type Summary struct {
	PacketsSent      float64
	PacketsDelivered float64
	PacketsDropped   float64
	Retransmits      float64
	FastRecoveries   float64
}

// Gather reads the current counter values back out for the final
// run summary (the master logs this, it does not poll /metrics itself).
func (m *Metrics) Gather() Summary {
	return Summary{
		PacketsSent:      readCounter(m.packetsSent),
		PacketsDelivered: readCounter(m.packetsDelivered),
		PacketsDropped:   readCounter(m.packetsDroppedTotal),
		Retransmits:      readCounter(m.retransmits),
		FastRecoveries:   readCounter(m.fastRecoveries),
	}
}

func readCounter(c prometheus.Counter) float64 {
	pb := &dto.Metric{}
	if err := c.Write(pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
