// Package metrics exposes live run-progress gauges/counters over
// Prometheus's text exposition format while a simulation's run phase
// executes. Grounded on the teacher's pkg/monitoring/prometheus/client.go
// and pkg/monitoring/collector/collector.go (poll-and-expose vocabulary),
// inverted here: the simulator is the exporter, not the scrape target's
// querying client.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter registers and updates the gauges/counters a running simulation
// reports. Every method is also a no-op on a nil *Exporter. New returns a
// non-nil Exporter even when addr is empty; it then serves nothing.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server

	healthyNodes  prometheus.Gauge
	queueDepthSum prometheus.Gauge
	clientLatency prometheus.Histogram
	clientTimeout prometheus.Counter
	joins         prometheus.Counter
	crashes       prometheus.Counter
	drops         prometheus.Counter
}

// New builds an Exporter with its own registry (so a run's metrics never
// collide with another package's use of the default global registry) and,
// if addr is non-empty, starts serving /metrics on it in the background.
// Callers must call Shutdown when the run finishes.
func New(addr string) (*Exporter, error) {
	reg := prometheus.NewRegistry()
	e := &Exporter{
		registry: reg,
		healthyNodes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dhtsim_healthy_nodes",
			Help: "Current count of non-crashed nodes in the simulated network.",
		}),
		queueDepthSum: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dhtsim_queue_depth_last",
			Help: "Receive-queue length of the most recently sampled node.",
		}),
		clientLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dhtsim_client_latency_seconds",
			Help:    "Completed client request latency, in virtual-time units.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		clientTimeout: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dhtsim_client_timeouts_total",
			Help: "Client requests that did not complete before their deadline.",
		}),
		joins: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dhtsim_joins_total",
			Help: "Nodes that successfully joined the network after the build phase.",
		}),
		crashes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dhtsim_crashes_total",
			Help: "Nodes that crashed during the run.",
		}),
		drops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dhtsim_dropped_packets_total",
			Help: "Packets dropped due to a full receive queue or a crashed destination.",
		}),
	}
	if addr == "" {
		return e, nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	e.server = &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- e.server.ListenAndServe() }()
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("failed to start metrics server on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
		return e, nil
	}
}

// SetHealthyNodes records the current healthy-set size.
func (e *Exporter) SetHealthyNodes(n int) {
	if e == nil {
		return
	}
	e.healthyNodes.Set(float64(n))
}

// ObserveQueueDepth records one node's queue length at dequeue time.
func (e *Exporter) ObserveQueueDepth(qlen int) {
	if e == nil {
		return
	}
	e.queueDepthSum.Set(float64(qlen))
}

// ObserveClientLatency records one completed client request's latency.
func (e *Exporter) ObserveClientLatency(v float64) {
	if e == nil {
		return
	}
	e.clientLatency.Observe(v)
}

// IncClientTimeout counts one client request that timed out.
func (e *Exporter) IncClientTimeout() {
	if e == nil {
		return
	}
	e.clientTimeout.Inc()
}

// IncJoin counts one successful post-build join.
func (e *Exporter) IncJoin() {
	if e == nil {
		return
	}
	e.joins.Inc()
}

// IncCrash counts one node crash.
func (e *Exporter) IncCrash() {
	if e == nil {
		return
	}
	e.crashes.Inc()
}

// IncDrop counts one dropped packet.
func (e *Exporter) IncDrop() {
	if e == nil {
		return
	}
	e.drops.Inc()
}

// Shutdown stops the metrics HTTP server, if one was started.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e == nil || e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
