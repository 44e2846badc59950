// Package metrics exposes portal counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// DNS query outcomes used as the "result" label.
const (
	ResultRedirected = "redirected"
	ResultDropped    = "dropped"
	ResultMalformed  = "malformed"
	ResultSendFailed = "send_failed"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the global default registry.
type Metrics struct {
	registry     *prometheus.Registry
	dnsQueries   *prometheus.CounterVec
	dnsBackoffs  prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpBytes    prometheus.Counter
}

// New registers the portal collectors. active, if non-nil, is sampled on
// every scrape for the active visitor gauge.
func New(active func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dnsQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns",
			Name:      "queries_total",
			Help:      "DNS datagrams handled, by outcome.",
		}, []string{"result"}),
		dnsBackoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dns",
			Name:      "backoffs_total",
			Help:      "Times the DNS loop paused after a socket error or panic.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests answered, by route and status code.",
		}, []string{"route", "status"}),
		httpBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to HTTP clients, headers included.",
		}),
	}

	m.registry.MustRegister(
		m.dnsQueries,
		m.dnsBackoffs,
		m.httpRequests,
		m.httpBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if active != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visitors_active",
			Help:      "Visitors currently held in the active table.",
		}, func() float64 { return float64(active()) }))
	}
	return m
}

// DNSQuery counts one datagram with the given Result* outcome.
func (m *Metrics) DNSQuery(result string) {
	m.dnsQueries.WithLabelValues(result).Inc()
}

// DNSBackoff counts one pause of the DNS loop.
func (m *Metrics) DNSBackoff() {
	m.dnsBackoffs.Inc()
}

// HTTPRequest counts one answered request by route and status code.
func (m *Metrics) HTTPRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// HTTPBytes adds n to the bytes sent; non-positive n is ignored.
func (m *Metrics) HTTPBytes(n int) {
	if n > 0 {
		m.httpBytes.Add(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
