package metrics

import (
	"net/http"
	"strconv"

	"github.com/eagraf/bookstore-ingress/internal/ingress/reverse_proxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics turns proxy events into Prometheus series on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	preflights       prometheus.Counter
	routed           *prometheus.CounterVec
	responses        *prometheus.CounterVec
	upstreamFailures *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingress_requests_total",
				Help: "Total number of requests received by the ingress",
			},
			[]string{"method"},
		),
		preflights: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ingress_preflight_total",
				Help: "Total number of OPTIONS requests answered without contacting an upstream",
			},
		),
		routed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingress_routed_total",
				Help: "Total number of requests routed, by rule",
			},
			[]string{"rule"},
		),
		responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingress_responses_total",
				Help: "Total number of responses returned to clients, by rule and status code",
			},
			[]string{"rule", "code"},
		),
		upstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingress_upstream_failures_total",
				Help: "Total number of requests that could not reach their upstream",
			},
			[]string{"rule"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingress_upstream_duration_seconds",
				Help:    "Time from receiving a request to having the upstream's response or failure",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
	}
}

func (m *Metrics) ConsumeEvent(e *reverse_proxy.ProxyEvent) error {
	switch e.Kind {
	case reverse_proxy.EventRequestReceived:
		m.requests.WithLabelValues(e.Method).Inc()
	case reverse_proxy.EventPreflight:
		m.preflights.Inc()
	case reverse_proxy.EventRouteSelected:
		m.routed.WithLabelValues(e.Rule).Inc()
	case reverse_proxy.EventResponseForwarded:
		m.responses.WithLabelValues(e.Rule, strconv.Itoa(e.Status)).Inc()
		m.upstreamDuration.WithLabelValues(e.Rule).Observe(e.Duration.Seconds())
	case reverse_proxy.EventUpstreamFailed:
		m.upstreamFailures.WithLabelValues(e.Rule).Inc()
		m.responses.WithLabelValues(e.Rule, strconv.Itoa(e.Status)).Inc()
		m.upstreamDuration.WithLabelValues(e.Rule).Observe(e.Duration.Seconds())
	}
	return nil
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
