package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordercore"

// Metrics bundles every collector behind one registry per process. Using a
// private registry keeps parallel tests from fighting over the global one.
type Metrics struct {
	reg *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	OrdersCreated   *prometheus.CounterVec
	OrdersCancelled prometheus.Counter
	ReserveLatency  *prometheus.HistogramVec
	EventsConsumed  *prometheus.CounterVec

	Reservations  *prometheus.CounterVec
	Releases      *prometheus.CounterVec
	VerifyHandled *prometheus.CounterVec
	StockLevel    *prometheus.GaugeVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}
	factory := func(name, help string, varLabels ...string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help, ConstLabels: labels,
		}, varLabels)
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		reg:           reg,
		HTTPRequests:  factory("http_requests_total", "HTTP requests by route and code.", "method", "route", "code"),
		OrdersCreated: factory("orders_created_total", "Create-order outcomes.", "outcome"),
		EventsConsumed: factory("events_consumed_total",
			"Bus events by type and handling result.", "event_type", "result"),
		Reservations:  factory("reservations_total", "Reserve outcomes.", "outcome"),
		Releases:      factory("releases_total", "Release outcomes.", "result"),
		VerifyHandled: factory("verify_handled_total", "VerifyOrder outcomes.", "result"),
	}

	m.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds",
		Help: "HTTP request latency.", ConstLabels: labels,
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	reg.MustRegister(m.HTTPDuration)

	m.ReserveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "reserve_rpc_duration_seconds",
		Help: "Reservation RPC latency by outcome.", ConstLabels: labels,
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
	}, []string{"outcome"})
	reg.MustRegister(m.ReserveLatency)

	m.OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "orders_cancelled_total",
		Help: "Orders cancelled.", ConstLabels: labels,
	})
	reg.MustRegister(m.OrdersCancelled)

	m.StockLevel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "product_stock",
		Help: "Current stock per product.", ConstLabels: labels,
	}, []string{"product_id"})
	reg.MustRegister(m.StockLevel)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Snapshot flattens counters and gauges into a name -> value map for the
// system-metrics topic. Labelled series are summed per family.
func (m *Metrics) Snapshot() (map[string]int64, error) {
	families, err := m.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(families))
	for _, mf := range families {
		var total float64
		seen := false
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				total += c.GetValue()
				seen = true
			}
			if g := metric.GetGauge(); g != nil {
				total += g.GetValue()
				seen = true
			}
		}
		if seen {
			out[mf.GetName()] = int64(total)
		}
	}
	return out, nil
}
