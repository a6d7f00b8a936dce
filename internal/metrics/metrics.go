// Package metrics exposes marketplace counters on a dedicated Prometheus
// registry. Every method is safe on a nil *Metrics so services and tests can
// run without one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	claimsSubmitted *prometheus.CounterVec
	claimsResolved  *prometheus.CounterVec
	offersPlaced    *prometheus.CounterVec
	offersRejected  *prometheus.CounterVec
	listingsExpired prometheus.Counter
	sseSubscribers  prometheus.Gauge
	httpLatency     *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		claimsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_claims_submitted_total",
			Help:      "Manual payment claims submitted, by provider.",
		}, []string{"provider"}),
		claimsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_claims_resolved_total",
			Help:      "Payment claims resolved by an admin, by outcome.",
		}, []string{"outcome"}),
		offersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_placed_total",
			Help:      "Offers and bids accepted, by kind.",
		}, []string{"kind"}),
		offersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_rejected_total",
			Help:      "Offers and bids refused, by reason.",
		}, []string{"reason"}),
		listingsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_expired_total",
			Help:      "Listings moved to expired by the sweep.",
		}),
		sseSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listing_event_subscribers",
			Help:      "Open listing event streams.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.Registry.MustRegister(
		m.claimsSubmitted,
		m.claimsResolved,
		m.offersPlaced,
		m.offersRejected,
		m.listingsExpired,
		m.sseSubscribers,
		m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ClaimSubmitted(provider string) {
	if m != nil {
		m.claimsSubmitted.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) ClaimResolved(outcome string) {
	if m != nil {
		m.claimsResolved.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) OfferPlaced(kind string) {
	if m != nil {
		m.offersPlaced.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) OfferRejected(reason string) {
	if m != nil {
		m.offersRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ListingsExpired(n int64) {
	if m != nil && n > 0 {
		m.listingsExpired.Add(float64(n))
	}
}

// SubscribersChanged tracks the open event streams; it matches the hub's
// OnChange hook.
func (m *Metrics) SubscribersChanged(delta int) {
	if m != nil {
		m.sseSubscribers.Add(float64(delta))
	}
}

// Middleware records request latency labelled by the route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}
			m.httpLatency.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
