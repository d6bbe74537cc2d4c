// Package metrics exposes Prometheus collectors for the treasury
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/club-treasury/internal/domain/event"
)

const namespace = "treasury"

// Metrics holds the collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Events               *prometheus.CounterVec
	ClaimTransitions     *prometheus.CounterVec
	LinksChanged         *prometheus.CounterVec
	ReconciliationRuns   prometheus.Counter
	ReconciliationLinked prometheus.Counter
	ReviewQueue          prometheus.Gauge
	DuplicatesDetected   prometheus.Counter
	TransactionsImported prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New registers every collector, plus Go and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Domain events dispatched by type.",
		}, []string{"type"}),
		ClaimTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "transitions_total",
			Help:      "Claim status changes by resulting status.",
		}, []string{"status"}),
		LinksChanged: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "links",
			Name:      "changes_total",
			Help:      "Transaction links created or removed, by entity type.",
		}, []string{"entity_type", "change"}),
		ReconciliationRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "runs_total",
			Help:      "Automatic reconciliation runs.",
		}),
		ReconciliationLinked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "linked_total",
			Help:      "Transactions linked by automatic reconciliation.",
		}),
		ReviewQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "review_queue",
			Help:      "Proposals left for manual review by the last run.",
		}),
		DuplicatesDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "duplicates_total",
			Help:      "Uploaded documents matching an existing digest.",
		}),
		TransactionsImported: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transactions",
			Name:      "imported_total",
			Help:      "Bank transactions inserted from statements.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HandleEvent is a catch-all dispatcher handler
func (m *Metrics) HandleEvent(_ context.Context, evt *event.Event) error {
	m.Events.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.TypeClaimSubmitted, event.TypeClaimApproved, event.TypeClaimRejected,
		event.TypeClaimReimbursed, event.TypeReimbursementReversed, event.TypeClaimDeleted:
		if status := evt.GetPayloadString("status"); status != "" {
			m.ClaimTransitions.WithLabelValues(status).Inc()
		}
	case event.TypeTransactionLinked:
		m.LinksChanged.WithLabelValues(evt.EntityType, "linked").Inc()
	case event.TypeTransactionUnlinked:
		m.LinksChanged.WithLabelValues(evt.EntityType, "unlinked").Inc()
	case event.TypeReconciliationFinished:
		m.ReconciliationRuns.Inc()
		m.ReconciliationLinked.Add(float64(evt.GetPayloadInt("linked")))
		m.ReviewQueue.Set(float64(evt.GetPayloadInt("review")))
	case event.TypeDuplicateDetected:
		m.DuplicatesDetected.Inc()
	case event.TypeTransactionsImported:
		m.TransactionsImported.Add(float64(evt.GetPayloadInt("inserted")))
	}
	return nil
}

// GinMiddleware records request count and latency per route template
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
