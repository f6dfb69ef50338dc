// Package metrics exposes prometheus instrumentation for turns, gateway calls
// and the transcript sink. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskvox"

// Collector holds the taskvox metric vectors on a private registry.
type Collector struct {
	registry *prometheus.Registry

	turnsTotal      *prometheus.CounterVec
	turnDuration    prometheus.Histogram
	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	filterFallbacks prometheus.Counter
	resets          prometheus.Counter
	sinkDropped     prometheus.Counter
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns handled, by reply kind",
			},
			[]string{"kind"},
		),
		turnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time spent handling a conversation turn",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		gatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Language model gateway requests",
			},
			[]string{"provider", "op", "status"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Language model gateway request duration",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "op"},
		),
		filterFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_fallbacks_total",
				Help:      "Answer filter judgments discarded in favour of the existing pending list",
			},
		),
		resets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_resets_total",
				Help:      "Conversations discarded after a task switch",
			},
		),
		sinkDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sink_dropped_total",
				Help:      "Transcripts dropped because the recorder queue was full",
			},
		),
	}
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the prometheus exposition format. A nil
// collector has nothing to serve and answers 404.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records a completed turn. kind is "error" for failed turns.
func (c *Collector) ObserveTurn(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(kind).Inc()
	c.turnDuration.Observe(d.Seconds())
}

// ObserveGateway records one gateway call.
func (c *Collector) ObserveGateway(provider, op string, err error, d time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.gatewayRequests.WithLabelValues(provider, op, status).Inc()
	c.gatewayDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

// FilterFallback counts an answer filter judgment that was discarded.
func (c *Collector) FilterFallback() {
	if c == nil {
		return
	}
	c.filterFallbacks.Inc()
}

// ConversationReset counts a task-switch reset.
func (c *Collector) ConversationReset() {
	if c == nil {
		return
	}
	c.resets.Inc()
}

// SinkDropped counts a transcript the recorder could not enqueue.
func (c *Collector) SinkDropped() {
	if c == nil {
		return
	}
	c.sinkDropped.Inc()
}

// The accessors below expose single series, mainly for tests. On a nil
// collector they return an unregistered counter that stays at zero.

func (c *Collector) TurnsCounter(kind string) prometheus.Counter {
	if c == nil {
		return detached()
	}
	return c.turnsTotal.WithLabelValues(kind)
}

func (c *Collector) GatewayCounter(provider, op, status string) prometheus.Counter {
	if c == nil {
		return detached()
	}
	return c.gatewayRequests.WithLabelValues(provider, op, status)
}

func (c *Collector) FilterFallbacksCounter() prometheus.Counter {
	if c == nil {
		return detached()
	}
	return c.filterFallbacks
}

func (c *Collector) ResetsCounter() prometheus.Counter {
	if c == nil {
		return detached()
	}
	return c.resets
}

func (c *Collector) SinkDroppedCounter() prometheus.Counter {
	if c == nil {
		return detached()
	}
	return c.sinkDropped
}

func detached() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "detached"})
}
