// Package metrics exports bot activity to Prometheus. A nil *Observer is
// valid and records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observer holds the bot collectors.
type Observer struct {
	references     *prometheus.CounterVec
	requests       *prometheus.CounterVec
	requestErrors  *prometheus.CounterVec
	saves          *prometheus.CounterVec
	auditErrors    prometheus.Counter
	handleDuration *prometheus.HistogramVec
}

// NewObserver creates and registers the collectors. Collectors already
// registered on reg are reused.
func NewObserver(namespace string, reg prometheus.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "snipclaw"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		references: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_total",
			Help:      "Snippet references found in inbound messages, by origin and lookup result.",
		}, []string{"origin", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_requests_total",
			Help:      "Outbound transport requests issued for replies.",
		}, []string{"kind"}),
		requestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_errors_total",
			Help:      "Reply dispatches that failed, by reference origin.",
		}, []string{"origin"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Save commands by outcome.",
		}, []string{"outcome"}),
		auditErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_errors_total",
			Help:      "Audit recorder failures.",
		}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one inbound message.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}

	var err error
	if o.references, err = register(reg, o.references); err != nil {
		return nil, err
	}
	if o.requests, err = register(reg, o.requests); err != nil {
		return nil, err
	}
	if o.requestErrors, err = register(reg, o.requestErrors); err != nil {
		return nil, err
	}
	if o.saves, err = register(reg, o.saves); err != nil {
		return nil, err
	}
	if o.auditErrors, err = register(reg, o.auditErrors); err != nil {
		return nil, err
	}
	if o.handleDuration, err = register(reg, o.handleDuration); err != nil {
		return nil, err
	}
	return o, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// Handler serves the metrics of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Reference counts one resolved reference. result is "local", "forward"
// or "not_found".
func (o *Observer) Reference(origin, result string) {
	if o == nil {
		return
	}
	o.references.WithLabelValues(origin, result).Inc()
}

// Request counts one outbound request.
func (o *Observer) Request(kind string) {
	if o == nil {
		return
	}
	o.requests.WithLabelValues(kind).Inc()
}

// RequestError counts one failed reply dispatch.
func (o *Observer) RequestError(origin string) {
	if o == nil {
		return
	}
	o.requestErrors.WithLabelValues(origin).Inc()
}

// Save counts one save command by outcome.
func (o *Observer) Save(outcome string) {
	if o == nil {
		return
	}
	o.saves.WithLabelValues(outcome).Inc()
}

// AuditError counts one audit failure.
func (o *Observer) AuditError() {
	if o == nil {
		return
	}
	o.auditErrors.Inc()
}

// Handled observes the duration of one handled message.
func (o *Observer) Handled(kind string, d time.Duration) {
	if o == nil {
		return
	}
	o.handleDuration.WithLabelValues(kind).Observe(d.Seconds())
}
