// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sarchlab/cyclesim/sim"
)

const namespace = "cyclesim"

// Failure reasons used as the label of cycle_failures_total.
const (
	ReasonEvaluation = "evaluation"
	ReasonConflict   = "conflict"
	ReasonStaleOrder = "stale_order"
	ReasonOther      = "other"
)

// A Collector is a hook that counts cycles, events, and memory writes.
type Collector struct {
	registry *prometheus.Registry

	Cycles          prometheus.Counter
	CycleFailures   *prometheus.CounterVec
	EventsRaised    prometheus.Counter
	EventsDelivered prometheus.Counter
	EventsDropped   *prometheus.CounterVec
	DeltasCommitted prometheus.Counter
	Evaluations     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	CurrentCycle    prometheus.Gauge
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of committed cycles",
		}),
		CycleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Total number of aborted cycles",
		}, []string{"reason"}),
		EventsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_raised_total",
			Help:      "Total number of events raised in committed cycles",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Total number of event deliveries",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Total number of dropped event deliveries",
		}, []string{"type"}),
		DeltasCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_deltas_committed_total",
			Help:      "Total number of committed memory writes",
		}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of component evaluations",
		}, []string{"phase"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of committed cycles",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		CurrentCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_cycle",
			Help:      "Number of the last committed cycle",
		}),
	}

	c.registry.MustRegister(
		c.Cycles,
		c.CycleFailures,
		c.EventsRaised,
		c.EventsDelivered,
		c.EventsDropped,
		c.DeltasCommitted,
		c.Evaluations,
		c.CycleDuration,
		c.CurrentCycle,
	)

	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Func updates the metrics.
func (c *Collector) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosAfterCycle:
		c.observeCycle(ctx.Item.(sim.CycleReport))
	case sim.HookPosCycleFailed:
		c.CycleFailures.WithLabelValues(ReasonOf(ctx.Item.(error))).Inc()
	case sim.HookPosEventDropped:
		d := ctx.Item.(*sim.DeliveryError)
		c.EventsDropped.WithLabelValues(string(d.Type)).Inc()
	case sim.HookPosAfterEvaluate:
		c.Evaluations.WithLabelValues(ctx.Detail.(string)).Inc()
	}
}

func (c *Collector) observeCycle(r sim.CycleReport) {
	c.Cycles.Inc()
	c.EventsRaised.Add(float64(r.Events))
	c.EventsDelivered.Add(float64(r.Delivered))
	c.DeltasCommitted.Add(float64(r.DeltasCommitted()))
	c.CycleDuration.Observe(r.Duration.Seconds())
	c.CurrentCycle.Set(float64(r.Cycle))
}

// ReasonOf classifies a cycle error.
func ReasonOf(err error) string {
	switch {
	case errors.Is(err, sim.ErrEvaluation):
		return ReasonEvaluation
	case errors.Is(err, sim.ErrConflictingWrite):
		return ReasonConflict
	case errors.Is(err, sim.ErrStaleOrder):
		return ReasonStaleOrder
	default:
		return ReasonOther
	}
}
