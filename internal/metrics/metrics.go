// Package metrics exposes Prometheus collectors for the simulation loop.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ukydev/fleet-simulation/internal/models"
)

const namespace = "fleetsim"

// Collector bundles the simulation metrics. A nil *Collector is valid and
// records nothing, so components can run without metrics in tests.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks            prometheus.Counter
	TickFailures     prometheus.Counter
	TickDuration     prometheus.Histogram
	TickCount        prometheus.Gauge
	Running          prometheus.Gauge
	ControlRejected  *prometheus.CounterVec
	VehiclesByStatus *prometheus.GaugeVec
	Transitions      *prometheus.CounterVec
	AssignmentEvents *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	TriggerFires     *prometheus.CounterVec
}

// NewCollector registers the simulation metrics against reg, defaulting to
// the global registry when nil. Registering twice reuses the existing
// collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.Ticks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_total",
		Help:      "Number of executed simulation ticks.",
	})); err != nil {
		return nil, err
	}
	if c.TickFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_failures_total",
		Help:      "Ticks whose fleet update failed.",
	})); err != nil {
		return nil, err
	}
	if c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tick_duration_seconds",
		Help:      "Wall-clock time spent executing one tick.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})); err != nil {
		return nil, err
	}
	if c.TickCount, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tick_count",
		Help:      "Current value of the simulation tick counter.",
	})); err != nil {
		return nil, err
	}
	if c.Running, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "running",
		Help:      "1 while the simulation clock is running.",
	})); err != nil {
		return nil, err
	}
	if c.ControlRejected, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_rejected_total",
		Help:      "Control operations refused by the clock, labeled by reason.",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if c.VehiclesByStatus, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "vehicles",
		Help:      "Vehicles per status after the latest tick.",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if c.Transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "vehicle_transitions_total",
		Help:      "Vehicle status transitions, labeled by source and target status.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if c.AssignmentEvents, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assignment_events_total",
		Help:      "Assignment lifecycle events applied by the orchestrator.",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if c.StoreErrors, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Failed store operations, labeled by operation.",
	}, []string{"op"})); err != nil {
		return nil, err
	}
	if c.TriggerFires, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trigger_fires_total",
		Help:      "Cadence trigger invocations, labeled by trigger and result.",
	}, []string{"trigger", "result"})); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler returns an HTTP handler serving the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one executed tick.
func (c *Collector) ObserveTick(d time.Duration, tickCount int64, running bool) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	c.SetClock(tickCount, running)
}

// TickFailed counts a tick whose fleet update returned an error.
func (c *Collector) TickFailed() {
	if c == nil {
		return
	}
	c.TickFailures.Inc()
}

// SetClock mirrors the clock state into gauges.
func (c *Collector) SetClock(tickCount int64, running bool) {
	if c == nil {
		return
	}
	c.TickCount.Set(float64(tickCount))
	if running {
		c.Running.Set(1)
	} else {
		c.Running.Set(0)
	}
}

// RejectControl counts a refused control call.
func (c *Collector) RejectControl(reason string) {
	if c == nil {
		return
	}
	c.ControlRejected.WithLabelValues(reason).Inc()
}

// SetDistribution publishes the per-status vehicle counts. Statuses absent
// from counts are reported as zero.
func (c *Collector) SetDistribution(counts map[models.VehicleStatus]int) {
	if c == nil {
		return
	}
	for _, status := range models.VehicleStatuses {
		c.VehiclesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Transition counts a vehicle status change.
func (c *Collector) Transition(from, to models.VehicleStatus) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

// AssignmentEvent counts an applied assignment event.
func (c *Collector) AssignmentEvent(event string) {
	if c == nil {
		return
	}
	c.AssignmentEvents.WithLabelValues(event).Inc()
}

// StoreError counts a failed store operation.
func (c *Collector) StoreError(op string) {
	if c == nil {
		return
	}
	c.StoreErrors.WithLabelValues(op).Inc()
}

// TriggerFired counts a trigger invocation.
func (c *Collector) TriggerFired(trigger string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.TriggerFires.WithLabelValues(trigger, result).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector already registered with incompatible type %T", are.ExistingCollector)
		}
		var zero T
		return zero, err
	}
	return collector, nil
}
