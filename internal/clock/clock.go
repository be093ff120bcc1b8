// Package clock drives the simulation: it maps the tick counter to simulated
// time, runs the fleet update once per tick and fires the periodic triggers
// on their cadence gates.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/metrics"
	"github.com/ukydev/fleet-simulation/internal/orchestrator"
	"github.com/ukydev/fleet-simulation/internal/trigger"
)

// RejectStepWhileRunning labels refused Step calls.
const RejectStepWhileRunning = "step_while_running"

// Updater is the fleet-wide update the clock runs every tick.
type Updater interface {
	ResetWindows(ctx context.Context, simNow time.Time, minutesPerTick int) error
	Tick(ctx context.Context, simNow time.Time, minutesPerTick int, tickCount int64) (orchestrator.Summary, error)
	Rearm()
}

// VehicleInitializer prepares the fleet on the first tick.
type VehicleInitializer interface {
	InitializeVehicles(ctx context.Context, simNow time.Time, minutesPerTick int) (int, error)
}

// Gate fires Trigger on every tick whose count is a positive multiple of Every.
type Gate struct {
	Name    string
	Every   int64
	Trigger trigger.Trigger
}

// Status is a point-in-time view of the clock.
type Status struct {
	RunID          string                `json:"run_id"`
	Running        bool                  `json:"running"`
	TickCount      int64                 `json:"tick_count"`
	MinutesPerTick int                   `json:"minutes_per_tick"`
	Epoch          time.Time             `json:"epoch"`
	SimulatedNow   time.Time             `json:"simulated_now"`
	LastTickAt     *time.Time            `json:"last_tick_at,omitempty"`
	LastSummary    *orchestrator.Summary `json:"last_summary,omitempty"`
}

// Clock is the simulation main loop. One mutex guards the tick counter and
// the running flag and is held for the whole tick, so control calls never
// observe a half-finished tick.
type Clock struct {
	mu             sync.Mutex
	tickCount      int64
	running        bool
	minutesPerTick int
	epoch          time.Time
	runID          string
	lastTickAt     *time.Time
	last           *orchestrator.Summary

	updater        Updater
	initializer    VehicleInitializer
	gates          []Gate
	metrics        *metrics.Collector
	triggerTimeout time.Duration

	inflight sync.WaitGroup
}

// Option configures a Clock.
type Option func(*Clock)

// WithInitializer runs the vehicle initializer on tick 0.
func WithInitializer(i VehicleInitializer) Option {
	return func(c *Clock) { c.initializer = i }
}

// WithGate adds a cadence gate. Gates with Every <= 0 or no trigger never fire.
func WithGate(name string, every int64, t trigger.Trigger) Option {
	return func(c *Clock) {
		c.gates = append(c.gates, Gate{Name: name, Every: every, Trigger: t})
	}
}

// WithMetrics records clock activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Clock) { c.metrics = m }
}

// WithTriggerTimeout bounds each fire-and-forget trigger call.
func WithTriggerTimeout(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.triggerTimeout = d
		}
	}
}

// New creates a stopped clock at tick 0.
func New(epoch time.Time, minutesPerTick int, updater Updater, opts ...Option) *Clock {
	if minutesPerTick <= 0 {
		minutesPerTick = 30
	}
	c := &Clock{
		minutesPerTick: minutesPerTick,
		epoch:          epoch,
		runID:          uuid.NewString(),
		updater:        updater,
		triggerTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start sets the clock running. It reports whether the state changed.
func (c *Clock) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		log.Info("Simulation already running")
		return false
	}
	c.running = true
	c.metrics.SetClock(c.tickCount, true)
	log.WithField("tick", c.tickCount).Info("Simulation started")
	return true
}

// Stop prevents the next tick from running. A tick in progress finishes.
// It reports whether the state changed.
func (c *Clock) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		log.Info("Simulation already stopped")
		return false
	}
	c.running = false
	c.metrics.SetClock(c.tickCount, false)
	log.WithField("tick", c.tickCount).Info("Simulation stopped")
	return true
}

// Reset stops the clock and rewinds it to tick 0. Vehicle and assignment
// state is left alone.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	log.WithField("run_id", c.runID).Info("Simulation reset")
}

// ResetFull is Reset plus re-arming the one-time window reset, so the next
// tick 0 realigns every vehicle's status window.
func (c *Clock) ResetFull() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	if c.updater != nil {
		c.updater.Rearm()
	}
	log.WithField("run_id", c.runID).Info("Simulation fully reset")
}

func (c *Clock) resetLocked() {
	c.tickCount = 0
	c.running = false
	c.last = nil
	c.lastTickAt = nil
	c.runID = uuid.NewString()
	c.metrics.SetClock(0, false)
}

// Step runs exactly one tick while the clock is stopped. It refuses, and
// returns false, when the clock is running.
func (c *Clock) Step(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		log.WithField("tick", c.tickCount).Warn("Step refused: simulation is running")
		c.metrics.RejectControl(RejectStepWhileRunning)
		return false
	}
	c.running = true
	c.tickLocked(ctx)
	c.running = false
	c.metrics.SetClock(c.tickCount, false)
	return true
}

// Tick runs one tick if the clock is running and reports whether it did.
func (c *Clock) Tick(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return false
	}
	c.tickLocked(ctx)
	return true
}

// tickLocked runs one tick to completion. The caller's cancellation does not
// reach the store calls; each of them is bounded by the store timeout.
func (c *Clock) tickLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	tick := c.tickCount
	simNow := c.simulatedNowLocked()
	entry := log.WithFields(log.Fields{
		"tick":    tick,
		"sim_now": simNow.Format(time.RFC3339),
	})

	if tick == 0 {
		if err := c.updater.ResetWindows(ctx, simNow, c.minutesPerTick); err != nil {
			entry.WithError(err).Error("Failed to reset status windows")
		}
		if c.initializer != nil {
			if _, err := c.initializer.InitializeVehicles(ctx, simNow, c.minutesPerTick); err != nil {
				entry.WithError(err).Error("Failed to initialize vehicles")
			}
		}
	}

	summary, err := c.updater.Tick(ctx, simNow, c.minutesPerTick, tick)
	if err != nil {
		entry.WithError(err).Error("Fleet update failed")
		c.metrics.TickFailed()
	} else {
		c.last = &summary
	}

	if tick > 0 {
		for _, g := range c.gates {
			if g.Every > 0 && g.Trigger != nil && tick%g.Every == 0 {
				c.fire(g, tick, simNow)
			}
		}
	}

	now := time.Now()
	c.lastTickAt = &now
	c.tickCount++
	c.metrics.ObserveTick(time.Since(started), c.tickCount, c.running)
	entry.WithField("took", time.Since(started).String()).Debug("Tick finished")
}

// fire runs a gate's trigger without waiting for it. Triggers get their own
// context so a cancelled control request does not abort them.
func (c *Clock) fire(g Gate, tick int64, simNow time.Time) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.triggerTimeout)
		defer cancel()

		err := g.Trigger.Fire(ctx, tick, simNow)
		c.metrics.TriggerFired(g.Name, err)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"trigger": g.Name,
				"tick":    tick,
			}).Warn("Trigger failed")
		}
	}()
}

// Wait blocks until every fired trigger has returned.
func (c *Clock) Wait() {
	c.inflight.Wait()
}

// IsRunning reports whether ticks are currently executed.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// TickCount is the number of ticks run since the last reset.
func (c *Clock) TickCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickCount
}

// SimulatedNow is epoch + tickCount * minutesPerTick.
func (c *Clock) SimulatedNow() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simulatedNowLocked()
}

func (c *Clock) simulatedNowLocked() time.Time {
	return c.epoch.Add(time.Duration(c.tickCount*int64(c.minutesPerTick)) * time.Minute)
}

// Status returns a snapshot of the clock.
func (c *Clock) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		RunID:          c.runID,
		Running:        c.running,
		TickCount:      c.tickCount,
		MinutesPerTick: c.minutesPerTick,
		Epoch:          c.epoch,
		SimulatedNow:   c.simulatedNowLocked(),
	}
	if c.lastTickAt != nil {
		at := *c.lastTickAt
		s.LastTickAt = &at
	}
	if c.last != nil {
		sum := *c.last
		s.LastSummary = &sum
	}
	return s
}
