// Package orchestrator applies the per-vehicle and per-assignment state
// machines across the whole fleet once per tick.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-simulation/internal/assignment"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/metrics"
	"github.com/ukydev/fleet-simulation/internal/models"
	"github.com/ukydev/fleet-simulation/internal/vehiclestatus"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxStayMinutes caps every status window.
	MaxStayMinutes int
	// ResetStayTicks caps windows created by ResetWindows.
	ResetStayTicks int
	// SummaryEvery logs the status distribution every N ticks; 0 disables it.
	SummaryEvery int64
	// StoreTimeout bounds each store call.
	StoreTimeout time.Duration
	// Workers limits concurrent vehicle saves.
	Workers int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxStayMinutes: 60,
		ResetStayTicks: 2,
		SummaryEvery:   10,
		StoreTimeout:   5 * time.Second,
		Workers:        8,
	}
}

// Summary describes what one tick did to the fleet.
type Summary struct {
	Tick         int64                        `json:"tick"`
	SimNow       time.Time                    `json:"sim_now"`
	Vehicles     int                          `json:"vehicles"`
	Initialized  int                          `json:"initialized"`
	Held         int                          `json:"held"`
	Updated      int                          `json:"updated"`
	Transitions  int                          `json:"transitions"`
	Dispatched   int                          `json:"dispatched"`
	Finished     int                          `json:"finished"`
	Failed       int                          `json:"failed"`
	Distribution map[models.VehicleStatus]int `json:"distribution"`
}

// StateUpdater is the fleet-wide state update orchestrator. Apart from the
// window-reset flag it keeps no vehicle state between ticks.
type StateUpdater struct {
	vehicles    db.VehicleStore
	assignments db.AssignmentStore
	actions     db.ActionCatalog
	machine     *vehiclestatus.Machine
	metrics     *metrics.Collector
	cfg         Config

	mu        sync.Mutex
	resetDone bool
}

// NewStateUpdater wires the orchestrator to its collaborators. metrics may be nil.
func NewStateUpdater(vehicles db.VehicleStore, assignments db.AssignmentStore, actions db.ActionCatalog,
	machine *vehiclestatus.Machine, m *metrics.Collector, cfg Config) *StateUpdater {
	def := DefaultConfig()
	if cfg.MaxStayMinutes <= 0 {
		cfg.MaxStayMinutes = def.MaxStayMinutes
	}
	if cfg.ResetStayTicks <= 0 {
		cfg.ResetStayTicks = def.ResetStayTicks
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if machine == nil {
		machine = vehiclestatus.New(nil)
	}
	return &StateUpdater{
		vehicles:    vehicles,
		assignments: assignments,
		actions:     actions,
		machine:     machine,
		metrics:     m,
		cfg:         cfg,
	}
}

// ResetDone reports whether the one-time window reset has run.
func (u *StateUpdater) ResetDone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.resetDone
}

// Rearm allows ResetWindows to run again, used for a full simulation restart.
func (u *StateUpdater) Rearm() {
	u.mu.Lock()
	u.resetDone = false
	u.mu.Unlock()
}

// ResetWindows aligns every vehicle's status window to simNow so vehicles do
// not inherit timers from before the simulation started. It runs once; later
// calls are no-ops until Rearm.
func (u *StateUpdater) ResetWindows(ctx context.Context, simNow time.Time, minutesPerTick int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.resetDone {
		return nil
	}

	vehicles, err := u.loadVehicles(ctx)
	if err != nil {
		return fmt.Errorf("reset windows: %w", err)
	}

	maxReset := u.cfg.ResetStayTicks * minutesPerTick
	batch := make([]*models.Vehicle, 0, len(vehicles))
	for i := range vehicles {
		v := &vehicles[i]
		if !v.Status.IsValid() {
			v.Status = models.VehicleIdle
		}
		start := simNow
		v.StatusStartTime = &start
		stay := vehiclestatus.StayDuration(v.Status, 0, minutesPerTick, u.cfg.MaxStayMinutes)
		if stay > maxReset {
			stay = maxReset
		}
		v.StatusDurationMinutes = stay
		batch = append(batch, v)
	}

	failed := u.saveAll(ctx, batch)
	u.resetDone = true

	log.WithFields(log.Fields{
		"vehicles": len(vehicles),
		"failed":   failed,
		"sim_now":  simNow,
	}).Info("Reset vehicle status windows")
	return nil
}

// Tick advances every due vehicle by one status transition and persists the
// result. Per-vehicle failures are logged and skipped; only a failure to list
// the fleet aborts the tick.
func (u *StateUpdater) Tick(ctx context.Context, simNow time.Time, minutesPerTick int, tickCount int64) (Summary, error) {
	summary := Summary{
		Tick:         tickCount,
		SimNow:       simNow,
		Distribution: make(map[models.VehicleStatus]int),
	}

	vehicles, err := u.loadVehicles(ctx)
	if err != nil {
		return summary, fmt.Errorf("tick %d: %w", tickCount, err)
	}
	summary.Vehicles = len(vehicles)

	var (
		dirty []*models.Vehicle
		due   []*models.Vehicle
		work  = make(map[*models.Vehicle]*assignment.Machine)
		queue = &waitingQueue{}
	)

	for i := range vehicles {
		v := &vehicles[i]

		if !v.Status.IsValid() {
			u.initialize(v, simNow, minutesPerTick)
			summary.Initialized++
			dirty = append(dirty, v)
			continue
		}
		truncated := false
		if v.StatusDurationMinutes > u.cfg.MaxStayMinutes {
			v.StatusDurationMinutes = u.cfg.MaxStayMinutes
			truncated = true
		}
		if !v.IsDue(simNow) {
			summary.Held++
			if truncated {
				dirty = append(dirty, v)
			}
			continue
		}

		m, err := u.resolveAssignment(ctx, v, simNow, &summary)
		if err != nil {
			log.WithError(err).WithField("vehicle_id", v.ID.Hex()).Error("Failed to resolve assignment, skipping vehicle")
			summary.Failed++
			continue
		}
		if m == nil && v.Status == models.VehicleIdle {
			m = u.dispatch(ctx, v, simNow, queue, &summary)
		}
		if m != nil {
			work[v] = m
		}
		due = append(due, v)
	}

	next := u.machine.ApplyToAll(due)
	for _, v := range due {
		from := v.Status
		to, ok := next[v.ID]
		if !ok {
			continue
		}
		v.PreviousStatus = from
		v.Status = to
		if from != to {
			summary.Transitions++
			u.metrics.Transition(from, to)
		}

		m := work[v]
		if m != nil {
			u.afterTransition(ctx, v, m, from, to)
		}
		start := simNow
		v.StatusStartTime = &start
		v.StatusDurationMinutes = vehiclestatus.StayDuration(to, u.actionMinutes(ctx, m), minutesPerTick, u.cfg.MaxStayMinutes)
		dirty = append(dirty, v)
	}

	failed := u.saveAll(ctx, dirty)
	summary.Failed += failed
	summary.Updated = len(dirty) - failed

	for i := range vehicles {
		summary.Distribution[vehicles[i].Status]++
	}
	u.metrics.SetDistribution(summary.Distribution)

	if u.cfg.SummaryEvery > 0 && tickCount%u.cfg.SummaryEvery == 0 {
		fields := log.Fields{
			"tick":        tickCount,
			"sim_now":     simNow.Format(time.RFC3339),
			"vehicles":    summary.Vehicles,
			"transitions": summary.Transitions,
			"dispatched":  summary.Dispatched,
			"finished":    summary.Finished,
			"failed":      summary.Failed,
		}
		for status, n := range summary.Distribution {
			fields[string(status)] = n
		}
		log.WithFields(fields).Info("Fleet status distribution")
	}
	return summary, nil
}

func (u *StateUpdater) initialize(v *models.Vehicle, simNow time.Time, minutesPerTick int) {
	log.WithFields(log.Fields{
		"vehicle_id": v.ID.Hex(),
		"status":     v.Status,
	}).Info("Initializing vehicle status")
	v.Status = models.VehicleIdle
	start := simNow
	v.StatusStartTime = &start
	v.StatusDurationMinutes = vehiclestatus.StayDuration(models.VehicleIdle, 0, minutesPerTick, u.cfg.MaxStayMinutes)
}

// resolveAssignment advances the vehicle's assignment now that the vehicle
// finished its current status, and returns its machine while it stays active.
func (u *StateUpdater) resolveAssignment(ctx context.Context, v *models.Vehicle, simNow time.Time, summary *Summary) (*assignment.Machine, error) {
	if !v.HasActiveAssignment() {
		return nil, nil
	}

	rec, err := u.findAssignment(ctx, *v.ActiveAssignmentID)
	if errors.Is(err, db.ErrNotFound) {
		log.WithFields(log.Fields{
			"vehicle_id":    v.ID.Hex(),
			"assignment_id": v.ActiveAssignmentID.Hex(),
		}).Warn("Vehicle references a missing assignment, clearing it")
		v.ActiveAssignmentID = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	m := assignment.Load(rec, assignment.WithClock(func() time.Time { return simNow }))
	prev := rec.Status
	changed := false

	switch {
	case rec.Status == models.AssignmentAssigned && v.Status == models.VehicleTransporting:
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
		u.metrics.AssignmentEvent(assignment.EventStart)
		changed = true
	case rec.Status == models.AssignmentInProgress && isWorking(v.Status):
		more, err := m.MoveToNextAction(ctx)
		if err != nil {
			return nil, err
		}
		if !more {
			u.metrics.AssignmentEvent(assignment.EventComplete)
		}
		changed = true
	}

	if changed {
		if err := u.saveAssignment(ctx, rec, prev); err != nil {
			return nil, err
		}
	}
	if rec.IsTerminal() {
		log.WithFields(log.Fields{
			"vehicle_id":    v.ID.Hex(),
			"assignment_id": rec.ID.Hex(),
			"status":        rec.Status,
		}).Info("Assignment finished")
		v.ActiveAssignmentID = nil
		summary.Finished++
		return nil, nil
	}
	return m, nil
}

// dispatch binds the oldest waiting assignment to an idle, free vehicle.
func (u *StateUpdater) dispatch(ctx context.Context, v *models.Vehicle, simNow time.Time, queue *waitingQueue, summary *Summary) *assignment.Machine {
	if u.assignments == nil {
		return nil
	}
	if !queue.loaded {
		queue.loaded = true
		ctx, cancel := context.WithTimeout(ctx, u.cfg.StoreTimeout)
		waiting, err := u.assignments.FindAssignmentsByStatus(ctx, models.AssignmentWaiting)
		cancel()
		if err != nil {
			log.WithError(err).Error("Failed to load waiting assignments")
			u.metrics.StoreError("find_assignments")
			return nil
		}
		queue.items = waiting
	}
	for {
		rec := queue.pop()
		if rec == nil {
			return nil
		}
		m, err := u.bind(ctx, v, rec, simNow, summary)
		if err == nil {
			return m
		}
		// cancelled or taken since the queue was read: try the next one
		if !errors.Is(err, db.ErrConflict) {
			return nil
		}
	}
}

// bind claims one queued assignment for v.
func (u *StateUpdater) bind(ctx context.Context, v *models.Vehicle, rec *models.Assignment, simNow time.Time, summary *Summary) (*assignment.Machine, error) {
	m := assignment.Load(rec, assignment.WithClock(func() time.Time { return simNow }))
	if err := m.Bind(ctx, v.ID, driverFor(v)); err != nil {
		log.WithError(err).WithField("assignment_id", rec.ID.Hex()).Warn("Failed to bind assignment")
		return nil, err
	}
	if err := u.saveAssignment(ctx, rec, models.AssignmentWaiting); err != nil {
		return nil, err
	}
	id := rec.ID
	v.ActiveAssignmentID = &id
	summary.Dispatched++
	u.metrics.AssignmentEvent(assignment.EventBind)

	log.WithFields(log.Fields{
		"vehicle_id":    v.ID.Hex(),
		"assignment_id": rec.ID.Hex(),
		"actions":       len(rec.ActionLine),
	}).Info("Dispatched assignment")
	return m, nil
}

// afterTransition keeps the assignment in step with accidents.
func (u *StateUpdater) afterTransition(ctx context.Context, v *models.Vehicle, m *assignment.Machine, from, to models.VehicleStatus) {
	var (
		event string
		err   error
	)
	prev := m.Status()
	switch {
	case to == models.VehicleAccident && m.Status() == models.AssignmentInProgress:
		event, err = assignment.EventDelay, m.Delay(ctx)
	case from == models.VehicleAccident && to != models.VehicleAccident && m.Status() == models.AssignmentDelayed:
		event, err = assignment.EventResume, m.Resume(ctx)
	default:
		return
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"vehicle_id": v.ID.Hex(),
			"event":      event,
		}).Warn("Assignment did not follow vehicle status")
		return
	}
	if err := u.saveAssignment(ctx, m.Assignment(), prev); err != nil {
		return
	}
	u.metrics.AssignmentEvent(event)
}

// actionMinutes returns the nominal duration of the current action of an
// in-progress assignment, or 0 to use the status default.
func (u *StateUpdater) actionMinutes(ctx context.Context, m *assignment.Machine) int {
	if m == nil || u.actions == nil || m.Status() != models.AssignmentInProgress {
		return 0
	}
	id, ok := m.CurrentActionID()
	if !ok {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, u.cfg.StoreTimeout)
	defer cancel()
	action, err := u.actions.GetAction(ctx, id)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"assignment_id": m.Assignment().ID.Hex(),
			"action_id":     id,
		}).Warn("Unknown action in action line, using status default")
		return 0
	}
	return action.DurationMinutes
}

func (u *StateUpdater) loadVehicles(ctx context.Context) ([]models.Vehicle, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.StoreTimeout)
	defer cancel()
	vehicles, err := u.vehicles.FindAllVehicles(ctx)
	if err != nil {
		u.metrics.StoreError("find_vehicles")
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	return vehicles, nil
}

func (u *StateUpdater) findAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	if u.assignments == nil {
		return nil, db.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, u.cfg.StoreTimeout)
	defer cancel()
	rec, err := u.assignments.FindAssignmentByID(ctx, id)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		u.metrics.StoreError("find_assignment")
	}
	return rec, err
}

// saveAssignment persists rec if its stored status is still expected.
func (u *StateUpdater) saveAssignment(ctx context.Context, rec *models.Assignment, expected models.AssignmentStatus) error {
	if u.assignments == nil {
		return db.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, u.cfg.StoreTimeout)
	defer cancel()
	err := u.assignments.SaveAssignment(ctx, rec, expected)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrConflict):
		log.WithError(err).WithField("assignment_id", rec.ID.Hex()).Info("Assignment changed since it was read, skipping")
	default:
		log.WithError(err).WithField("assignment_id", rec.ID.Hex()).Error("Failed to save assignment")
		u.metrics.StoreError("save_assignment")
	}
	return err
}

// saveAll persists vehicles concurrently and returns how many saves failed.
func (u *StateUpdater) saveAll(ctx context.Context, vehicles []*models.Vehicle) int {
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)

	for _, v := range vehicles {
		v := v
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, u.cfg.StoreTimeout)
			defer cancel()
			if err := u.vehicles.SaveVehicle(sctx, v); err != nil {
				log.WithError(err).WithField("vehicle_id", v.ID.Hex()).Error("Failed to save vehicle")
				u.metrics.StoreError("save_vehicle")
				failed.Add(1)
			}
			// one bad record must not cancel the others
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

// isWorking reports whether a status consumes a step of an assignment.
func isWorking(s models.VehicleStatus) bool {
	switch s {
	case models.VehicleTransporting, models.VehicleUnloading, models.VehicleRefueling,
		models.VehicleResting, models.VehicleMaintaining:
		return true
	}
	return false
}

func driverFor(v *models.Vehicle) string {
	return "driver-" + v.LicensePlate
}

type waitingQueue struct {
	loaded bool
	items  []models.Assignment
}

func (q *waitingQueue) pop() *models.Assignment {
	if len(q.items) == 0 {
		return nil
	}
	rec := q.items[0]
	q.items = q.items[1:]
	return &rec
}
