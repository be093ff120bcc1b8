// Package assignment drives the lifecycle of a transport assignment and the
// cursor over its action line.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-simulation/internal/models"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed from
	// the assignment's current non-terminal state.
	ErrInvalidTransition = errors.New("invalid assignment transition")
	// ErrTerminalState is returned for any mutation of a finished assignment.
	ErrTerminalState = errors.New("assignment is in a terminal state")
)

// Lifecycle events.
const (
	EventBind     = "bind"
	EventStart    = "start"
	EventComplete = "complete"
	EventCancel   = "cancel"
	EventFail     = "fail"
	EventDelay    = "delay"
	EventResume   = "resume"
)

var nonTerminal = []string{
	string(models.AssignmentWaiting),
	string(models.AssignmentAssigned),
	string(models.AssignmentInProgress),
	string(models.AssignmentDelayed),
}

// Machine wraps an assignment record with its lifecycle FSM. The record is
// mutated in place; a Machine is not safe for concurrent use.
type Machine struct {
	a   *models.Assignment
	fsm *fsm.FSM
	now func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source used for start and end timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a WAITING assignment over the given action line.
func New(line models.ActionLine, opts ...Option) *Machine {
	if line == nil {
		line = models.ActionLine{}
	}
	a := &models.Assignment{
		Status:             models.AssignmentWaiting,
		ActionLine:         line,
		CurrentActionIndex: 0,
	}
	m := Load(a, opts...)
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	return m
}

// Load attaches a machine to an existing record, for example one read from a
// store. An empty status is treated as WAITING.
func Load(a *models.Assignment, opts ...Option) *Machine {
	if a.Status == "" {
		a.Status = models.AssignmentWaiting
	}
	if a.ActionLine == nil {
		a.ActionLine = models.ActionLine{}
	}
	m := &Machine{a: a, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}

	events := fsm.Events{
		{Name: EventBind, Src: []string{string(models.AssignmentWaiting)}, Dst: string(models.AssignmentAssigned)},
		{Name: EventStart, Src: []string{string(models.AssignmentWaiting), string(models.AssignmentAssigned)}, Dst: string(models.AssignmentInProgress)},
		{Name: EventComplete, Src: []string{string(models.AssignmentInProgress)}, Dst: string(models.AssignmentCompleted)},
		{Name: EventCancel, Src: nonTerminal, Dst: string(models.AssignmentCancelled)},
		{Name: EventFail, Src: nonTerminal, Dst: string(models.AssignmentFailed)},
		{Name: EventDelay, Src: []string{string(models.AssignmentInProgress)}, Dst: string(models.AssignmentDelayed)},
		{Name: EventResume, Src: []string{string(models.AssignmentDelayed)}, Dst: string(models.AssignmentInProgress)},
	}

	callbacks := fsm.Callbacks{
		"before_" + EventBind: m.guardBind,
		"before_" + EventFail: m.recordFailure,

		"enter_" + string(models.AssignmentInProgress): m.enterInProgress,
		"enter_" + string(models.AssignmentCompleted):  m.enterTerminal,
		"enter_" + string(models.AssignmentCancelled):  m.enterTerminal,
		"enter_" + string(models.AssignmentFailed):     m.enterTerminal,
		"enter_state": m.syncStatus,
	}

	m.fsm = fsm.NewFSM(string(a.Status), events, callbacks)
	return m
}

// Assignment returns the underlying record.
func (m *Machine) Assignment() *models.Assignment { return m.a }

// Status returns the current lifecycle state.
func (m *Machine) Status() models.AssignmentStatus { return m.a.Status }

// Bind attaches the assignment to a vehicle and driver. Only WAITING
// assignments can be bound.
func (m *Machine) Bind(ctx context.Context, vehicleID primitive.ObjectID, driverID string) error {
	return m.fire(ctx, EventBind, vehicleID, driverID)
}

// Start begins execution. StartTime is set the first time only.
func (m *Machine) Start(ctx context.Context) error {
	return m.fire(ctx, EventStart)
}

// Complete finishes an in-progress assignment regardless of remaining steps.
func (m *Machine) Complete(ctx context.Context) error {
	return m.fire(ctx, EventComplete)
}

// Cancel aborts any non-terminal assignment.
func (m *Machine) Cancel(ctx context.Context) error {
	return m.fire(ctx, EventCancel)
}

// Fail marks any non-terminal assignment as failed with a reason.
func (m *Machine) Fail(ctx context.Context, reason string) error {
	return m.fire(ctx, EventFail, reason)
}

// Delay parks an in-progress assignment, e.g. while its vehicle is in an accident.
func (m *Machine) Delay(ctx context.Context) error {
	return m.fire(ctx, EventDelay)
}

// Resume returns a delayed assignment to IN_PROGRESS.
func (m *Machine) Resume(ctx context.Context) error {
	return m.fire(ctx, EventResume)
}

// MoveToNextAction advances the cursor. It returns true while steps remain;
// after the last step the assignment is COMPLETED, the index is left on the
// last step and false is returned.
func (m *Machine) MoveToNextAction(ctx context.Context) (bool, error) {
	if m.a.Status.IsTerminal() {
		return false, fmt.Errorf("move to next action from %s: %w", m.a.Status, ErrTerminalState)
	}
	if m.a.Status != models.AssignmentInProgress {
		return false, fmt.Errorf("move to next action from %s: %w", m.a.Status, ErrInvalidTransition)
	}
	if m.a.CurrentActionIndex < len(m.a.ActionLine)-1 {
		m.a.CurrentActionIndex++
		m.a.UpdatedAt = m.now()
		return true, nil
	}
	if err := m.fire(ctx, EventComplete); err != nil {
		return false, err
	}
	return false, nil
}

// AppendAction extends the action line. Lines are append-only and frozen once
// the assignment is finished.
func (m *Machine) AppendAction(id int64) error {
	if m.a.Status.IsTerminal() {
		return fmt.Errorf("append action to %s assignment: %w", m.a.Status, ErrTerminalState)
	}
	m.a.ActionLine = append(m.a.ActionLine, id)
	m.a.UpdatedAt = m.now()
	return nil
}

// CurrentActionID returns the action at the cursor, or false for an empty line.
func (m *Machine) CurrentActionID() (int64, bool) {
	return CurrentActionID(m.a)
}

// CurrentActionID reads the action at the cursor of a record.
func CurrentActionID(a *models.Assignment) (int64, bool) {
	if a == nil || a.CurrentActionIndex < 0 || a.CurrentActionIndex >= len(a.ActionLine) {
		return 0, false
	}
	return a.ActionLine[a.CurrentActionIndex], true
}

// Can reports whether event is allowed from the current state.
func (m *Machine) Can(event string) bool {
	return !m.a.Status.IsTerminal() && m.fsm.Can(event)
}

func (m *Machine) fire(ctx context.Context, event string, args ...interface{}) error {
	from := m.a.Status
	if from.IsTerminal() {
		return fmt.Errorf("%s from %s: %w", event, from, ErrTerminalState)
	}

	err := m.fsm.Event(ctx, event, args...)
	if err != nil {
		var invalid fsm.InvalidEventError
		var canceled fsm.CanceledError
		switch {
		case errors.As(err, &invalid), errors.As(err, &canceled):
			return fmt.Errorf("%s from %s: %w", event, from, ErrInvalidTransition)
		default:
			return fmt.Errorf("%s from %s: %w", event, from, err)
		}
	}

	log.WithFields(log.Fields{
		"assignment_id": m.a.ID.Hex(),
		"event":         event,
		"from":          from,
		"to":            m.a.Status,
	}).Debug("Assignment transition")
	return nil
}

func (m *Machine) guardBind(_ context.Context, e *fsm.Event) {
	vehicleID, ok := e.Args[0].(primitive.ObjectID)
	if !ok || vehicleID.IsZero() {
		e.Cancel(errors.New("bind requires a vehicle"))
		return
	}
	id := vehicleID
	m.a.VehicleID = &id
	if len(e.Args) > 1 {
		if driverID, ok := e.Args[1].(string); ok {
			m.a.DriverID = driverID
		}
	}
}

func (m *Machine) recordFailure(_ context.Context, e *fsm.Event) {
	if len(e.Args) > 0 {
		if reason, ok := e.Args[0].(string); ok {
			m.a.FailureReason = reason
		}
	}
}

func (m *Machine) enterInProgress(_ context.Context, _ *fsm.Event) {
	if m.a.StartTime == nil {
		now := m.now()
		m.a.StartTime = &now
	}
}

func (m *Machine) enterTerminal(_ context.Context, _ *fsm.Event) {
	now := m.now()
	m.a.EndTime = &now
}

func (m *Machine) syncStatus(_ context.Context, e *fsm.Event) {
	m.a.Status = models.AssignmentStatus(e.Dst)
	m.a.UpdatedAt = m.now()
}
