// Package vehiclestatus decides what each vehicle does next using a weighted
// random transition table.
package vehiclestatus

import (
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleet-simulation/internal/models"
)

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Machine draws the next status for vehicles. It is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	src   Source
	table Table
}

// Option configures a Machine.
type Option func(*Machine)

// WithTable replaces the default transition table.
func WithTable(t Table) Option {
	return func(m *Machine) {
		m.table = t
	}
}

// New builds a Machine drawing from src. A nil src uses a time-seeded generator.
func New(src Source, opts ...Option) *Machine {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m := &Machine{src: src, table: DefaultTable()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSeeded builds a Machine with a deterministic generator.
func NewSeeded(seed int64, opts ...Option) *Machine {
	return New(rand.New(rand.NewSource(seed)), opts...)
}

// Next returns the status a vehicle moves to from current.
func (m *Machine) Next(current models.VehicleStatus, hasActiveAssignment bool) models.VehicleStatus {
	return m.Decide(current, hasActiveAssignment).Status
}

// Decide draws one outcome, including the reason label of the chosen branch.
//
// Vehicles with an active assignment currently use the same row as free ones.
func (m *Machine) Decide(current models.VehicleStatus, hasActiveAssignment bool) Outcome {
	row, ok := m.table[current]
	if !ok || len(row) == 0 {
		log.WithFields(log.Fields{
			"status":         current,
			"has_assignment": hasActiveAssignment,
		}).Warn("Unknown vehicle status, falling back to IDLE")
		return Outcome{Status: models.VehicleIdle, Reason: "unknown status", Weight: 1}
	}

	m.mu.Lock()
	r := m.src.Float64()
	m.mu.Unlock()

	cumulative := 0.0
	for _, o := range row {
		cumulative += o.Weight
		if r < cumulative {
			return o
		}
	}
	// rounding left r past the last edge
	return Outcome{Status: current, Reason: "settle", Weight: 0}
}

// ApplyToAll draws a next status for every vehicle. Draws are independent per
// vehicle.
func (m *Machine) ApplyToAll(vehicles []*models.Vehicle) map[primitive.ObjectID]models.VehicleStatus {
	out := make(map[primitive.ObjectID]models.VehicleStatus, len(vehicles))
	for _, v := range vehicles {
		if v == nil {
			continue
		}
		out[v.ID] = m.Next(v.Status, v.HasActiveAssignment())
	}
	return out
}
