package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/models"
)

// StatusReport is what the StatusReporter logged on its last firing.
type StatusReport struct {
	Tick       int64
	SimNow     time.Time
	ByStatus   map[models.VehicleStatus]int
	Waiting    int
	InProgress int
}

// StatusReporter logs how the fleet and the demand backlog look.
type StatusReporter struct {
	vehicles    db.VehicleStore
	assignments db.AssignmentStore
	epoch       time.Time

	mu   sync.Mutex
	last StatusReport
}

func NewStatusReporter(vehicles db.VehicleStore, assignments db.AssignmentStore, epoch time.Time) *StatusReporter {
	return &StatusReporter{vehicles: vehicles, assignments: assignments, epoch: epoch}
}

func (r *StatusReporter) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	vehicles, err := r.vehicles.FindAllVehicles(ctx)
	if err != nil {
		return fmt.Errorf("status report: %w", err)
	}

	report := StatusReport{
		Tick:     tick,
		SimNow:   simNow,
		ByStatus: make(map[models.VehicleStatus]int),
	}
	for _, v := range vehicles {
		report.ByStatus[v.Status]++
	}

	if r.assignments != nil {
		open, err := r.assignments.FindAssignmentsByStatus(ctx, models.AssignmentWaiting, models.AssignmentInProgress)
		if err != nil {
			return fmt.Errorf("status report: %w", err)
		}
		for _, a := range open {
			if a.Status == models.AssignmentWaiting {
				report.Waiting++
			} else {
				report.InProgress++
			}
		}
	}
	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	fields := log.Fields{
		"tick":        tick,
		"sim_hours":   simNow.Sub(r.epoch).Hours(),
		"vehicles":    len(vehicles),
		"waiting":     report.Waiting,
		"in_progress": report.InProgress,
	}
	for status, n := range report.ByStatus {
		fields[string(status)] = n
	}
	log.WithFields(fields).Info("Simulation status report")
	return nil
}

// Last returns the most recent report.
func (r *StatusReporter) Last() StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
