package vehiclestatus

import (
	"fmt"
	"math"

	"github.com/ukydev/fleet-simulation/internal/models"
)

// Outcome is one weighted branch of a transition row.
type Outcome struct {
	Status models.VehicleStatus
	Reason string
	Weight float64
}

// Table maps a source status to its weighted outcomes. Weights in a row sum to 1.
type Table map[models.VehicleStatus][]Outcome

const weightTolerance = 1e-9

// DefaultTable returns the transition weights used by the live simulation.
func DefaultTable() Table {
	return Table{
		models.VehicleIdle: {
			{models.VehicleTransporting, "dispatch", 0.70},
			{models.VehicleMaintaining, "scheduled service", 0.08},
			{models.VehicleRefueling, "low fuel", 0.07},
			{models.VehicleResting, "driver break", 0.07},
			{models.VehicleIdle, "no demand", 0.08},
		},
		models.VehicleTransporting: {
			{models.VehicleUnloading, "arrived", 0.75},
			{models.VehicleRefueling, "low fuel", 0.05},
			{models.VehicleResting, "driver break", 0.05},
			{models.VehicleTransporting, "traffic", 0.03},
			{models.VehicleTransporting, "reroute", 0.03},
			{models.VehicleMaintaining, "breakdown", 0.03},
			{models.VehicleAccident, "collision", 0.03},
			{models.VehicleIdle, "aborted", 0.03},
		},
		models.VehicleUnloading: {
			{models.VehicleIdle, "unloaded", 0.65},
			{models.VehicleTransporting, "next leg", 0.15},
			{models.VehicleUnloading, "equipment", 0.05},
			{models.VehicleUnloading, "inspection", 0.05},
			{models.VehicleRefueling, "low fuel", 0.04},
			{models.VehicleResting, "driver break", 0.03},
			{models.VehicleMaintaining, "damage found", 0.03},
		},
		models.VehicleMaintaining: {
			{models.VehicleIdle, "repaired", 0.85},
			{models.VehicleMaintaining, "continue", 0.05},
			{models.VehicleTransporting, "test run", 0.04},
			{models.VehicleMaintaining, "parts wait", 0.03},
			{models.VehicleMaintaining, "issue found", 0.03},
		},
		models.VehicleRefueling: {
			{models.VehicleIdle, "refueled", 0.90},
			{models.VehicleTransporting, "resume route", 0.04},
			{models.VehicleRefueling, "fault", 0.03},
			{models.VehicleMaintaining, "pump damage", 0.03},
		},
		models.VehicleResting: {
			{models.VehicleIdle, "rested", 0.80},
			{models.VehicleTransporting, "resume route", 0.10},
			{models.VehicleResting, "extend", 0.05},
			{models.VehicleIdle, "early", 0.05},
		},
		models.VehicleAccident: {
			{models.VehicleMaintaining, "repair", 0.60},
			{models.VehicleTransporting, "minor", 0.20},
			{models.VehicleAccident, "processing", 0.10},
			{models.VehicleResting, "driver recovery", 0.05},
			{models.VehicleAccident, "total loss", 0.05},
		},
	}
}

// Validate checks that every known status has a row and every row sums to 1.
func (t Table) Validate() error {
	for _, status := range models.VehicleStatuses {
		row, ok := t[status]
		if !ok || len(row) == 0 {
			return fmt.Errorf("no transitions for status %s", status)
		}
		sum := 0.0
		for _, o := range row {
			if o.Weight < 0 {
				return fmt.Errorf("negative weight %v for %s -> %s", o.Weight, status, o.Status)
			}
			if !o.Status.IsValid() {
				return fmt.Errorf("unknown target status %q in row %s", o.Status, status)
			}
			sum += o.Weight
		}
		if math.Abs(sum-1.0) > weightTolerance {
			return fmt.Errorf("weights for %s sum to %v, want 1.0", status, sum)
		}
	}
	return nil
}
