package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// VehicleStatus is what a vehicle is doing during the current simulation window.
type VehicleStatus string

const (
	VehicleIdle         VehicleStatus = "IDLE"
	VehicleTransporting VehicleStatus = "TRANSPORTING"
	VehicleUnloading    VehicleStatus = "UNLOADING"
	VehicleMaintaining  VehicleStatus = "MAINTAINING"
	VehicleRefueling    VehicleStatus = "REFUELING"
	VehicleResting      VehicleStatus = "RESTING"
	VehicleAccident     VehicleStatus = "ACCIDENT"
)

// VehicleStatuses lists every known status in reporting order.
var VehicleStatuses = []VehicleStatus{
	VehicleIdle,
	VehicleTransporting,
	VehicleUnloading,
	VehicleMaintaining,
	VehicleRefueling,
	VehicleResting,
	VehicleAccident,
}

// IsValid reports whether s is one of the known statuses.
func (s VehicleStatus) IsValid() bool {
	for _, known := range VehicleStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Vehicle represents a simulated fleet vehicle.
type Vehicle struct {
	ID                    primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	LicensePlate          string              `bson:"license_plate" json:"license_plate"`
	Type                  string              `bson:"type" json:"type"` // "ICE" or "EV"
	Make                  string              `bson:"make" json:"make"`
	Model                 string              `bson:"model" json:"model"`
	Status                VehicleStatus       `bson:"status" json:"status"`
	PreviousStatus        VehicleStatus       `bson:"previous_status,omitempty" json:"previous_status,omitempty"`
	StatusStartTime       *time.Time          `bson:"status_start_time,omitempty" json:"status_start_time,omitempty"`
	StatusDurationMinutes int                 `bson:"status_duration_minutes" json:"status_duration_minutes"`
	ActiveAssignmentID    *primitive.ObjectID `bson:"active_assignment_id,omitempty" json:"active_assignment_id,omitempty"`
	CreatedAt             time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `bson:"updated_at" json:"updated_at"`
}

// StatusEndTime returns when the current status window elapses, or nil when
// the vehicle has no window yet.
func (v *Vehicle) StatusEndTime() *time.Time {
	if v.StatusStartTime == nil {
		return nil
	}
	end := v.StatusStartTime.Add(time.Duration(v.StatusDurationMinutes) * time.Minute)
	return &end
}

// IsDue reports whether the vehicle may leave its current status at now.
func (v *Vehicle) IsDue(now time.Time) bool {
	end := v.StatusEndTime()
	return end == nil || !now.Before(*end)
}

// HasActiveAssignment reports whether the vehicle is bound to an assignment.
func (v *Vehicle) HasActiveAssignment() bool {
	return v.ActiveAssignmentID != nil && !v.ActiveAssignmentID.IsZero()
}
