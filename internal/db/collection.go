package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-simulation/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional save finds the record in a
	// different state than the caller expected.
	ErrConflict = errors.New("record changed concurrently")
)

// VehicleStore defines the vehicle operations used by the simulation.
type VehicleStore interface {
	FindAllVehicles(ctx context.Context) ([]models.Vehicle, error)
	// SaveVehicle replaces the stored vehicle with the same ID.
	SaveVehicle(ctx context.Context, vehicle *models.Vehicle) error
	// InsertVehicle stores a new vehicle and assigns its ID when unset.
	InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
}

// AssignmentStore defines assignment persistence.
type AssignmentStore interface {
	InsertAssignment(ctx context.Context, assignment *models.Assignment) error
	FindAssignmentByID(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error)
	// FindAssignmentsByStatus returns matching assignments oldest first.
	FindAssignmentsByStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]models.Assignment, error)
	// SaveAssignment replaces the stored assignment only while its status is
	// still expected, and returns ErrConflict otherwise.
	SaveAssignment(ctx context.Context, assignment *models.Assignment, expected models.AssignmentStatus) error
}

// ActionCatalog is the read-mostly action reference data.
type ActionCatalog interface {
	GetAction(ctx context.Context, id int64) (*models.Action, error)
	ListActions(ctx context.Context) ([]models.Action, error)
	InsertAction(ctx context.Context, action models.Action) error
}

// Store bundles every collection a backend provides.
type Store interface {
	VehicleStore
	AssignmentStore
	ActionCatalog
	UserCollection
	Close(ctx context.Context) error
}
