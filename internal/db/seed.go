package db

import (
	"context"
	"fmt"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/models"
)

var (
	vehicleMakes = map[string][]string{
		"ICE": {"Volvo", "Scania", "MAN", "Iveco", "Mercedes-Benz"},
		"EV":  {"Tesla", "Volvo", "Renault", "BYD", "Freightliner"},
	}
	vehicleModels = map[string][]string{
		"ICE": {"FH16", "R500", "TGX", "S-Way", "Actros"},
		"EV":  {"Semi", "FH Electric", "E-Tech D", "8TT", "eCascadia"},
	}
)

// NewFleetVehicle builds an uninitialized vehicle with a random make and model.
// Status is left empty; the first tick sets it to IDLE.
func NewFleetVehicle(rng *rand.Rand, index int) models.Vehicle {
	vtype := []string{"ICE", "EV"}[rng.Intn(2)]
	return models.Vehicle{
		LicensePlate: fmt.Sprintf("FL-%04d-%c%c", index+1, 'A'+rng.Intn(26), 'A'+rng.Intn(26)),
		Type:         vtype,
		Make:         vehicleMakes[vtype][rng.Intn(len(vehicleMakes[vtype]))],
		Model:        vehicleModels[vtype][rng.Intn(len(vehicleModels[vtype]))],
	}
}

// SeedFleet inserts size new vehicles and returns how many were created.
func SeedFleet(ctx context.Context, store VehicleStore, size int, rng *rand.Rand) (int, error) {
	created := 0
	for i := 0; i < size; i++ {
		vehicle := NewFleetVehicle(rng, i)
		if err := store.InsertVehicle(ctx, &vehicle); err != nil {
			return created, fmt.Errorf("insert vehicle %s: %w", vehicle.LicensePlate, err)
		}
		log.WithFields(log.Fields{
			"vehicle_id": vehicle.ID.Hex(),
			"plate":      vehicle.LicensePlate,
			"type":       vehicle.Type,
			"make":       vehicle.Make,
			"model":      vehicle.Model,
		}).Info("Created vehicle")
		created++
	}
	return created, nil
}

// SeedActions upserts the default action catalog.
func SeedActions(ctx context.Context, catalog ActionCatalog) error {
	for _, action := range models.DefaultActions() {
		if err := catalog.InsertAction(ctx, action); err != nil {
			return fmt.Errorf("insert action %d: %w", action.ID, err)
		}
	}
	return nil
}
