package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/models"
)

// Initializer prepares the fleet when the simulation activates.
type Initializer struct {
	updater *StateUpdater
}

// NewInitializer shares the updater's stores and settings.
func NewInitializer(u *StateUpdater) *Initializer {
	return &Initializer{updater: u}
}

// InitializeVehicles gives uninitialized vehicles the IDLE status and drops
// references to assignments that no longer exist or have already finished.
// It returns how many vehicles were repaired.
func (i *Initializer) InitializeVehicles(ctx context.Context, simNow time.Time, minutesPerTick int) (int, error) {
	u := i.updater
	vehicles, err := u.loadVehicles(ctx)
	if err != nil {
		return 0, fmt.Errorf("initialize vehicles: %w", err)
	}

	var repaired []*models.Vehicle
	for idx := range vehicles {
		v := &vehicles[idx]
		changed := false

		if !v.Status.IsValid() {
			u.initialize(v, simNow, minutesPerTick)
			changed = true
		}
		if v.HasActiveAssignment() {
			rec, err := u.findAssignment(ctx, *v.ActiveAssignmentID)
			switch {
			case errors.Is(err, db.ErrNotFound):
				v.ActiveAssignmentID = nil
				changed = true
			case err != nil:
				log.WithError(err).WithField("vehicle_id", v.ID.Hex()).Warn("Could not verify active assignment")
			case rec.IsTerminal():
				v.ActiveAssignmentID = nil
				changed = true
			}
		}
		if changed {
			repaired = append(repaired, v)
		}
	}

	failed := u.saveAll(ctx, repaired)
	log.WithFields(log.Fields{
		"vehicles": len(vehicles),
		"repaired": len(repaired),
		"failed":   failed,
	}).Info("Initialized vehicles")
	return len(repaired) - failed, nil
}
