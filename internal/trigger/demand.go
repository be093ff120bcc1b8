package trigger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/assignment"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/models"
)

// ErrEmptyCatalog is returned when no actions exist to build a line from.
var ErrEmptyCatalog = errors.New("action catalog is empty")

// deliveryPlan is the step order of a generated transport job.
var deliveryPlan = []models.ActionType{
	models.ActionMoveTo,
	models.ActionLoad,
	models.ActionMoveTo,
	models.ActionUnload,
}

// DemandGenerator creates new WAITING assignments for the fleet to pick up.
type DemandGenerator struct {
	assignments db.AssignmentStore
	catalog     db.ActionCatalog
	batch       int
	maxPending  int

	// fireMu serializes firings so the backlog count and the inserts that
	// follow it see each other.
	fireMu sync.Mutex

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDemandGenerator creates batch assignments per firing. maxPending caps the
// number of waiting assignments; 0 disables the cap.
func NewDemandGenerator(assignments db.AssignmentStore, catalog db.ActionCatalog, batch, maxPending int, rng *rand.Rand) *DemandGenerator {
	if batch <= 0 {
		batch = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &DemandGenerator{
		assignments: assignments,
		catalog:     catalog,
		batch:       batch,
		maxPending:  maxPending,
		rng:         rng,
	}
}

func (g *DemandGenerator) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	g.fireMu.Lock()
	defer g.fireMu.Unlock()

	actions, err := g.catalog.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	if len(actions) == 0 {
		return ErrEmptyCatalog
	}

	n := g.batch
	if g.maxPending > 0 {
		waiting, err := g.assignments.FindAssignmentsByStatus(ctx, models.AssignmentWaiting)
		if err != nil {
			return fmt.Errorf("count waiting assignments: %w", err)
		}
		if room := g.maxPending - len(waiting); room < n {
			n = room
		}
	}
	if n <= 0 {
		log.WithField("tick", tick).Debug("Demand backlog full, skipping generation")
		return nil
	}

	created := 0
	for i := 0; i < n; i++ {
		m := assignment.New(g.ActionLine(actions), assignment.WithClock(func() time.Time { return simNow }))
		if err := g.assignments.InsertAssignment(ctx, m.Assignment()); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		created++
	}

	log.WithFields(log.Fields{
		"tick":    tick,
		"created": created,
	}).Info("Generated transport demand")
	return nil
}

// ActionLine draws a line following the delivery plan, picking a random
// catalog action for each step. A report step is sometimes appended. When
// the catalog has none of the planned types the line is a random sample.
func (g *DemandGenerator) ActionLine(actions []models.Action) models.ActionLine {
	byType := make(map[models.ActionType][]int64)
	for _, a := range actions {
		byType[a.Type] = append(byType[a.Type], a.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	line := models.ActionLine{}
	for _, t := range deliveryPlan {
		if ids := byType[t]; len(ids) > 0 {
			line = append(line, ids[g.rng.Intn(len(ids))])
		}
	}
	if ids := byType[models.ActionReport]; len(ids) > 0 && g.rng.Float64() < 0.5 {
		line = append(line, ids[g.rng.Intn(len(ids))])
	}
	if len(line) > 0 {
		return line
	}

	size := 1 + g.rng.Intn(len(actions))
	for _, idx := range g.rng.Perm(len(actions))[:size] {
		line = append(line, actions[idx].ID)
	}
	return line
}

// ShipOut drops demand nobody picked up in time: the oldest WAITING
// assignment is cancelled once it has waited longer than maxWait simulated
// time.
type ShipOut struct {
	assignments db.AssignmentStore
	maxWait     time.Duration
}

func NewShipOut(assignments db.AssignmentStore, maxWait time.Duration) *ShipOut {
	return &ShipOut{assignments: assignments, maxWait: maxWait}
}

func (s *ShipOut) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	waiting, err := s.assignments.FindAssignmentsByStatus(ctx, models.AssignmentWaiting)
	if err != nil {
		return fmt.Errorf("load waiting assignments: %w", err)
	}
	if len(waiting) == 0 {
		return nil
	}

	oldest := waiting[0]
	if simNow.Sub(oldest.CreatedAt) <= s.maxWait {
		return nil
	}
	m := assignment.Load(&oldest, assignment.WithClock(func() time.Time { return simNow }))
	if err := m.Cancel(ctx); err != nil {
		return fmt.Errorf("cancel assignment %s: %w", oldest.ID.Hex(), err)
	}
	err = s.assignments.SaveAssignment(ctx, m.Assignment(), models.AssignmentWaiting)
	if errors.Is(err, db.ErrConflict) {
		log.WithFields(log.Fields{
			"tick":          tick,
			"assignment_id": oldest.ID.Hex(),
		}).Debug("Stale demand was picked up before ship-out")
		return nil
	}
	if err != nil {
		return fmt.Errorf("save assignment %s: %w", oldest.ID.Hex(), err)
	}

	log.WithFields(log.Fields{
		"tick":          tick,
		"assignment_id": oldest.ID.Hex(),
		"waited":        simNow.Sub(oldest.CreatedAt).String(),
	}).Info("Shipped out stale demand")
	return nil
}
