package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-simulation/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store used for local runs and tests. Records
// are copied on the way in and out so callers never share state with it.
type MemoryStore struct {
	mu          sync.RWMutex
	vehicles    map[primitive.ObjectID]models.Vehicle
	assignments map[primitive.ObjectID]models.Assignment
	actions     map[int64]models.Action
	users       map[string]models.User
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles:    make(map[primitive.ObjectID]models.Vehicle),
		assignments: make(map[primitive.ObjectID]models.Assignment),
		actions:     make(map[int64]models.Action),
		users:       make(map[string]models.User),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }

func copyAssignment(a models.Assignment) models.Assignment {
	line := make(models.ActionLine, len(a.ActionLine))
	copy(line, a.ActionLine)
	a.ActionLine = line
	return a
}

// FindAllVehicles returns the vehicles ordered by creation time.
func (s *MemoryStore) FindAllVehicles(ctx context.Context) ([]models.Vehicle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

// InsertVehicle stores a new vehicle.
func (s *MemoryStore) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	if _, exists := s.vehicles[vehicle.ID]; exists {
		return fmt.Errorf("vehicle %s already exists", vehicle.ID.Hex())
	}
	now := time.Now()
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	s.vehicles[vehicle.ID] = *vehicle
	return nil
}

// SaveVehicle replaces an existing vehicle.
func (s *MemoryStore) SaveVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[vehicle.ID]; !ok {
		return fmt.Errorf("vehicle %s: %w", vehicle.ID.Hex(), ErrNotFound)
	}
	vehicle.UpdatedAt = time.Now()
	s.vehicles[vehicle.ID] = *vehicle
	return nil
}

// InsertAssignment stores a new assignment.
func (s *MemoryStore) InsertAssignment(ctx context.Context, assignment *models.Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if assignment.ID.IsZero() {
		assignment.ID = primitive.NewObjectID()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now()
	}
	assignment.UpdatedAt = assignment.CreatedAt
	s.assignments[assignment.ID] = copyAssignment(*assignment)
	return nil
}

// FindAssignmentByID returns a copy of one assignment.
func (s *MemoryStore) FindAssignmentByID(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id.Hex(), ErrNotFound)
	}
	out := copyAssignment(a)
	return &out, nil
}

// FindAssignmentsByStatus returns matching assignments oldest first.
func (s *MemoryStore) FindAssignmentsByStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]models.Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[models.AssignmentStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []models.Assignment
	for _, a := range s.assignments {
		if len(want) == 0 || want[a.Status] {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.Hex() < out[j].ID.Hex()
	})
	return out, nil
}

// SaveAssignment replaces an existing assignment whose status is expected.
func (s *MemoryStore) SaveAssignment(ctx context.Context, assignment *models.Assignment, expected models.AssignmentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.assignments[assignment.ID]
	if !ok {
		return fmt.Errorf("assignment %s: %w", assignment.ID.Hex(), ErrNotFound)
	}
	if stored.Status != expected {
		return fmt.Errorf("assignment %s is %s, expected %s: %w", assignment.ID.Hex(), stored.Status, expected, ErrConflict)
	}
	s.assignments[assignment.ID] = copyAssignment(*assignment)
	return nil
}

// GetAction looks up one catalog entry.
func (s *MemoryStore) GetAction(ctx context.Context, id int64) (*models.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
	}
	return &a, nil
}

// ListActions returns the catalog ordered by ID.
func (s *MemoryStore) ListActions(ctx context.Context) ([]models.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertAction upserts a catalog entry.
func (s *MemoryStore) InsertAction(ctx context.Context, action models.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.ID] = action
	return nil
}

// InsertUser stores a new user keyed by username.
func (s *MemoryStore) InsertUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("user %q already exists", user.Username)
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	s.users[user.Username] = *user
	return nil
}

// FindUserByUsername returns a copy of the user.
func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	return &u, nil
}

// UpdateLastLogin stamps the user's last login.
func (s *MemoryStore) UpdateLastLogin(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, u := range s.users {
		if u.ID == objectID {
			now := time.Now()
			u.LastLogin = &now
			u.UpdatedAt = now
			s.users[name] = u
			return nil
		}
	}
	return fmt.Errorf("user %s: %w", id, ErrNotFound)
}
