package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ukydev/fleet-simulation/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	conn *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL lets status queries read while a tick writes
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{conn: conn}
	if err := s.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		license_plate TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		previous_status TEXT NOT NULL DEFAULT '',
		status_start_time DATETIME,
		status_duration_minutes INTEGER NOT NULL DEFAULT 0,
		active_assignment_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		action_line TEXT NOT NULL DEFAULT '[]',
		current_action_index INTEGER NOT NULL DEFAULT 0,
		vehicle_id TEXT,
		driver_id TEXT NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		start_time DATETIME,
		end_time DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS actions (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		accident_rate REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_login DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assignments_status ON assignments(status, created_at);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close(context.Context) error {
	return s.conn.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullObjectID(id *primitive.ObjectID) sql.NullString {
	if id == nil || id.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: id.Hex(), Valid: true}
}

func objectIDPtr(ns sql.NullString) *primitive.ObjectID {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	id, err := primitive.ObjectIDFromHex(ns.String)
	if err != nil {
		return nil
	}
	return &id
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const vehicleColumns = `id, license_plate, type, make, model, status, previous_status,
	status_start_time, status_duration_minutes, active_assignment_id, created_at, updated_at`

func scanVehicle(row rowScanner) (models.Vehicle, error) {
	var (
		v          models.Vehicle
		id         string
		start      sql.NullTime
		assignment sql.NullString
	)
	err := row.Scan(&id, &v.LicensePlate, &v.Type, &v.Make, &v.Model, &v.Status, &v.PreviousStatus,
		&start, &v.StatusDurationMinutes, &assignment, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return v, err
	}
	if v.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return v, fmt.Errorf("invalid vehicle ID %q: %w", id, err)
	}
	v.StatusStartTime = timePtr(start)
	v.ActiveAssignmentID = objectIDPtr(assignment)
	return v, nil
}

// FindAllVehicles returns every vehicle.
func (s *SQLiteStore) FindAllVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// InsertVehicle stores a new vehicle.
func (s *SQLiteStore) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	_, err := s.conn.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vehicle.ID.Hex(), vehicle.LicensePlate, vehicle.Type, vehicle.Make, vehicle.Model,
		vehicle.Status, vehicle.PreviousStatus, nullTime(vehicle.StatusStartTime),
		vehicle.StatusDurationMinutes, nullObjectID(vehicle.ActiveAssignmentID),
		vehicle.CreatedAt, vehicle.UpdatedAt)
	return err
}

// SaveVehicle replaces an existing vehicle.
func (s *SQLiteStore) SaveVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	vehicle.UpdatedAt = time.Now().UTC()
	result, err := s.conn.ExecContext(ctx, `UPDATE vehicles SET
		license_plate = ?, type = ?, make = ?, model = ?, status = ?, previous_status = ?,
		status_start_time = ?, status_duration_minutes = ?, active_assignment_id = ?, updated_at = ?
		WHERE id = ?`,
		vehicle.LicensePlate, vehicle.Type, vehicle.Make, vehicle.Model, vehicle.Status,
		vehicle.PreviousStatus, nullTime(vehicle.StatusStartTime), vehicle.StatusDurationMinutes,
		nullObjectID(vehicle.ActiveAssignmentID), vehicle.UpdatedAt, vehicle.ID.Hex())
	if err != nil {
		return err
	}
	return expectOneRow(result, "vehicle", vehicle.ID.Hex())
}

const assignmentColumns = `id, status, action_line, current_action_index, vehicle_id, driver_id,
	failure_reason, start_time, end_time, created_at, updated_at`

func scanAssignment(row rowScanner) (models.Assignment, error) {
	var (
		a          models.Assignment
		id         string
		vehicle    sql.NullString
		start, end sql.NullTime
	)
	err := row.Scan(&id, &a.Status, &a.ActionLine, &a.CurrentActionIndex, &vehicle, &a.DriverID,
		&a.FailureReason, &start, &end, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if a.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return a, fmt.Errorf("invalid assignment ID %q: %w", id, err)
	}
	a.VehicleID = objectIDPtr(vehicle)
	a.StartTime = timePtr(start)
	a.EndTime = timePtr(end)
	return a, nil
}

// InsertAssignment stores a new assignment.
func (s *SQLiteStore) InsertAssignment(ctx context.Context, assignment *models.Assignment) error {
	if assignment.ID.IsZero() {
		assignment.ID = primitive.NewObjectID()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now()
	}
	assignment.UpdatedAt = assignment.CreatedAt
	_, err := s.conn.ExecContext(ctx, `INSERT INTO assignments (`+assignmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		assignment.ID.Hex(), assignment.Status, assignment.ActionLine, assignment.CurrentActionIndex,
		nullObjectID(assignment.VehicleID), assignment.DriverID, assignment.FailureReason,
		nullTime(assignment.StartTime), nullTime(assignment.EndTime),
		assignment.CreatedAt.UTC(), assignment.UpdatedAt.UTC())
	return err
}

// FindAssignmentByID finds an assignment by its ID.
func (s *SQLiteStore) FindAssignmentByID(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = ?`, id.Hex())
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("assignment %s: %w", id.Hex(), ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// FindAssignmentsByStatus returns matching assignments oldest first.
func (s *SQLiteStore) FindAssignmentsByStatus(ctx context.Context, statuses ...models.AssignmentStatus) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	args := make([]interface{}, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// SaveAssignment replaces an existing assignment whose status is expected.
func (s *SQLiteStore) SaveAssignment(ctx context.Context, assignment *models.Assignment, expected models.AssignmentStatus) error {
	result, err := s.conn.ExecContext(ctx, `UPDATE assignments SET
		status = ?, action_line = ?, current_action_index = ?, vehicle_id = ?, driver_id = ?,
		failure_reason = ?, start_time = ?, end_time = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		assignment.Status, assignment.ActionLine, assignment.CurrentActionIndex,
		nullObjectID(assignment.VehicleID), assignment.DriverID, assignment.FailureReason,
		nullTime(assignment.StartTime), nullTime(assignment.EndTime), assignment.UpdatedAt.UTC(),
		assignment.ID.Hex(), expected)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var stored models.AssignmentStatus
	err = s.conn.QueryRowContext(ctx, `SELECT status FROM assignments WHERE id = ?`, assignment.ID.Hex()).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("assignment %s: %w", assignment.ID.Hex(), ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("assignment %s is %s, expected %s: %w", assignment.ID.Hex(), stored, expected, ErrConflict)
}

// GetAction looks up one catalog entry.
func (s *SQLiteStore) GetAction(ctx context.Context, id int64) (*models.Action, error) {
	var a models.Action
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, name, type, duration_minutes, accident_rate FROM actions WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Type, &a.DurationMinutes, &a.AccidentRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("action %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

// ListActions returns the catalog ordered by ID.
func (s *SQLiteStore) ListActions(ctx context.Context) ([]models.Action, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, type, duration_minutes, accident_rate FROM actions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []models.Action
	for rows.Next() {
		var a models.Action
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.DurationMinutes, &a.AccidentRate); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// InsertAction upserts a catalog entry.
func (s *SQLiteStore) InsertAction(ctx context.Context, action models.Action) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO actions (id, name, type, duration_minutes, accident_rate)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type,
			duration_minutes = excluded.duration_minutes, accident_rate = excluded.accident_rate`,
		action.ID, action.Name, action.Type, action.DurationMinutes, action.AccidentRate)
	return err
}

// InsertUser stores a new user.
func (s *SQLiteStore) InsertUser(ctx context.Context, user *models.User) error {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	_, err := s.conn.ExecContext(ctx, `INSERT INTO users
		(id, username, password_hash, role, is_active, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID.Hex(), user.Username, user.PasswordHash, user.Role, user.IsActive,
		nullTime(user.LastLogin), user.CreatedAt, user.UpdatedAt)
	return err
}

// FindUserByUsername finds a user by their username.
func (s *SQLiteStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var (
		u         models.User
		id        string
		lastLogin sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx, `SELECT id, username, password_hash, role, is_active,
		last_login, created_at, updated_at FROM users WHERE username = ?`, username).
		Scan(&id, &u.Username, &u.PasswordHash, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return nil, err
	}
	if u.ID, err = primitive.ObjectIDFromHex(id); err != nil {
		return nil, fmt.Errorf("invalid user ID %q: %w", id, err)
	}
	u.LastLogin = timePtr(lastLogin)
	return &u, nil
}

// UpdateLastLogin stamps the user's last login.
func (s *SQLiteStore) UpdateLastLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.conn.ExecContext(ctx,
		`UPDATE users SET last_login = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "user", id)
}

func expectOneRow(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}
