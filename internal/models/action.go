package models

// ActionType classifies a step of an assignment.
type ActionType string

const (
	ActionMoveTo      ActionType = "MOVE_TO"
	ActionLoad        ActionType = "LOAD"
	ActionUnload      ActionType = "UNLOAD"
	ActionWait        ActionType = "WAIT"
	ActionReport      ActionType = "REPORT"
	ActionRefuel      ActionType = "REFUEL"
	ActionRest        ActionType = "REST"
	ActionMaintenance ActionType = "MAINTENANCE"
)

// Action is read-only reference data describing one step of an action line.
type Action struct {
	ID              int64      `bson:"_id" json:"id"`
	Name            string     `bson:"name" json:"name"`
	Type            ActionType `bson:"type" json:"type"`
	DurationMinutes int        `bson:"duration_minutes" json:"duration_minutes"` // nominal
	AccidentRate    float64    `bson:"accident_rate" json:"accident_rate"`
}

// DefaultActions returns the catalog used to seed a fresh store.
func DefaultActions() []Action {
	return []Action{
		{ID: 1, Name: "Drive to pickup", Type: ActionMoveTo, DurationMinutes: 90, AccidentRate: 0.02},
		{ID: 2, Name: "Load goods", Type: ActionLoad, DurationMinutes: 45, AccidentRate: 0.005},
		{ID: 3, Name: "Drive to destination", Type: ActionMoveTo, DurationMinutes: 120, AccidentRate: 0.03},
		{ID: 4, Name: "Unload goods", Type: ActionUnload, DurationMinutes: 45, AccidentRate: 0.005},
		{ID: 5, Name: "Wait at dock", Type: ActionWait, DurationMinutes: 30},
		{ID: 6, Name: "Report delivery", Type: ActionReport, DurationMinutes: 15},
		{ID: 7, Name: "Refuel", Type: ActionRefuel, DurationMinutes: 30, AccidentRate: 0.001},
		{ID: 8, Name: "Driver rest", Type: ActionRest, DurationMinutes: 60},
		{ID: 9, Name: "Scheduled maintenance", Type: ActionMaintenance, DurationMinutes: 120},
	}
}
