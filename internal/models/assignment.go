package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// AssignmentStatus is the lifecycle state of an assignment.
type AssignmentStatus string

const (
	AssignmentWaiting    AssignmentStatus = "WAITING"
	AssignmentAssigned   AssignmentStatus = "ASSIGNED"
	AssignmentInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentCompleted  AssignmentStatus = "COMPLETED"
	AssignmentFailed     AssignmentStatus = "FAILED"
	AssignmentCancelled  AssignmentStatus = "CANCELLED"
	AssignmentDelayed    AssignmentStatus = "DELAYED"
)

// IsTerminal reports whether no further mutation is allowed in s.
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentCancelled || s == AssignmentFailed
}

// Assignment is one unit of transport work executed as an ordered action line.
type Assignment struct {
	ID                 primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Status             AssignmentStatus    `bson:"status" json:"status"`
	ActionLine         ActionLine          `bson:"action_line" json:"action_line"`
	CurrentActionIndex int                 `bson:"current_action_index" json:"current_action_index"`
	VehicleID          *primitive.ObjectID `bson:"vehicle_id,omitempty" json:"vehicle_id,omitempty"`
	DriverID           string              `bson:"driver_id,omitempty" json:"driver_id,omitempty"`
	FailureReason      string              `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	StartTime          *time.Time          `bson:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime            *time.Time          `bson:"end_time,omitempty" json:"end_time,omitempty"`
	CreatedAt          time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `bson:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the assignment has finished.
func (a *Assignment) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// ActionLine is the ordered list of action ids an assignment executes.
// It is persisted as a JSON array of integers stored in a text field.
type ActionLine []int64

// EncodeActionLine renders the line as a JSON array. A nil line encodes as "[]".
func EncodeActionLine(line ActionLine) string {
	if len(line) == 0 {
		return "[]"
	}
	b, err := json.Marshal([]int64(line))
	if err != nil {
		// []int64 always marshals
		return "[]"
	}
	return string(b)
}

// DecodeActionLine parses a stored action line. Malformed input yields an
// empty line and a warning; an assignment without steps is still valid.
func DecodeActionLine(raw string) ActionLine {
	if raw == "" {
		return ActionLine{}
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.WithFields(log.Fields{
			"payload": raw,
			"error":   err,
		}).Warn("Malformed action line, treating as empty")
		return ActionLine{}
	}
	if ids == nil {
		return ActionLine{}
	}
	return ActionLine(ids)
}

// MarshalBSONValue stores the line as its JSON text.
func (l ActionLine) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bsontype.String, bsoncore.AppendString(nil, EncodeActionLine(l)), nil
}

// UnmarshalBSONValue reads the JSON text form written by MarshalBSONValue.
func (l *ActionLine) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bsontype.Null || t == bsontype.Undefined {
		*l = ActionLine{}
		return nil
	}
	raw, ok := bsoncore.Value{Type: t, Data: data}.StringValueOK()
	if !ok {
		log.WithField("bson_type", t.String()).Warn("Unexpected action line encoding, treating as empty")
		*l = ActionLine{}
		return nil
	}
	*l = DecodeActionLine(raw)
	return nil
}

// Value implements driver.Valuer for SQL stores.
func (l ActionLine) Value() (driver.Value, error) {
	return EncodeActionLine(l), nil
}

// Scan implements sql.Scanner for SQL stores.
func (l *ActionLine) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = ActionLine{}
	case string:
		*l = DecodeActionLine(v)
	case []byte:
		*l = DecodeActionLine(string(v))
	default:
		return fmt.Errorf("unsupported action line column type %T", src)
	}
	return nil
}
