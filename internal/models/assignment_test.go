package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestAssignmentStatus_IsTerminal(t *testing.T) {
	terminal := map[AssignmentStatus]bool{
		AssignmentWaiting:    false,
		AssignmentAssigned:   false,
		AssignmentInProgress: false,
		AssignmentDelayed:    false,
		AssignmentCompleted:  true,
		AssignmentCancelled:  true,
		AssignmentFailed:     true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), string(status))
	}
}

func TestEncodeActionLine(t *testing.T) {
	assert.Equal(t, "[]", EncodeActionLine(nil))
	assert.Equal(t, "[]", EncodeActionLine(ActionLine{}))
	assert.Equal(t, "[3,1,2]", EncodeActionLine(ActionLine{3, 1, 2}))
}

func TestDecodeActionLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ActionLine
	}{
		{"ordered ids", "[4,2,9]", ActionLine{4, 2, 9}},
		{"empty array", "[]", ActionLine{}},
		{"empty string", "", ActionLine{}},
		{"json null", "null", ActionLine{}},
		{"not json", "1,2,3", ActionLine{}},
		{"wrong element type", `["a","b"]`, ActionLine{}},
		{"object", `{"ids":[1]}`, ActionLine{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeActionLine(tt.raw)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionLine_BSONStoredAsText(t *testing.T) {
	in := Assignment{Status: AssignmentWaiting, ActionLine: ActionLine{1, 2, 3}}
	data, err := bson.Marshal(in)
	require.NoError(t, err)

	var raw bson.M
	require.NoError(t, bson.Unmarshal(data, &raw))
	assert.Equal(t, "[1,2,3]", raw["action_line"])

	var out Assignment
	require.NoError(t, bson.Unmarshal(data, &out))
	assert.Equal(t, ActionLine{1, 2, 3}, out.ActionLine)
}

func TestActionLine_BSONMalformedYieldsEmpty(t *testing.T) {
	data, err := bson.Marshal(bson.M{"status": "WAITING", "action_line": "[1,2"})
	require.NoError(t, err)

	var out Assignment
	require.NoError(t, bson.Unmarshal(data, &out))
	assert.Empty(t, out.ActionLine)
	assert.Equal(t, AssignmentWaiting, out.Status)
}

func TestActionLine_Scan(t *testing.T) {
	var line ActionLine
	require.NoError(t, line.Scan([]byte("[7,8]")))
	assert.Equal(t, ActionLine{7, 8}, line)

	require.NoError(t, line.Scan(nil))
	assert.Empty(t, line)

	assert.Error(t, line.Scan(42))

	v, err := ActionLine{5}.Value()
	require.NoError(t, err)
	assert.Equal(t, "[5]", v)
}
