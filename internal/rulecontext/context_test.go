package rulecontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	rc := New(map[string]interface{}{
		"insurance_type": "auto",
		"lead": map[string]interface{}{
			"id":     42,
			"source": "web",
			"address": map[string]interface{}{
				"state": "TX",
			},
		},
		"labels": map[string]string{"campaign": "spring"},
		"note":   "plain",
	})

	tests := []struct {
		name   string
		path   string
		want   interface{}
		wantOK bool
	}{
		{"top level", "insurance_type", "auto", true},
		{"one level", "lead.source", "web", true},
		{"two levels", "lead.address.state", "TX", true},
		{"string map", "labels.campaign", "spring", true},
		{"missing top level", "agent_id", nil, false},
		{"missing nested", "lead.phone", nil, false},
		{"through scalar", "note.length", nil, false},
		{"empty path", "", nil, false},
		{"empty segment", "lead..source", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rc.GetPath(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInt(t *testing.T) {
	rc := New(map[string]interface{}{
		"from_json":  float64(7),
		"fraction":   7.5,
		"int":        int64(42),
		"numeric":    " 15 ",
		"text":       "seven",
		"flag":       true,
		"empty":      "",
		"null_value": nil,
	})

	v, ok := rc.GetInt("from_json")
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	v, ok = rc.GetInt("int")
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)

	v, ok = rc.GetInt("numeric")
	assert.True(t, ok)
	assert.Equal(t, int64(15), v)

	for _, path := range []string{"fraction", "text", "flag", "empty", "null_value", "missing"} {
		_, ok := rc.GetInt(path)
		assert.False(t, ok, path)
	}
}

func TestGetString(t *testing.T) {
	rc := New(map[string]interface{}{
		"name":   "Ann",
		"count":  float64(3),
		"ratio":  0.25,
		"nested": map[string]interface{}{"a": 1},
		"list":   []interface{}{"a"},
	})

	s, ok := rc.GetString("name")
	assert.True(t, ok)
	assert.Equal(t, "Ann", s)

	s, ok = rc.GetString("count")
	assert.True(t, ok)
	assert.Equal(t, "3", s)

	s, ok = rc.GetString("ratio")
	assert.True(t, ok)
	assert.Equal(t, "0.25", s)

	_, ok = rc.GetString("nested")
	assert.False(t, ok)
	_, ok = rc.GetString("list")
	assert.False(t, ok)
}

func TestNewCopiesInput(t *testing.T) {
	nested := map[string]interface{}{"status": "new"}
	input := map[string]interface{}{"lead": nested}

	rc := New(input)
	nested["status"] = "changed"
	input["extra"] = true

	status, ok := rc.GetString("lead.status")
	require.True(t, ok)
	assert.Equal(t, "new", status)
	assert.False(t, rc.Has("extra"))

	snap := rc.Snapshot()
	snap["lead"].(map[string]interface{})["status"] = "mutated"
	status, _ = rc.GetString("lead.status")
	assert.Equal(t, "new", status)
}

func TestFromJSON(t *testing.T) {
	rc, err := FromJSON([]byte(`{"lead_id": 42, "agent_id": 7, "insurance_type": "auto"}`))
	require.NoError(t, err)

	id, ok := rc.GetInt("lead_id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Len(t, rc.Snapshot(), 3)

	_, err = FromJSON([]byte(`[1,2,3]`))
	assert.Error(t, err)
}
