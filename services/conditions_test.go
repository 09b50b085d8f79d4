package services

import (
	"testing"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/stretchr/testify/assert"
)

func testContext() rulecontext.Context {
	return rulecontext.New(map[string]interface{}{
		"insurance_type": "auto",
		"lead_id":        float64(42),
		"premium":        "1250.50",
		"employees":      float64(12),
		"notes":          "   ",
		"flagged":        true,
		"tags":           []interface{}{"vip", "fleet"},
		"empty_list":     []interface{}{},
		"lead": map[string]interface{}{
			"source": "web",
			"state":  "TX",
		},
		"nothing": nil,
	})
}

func TestEvaluateCondition(t *testing.T) {
	rc := testContext()

	tests := []struct {
		name string
		cond db.Condition
		want bool
	}{
		// equals / not_equals
		{"equals string", db.Condition{Field: "insurance_type", Operator: db.OperatorEquals, Value: "auto"}, true},
		{"equals is case sensitive", db.Condition{Field: "insurance_type", Operator: db.OperatorEquals, Value: "Auto"}, false},
		{"equals number vs string", db.Condition{Field: "lead_id", Operator: db.OperatorEquals, Value: "42"}, true},
		{"equals nested", db.Condition{Field: "lead.state", Operator: db.OperatorEquals, Value: "TX"}, true},
		{"not equals", db.Condition{Field: "insurance_type", Operator: db.OperatorNotEquals, Value: "home"}, true},
		{"not equals same", db.Condition{Field: "insurance_type", Operator: db.OperatorNotEquals, Value: "auto"}, false},

		// contains
		{"contains substring", db.Condition{Field: "lead.source", Operator: db.OperatorContains, Value: "we"}, true},
		{"contains list member", db.Condition{Field: "tags", Operator: db.OperatorContains, Value: "vip"}, true},
		{"contains list non member", db.Condition{Field: "tags", Operator: db.OperatorContains, Value: "gold"}, false},
		{"contains on number", db.Condition{Field: "employees", Operator: db.OperatorContains, Value: "1"}, false},
		{"not contains substring", db.Condition{Field: "lead.source", Operator: db.OperatorNotContains, Value: "phone"}, true},
		{"not contains list", db.Condition{Field: "tags", Operator: db.OperatorNotContains, Value: "vip"}, false},
		{"not contains on map", db.Condition{Field: "lead", Operator: db.OperatorNotContains, Value: "x"}, false},

		// greater_than / less_than
		{"greater than", db.Condition{Field: "employees", Operator: db.OperatorGreaterThan, Value: 10}, true},
		{"greater than string field", db.Condition{Field: "premium", Operator: db.OperatorGreaterThan, Value: "1000"}, true},
		{"greater than equal", db.Condition{Field: "employees", Operator: db.OperatorGreaterThan, Value: 12}, false},
		{"less than", db.Condition{Field: "employees", Operator: db.OperatorLessThan, Value: "20"}, true},
		{"greater than non numeric field", db.Condition{Field: "insurance_type", Operator: db.OperatorGreaterThan, Value: 1}, false},
		{"greater than non numeric value", db.Condition{Field: "employees", Operator: db.OperatorGreaterThan, Value: "many"}, false},
		{"less than boolean", db.Condition{Field: "flagged", Operator: db.OperatorLessThan, Value: 5}, false},
		{"less than blank", db.Condition{Field: "notes", Operator: db.OperatorLessThan, Value: 5}, false},

		// in / not_in
		{"in list", db.Condition{Field: "insurance_type", Operator: db.OperatorIn, Value: []interface{}{"home", "auto"}}, true},
		{"in csv string", db.Condition{Field: "insurance_type", Operator: db.OperatorIn, Value: "home, auto"}, true},
		{"in numbers", db.Condition{Field: "lead_id", Operator: db.OperatorIn, Value: []interface{}{float64(41), float64(42)}}, true},
		{"not in list", db.Condition{Field: "insurance_type", Operator: db.OperatorNotIn, Value: []interface{}{"home", "life"}}, true},
		{"not in member", db.Condition{Field: "insurance_type", Operator: db.OperatorNotIn, Value: []interface{}{"auto"}}, false},
		{"in non list value", db.Condition{Field: "insurance_type", Operator: db.OperatorIn, Value: 5}, false},
		{"not in non list value", db.Condition{Field: "insurance_type", Operator: db.OperatorNotIn, Value: 5}, false},

		// is_empty / is_not_empty
		{"is empty blank string", db.Condition{Field: "notes", Operator: db.OperatorIsEmpty}, true},
		{"is empty empty list", db.Condition{Field: "empty_list", Operator: db.OperatorIsEmpty}, true},
		{"is empty null", db.Condition{Field: "nothing", Operator: db.OperatorIsEmpty}, true},
		{"is empty value", db.Condition{Field: "insurance_type", Operator: db.OperatorIsEmpty}, false},
		{"is not empty", db.Condition{Field: "tags", Operator: db.OperatorIsNotEmpty}, true},
		{"is not empty blank", db.Condition{Field: "notes", Operator: db.OperatorIsNotEmpty}, false},

		// unresolvable fields are false for every operator
		{"missing equals", db.Condition{Field: "agent_id", Operator: db.OperatorEquals, Value: ""}, false},
		{"missing not equals", db.Condition{Field: "agent_id", Operator: db.OperatorNotEquals, Value: "7"}, false},
		{"missing not in", db.Condition{Field: "agent_id", Operator: db.OperatorNotIn, Value: []interface{}{"7"}}, false},
		{"missing is empty", db.Condition{Field: "agent_id", Operator: db.OperatorIsEmpty}, false},
		{"missing nested", db.Condition{Field: "lead.phone", Operator: db.OperatorIsNotEmpty}, false},
		{"path through scalar", db.Condition{Field: "insurance_type.name", Operator: db.OperatorEquals, Value: "auto"}, false},

		// negated operators on non-scalar fields are type mismatches
		{"not equals on list", db.Condition{Field: "tags", Operator: db.OperatorNotEquals, Value: "vip"}, false},
		{"not equals on map", db.Condition{Field: "lead", Operator: db.OperatorNotEquals, Value: "web"}, false},
		{"not equals list value", db.Condition{Field: "insurance_type", Operator: db.OperatorNotEquals, Value: []interface{}{"home"}}, false},
		{"not in on list", db.Condition{Field: "tags", Operator: db.OperatorNotIn, Value: []interface{}{"auto"}}, false},
		{"not in on map", db.Condition{Field: "lead", Operator: db.OperatorNotIn, Value: "web,referral"}, false},

		{"unknown operator", db.Condition{Field: "insurance_type", Operator: "matches", Value: "auto"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(rc, tt.cond))
		})
	}
}

func TestMatchConditions(t *testing.T) {
	rc := testContext()

	t.Run("empty list matches", func(t *testing.T) {
		assert.True(t, MatchConditions(rc, nil))
		assert.True(t, MatchConditions(rc, []db.Condition{}))
	})

	t.Run("all must hold", func(t *testing.T) {
		conds := []db.Condition{
			{Field: "insurance_type", Operator: db.OperatorEquals, Value: "auto"},
			{Field: "employees", Operator: db.OperatorGreaterThan, Value: 5},
		}
		assert.True(t, MatchConditions(rc, conds))

		conds = append(conds, db.Condition{Field: "lead.state", Operator: db.OperatorEquals, Value: "CA"})
		assert.False(t, MatchConditions(rc, conds))
	})

	t.Run("stops at first false", func(t *testing.T) {
		// a non-list "in" value after a false clause is never reached
		conds := []db.Condition{
			{Field: "insurance_type", Operator: db.OperatorEquals, Value: "home"},
			{Field: "insurance_type", Operator: db.OperatorIn, Value: map[string]interface{}{}},
		}
		assert.False(t, MatchConditions(rc, conds))
	})

	t.Run("empty context", func(t *testing.T) {
		empty := rulecontext.New(nil)
		assert.True(t, MatchConditions(empty, nil))
		assert.False(t, MatchConditions(empty, []db.Condition{{Field: "a", Operator: db.OperatorIsEmpty}}))
	})
}
