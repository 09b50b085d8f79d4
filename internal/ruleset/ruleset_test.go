package ruleset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/services"
)

const sampleRules = `
workflow_rules:
  - name: Welcome website leads
    trigger: lead.created
    priority: 10
    conditions:
      - field: lead.source
        operator: equals
        value: website
      - field: lead.insurance_type
        operator: in
        value: [auto, home]
    actions:
      - type: notify
        config:
          user_id: 7
          message: "New lead {{lead.name}}"
      - type: create_task
        config:
          title: "Call {{lead.name}}"
          due_in_hours: 4
  - name: Flag large claims
    trigger: claim.filed
    is_active: false
    conditions:
      - {field: claim.amount, operator: greater_than, value: 10000}
    actions:
      - {type: add_tag, config: {tag: large-claim}}
routing_rules:
  - name: Auto leads rotate
    priority: 5
    conditions:
      - {field: insurance_type, operator: equals, value: auto}
    strategy:
      type: round_robin
      agent_pool: [10, 20, 30]
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	require.Len(t, f.WorkflowRules, 2)
	require.Len(t, f.RoutingRules, 1)

	welcome := f.WorkflowRules[0]
	assert.Equal(t, "Welcome website leads", welcome.Name)
	assert.Equal(t, "lead.created", welcome.TriggerEvent)
	assert.Equal(t, 10, welcome.Priority)
	require.Len(t, welcome.Conditions, 2)
	assert.Equal(t, db.OperatorIn, welcome.Conditions[1].Operator)
	assert.Equal(t, []interface{}{"auto", "home"}, welcome.Conditions[1].Value)
	require.Len(t, welcome.Actions, 2)
	assert.Equal(t, db.ActionNotify, welcome.Actions[0].Type)
	assert.Equal(t, "New lead {{lead.name}}", welcome.Actions[0].Config["message"])

	claims := f.WorkflowRules[1]
	require.NotNil(t, claims.IsActive)
	assert.False(t, *claims.IsActive)

	routing := f.RoutingRules[0]
	assert.Equal(t, db.StrategyRoundRobin, routing.Strategy.Type)
	assert.Equal(t, []int64{10, 20, 30}, routing.Strategy.AgentPool)
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
workflow_rules:
  - name: Typo
    trigger_evnt: lead.created
`))
	assert.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	f, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Empty(t, f.WorkflowRules)
	assert.Empty(t, f.RoutingRules)
	assert.Empty(t, f.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.WorkflowRules, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	f, err := Parse([]byte(`
workflow_rules:
  - name: ""
    trigger: lead.created
    actions:
      - {type: notify, config: {message: hi}}
  - name: Good rule
    trigger: lead.created
    actions:
      - {type: send_email, config: {subject: Welcome}}
routing_rules:
  - name: Missing pool
    strategy: {type: least_loaded}
`))
	require.NoError(t, err)

	problems := f.Validate()
	require.Len(t, problems, 2)

	assert.Equal(t, db.RuleKindWorkflow, problems[0].Kind)
	assert.Equal(t, 0, problems[0].Index)
	assert.Equal(t, "name is required", problems[0].Message)

	assert.Equal(t, db.RuleKindRouting, problems[1].Kind)
	assert.Equal(t, "Missing pool", problems[1].Name)
	assert.Equal(t, "routing rule #1 (Missing pool): strategy least_loaded requires a non-empty agent_pool", problems[1].String())
}

func TestImport(t *testing.T) {
	f, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	store := services.NewInMemoryRuleStore()
	agency := int64(3)

	result, err := f.Import(context.Background(), store, &agency)
	require.NoError(t, err)
	require.Len(t, result.WorkflowRules, 2)
	require.Len(t, result.RoutingRules, 1)

	for _, rule := range result.WorkflowRules {
		require.NotNil(t, rule.AgencyID)
		assert.Equal(t, agency, *rule.AgencyID)
	}
	assert.True(t, result.WorkflowRules[0].IsActive)
	assert.False(t, result.WorkflowRules[1].IsActive)

	candidates, err := store.RoutingCandidates(context.Background(), agency)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Auto leads rotate", candidates[0].Name)
}

func TestImport_InvalidFileWritesNothing(t *testing.T) {
	f, err := Parse([]byte(`
workflow_rules:
  - name: Valid
    trigger: lead.created
    actions:
      - {type: add_tag, config: {tag: new}}
  - name: Broken
    trigger: lead.assignment
    actions:
      - {type: add_tag, config: {tag: new}}
`))
	require.NoError(t, err)

	store := services.NewInMemoryRuleStore()
	result, err := f.Import(context.Background(), store, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFile))
	assert.Nil(t, result)

	rules, err := store.ListWorkflowRules(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

type failingCreator struct {
	*services.InMemoryRuleStore
}

func (failingCreator) CreateRoutingRule(ctx context.Context, rule db.RoutingRule) (*db.RoutingRule, error) {
	return nil, errors.New("connection refused")
}

func TestImport_StopsOnStoreError(t *testing.T) {
	f, err := Parse([]byte(sampleRules))
	require.NoError(t, err)

	result, err := f.Import(context.Background(), failingCreator{services.NewInMemoryRuleStore()}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Auto leads rotate")
	assert.Len(t, result.WorkflowRules, 2)
	assert.Empty(t, result.RoutingRules)
}
