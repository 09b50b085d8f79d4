// Package ruleset reads workflow and routing rules from YAML files so they can be
// reviewed in version control and bulk-loaded into the rule store.
package ruleset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/services"
)

// File is the on-disk shape of a rule set:
//
//	workflow_rules:
//	  - name: Welcome new lead
//	    trigger: lead.created
//	    priority: 10
//	    conditions:
//	      - {field: lead.source, operator: equals, value: website}
//	    actions:
//	      - type: notify
//	        config: {message: "New lead {{lead.name}}"}
//	routing_rules:
//	  - name: Auto leads
//	    strategy: {type: round_robin, agent_pool: [10, 20]}
type File struct {
	WorkflowRules []db.CreateWorkflowRuleRequest `yaml:"workflow_rules"`
	RoutingRules  []db.CreateRoutingRuleRequest  `yaml:"routing_rules"`
}

// Problem is a validation failure of one rule in the file
type Problem struct {
	Kind    db.RuleKind
	Index   int
	Name    string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s rule #%d (%s): %s", p.Kind, p.Index+1, p.Name, p.Message)
}

// ErrInvalidFile is returned by Import when any rule fails validation
var ErrInvalidFile = errors.New("rule file has invalid rules")

// Load reads and parses a rule file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, rejecting unknown keys so typos do not silently drop settings
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	return &f, nil
}

// Validate runs save-time validation over every rule. An empty result means the file is importable.
func (f *File) Validate() []Problem {
	var problems []Problem

	for i, req := range f.WorkflowRules {
		err := services.ValidateWorkflowRule(services.WorkflowRuleFromRequest(req))
		for _, msg := range services.ValidationProblems(err) {
			problems = append(problems, Problem{Kind: db.RuleKindWorkflow, Index: i, Name: req.Name, Message: msg})
		}
	}
	for i, req := range f.RoutingRules {
		err := services.ValidateRoutingRule(services.RoutingRuleFromRequest(req))
		for _, msg := range services.ValidationProblems(err) {
			problems = append(problems, Problem{Kind: db.RuleKindRouting, Index: i, Name: req.Name, Message: msg})
		}
	}

	return problems
}

// RuleCreator is the subset of the rule store Import writes through
type RuleCreator interface {
	CreateWorkflowRule(ctx context.Context, rule db.WorkflowRule) (*db.WorkflowRule, error)
	CreateRoutingRule(ctx context.Context, rule db.RoutingRule) (*db.RoutingRule, error)
}

// ImportResult lists the rules created by Import
type ImportResult struct {
	WorkflowRules []db.WorkflowRule
	RoutingRules  []db.RoutingRule
}

// Import validates the whole file, then creates every rule in file order.
// agencyID, when set, overrides the agency of every rule.
// Nothing is written if any rule is invalid; a store error stops the import
// and the result holds what was created before it.
func (f *File) Import(ctx context.Context, store RuleCreator, agencyID *int64) (*ImportResult, error) {
	if problems := f.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %d problem(s), first: %s", ErrInvalidFile, len(problems), problems[0])
	}

	result := &ImportResult{}
	for _, req := range f.WorkflowRules {
		rule := services.WorkflowRuleFromRequest(req)
		if agencyID != nil {
			rule.AgencyID = agencyID
		}
		created, err := store.CreateWorkflowRule(ctx, rule)
		if err != nil {
			return result, fmt.Errorf("failed to create workflow rule %q: %w", req.Name, err)
		}
		result.WorkflowRules = append(result.WorkflowRules, *created)
	}
	for _, req := range f.RoutingRules {
		rule := services.RoutingRuleFromRequest(req)
		if agencyID != nil {
			rule.AgencyID = agencyID
		}
		created, err := store.CreateRoutingRule(ctx, rule)
		if err != nil {
			return result, fmt.Errorf("failed to create routing rule %q: %w", req.Name, err)
		}
		result.RoutingRules = append(result.RoutingRules, *created)
	}

	return result, nil
}
