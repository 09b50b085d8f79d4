package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coverdesk/automation/db"
	"github.com/hashicorp/go-multierror"
)

// requiredActionConfig lists the config keys each action cannot run without
var requiredActionConfig = map[db.ActionType][]string{
	db.ActionNotify:       {"message"},
	db.ActionUpdateStatus: {"status"},
	db.ActionAssignAgent:  {"agent_id"},
	db.ActionCreateTask:   {"title"},
	db.ActionAddTag:       {"tag"},
	db.ActionFireWebhook:  {"url"},
	db.ActionSendEmail:    {"subject"},
}

// ValidateWorkflowRule checks a rule before it is saved. The returned error
// wraps ErrInvalidRule and a *multierror.Error listing every problem found.
func ValidateWorkflowRule(rule db.WorkflowRule) error {
	var problems *multierror.Error

	if strings.TrimSpace(rule.Name) == "" {
		problems = multierror.Append(problems, errors.New("name is required"))
	}
	if strings.TrimSpace(rule.TriggerEvent) == "" {
		problems = multierror.Append(problems, errors.New("trigger_event is required"))
	}
	if rule.TriggerEvent == db.TriggerLeadAssignment {
		problems = multierror.Append(problems, fmt.Errorf("trigger_event %q is reserved for routing rules", db.TriggerLeadAssignment))
	}
	problems = multierror.Append(problems, validateConditions(rule.Conditions)...)

	if len(rule.Actions) == 0 {
		problems = multierror.Append(problems, errors.New("at least one action is required"))
	}
	for i, action := range rule.Actions {
		problems = multierror.Append(problems, validateAction(i, action)...)
	}

	return invalidRule(problems)
}

// ValidateRoutingRule checks a routing rule before it is saved
func ValidateRoutingRule(rule db.RoutingRule) error {
	var problems *multierror.Error

	if strings.TrimSpace(rule.Name) == "" {
		problems = multierror.Append(problems, errors.New("name is required"))
	}
	problems = multierror.Append(problems, validateConditions(rule.Conditions)...)
	problems = multierror.Append(problems, validateStrategy(rule.Strategy)...)

	return invalidRule(problems)
}

func validateConditions(conditions []db.Condition) []error {
	var errs []error
	for i, cond := range conditions {
		if strings.TrimSpace(cond.Field) == "" {
			errs = append(errs, fmt.Errorf("conditions[%d]: field is required", i))
		}
		if !db.IsValidOperator(cond.Operator) {
			errs = append(errs, fmt.Errorf("conditions[%d]: unknown operator %q", i, cond.Operator))
			continue
		}
		switch cond.Operator {
		case db.OperatorIn, db.OperatorNotIn:
			if _, ok := valueList(cond.Value); !ok {
				errs = append(errs, fmt.Errorf("conditions[%d]: %s requires a list value", i, cond.Operator))
			}
		case db.OperatorGreaterThan, db.OperatorLessThan:
			if _, ok := toNumber(cond.Value); !ok {
				errs = append(errs, fmt.Errorf("conditions[%d]: %s requires a numeric value", i, cond.Operator))
			}
		}
	}
	return errs
}

func validateAction(index int, action db.Action) []error {
	var errs []error
	required, known := requiredActionConfig[action.Type]
	if !known {
		return append(errs, fmt.Errorf("actions[%d]: unknown action type %q", index, action.Type))
	}
	for _, key := range required {
		v, ok := action.Config[key]
		if !ok || v == nil {
			errs = append(errs, fmt.Errorf("actions[%d]: %s requires config %q", index, action.Type, key))
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			errs = append(errs, fmt.Errorf("actions[%d]: %s requires config %q", index, action.Type, key))
		}
	}
	return errs
}

func validateStrategy(strategy db.AssignmentStrategy) []error {
	switch strategy.Type {
	case db.StrategyFixedAgent:
		if strategy.AgentID == nil {
			return []error{errors.New("strategy fixed_agent requires agent_id")}
		}
	case db.StrategyRoundRobin, db.StrategyLeastLoaded:
		if len(strategy.AgentPool) == 0 {
			return []error{fmt.Errorf("strategy %s requires a non-empty agent_pool", strategy.Type)}
		}
	default:
		return []error{fmt.Errorf("unknown strategy type %q", strategy.Type)}
	}
	return nil
}

func invalidRule(problems *multierror.Error) error {
	if problems.ErrorOrNil() == nil {
		return nil
	}
	problems.ErrorFormat = func(errs []error) string {
		parts := make([]string, len(errs))
		for i, err := range errs {
			parts[i] = err.Error()
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Errorf("%w: %w", ErrInvalidRule, problems)
}

// ValidationProblems lists the individual problems inside a validation error
func ValidationProblems(err error) []string {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		if err == nil {
			return nil
		}
		return []string{err.Error()}
	}
	out := make([]string, len(merr.Errors))
	for i, e := range merr.Errors {
		out[i] = e.Error()
	}
	return out
}
