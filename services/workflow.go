package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/rs/zerolog/log"
)

// WorkflowEngine fires workflow rules when domain events are announced
type WorkflowEngine struct {
	Rules    RuleStore
	Recorder ExecutionRecorder
	Actions  *ActionDispatcher
	Now      func() time.Time
}

func NewWorkflowEngine(rules RuleStore, recorder ExecutionRecorder, actions *ActionDispatcher) *WorkflowEngine {
	return &WorkflowEngine{
		Rules:    rules,
		Recorder: recorder,
		Actions:  actions,
		Now:      time.Now,
	}
}

func (e *WorkflowEngine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// FireTrigger evaluates every active rule for event in priority order and runs
// the actions of each rule whose conditions match. All matching rules fire.
//
// One outcome is returned per candidate rule. A failure inside a rule is
// recorded on that rule and the pass continues; a failure to load rules or to
// write the audit trail stops the pass and is returned with the outcomes
// collected so far. Cancelling ctx does not interrupt a pass once started.
func (e *WorkflowEngine) FireTrigger(ctx context.Context, event string, rc rulecontext.Context, scopeID *int64) ([]db.RuleOutcome, error) {
	ctx = context.WithoutCancel(ctx)

	rules, err := e.Rules.WorkflowCandidates(ctx, event, scopeID)
	if err != nil {
		return nil, fmt.Errorf("fire %s: %w", event, err)
	}

	outcomes := make([]db.RuleOutcome, 0, len(rules))
	for _, rule := range rules {
		if !MatchConditions(rc, rule.Conditions) {
			log.Debug().Int64("rule_id", rule.ID).Str("trigger", event).Msg("Rule conditions not met")
			outcomes = append(outcomes, db.RuleOutcome{
				RuleID:   rule.ID,
				RuleName: rule.Name,
				Status:   db.OutcomeSkipped,
			})
			continue
		}

		log.Debug().Int64("rule_id", rule.ID).Str("trigger", event).Msg("Rule matched")
		outcome, err := e.runRule(ctx, event, rc, scopeID, rule)
		outcomes = append(outcomes, outcome)
		if err != nil {
			return outcomes, fmt.Errorf("fire %s: %w", event, err)
		}
	}

	return outcomes, nil
}

// runRule executes one matched rule between Start and Finish of its audit record.
// The returned error is reserved for audit persistence failures.
func (e *WorkflowEngine) runRule(ctx context.Context, event string, rc rulecontext.Context, scopeID *int64, rule db.WorkflowRule) (db.RuleOutcome, error) {
	outcome := db.RuleOutcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Matched:  true,
	}
	started := e.now()

	rec, err := e.Recorder.Start(ctx, db.ExecutionRecord{
		RuleKind:       db.RuleKindWorkflow,
		RuleID:         rule.ID,
		AgencyID:       scopeID,
		TriggerEvent:   event,
		TriggerContext: rc.Snapshot(),
	})
	if err != nil {
		outcome.Status = db.OutcomeFailed
		outcome.Error = err.Error()
		return outcome, err
	}
	outcome.ExecutionID = rec.ID

	inv := Invocation{
		Event:   event,
		RuleID:  rule.ID,
		Context: rc,
		FiredAt: started,
	}
	results, runErr := e.runActions(ctx, inv, rule.Actions)

	finish := ExecutionOutcome{
		Status:        db.ExecutionCompleted,
		ActionResults: results,
		Duration:      e.now().Sub(started),
	}
	outcome.Status = db.OutcomeCompleted
	outcome.ActionResults = results

	if runErr != nil {
		log.Error().
			Err(runErr).
			Int64("rule_id", rule.ID).
			Str("trigger", event).
			Str("execution_id", rec.ID).
			Msg("Workflow rule failed")
		finish.Status = db.ExecutionFailed
		finish.ErrorMessage = runErr.Error()
		outcome.Status = db.OutcomeFailed
		outcome.Error = runErr.Error()
	}

	if err := e.Recorder.Finish(ctx, rec.ID, finish); err != nil {
		return outcome, err
	}

	// audit first, counter second; a lost increment is cosmetic
	if err := e.Recorder.BumpRuleCounter(ctx, db.RuleKindWorkflow, rule.ID, e.now()); err != nil {
		log.Error().Err(err).Int64("rule_id", rule.ID).Msg("Failed to update rule execution counter")
	}

	return outcome, nil
}

// runActions runs the actions in order. Failed actions are collected and the
// next action still runs; only a broken dispatch table or a panic escaping the
// dispatcher ends the rule early.
func (e *WorkflowEngine) runActions(ctx context.Context, inv Invocation, actions []db.Action) (results []db.ActionResult, err error) {
	results = make([]db.ActionResult, 0, len(actions))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	if e.Actions == nil {
		return results, errors.New("no action dispatcher configured")
	}

	for _, action := range actions {
		result, execErr := e.Actions.Execute(ctx, inv, action)
		if execErr != nil {
			return results, execErr
		}
		results = append(results, result)
	}
	return results, nil
}
