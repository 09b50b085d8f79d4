package services

import (
	"context"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/rs/zerolog/log"
)

// RoutingService picks the servicing agent for a new lead
type RoutingService struct {
	Rules       RuleStore
	Recorder    ExecutionRecorder
	Agencies    AgencyDirectory
	Resolvers   map[db.StrategyType]AssignmentResolver
	CallTimeout time.Duration
	Now         func() time.Time
}

func NewRoutingService(rules RuleStore, recorder ExecutionRecorder, agencies AgencyDirectory, resolvers map[db.StrategyType]AssignmentResolver, callTimeout time.Duration) *RoutingService {
	return &RoutingService{
		Rules:       rules,
		Recorder:    recorder,
		Agencies:    agencies,
		Resolvers:   resolvers,
		CallTimeout: callTimeout,
		Now:         time.Now,
	}
}

func (s *RoutingService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *RoutingService) callTimeout() time.Duration {
	if s.CallTimeout <= 0 {
		return DefaultCallTimeout
	}
	return s.CallTimeout
}

// ROUTING ENGINE - CORE LOGIC

// RouteLead evaluates the agency's routing rules in priority order and returns
// the agent picked by the first matching rule whose strategy yields one.
// When no rule yields an agent the agency owner is returned, or nil when the
// agency has no owner. Each matched rule leaves one execution record.
func (s *RoutingService) RouteLead(ctx context.Context, rc rulecontext.Context, agencyID int64) (*int64, error) {
	ctx = context.WithoutCancel(ctx)

	rules, err := s.Rules.RoutingCandidates(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("route lead: %w", err)
	}

	for _, rule := range rules {
		if !MatchConditions(rc, rule.Conditions) {
			continue
		}

		agentID, err := s.runRule(ctx, rc, agencyID, rule)
		if err != nil {
			return nil, fmt.Errorf("route lead: %w", err)
		}
		if agentID != nil {
			log.Info().
				Int64("rule_id", rule.ID).
				Int64("agency_id", agencyID).
				Int64("agent_id", *agentID).
				Msg("Lead routed")
			return agentID, nil
		}
	}

	return s.fallback(ctx, agencyID)
}

// runRule resolves one matched rule's strategy inside an execution record.
// The returned error is reserved for audit persistence failures.
func (s *RoutingService) runRule(ctx context.Context, rc rulecontext.Context, agencyID int64, rule db.RoutingRule) (*int64, error) {
	started := s.now()
	scope := agencyID

	rec, err := s.Recorder.Start(ctx, db.ExecutionRecord{
		RuleKind:       db.RuleKindRouting,
		RuleID:         rule.ID,
		AgencyID:       &scope,
		TriggerEvent:   db.TriggerLeadAssignment,
		TriggerContext: rc.Snapshot(),
	})
	if err != nil {
		return nil, err
	}

	agentID, resolveErr, bodyErr := s.resolve(ctx, rule, rc)

	step := db.ActionResult{Type: string(rule.Strategy.Type)}
	finish := ExecutionOutcome{Status: db.ExecutionCompleted}

	switch {
	case bodyErr != nil:
		log.Error().
			Err(bodyErr).
			Int64("rule_id", rule.ID).
			Str("execution_id", rec.ID).
			Msg("Routing rule failed")
		step.Status = db.ActionStatusFailed
		step.Message = bodyErr.Error()
		finish.Status = db.ExecutionFailed
		finish.ErrorMessage = bodyErr.Error()
	case resolveErr != nil:
		log.Warn().
			Err(resolveErr).
			Int64("rule_id", rule.ID).
			Str("execution_id", rec.ID).
			Msg("Assignment strategy failed")
		step.Status = db.ActionStatusFailed
		step.Message = resolveErr.Error()
	case agentID == nil:
		step.Status = db.ActionStatusFailed
		step.Message = "no agent available"
	default:
		step.Status = db.ActionStatusSuccess
		step.Message = fmt.Sprintf("assigned agent %d", *agentID)
	}

	finish.ActionResults = []db.ActionResult{step}
	finish.Duration = s.now().Sub(started)

	if err := s.Recorder.Finish(ctx, rec.ID, finish); err != nil {
		return nil, err
	}

	if err := s.Recorder.BumpRuleCounter(ctx, db.RuleKindRouting, rule.ID, s.now()); err != nil {
		log.Error().Err(err).Int64("rule_id", rule.ID).Msg("Failed to update routing rule counter")
	}

	if resolveErr != nil || bodyErr != nil {
		return nil, nil
	}
	return agentID, nil
}

// resolve runs the rule's strategy under the call timeout.
// err is the strategy's own failure. bodyErr covers a missing resolver or a
// recovered panic, which fail the whole rule rather than just the assignment.
func (s *RoutingService) resolve(ctx context.Context, rule db.RoutingRule, rc rulecontext.Context) (agentID *int64, err error, bodyErr error) {
	defer func() {
		if r := recover(); r != nil {
			agentID, err = nil, nil
			bodyErr = fmt.Errorf("strategy %s panicked: %v", rule.Strategy.Type, r)
		}
	}()

	resolver, ok := s.Resolvers[rule.Strategy.Type]
	if !ok || resolver == nil {
		return nil, nil, fmt.Errorf("unknown strategy type: %s", rule.Strategy.Type)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()

	agentID, err = resolver.Resolve(callCtx, rule, rc)
	return agentID, err, nil
}

// fallback hands the lead to the agency owner when no rule produced an agent
func (s *RoutingService) fallback(ctx context.Context, agencyID int64) (*int64, error) {
	if s.Agencies == nil {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout())
	defer cancel()

	ownerID, err := s.Agencies.OwnerID(callCtx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("route lead: owner of agency %d: %w", agencyID, err)
	}
	if ownerID == nil {
		log.Info().Int64("agency_id", agencyID).Msg("No routing rule matched and agency has no owner")
		return nil, nil
	}

	log.Info().Int64("agency_id", agencyID).Int64("agent_id", *ownerID).Msg("Lead routed to agency owner")
	return ownerID, nil
}
