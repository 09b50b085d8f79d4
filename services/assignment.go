package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
)

// AssignmentResolver turns a routing rule's strategy into an agent id.
// A nil id with a nil error means the strategy had nobody to offer.
type AssignmentResolver interface {
	Resolve(ctx context.Context, rule db.RoutingRule, rc rulecontext.Context) (*int64, error)
}

// FixedAgentStrategy always returns the configured agent
type FixedAgentStrategy struct{}

func (FixedAgentStrategy) Resolve(ctx context.Context, rule db.RoutingRule, rc rulecontext.Context) (*int64, error) {
	if rule.Strategy.AgentID == nil {
		return nil, nil
	}
	id := *rule.Strategy.AgentID
	return &id, nil
}

// RoundRobinStrategy walks the agent pool in order, one lead at a time
type RoundRobinStrategy struct {
	Cursor RotationCursor
}

func (s RoundRobinStrategy) Resolve(ctx context.Context, rule db.RoutingRule, rc rulecontext.Context) (*int64, error) {
	pool := rule.Strategy.AgentPool
	if len(pool) == 0 {
		return nil, nil
	}
	if s.Cursor == nil {
		return nil, errors.New("round_robin: no rotation cursor configured")
	}

	pos, err := s.Cursor.Next(ctx, RotationKey(rule.ID))
	if err != nil {
		return nil, err
	}

	n := int64(len(pool))
	idx := ((pos-1)%n + n) % n
	id := pool[idx]
	return &id, nil
}

// LeastLoadedStrategy picks the pool member with the fewest open leads.
// Ties go to the agent listed first.
type LeastLoadedStrategy struct {
	Loads AgentLoadCounter
}

func (s LeastLoadedStrategy) Resolve(ctx context.Context, rule db.RoutingRule, rc rulecontext.Context) (*int64, error) {
	pool := rule.Strategy.AgentPool
	if len(pool) == 0 {
		return nil, nil
	}
	if s.Loads == nil {
		return nil, errors.New("least_loaded: no load counter configured")
	}

	counts, err := s.Loads.OpenLeadCounts(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("least_loaded: %w", err)
	}

	best := pool[0]
	bestLoad := counts[best]
	for _, agentID := range pool[1:] {
		if load := counts[agentID]; load < bestLoad {
			best = agentID
			bestLoad = load
		}
	}
	return &best, nil
}

// DefaultAssignmentResolvers wires the built-in strategies
func DefaultAssignmentResolvers(cursor RotationCursor, loads AgentLoadCounter) map[db.StrategyType]AssignmentResolver {
	return map[db.StrategyType]AssignmentResolver{
		db.StrategyFixedAgent:  FixedAgentStrategy{},
		db.StrategyRoundRobin:  RoundRobinStrategy{Cursor: cursor},
		db.StrategyLeastLoaded: LeastLoadedStrategy{Loads: loads},
	}
}
