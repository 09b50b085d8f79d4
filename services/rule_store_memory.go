package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coverdesk/automation/db"
)

// InMemoryRuleStore is a RuleRepository backed by maps. It is used by tests
// and by dispatchctl dry runs against a rule file.
type InMemoryRuleStore struct {
	mu       sync.RWMutex
	workflow map[int64]db.WorkflowRule
	routing  map[int64]db.RoutingRule
	nextID   int64
}

func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		workflow: make(map[int64]db.WorkflowRule),
		routing:  make(map[int64]db.RoutingRule),
	}
}

// ids are handed out from one sequence so id order is insertion order
func (s *InMemoryRuleStore) allocateID() int64 {
	s.nextID++
	return s.nextID
}

func inScope(agencyID *int64, scopeID *int64) bool {
	if agencyID == nil {
		return true
	}
	return scopeID != nil && *agencyID == *scopeID
}

func sortWorkflowRules(rules []db.WorkflowRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func sortRoutingRules(rules []db.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func (s *InMemoryRuleStore) WorkflowCandidates(ctx context.Context, trigger string, scopeID *int64) ([]db.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []db.WorkflowRule{}
	for _, rule := range s.workflow {
		if rule.IsActive && rule.TriggerEvent == trigger && inScope(rule.AgencyID, scopeID) {
			rules = append(rules, rule)
		}
	}
	sortWorkflowRules(rules)
	return rules, nil
}

func (s *InMemoryRuleStore) RoutingCandidates(ctx context.Context, scopeID int64) ([]db.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []db.RoutingRule{}
	for _, rule := range s.routing {
		if rule.IsActive && inScope(rule.AgencyID, &scopeID) {
			rules = append(rules, rule)
		}
	}
	sortRoutingRules(rules)
	return rules, nil
}

func (s *InMemoryRuleStore) CreateWorkflowRule(ctx context.Context, rule db.WorkflowRule) (*db.WorkflowRule, error) {
	if err := ValidateWorkflowRule(rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rule.ID = s.allocateID()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.workflow[rule.ID] = rule
	return &rule, nil
}

func (s *InMemoryRuleStore) GetWorkflowRule(ctx context.Context, id int64) (*db.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.workflow[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &rule, nil
}

func (s *InMemoryRuleStore) ListWorkflowRules(ctx context.Context, scopeID *int64) ([]db.WorkflowRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []db.WorkflowRule{}
	for _, rule := range s.workflow {
		if scopeID == nil || inScope(rule.AgencyID, scopeID) {
			rules = append(rules, rule)
		}
	}
	sortWorkflowRules(rules)
	return rules, nil
}

func (s *InMemoryRuleStore) UpdateWorkflowRule(ctx context.Context, id int64, req db.UpdateWorkflowRuleRequest) (*db.WorkflowRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.workflow[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	applyWorkflowUpdate(&rule, req)
	if err := ValidateWorkflowRule(rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = time.Now()
	s.workflow[id] = rule
	return &rule, nil
}

func (s *InMemoryRuleStore) DeleteWorkflowRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflow[id]; !ok {
		return ErrRuleNotFound
	}
	delete(s.workflow, id)
	return nil
}

func (s *InMemoryRuleStore) CreateRoutingRule(ctx context.Context, rule db.RoutingRule) (*db.RoutingRule, error) {
	if err := ValidateRoutingRule(rule); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rule.ID = s.allocateID()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.routing[rule.ID] = rule
	return &rule, nil
}

func (s *InMemoryRuleStore) GetRoutingRule(ctx context.Context, id int64) (*db.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.routing[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return &rule, nil
}

func (s *InMemoryRuleStore) ListRoutingRules(ctx context.Context, scopeID *int64) ([]db.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := []db.RoutingRule{}
	for _, rule := range s.routing {
		if scopeID == nil || inScope(rule.AgencyID, scopeID) {
			rules = append(rules, rule)
		}
	}
	sortRoutingRules(rules)
	return rules, nil
}

func (s *InMemoryRuleStore) UpdateRoutingRule(ctx context.Context, id int64, req db.UpdateRoutingRuleRequest) (*db.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.routing[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	applyRoutingUpdate(&rule, req)
	if err := ValidateRoutingRule(rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = time.Now()
	s.routing[id] = rule
	return &rule, nil
}

func (s *InMemoryRuleStore) DeleteRoutingRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.routing[id]; !ok {
		return ErrRuleNotFound
	}
	delete(s.routing, id)
	return nil
}

// BumpRuleCounter increments a rule's execution counter, used by the in-memory recorder
func (s *InMemoryRuleStore) BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case db.RuleKindWorkflow:
		rule, ok := s.workflow[ruleID]
		if !ok {
			return ErrRuleNotFound
		}
		rule.ExecutionCount++
		rule.LastExecutedAt = &at
		s.workflow[ruleID] = rule
	case db.RuleKindRouting:
		rule, ok := s.routing[ruleID]
		if !ok {
			return ErrRuleNotFound
		}
		rule.ExecutionCount++
		rule.LastExecutedAt = &at
		s.routing[ruleID] = rule
	}
	return nil
}
