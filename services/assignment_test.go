package services

import (
	"context"
	"errors"
	"testing"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func poolRule(id int64, strategy db.StrategyType, pool ...int64) db.RoutingRule {
	return db.RoutingRule{ID: id, Strategy: db.AssignmentStrategy{Type: strategy, AgentPool: pool}}
}

func TestFixedAgentStrategy(t *testing.T) {
	agentID, err := FixedAgentStrategy{}.Resolve(context.Background(),
		db.RoutingRule{Strategy: db.AssignmentStrategy{Type: db.StrategyFixedAgent, AgentID: int64Ptr(12)}}, rulecontext.New(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(12), *agentID)

	agentID, err = FixedAgentStrategy{}.Resolve(context.Background(), db.RoutingRule{}, rulecontext.New(nil))
	require.NoError(t, err)
	assert.Nil(t, agentID)
}

func TestRoundRobinStrategy_CyclesPerRule(t *testing.T) {
	strategy := RoundRobinStrategy{Cursor: NewMemoryRotationCursor()}
	ruleA := poolRule(1, db.StrategyRoundRobin, 10, 20, 30)
	ruleB := poolRule(2, db.StrategyRoundRobin, 40, 50)

	next := func(rule db.RoutingRule) int64 {
		agentID, err := strategy.Resolve(context.Background(), rule, rulecontext.New(nil))
		require.NoError(t, err)
		require.NotNil(t, agentID)
		return *agentID
	}

	assert.Equal(t, int64(10), next(ruleA))
	assert.Equal(t, int64(40), next(ruleB))
	assert.Equal(t, int64(20), next(ruleA))
	assert.Equal(t, int64(30), next(ruleA))
	assert.Equal(t, int64(50), next(ruleB))
	assert.Equal(t, int64(10), next(ruleA))
	assert.Equal(t, int64(40), next(ruleB))
}

type errorCursor struct{}

func (errorCursor) Next(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func TestRoundRobinStrategy_Errors(t *testing.T) {
	agentID, err := RoundRobinStrategy{Cursor: errorCursor{}}.Resolve(context.Background(), poolRule(1, db.StrategyRoundRobin, 1), rulecontext.New(nil))
	assert.Error(t, err)
	assert.Nil(t, agentID)

	_, err = RoundRobinStrategy{}.Resolve(context.Background(), poolRule(1, db.StrategyRoundRobin, 1), rulecontext.New(nil))
	assert.Error(t, err)

	agentID, err = RoundRobinStrategy{}.Resolve(context.Background(), poolRule(1, db.StrategyRoundRobin), rulecontext.New(nil))
	assert.NoError(t, err)
	assert.Nil(t, agentID)
}

func TestLeastLoadedStrategy(t *testing.T) {
	tests := []struct {
		name   string
		pool   []int64
		counts map[int64]int
		want   int64
	}{
		{name: "lowest count wins", pool: []int64{1, 2, 3}, counts: map[int64]int{1: 4, 2: 1, 3: 2}, want: 2},
		{name: "ties go to first listed", pool: []int64{3, 1, 2}, counts: map[int64]int{1: 2, 2: 2, 3: 2}, want: 3},
		{name: "missing agents count as zero", pool: []int64{1, 2}, counts: map[int64]int{1: 3}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loads := new(MockAgentLoadCounter)
			loads.On("OpenLeadCounts", mock.Anything, tt.pool).Return(tt.counts, nil)

			agentID, err := LeastLoadedStrategy{Loads: loads}.Resolve(context.Background(), poolRule(1, db.StrategyLeastLoaded, tt.pool...), rulecontext.New(nil))
			require.NoError(t, err)
			require.NotNil(t, agentID)
			assert.Equal(t, tt.want, *agentID)
			loads.AssertExpectations(t)
		})
	}
}

func TestRotationKey(t *testing.T) {
	assert.Equal(t, "routing_rule:17", RotationKey(17))
}
