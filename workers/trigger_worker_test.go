package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
)

type MockTriggerFirer struct {
	mock.Mock
}

func (m *MockTriggerFirer) FireTrigger(ctx context.Context, event string, rc rulecontext.Context, scopeID *int64) ([]db.RuleOutcome, error) {
	args := m.Called(ctx, event, rc, scopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.RuleOutcome), args.Error(1)
}

type MockLeadRouter struct {
	mock.Mock
}

func (m *MockLeadRouter) RouteLead(ctx context.Context, rc rulecontext.Context, agencyID int64) (*int64, error) {
	args := m.Called(ctx, rc, agencyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*int64), args.Error(1)
}

type MockLeadAssigner struct {
	mock.Mock
}

func (m *MockLeadAssigner) AssignLead(ctx context.Context, leadID, agentID int64) error {
	return m.Called(ctx, leadID, agentID).Error(0)
}

// chanQueue is an in-process EventQueue
type chanQueue struct {
	ch chan []byte

	mu      sync.Mutex
	popErrs []error
}

func newChanQueue() *chanQueue {
	return &chanQueue{ch: make(chan []byte, 16)}
}

func (q *chanQueue) Push(ctx context.Context, payload []byte) error {
	q.ch <- payload
	return nil
}

func (q *chanQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	q.mu.Lock()
	if len(q.popErrs) > 0 {
		err := q.popErrs[0]
		q.popErrs = q.popErrs[1:]
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Unlock()

	select {
	case p := <-q.ch:
		return p, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func int64Ptr(v int64) *int64 { return &v }

func encodeEvent(t *testing.T, evt db.DomainEvent) []byte {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func TestHandleEvent_FiresWorkflowTrigger(t *testing.T) {
	firer := new(MockTriggerFirer)
	worker := NewTriggerWorker(newChanQueue(), firer, new(MockLeadRouter), nil, 10*time.Millisecond)

	firer.On("FireTrigger", mock.Anything, "lead.created",
		mock.MatchedBy(func(rc rulecontext.Context) bool {
			name, _ := rc.GetString("lead.name")
			return name == "Ana"
		}),
		mock.MatchedBy(func(scope *int64) bool { return scope != nil && *scope == 7 }),
	).Return([]db.RuleOutcome{{RuleID: 1}}, nil).Once()

	payload := encodeEvent(t, db.DomainEvent{
		Event:    "lead.created",
		AgencyID: int64Ptr(7),
		Context:  map[string]interface{}{"lead": map[string]interface{}{"name": "Ana"}},
	})

	err := worker.HandleEvent(context.Background(), payload)

	require.NoError(t, err)
	firer.AssertExpectations(t)
}

func TestHandleEvent_PropagatesEngineError(t *testing.T) {
	firer := new(MockTriggerFirer)
	worker := NewTriggerWorker(newChanQueue(), firer, new(MockLeadRouter), nil, 10*time.Millisecond)

	firer.On("FireTrigger", mock.Anything, "policy.renewed", mock.Anything, mock.Anything).
		Return(nil, errors.New("store unavailable")).Once()

	err := worker.HandleEvent(context.Background(), encodeEvent(t, db.DomainEvent{Event: "policy.renewed"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestHandleEvent_DropsMalformedPayloads(t *testing.T) {
	firer := new(MockTriggerFirer)
	router := new(MockLeadRouter)
	worker := NewTriggerWorker(newChanQueue(), firer, router, nil, 10*time.Millisecond)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"not json", []byte("{not json")},
		{"missing event name", []byte(`{"context":{"a":1}}`)},
		{"assignment without agency", []byte(`{"event":"lead.assignment","context":{"lead_id":5}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, worker.HandleEvent(context.Background(), tt.payload))
		})
	}

	firer.AssertNotCalled(t, "FireTrigger", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	router.AssertNotCalled(t, "RouteLead", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEvent_LeadAssignment(t *testing.T) {
	tests := []struct {
		name       string
		context    map[string]interface{}
		agentID    *int64
		routeErr   error
		assignErr  error
		wantAssign bool
		wantErr    bool
	}{
		{
			name:       "routed and assigned",
			context:    map[string]interface{}{"lead_id": float64(42)},
			agentID:    int64Ptr(300),
			wantAssign: true,
		},
		{
			name:    "no agent available",
			context: map[string]interface{}{"lead_id": float64(42)},
		},
		{
			name:    "routed without lead id",
			context: map[string]interface{}{"insurance_type": "auto"},
			agentID: int64Ptr(300),
		},
		{
			name:     "router error",
			context:  map[string]interface{}{"lead_id": float64(42)},
			routeErr: errors.New("owner lookup failed"),
			wantErr:  true,
		},
		{
			name:       "assign error",
			context:    map[string]interface{}{"lead_id": float64(42)},
			agentID:    int64Ptr(300),
			assignErr:  errors.New("lead locked"),
			wantAssign: true,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			firer := new(MockTriggerFirer)
			router := new(MockLeadRouter)
			assigner := new(MockLeadAssigner)
			worker := NewTriggerWorker(newChanQueue(), firer, router, assigner, 10*time.Millisecond)

			router.On("RouteLead", mock.Anything, mock.Anything, int64(9)).Return(tt.agentID, tt.routeErr).Once()
			if tt.wantAssign {
				assigner.On("AssignLead", mock.Anything, int64(42), int64(300)).Return(tt.assignErr).Once()
			}

			err := worker.HandleEvent(context.Background(), encodeEvent(t, db.DomainEvent{
				Event:    db.TriggerLeadAssignment,
				AgencyID: int64Ptr(9),
				Context:  tt.context,
			}))

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			router.AssertExpectations(t)
			assigner.AssertExpectations(t)
			if !tt.wantAssign {
				assigner.AssertNotCalled(t, "AssignLead", mock.Anything, mock.Anything, mock.Anything)
			}
			firer.AssertNotCalled(t, "FireTrigger", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestTriggerWorker_StartDrainsQueueUntilCancelled(t *testing.T) {
	queue := newChanQueue()
	queue.popErrs = []error{errors.New("connection reset")}

	firer := new(MockTriggerFirer)
	done := make(chan struct{}, 2)
	firer.On("FireTrigger", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { done <- struct{}{} }).
		Return([]db.RuleOutcome{}, nil)

	worker := NewTriggerWorker(queue, firer, new(MockLeadRouter), nil, 10*time.Millisecond)
	worker.RetryDelay = time.Millisecond

	publisher := NewEventPublisher(queue)
	require.NoError(t, publisher.Publish(context.Background(), "claim.filed", nil, nil))
	require.NoError(t, publisher.Publish(context.Background(), "claim.updated", int64Ptr(3), map[string]interface{}{"claim_id": 1}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(stopped)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("event was not processed")
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	firer.AssertCalled(t, "FireTrigger", mock.Anything, "claim.filed", mock.Anything, (*int64)(nil))
	firer.AssertCalled(t, "FireTrigger", mock.Anything, "claim.updated", mock.Anything, int64Ptr(3))
}

func TestEventPublisher_Publish(t *testing.T) {
	queue := newChanQueue()
	publisher := NewEventPublisher(queue)
	publisher.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	err := publisher.Publish(context.Background(), "application.submitted", int64Ptr(4), map[string]interface{}{"application_id": 12})
	require.NoError(t, err)

	var evt db.DomainEvent
	require.NoError(t, json.Unmarshal(<-queue.ch, &evt))
	assert.Equal(t, "application.submitted", evt.Event)
	assert.Equal(t, int64(4), *evt.AgencyID)
	assert.Equal(t, float64(12), evt.Context["application_id"])
	assert.True(t, evt.EnqueuedAt.Equal(publisher.Now()))
}

func TestEventPublisher_RejectsEmptyEvent(t *testing.T) {
	publisher := NewEventPublisher(newChanQueue())
	assert.Error(t, publisher.Publish(context.Background(), "", nil, nil))
}
