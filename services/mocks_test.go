package services

import (
	"context"
	"sync"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/stretchr/testify/mock"
)

// MockNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, n db.NotificationInput) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockMailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	args := m.Called(ctx, to, subject, body)
	return args.Error(0)
}

// MockWebhookPoster
type MockWebhookPoster struct {
	mock.Mock
}

func (m *MockWebhookPoster) Post(ctx context.Context, url string, payload interface{}) (int, error) {
	args := m.Called(ctx, url, payload)
	return args.Int(0), args.Error(1)
}

// MockLeadAssigner
type MockLeadAssigner struct {
	mock.Mock
}

func (m *MockLeadAssigner) AssignLead(ctx context.Context, leadID, agentID int64) error {
	args := m.Called(ctx, leadID, agentID)
	return args.Error(0)
}

// MockAgencyDirectory
type MockAgencyDirectory struct {
	mock.Mock
}

func (m *MockAgencyDirectory) OwnerID(ctx context.Context, agencyID int64) (*int64, error) {
	args := m.Called(ctx, agencyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*int64), args.Error(1)
}

// MockAgentLoadCounter
type MockAgentLoadCounter struct {
	mock.Mock
}

func (m *MockAgentLoadCounter) OpenLeadCounts(ctx context.Context, agentIDs []int64) (map[int64]int, error) {
	args := m.Called(ctx, agentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]int), args.Error(1)
}

// fakeEntities is an in-memory EntityRepository that keeps notes and status
type fakeEntities struct {
	mu       sync.Mutex
	entities map[db.EntityType]map[int64]*db.Entity
	writes   int
}

func newFakeEntities() *fakeEntities {
	return &fakeEntities{entities: make(map[db.EntityType]map[int64]*db.Entity)}
}

func (f *fakeEntities) add(e db.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entities[e.Type] == nil {
		f.entities[e.Type] = make(map[int64]*db.Entity)
	}
	copied := e
	f.entities[e.Type][e.ID] = &copied
}

func (f *fakeEntities) get(t db.EntityType, id int64) *db.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entities[t][id]
}

func (f *fakeEntities) Find(ctx context.Context, t db.EntityType, id int64) (*db.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[t][id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (f *fakeEntities) UpdateStatus(ctx context.Context, t db.EntityType, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[t][id].Status = status
	f.writes++
	return nil
}

func (f *fakeEntities) UpdateNotes(ctx context.Context, t db.EntityType, id int64, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[t][id].Notes = notes
	f.writes++
	return nil
}

// fakeTasks records created tasks
type fakeTasks struct {
	mu    sync.Mutex
	tasks []db.ScheduledTaskInput
}

func (f *fakeTasks) Create(ctx context.Context, task db.ScheduledTaskInput) (*db.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return &db.ScheduledTask{
		ID:         int64(len(f.tasks)),
		AssigneeID: task.AssigneeID,
		Title:      task.Title,
		DueAt:      task.DueAt,
		LeadID:     task.LeadID,
	}, nil
}

// fakeNotifier records notifications
type fakeNotifier struct {
	mu   sync.Mutex
	sent []db.NotificationInput
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, n db.NotificationInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

// failingRecorder wraps a recorder and injects persistence errors
type failingRecorder struct {
	ExecutionRecorder
	startErr   error
	finishErr  error
	counterErr error
	bumps      int
}

func (r *failingRecorder) Start(ctx context.Context, rec db.ExecutionRecord) (*db.ExecutionRecord, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	return r.ExecutionRecorder.Start(ctx, rec)
}

func (r *failingRecorder) Finish(ctx context.Context, id string, outcome ExecutionOutcome) error {
	if r.finishErr != nil {
		return r.finishErr
	}
	return r.ExecutionRecorder.Finish(ctx, id, outcome)
}

func (r *failingRecorder) BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error {
	r.bumps++
	if r.counterErr != nil {
		return r.counterErr
	}
	return r.ExecutionRecorder.BumpRuleCounter(ctx, kind, ruleID, at)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func intPtr(v int) *int {
	return &v
}

var fixedNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
