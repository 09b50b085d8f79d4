package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/coverdesk/automation/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionService_Start(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	mock.ExpectExec("INSERT INTO rule_executions").
		WithArgs(sqlmock.AnyArg(), "workflow", int64(4), int64(2), "lead.created", []byte(`{"lead_id":42}`), "running", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec, err := NewExecutionService(pg).Start(context.Background(), db.ExecutionRecord{
		RuleKind:       db.RuleKindWorkflow,
		RuleID:         4,
		AgencyID:       int64Ptr(2),
		TriggerEvent:   "lead.created",
		TriggerContext: map[string]interface{}{"lead_id": 42},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, db.ExecutionRunning, rec.Status)
	assert.Empty(t, rec.ActionResults)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionService_Finish(t *testing.T) {
	outcome := ExecutionOutcome{
		Status:        db.ExecutionCompleted,
		ActionResults: []db.ActionResult{{Type: "notify", Status: db.ActionStatusSuccess, Message: "notified user 7"}},
		Duration:      1500 * time.Millisecond,
	}
	resultsJSON := []byte(`[{"type":"notify","status":"success","message":"notified user 7"}]`)

	tests := []struct {
		name     string
		mockFunc func(mock sqlmock.Sqlmock)
		wantErr  error
	}{
		{
			name: "running record is finished",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE rule_executions\s+SET status = \$2.*WHERE id = \$1 AND status = 'running'`).
					WithArgs("exec-1", "completed", resultsJSON, nil, 1500, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "finished record is left alone",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE rule_executions").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM rule_executions WHERE id = \\$1").
					WithArgs("exec-1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
			},
			wantErr: ErrExecutionFinalized,
		},
		{
			name: "unknown record",
			mockFunc: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE rule_executions").
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM rule_executions WHERE id = \\$1").
					WithArgs("exec-1").
					WillReturnRows(sqlmock.NewRows([]string{"status"}))
			},
			wantErr: ErrExecutionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer pg.Close()

			tt.mockFunc(mock)

			err = NewExecutionService(pg).Finish(context.Background(), "exec-1", outcome)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutionService_FinishRejectsRunningStatus(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	err = NewExecutionService(pg).Finish(context.Background(), "exec-1", ExecutionOutcome{Status: db.ExecutionRunning})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionService_BumpRuleCounter(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE lead_routing_rules SET execution_count = execution_count \+ 1, last_executed_at = \$1 WHERE id = \$2`).
		WithArgs(at, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	service := NewExecutionService(pg)
	require.NoError(t, service.BumpRuleCounter(context.Background(), db.RuleKindRouting, 9, at))
	assert.Error(t, service.BumpRuleCounter(context.Background(), "escalation", 9, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionService_ListExecutions(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "rule_kind", "rule_id", "agency_id", "trigger_event", "trigger_context",
		"status", "action_results", "error_message", "duration_ms", "created_at", "completed_at",
		"rule_name",
	}).AddRow(
		"exec-2", "workflow", 4, nil, "lead.created", []byte(`{"lead_id":42}`),
		"failed", []byte(`[]`), "rule panicked: boom", 12, now, now,
		"Auto leads",
	)

	mock.ExpectQuery(`SELECT .* FROM rule_executions e.* AND e.rule_id = \$1 AND e.status = \$2 ORDER BY e.created_at DESC LIMIT \$3`).
		WithArgs(int64(4), "failed", 50).
		WillReturnRows(rows)

	records, err := NewExecutionService(pg).ListExecutions(context.Background(), db.ExecutionFilter{RuleID: 4, Status: db.ExecutionFailed})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "Auto leads", rec.RuleName)
	assert.Equal(t, db.ExecutionFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "rule panicked: boom", *rec.ErrorMessage)
	assert.Equal(t, 12, rec.DurationMs)
	assert.Equal(t, float64(42), rec.TriggerContext["lead_id"])
	assert.NotNil(t, rec.ActionResults)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInMemoryExecutionRecorder_Lifecycle(t *testing.T) {
	recorder := NewInMemoryExecutionRecorder(nil)
	ctx := context.Background()

	rec, err := recorder.Start(ctx, db.ExecutionRecord{RuleKind: db.RuleKindWorkflow, RuleID: 1, TriggerEvent: "lead.created"})
	require.NoError(t, err)
	assert.Equal(t, db.ExecutionRunning, rec.Status)

	err = recorder.Finish(ctx, rec.ID, ExecutionOutcome{
		Status:        db.ExecutionFailed,
		ErrorMessage:  "boom",
		ActionResults: []db.ActionResult{{Type: "notify", Status: db.ActionStatusFailed}},
		Duration:      20 * time.Millisecond,
	})
	require.NoError(t, err)

	err = recorder.Finish(ctx, rec.ID, ExecutionOutcome{Status: db.ExecutionCompleted})
	assert.True(t, errors.Is(err, ErrExecutionFinalized))

	err = recorder.Finish(ctx, "missing", ExecutionOutcome{Status: db.ExecutionCompleted})
	assert.True(t, errors.Is(err, ErrExecutionNotFound))

	got, err := recorder.GetExecution(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, db.ExecutionFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "boom", *got.ErrorMessage)
	assert.Equal(t, 20, got.DurationMs)
	assert.Len(t, got.ActionResults, 1)
	assert.NotNil(t, got.CompletedAt)

	assert.NoError(t, recorder.BumpRuleCounter(ctx, db.RuleKindWorkflow, 1, time.Now()))
}

func TestInMemoryExecutionRecorder_ListNewestFirst(t *testing.T) {
	recorder := NewInMemoryExecutionRecorder(nil)
	ctx := context.Background()

	var ids []string
	for i := int64(1); i <= 3; i++ {
		rec, err := recorder.Start(ctx, db.ExecutionRecord{RuleKind: db.RuleKindRouting, RuleID: i})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	records, err := recorder.ListExecutions(ctx, db.ExecutionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[1], records[1].ID)

	records, err = recorder.ListExecutions(ctx, db.ExecutionFilter{RuleID: 1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ids[0], records[0].ID)
}
