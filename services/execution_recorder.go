package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coverdesk/automation/db"
	"github.com/google/uuid"
)

// ExecutionOutcome is what Finish writes onto a running record
type ExecutionOutcome struct {
	Status        db.ExecutionStatus
	ActionResults []db.ActionResult
	ErrorMessage  string
	Duration      time.Duration
}

// ExecutionRecorder persists the audit trail of rule invocations.
// A record is created running and finished exactly once.
type ExecutionRecorder interface {
	Start(ctx context.Context, rec db.ExecutionRecord) (*db.ExecutionRecord, error)
	Finish(ctx context.Context, id string, outcome ExecutionOutcome) error
	BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error
}

// ExecutionHistory reads execution records back for the admin API
type ExecutionHistory interface {
	ListExecutions(ctx context.Context, filter db.ExecutionFilter) ([]db.ExecutionRecord, error)
	GetExecution(ctx context.Context, id string) (*db.ExecutionRecord, error)
}

const defaultExecutionListLimit = 50

func validateOutcome(outcome ExecutionOutcome) error {
	if outcome.Status != db.ExecutionCompleted && outcome.Status != db.ExecutionFailed {
		return fmt.Errorf("execution cannot finish with status %q", outcome.Status)
	}
	return nil
}

func durationMs(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d.Milliseconds())
}

// ExecutionService is the Postgres execution recorder
type ExecutionService struct {
	PG *sql.DB
}

func NewExecutionService(pg *sql.DB) *ExecutionService {
	return &ExecutionService{PG: pg}
}

// Start inserts a running record and returns it with its id assigned
func (s *ExecutionService) Start(ctx context.Context, rec db.ExecutionRecord) (*db.ExecutionRecord, error) {
	rec.ID = uuid.New().String()
	rec.Status = db.ExecutionRunning
	rec.ActionResults = []db.ActionResult{}
	rec.CreatedAt = time.Now()

	contextJSON, err := json.Marshal(rec.TriggerContext)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger context: %w", err)
	}

	_, err = s.PG.ExecContext(ctx, `
		INSERT INTO rule_executions
		(id, rule_kind, rule_id, agency_id, trigger_event, trigger_context, status, action_results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '[]', $8)
	`, rec.ID, string(rec.RuleKind), rec.RuleID, nullableID(rec.AgencyID), rec.TriggerEvent, contextJSON,
		string(rec.Status), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start execution record for rule %d: %w", rec.RuleID, err)
	}

	return &rec, nil
}

// Finish moves a running record to completed or failed. Records that already
// left running are never touched again.
func (s *ExecutionService) Finish(ctx context.Context, id string, outcome ExecutionOutcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}

	results := outcome.ActionResults
	if results == nil {
		results = []db.ActionResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("invalid action results: %w", err)
	}

	var errorMessage interface{}
	if outcome.ErrorMessage != "" {
		errorMessage = outcome.ErrorMessage
	}

	result, err := s.PG.ExecContext(ctx, `
		UPDATE rule_executions
		SET status = $2, action_results = $3, error_message = $4, duration_ms = $5, completed_at = $6
		WHERE id = $1 AND status = 'running'
	`, id, string(outcome.Status), resultsJSON, errorMessage, durationMs(outcome.Duration), time.Now())
	if err != nil {
		return fmt.Errorf("failed to finish execution %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = s.PG.QueryRowContext(ctx, `SELECT status FROM rule_executions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrExecutionNotFound
	}
	if err != nil {
		return err
	}
	return ErrExecutionFinalized
}

// BumpRuleCounter increments execution_count and last_executed_at on the rule
func (s *ExecutionService) BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error {
	table, err := ruleTable(kind)
	if err != nil {
		return err
	}
	_, err = s.PG.ExecContext(ctx,
		"UPDATE "+table+" SET execution_count = execution_count + 1, last_executed_at = $1 WHERE id = $2",
		at, ruleID)
	return err
}

const executionColumns = `e.id, e.rule_kind, e.rule_id, e.agency_id, e.trigger_event, e.trigger_context,
	e.status, e.action_results, e.error_message, e.duration_ms, e.created_at, e.completed_at,
	COALESCE(w.name, r.name, '') AS rule_name`

const executionJoins = `
		FROM rule_executions e
		LEFT JOIN workflow_rules w ON e.rule_kind = 'workflow' AND w.id = e.rule_id
		LEFT JOIN lead_routing_rules r ON e.rule_kind = 'routing' AND r.id = e.rule_id`

func scanExecution(row rowScanner) (*db.ExecutionRecord, error) {
	var rec db.ExecutionRecord
	var kind, status string
	var agencyID sql.NullInt64
	var contextJSON, resultsJSON []byte
	var errorMessage sql.NullString
	var duration sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&rec.ID, &kind, &rec.RuleID, &agencyID, &rec.TriggerEvent, &contextJSON,
		&status, &resultsJSON, &errorMessage, &duration, &rec.CreatedAt, &completedAt,
		&rec.RuleName,
	)
	if err != nil {
		return nil, err
	}

	rec.RuleKind = db.RuleKind(kind)
	rec.Status = db.ExecutionStatus(status)
	if agencyID.Valid {
		rec.AgencyID = &agencyID.Int64
	}
	if errorMessage.Valid {
		rec.ErrorMessage = &errorMessage.String
	}
	if duration.Valid {
		rec.DurationMs = int(duration.Int64)
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &rec.TriggerContext); err != nil {
			return nil, fmt.Errorf("execution %s: decode context: %w", rec.ID, err)
		}
	}
	rec.ActionResults = []db.ActionResult{}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &rec.ActionResults); err != nil {
			return nil, fmt.Errorf("execution %s: decode action results: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// ListExecutions returns the newest records first
func (s *ExecutionService) ListExecutions(ctx context.Context, filter db.ExecutionFilter) ([]db.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + executionJoins + ` WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filter.RuleKind != "" {
		query += fmt.Sprintf(" AND e.rule_kind = $%d", argIndex)
		args = append(args, string(filter.RuleKind))
		argIndex++
	}
	if filter.RuleID != 0 {
		query += fmt.Sprintf(" AND e.rule_id = $%d", argIndex)
		args = append(args, filter.RuleID)
		argIndex++
	}
	if filter.AgencyID != nil {
		query += fmt.Sprintf(" AND e.agency_id = $%d", argIndex)
		args = append(args, *filter.AgencyID)
		argIndex++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND e.status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultExecutionListLimit
	}
	query += fmt.Sprintf(" ORDER BY e.created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	records := []db.ExecutionRecord{}
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetExecution retrieves a single record
func (s *ExecutionService) GetExecution(ctx context.Context, id string) (*db.ExecutionRecord, error) {
	row := s.PG.QueryRowContext(ctx, `SELECT `+executionColumns+executionJoins+` WHERE e.id = $1`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	return rec, err
}

func ruleTable(kind db.RuleKind) (string, error) {
	switch kind {
	case db.RuleKindWorkflow:
		return "workflow_rules", nil
	case db.RuleKindRouting:
		return "lead_routing_rules", nil
	}
	return "", fmt.Errorf("unknown rule kind %q", kind)
}

// RuleCounter is implemented by stores that track execution counters themselves
type RuleCounter interface {
	BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error
}

// InMemoryExecutionRecorder keeps records in memory. Counter bumps are
// forwarded to Counters when set.
type InMemoryExecutionRecorder struct {
	mu      sync.RWMutex
	records map[string]db.ExecutionRecord
	order   []string

	Counters RuleCounter
}

func NewInMemoryExecutionRecorder(counters RuleCounter) *InMemoryExecutionRecorder {
	return &InMemoryExecutionRecorder{
		records:  make(map[string]db.ExecutionRecord),
		Counters: counters,
	}
}

func (r *InMemoryExecutionRecorder) Start(ctx context.Context, rec db.ExecutionRecord) (*db.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec.ID = uuid.New().String()
	rec.Status = db.ExecutionRunning
	rec.ActionResults = []db.ActionResult{}
	rec.CreatedAt = time.Now()
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return &rec, nil
}

func (r *InMemoryExecutionRecorder) Finish(ctx context.Context, id string, outcome ExecutionOutcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return ErrExecutionNotFound
	}
	if rec.Status != db.ExecutionRunning {
		return ErrExecutionFinalized
	}

	now := time.Now()
	rec.Status = outcome.Status
	rec.ActionResults = append([]db.ActionResult{}, outcome.ActionResults...)
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		rec.ErrorMessage = &msg
	}
	rec.DurationMs = durationMs(outcome.Duration)
	rec.CompletedAt = &now
	r.records[id] = rec
	return nil
}

func (r *InMemoryExecutionRecorder) BumpRuleCounter(ctx context.Context, kind db.RuleKind, ruleID int64, at time.Time) error {
	if r.Counters == nil {
		return nil
	}
	return r.Counters.BumpRuleCounter(ctx, kind, ruleID, at)
}

func (r *InMemoryExecutionRecorder) ListExecutions(ctx context.Context, filter db.ExecutionFilter) ([]db.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := []db.ExecutionRecord{}
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if filter.RuleKind != "" && rec.RuleKind != filter.RuleKind {
			continue
		}
		if filter.RuleID != 0 && rec.RuleID != filter.RuleID {
			continue
		}
		if filter.AgencyID != nil && (rec.AgencyID == nil || *rec.AgencyID != *filter.AgencyID) {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		records = append(records, rec)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultExecutionListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *InMemoryExecutionRecorder) GetExecution(ctx context.Context, id string) (*db.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return &rec, nil
}

// Records returns every record in creation order
func (r *InMemoryExecutionRecorder) Records() []db.ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]db.ExecutionRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}
