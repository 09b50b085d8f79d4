package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
)

// TaskService stores follow-up reminders for agents
type TaskService struct {
	PG *sql.DB
}

func NewTaskService(pg *sql.DB) *TaskService {
	return &TaskService{PG: pg}
}

// Create inserts a scheduled task
func (s *TaskService) Create(ctx context.Context, input db.ScheduledTaskInput) (*db.ScheduledTask, error) {
	task := db.ScheduledTask{
		AssigneeID:  input.AssigneeID,
		Title:       input.Title,
		Description: input.Description,
		DueAt:       input.DueAt,
		LeadID:      input.LeadID,
		CreatedAt:   time.Now(),
	}

	err := s.PG.QueryRowContext(ctx, `
		INSERT INTO scheduled_tasks (assignee_id, title, description, due_at, lead_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, task.AssigneeID, task.Title, task.Description, task.DueAt, nullableID(task.LeadID), task.CreatedAt).Scan(&task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for user %d: %w", input.AssigneeID, err)
	}
	return &task, nil
}
