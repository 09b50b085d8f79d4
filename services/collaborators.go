package services

import (
	"context"

	"github.com/coverdesk/automation/db"
)

// Collaborators are the side-effecting services the action handlers and the
// routing strategies call. Each call receives its own bounded context.

// Notifier stores an in-app notification and pushes it to the user's devices
type Notifier interface {
	Send(ctx context.Context, n db.NotificationInput) error
}

// Mailer delivers a plain text email
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// WebhookPoster POSTs a JSON payload and returns the response status code
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload interface{}) (int, error)
}

// EntityRepository reads and mutates leads, applications, policies and claims.
// Find returns (nil, nil) when the entity does not exist.
type EntityRepository interface {
	Find(ctx context.Context, entityType db.EntityType, id int64) (*db.Entity, error)
	UpdateStatus(ctx context.Context, entityType db.EntityType, id int64, status string) error
	UpdateNotes(ctx context.Context, entityType db.EntityType, id int64, notes string) error
}

// LeadAssigner sets the servicing agent of a lead
type LeadAssigner interface {
	AssignLead(ctx context.Context, leadID, agentID int64) error
}

// TaskRepository creates follow-up tasks
type TaskRepository interface {
	Create(ctx context.Context, task db.ScheduledTaskInput) (*db.ScheduledTask, error)
}

// AgencyDirectory answers agency ownership questions for the routing fallback.
// OwnerID returns nil when the agency has no owner.
type AgencyDirectory interface {
	OwnerID(ctx context.Context, agencyID int64) (*int64, error)
}

// AgentLoadCounter reports the open lead count for each agent in the pool
type AgentLoadCounter interface {
	OpenLeadCounts(ctx context.Context, agentIDs []int64) (map[int64]int, error)
}

// RotationCursor hands out a monotonically increasing position per key
type RotationCursor interface {
	Next(ctx context.Context, key string) (int64, error)
}
