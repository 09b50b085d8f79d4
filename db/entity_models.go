package db

import "time"

// EntityType names a business entity an action can target
type EntityType string

const (
	EntityLead        EntityType = "lead"
	EntityApplication EntityType = "application"
	EntityPolicy      EntityType = "policy"
	EntityClaim       EntityType = "claim"
)

// IsValidEntityType reports whether t is a supported entity type
func IsValidEntityType(t EntityType) bool {
	switch t {
	case EntityLead, EntityApplication, EntityPolicy, EntityClaim:
		return true
	}
	return false
}

// Entity is the slice of a lead/application/policy/claim row the engine touches
type Entity struct {
	Type            EntityType `json:"type"`
	ID              int64      `json:"id"`
	AgencyID        *int64     `json:"agency_id,omitempty"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes"`
	AssignedAgentID *int64     `json:"assigned_agent_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Agency owns agents, leads and scoped rules
type Agency struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID *int64    `json:"owner_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification types
const (
	NotificationTypeAutomation = "automation"
	NotificationTypeAssignment = "assignment"
	NotificationTypeReminder   = "reminder"
)

// NotificationInput is what the notify action hands to the notification collaborator
type NotificationInput struct {
	UserID    int64                  `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	IconRef   string                 `json:"icon_ref,omitempty"`
	ActionURL string                 `json:"action_url,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notification is an in-app notification row
type Notification struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"user_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	IconRef   string                 `json:"icon_ref,omitempty"`
	ActionURL string                 `json:"action_url,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// ScheduledTaskInput is what the create_task action hands to the task collaborator
type ScheduledTaskInput struct {
	AssigneeID  int64     `json:"assignee_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueAt       time.Time `json:"due_at"`
	LeadID      *int64    `json:"lead_id,omitempty"`
}

// ScheduledTask is a reminder scheduled for an agent
type ScheduledTask struct {
	ID          int64      `json:"id"`
	AssigneeID  int64      `json:"assignee_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       time.Time  `json:"due_at"`
	LeadID      *int64     `json:"lead_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// APIKey authenticates machine callers of the admin API
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	AgencyID   *int64     `json:"agency_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
