package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coverdesk/automation/db"
)

// entityTables maps entity types to their tables; nothing else is ever interpolated into SQL
var entityTables = map[db.EntityType]string{
	db.EntityLead:        "leads",
	db.EntityApplication: "applications",
	db.EntityPolicy:      "policies",
	db.EntityClaim:       "claims",
}

// EntityService reads and updates leads, applications, policies and claims
type EntityService struct {
	PG *sql.DB
}

func NewEntityService(pg *sql.DB) *EntityService {
	return &EntityService{PG: pg}
}

func entityTable(entityType db.EntityType) (string, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return "", fmt.Errorf("unsupported entity type: %s", entityType)
	}
	return table, nil
}

// Find returns the entity, or nil when it does not exist
func (s *EntityService) Find(ctx context.Context, entityType db.EntityType, id int64) (*db.Entity, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}

	entity := db.Entity{Type: entityType}
	var agencyID, assignedAgentID sql.NullInt64
	var notes sql.NullString

	err = s.PG.QueryRowContext(ctx,
		"SELECT id, agency_id, status, notes, assigned_agent_id, updated_at FROM "+table+" WHERE id = $1", id,
	).Scan(&entity.ID, &agencyID, &entity.Status, &notes, &assignedAgentID, &entity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if agencyID.Valid {
		entity.AgencyID = &agencyID.Int64
	}
	if assignedAgentID.Valid {
		entity.AssignedAgentID = &assignedAgentID.Int64
	}
	if notes.Valid {
		entity.Notes = notes.String
	}
	return &entity, nil
}

func (s *EntityService) updateColumn(ctx context.Context, entityType db.EntityType, id int64, column string, value interface{}) error {
	table, err := entityTable(entityType)
	if err != nil {
		return err
	}

	result, err := s.PG.ExecContext(ctx,
		"UPDATE "+table+" SET "+column+" = $1, updated_at = $2 WHERE id = $3",
		value, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update %s %d: %w", entityType, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %d not found", entityType, id)
	}
	return nil
}

// UpdateStatus sets the entity's status
func (s *EntityService) UpdateStatus(ctx context.Context, entityType db.EntityType, id int64, status string) error {
	return s.updateColumn(ctx, entityType, id, "status", status)
}

// UpdateNotes replaces the entity's free-text notes
func (s *EntityService) UpdateNotes(ctx context.Context, entityType db.EntityType, id int64, notes string) error {
	return s.updateColumn(ctx, entityType, id, "notes", notes)
}

// AssignLead sets the servicing agent of a lead
func (s *EntityService) AssignLead(ctx context.Context, leadID, agentID int64) error {
	return s.updateColumn(ctx, db.EntityLead, leadID, "assigned_agent_id", agentID)
}
