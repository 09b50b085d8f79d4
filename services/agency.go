package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// AgencyService answers ownership and workload questions for lead routing
type AgencyService struct {
	PG *sql.DB
}

func NewAgencyService(pg *sql.DB) *AgencyService {
	return &AgencyService{PG: pg}
}

// OwnerID returns the agency owner's user id, or nil when unset or the agency is unknown
func (s *AgencyService) OwnerID(ctx context.Context, agencyID int64) (*int64, error) {
	var owner sql.NullInt64
	err := s.PG.QueryRowContext(ctx, "SELECT owner_user_id FROM agencies WHERE id = $1", agencyID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agency %d: %w", agencyID, err)
	}
	if !owner.Valid {
		return nil, nil
	}
	return &owner.Int64, nil
}

// OpenLeadCounts counts leads not yet closed per assigned agent.
// Agents without open leads are present with a zero count.
func (s *AgencyService) OpenLeadCounts(ctx context.Context, agentIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(agentIDs))
	for _, id := range agentIDs {
		counts[id] = 0
	}
	if len(agentIDs) == 0 {
		return counts, nil
	}

	rows, err := s.PG.QueryContext(ctx, `
		SELECT assigned_agent_id, COUNT(*)
		FROM leads
		WHERE assigned_agent_id = ANY($1)
		  AND status NOT IN ('converted', 'lost', 'closed')
		GROUP BY assigned_agent_id
	`, pq.Array(agentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to count open leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agentID int64
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		counts[agentID] = count
	}
	return counts, rows.Err()
}
