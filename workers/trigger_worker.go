package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/rulecontext"
)

// TriggerFirer runs workflow rules for an event
type TriggerFirer interface {
	FireTrigger(ctx context.Context, event string, rc rulecontext.Context, scopeID *int64) ([]db.RuleOutcome, error)
}

// LeadRouter picks a servicing agent for a lead
type LeadRouter interface {
	RouteLead(ctx context.Context, rc rulecontext.Context, agencyID int64) (*int64, error)
}

// LeadAssigner stores the routed agent on the lead
type LeadAssigner interface {
	AssignLead(ctx context.Context, leadID, agentID int64) error
}

// TriggerWorker drains the event queue into the workflow engine and lead router
type TriggerWorker struct {
	Queue        EventQueue
	Workflow     TriggerFirer
	Router       LeadRouter
	Assigner     LeadAssigner
	BlockTimeout time.Duration

	// RetryDelay is the pause after a queue read error
	RetryDelay time.Duration
}

func NewTriggerWorker(queue EventQueue, workflow TriggerFirer, router LeadRouter, assigner LeadAssigner, blockTimeout time.Duration) *TriggerWorker {
	return &TriggerWorker{
		Queue:        queue,
		Workflow:     workflow,
		Router:       router,
		Assigner:     assigner,
		BlockTimeout: blockTimeout,
		RetryDelay:   time.Second,
	}
}

// Start consumes events until ctx is cancelled
func (w *TriggerWorker) Start(ctx context.Context) {
	log.Info().Dur("block_timeout", w.BlockTimeout).Msg("Trigger worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Trigger worker stopped")
			return
		}

		payload, err := w.Queue.Pop(ctx, w.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Trigger worker stopped")
				return
			}
			log.Error().Err(err).Msg("Failed to read event queue")
			select {
			case <-ctx.Done():
			case <-time.After(w.RetryDelay):
			}
			continue
		}
		if payload == nil {
			continue
		}

		if err := w.HandleEvent(ctx, payload); err != nil {
			log.Error().Err(err).Msg("Event processing failed")
		}
	}
}

// HandleEvent processes one queued payload.
// Malformed payloads are logged and dropped; they are never retried.
func (w *TriggerWorker) HandleEvent(ctx context.Context, payload []byte) error {
	var evt db.DomainEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Warn().Err(err).Int("bytes", len(payload)).Msg("Dropping malformed event")
		return nil
	}
	if evt.Event == "" {
		log.Warn().Msg("Dropping event without a name")
		return nil
	}

	rc := rulecontext.New(evt.Context)
	logger := log.With().Str("trigger", evt.Event).Logger()

	if evt.Event == db.TriggerLeadAssignment {
		return w.routeLead(ctx, evt, rc)
	}

	outcomes, err := w.Workflow.FireTrigger(ctx, evt.Event, rc, evt.AgencyID)
	if err != nil {
		return fmt.Errorf("fire %s: %w", evt.Event, err)
	}
	logger.Debug().Int("matched", len(outcomes)).Msg("Event processed")
	return nil
}

func (w *TriggerWorker) routeLead(ctx context.Context, evt db.DomainEvent, rc rulecontext.Context) error {
	if evt.AgencyID == nil {
		log.Warn().Str("trigger", evt.Event).Msg("Dropping lead assignment without agency_id")
		return nil
	}

	agentID, err := w.Router.RouteLead(ctx, rc, *evt.AgencyID)
	if err != nil {
		return fmt.Errorf("route lead: %w", err)
	}
	if agentID == nil {
		log.Info().Int64("agency_id", *evt.AgencyID).Msg("No agent available for lead")
		return nil
	}

	leadID, ok := rc.GetInt("lead_id")
	if !ok || w.Assigner == nil {
		log.Info().Int64("agent_id", *agentID).Msg("Lead routed, nothing to assign")
		return nil
	}
	if err := w.Assigner.AssignLead(ctx, leadID, *agentID); err != nil {
		return fmt.Errorf("assign lead %d: %w", leadID, err)
	}

	log.Info().Int64("lead_id", leadID).Int64("agent_id", *agentID).Msg("Lead assigned")
	return nil
}
