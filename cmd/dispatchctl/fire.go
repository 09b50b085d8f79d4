package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coverdesk/automation/db"
	"github.com/coverdesk/automation/internal/config"
	"github.com/coverdesk/automation/internal/rulecontext"
	"github.com/coverdesk/automation/services"
	"github.com/coverdesk/automation/workers"
)

var async bool

var fireCmd = &cobra.Command{
	Use:   "fire EVENT",
	Short: "Announce an event and run matching workflow rules",
	Long: `Fire a trigger against the configured database. Actions really run.

With --async the event is queued on Redis for the worker instead. The worker
also accepts lead.assignment and assigns the lead named by lead_id.

Examples:
  dispatchctl fire lead.created --agency 42 --context '{"lead":{"name":"Ana","source":"website"}}'
  dispatchctl fire policy.issued --context '{"policy_id":7}'   # global rules only
  dispatchctl fire lead.assignment --async --agency 42 --context '{"lead_id":981}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		event := args[0]

		var scope *int64
		if cmd.Flags().Changed("agency") {
			scope = &agencyID
		}

		values, err := parseContext(contextArg)
		if err != nil {
			return err
		}

		if async {
			return enqueueEvent(cmd, event, scope, values)
		}
		if event == db.TriggerLeadAssignment {
			return errors.New("lead.assignment is resolved by routing rules, use dispatchctl route or --async")
		}

		engine, closeFn, err := openEngine()
		if err != nil {
			return err
		}
		defer closeFn()

		outcomes, err := engine.Workflow.FireTrigger(cmd.Context(), event, rulecontext.New(values), scope)
		if err != nil {
			return err
		}
		return printJSON(cmd, outcomes)
	},
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Resolve the agent a lead would be routed to",
	Long: `Run lead routing for an agency. Round-robin cursors advance.

Examples:
  dispatchctl route --agency 42 --context '{"insurance_type":"auto","state":"TX"}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := parseContext(contextArg)
		if err != nil {
			return err
		}

		engine, closeFn, err := openEngine()
		if err != nil {
			return err
		}
		defer closeFn()

		agentID, err := engine.Routing.RouteLead(cmd.Context(), rulecontext.New(values), agencyID)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{
			"agency_id": agencyID,
			"agent_id":  agentID,
			"assigned":  agentID != nil,
		})
	},
}

// enqueueEvent hands the event to the worker through the Redis event queue
func enqueueEvent(cmd *cobra.Command, event string, scope *int64, values map[string]interface{}) error {
	if event == db.TriggerLeadAssignment && scope == nil {
		return errors.New("lead.assignment needs --agency")
	}
	if config.App.RedisURL == "" {
		return errors.New("--async requires REDIS_URL (or redis_url in config)")
	}

	redisClient, err := services.OpenRedis(config.App.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	queue := workers.NewRedisEventQueue(redisClient, config.App.Automation.EventQueue)
	return publishEvent(cmd.Context(), cmd, queue, event, scope, values)
}

func publishEvent(ctx context.Context, cmd *cobra.Command, queue workers.EventQueue, event string, scope *int64, values map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := workers.NewEventPublisher(queue).Publish(ctx, event, scope, values); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[QUEUED] %s\n", event)
	return nil
}

func init() {
	rootCmd.AddCommand(fireCmd)
	rootCmd.AddCommand(routeCmd)

	fireCmd.Flags().StringVar(&contextArg, "context", "", "Trigger context as a JSON object")
	fireCmd.Flags().Int64Var(&agencyID, "agency", 0, "Agency scope; omit to run global rules only")
	fireCmd.Flags().BoolVar(&async, "async", false, "Queue the event for the worker instead of running rules now")

	routeCmd.Flags().StringVar(&contextArg, "context", "", "Lead context as a JSON object")
	routeCmd.Flags().Int64Var(&agencyID, "agency", 0, "Agency whose routing rules apply")
	_ = routeCmd.MarkFlagRequired("agency")
}
