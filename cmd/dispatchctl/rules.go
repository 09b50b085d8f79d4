package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coverdesk/automation/internal/ruleset"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and import YAML rule files",
}

var validateCmd = &cobra.Command{
	Use:   "validate FILE",
	Short: "Check a rule file without touching the database",
	Long: `Parse a YAML rule file and run the same validation the API applies on save.

Examples:
  dispatchctl rules validate rules/agency-42.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := ruleset.Load(args[0])
		if err != nil {
			return err
		}

		problems := f.Validate()
		for _, p := range problems {
			fmt.Fprintln(cmd.OutOrStdout(), p.String())
		}
		if len(problems) > 0 {
			return fmt.Errorf("%d problem(s) found", len(problems))
		}

		fmt.Fprintf(cmd.OutOrStdout(), "[OK] %d workflow rule(s), %d routing rule(s)\n",
			len(f.WorkflowRules), len(f.RoutingRules))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Validate a rule file and insert its rules",
	Long: `Validate a YAML rule file and insert every rule into the configured database.
Nothing is inserted when any rule is invalid.

Examples:
  dispatchctl rules import rules/global.yaml
  dispatchctl rules import rules/agency.yaml --agency 42   # scope every rule to agency 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := ruleset.Load(args[0])
		if err != nil {
			return err
		}

		engine, closeFn, err := openEngine()
		if err != nil {
			return err
		}
		defer closeFn()

		var scope *int64
		if cmd.Flags().Changed("agency") {
			scope = &agencyID
		}

		result, err := f.Import(cmd.Context(), engine.Rules, scope)
		if result != nil {
			for _, r := range result.WorkflowRules {
				fmt.Fprintf(cmd.OutOrStdout(), "created workflow rule %d: %s\n", r.ID, r.Name)
			}
			for _, r := range result.RoutingRules {
				fmt.Fprintf(cmd.OutOrStdout(), "created routing rule %d: %s\n", r.ID, r.Name)
			}
		}
		if err != nil {
			for _, p := range f.Validate() {
				fmt.Fprintln(cmd.ErrOrStderr(), p.String())
			}
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(validateCmd)
	rulesCmd.AddCommand(importCmd)

	importCmd.Flags().Int64Var(&agencyID, "agency", 0, "Scope every imported rule to this agency")
}
