package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/observability"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/planner"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/policy"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var planCommand = &cobra.Command{
	Use:   "plan",
	Short: "Print the research plan for a target without running it",
	Long: `Builds the ordered plan steps for a target from the section provider table and the
connectors enabled by the current credentials. No provider is called.`,
	RunE: runPlanCmd,
}

var (
	planTarget targetFlags
	planJSON   bool
)

func init() {
	planTarget.register(planCommand)
	planCommand.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	rootCmd.AddCommand(planCommand)
}

func runPlanCmd(cmd *cobra.Command, _ []string) error {
	target, err := planTarget.target()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return printPlan(cmd.OutOrStdout(), target, cfg.Capabilities(), planJSON)
}

// printPlan plans target against caps and writes it to out.
func printPlan(out io.Writer, target types.TargetInput, caps types.Capabilities, asJSON bool) error {
	steps, err := planner.New(policy.Default()).Plan(target, caps)
	if err != nil {
		return fmt.Errorf("failed to plan: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"target":       target,
			"capabilities": caps.List(),
			"steps":        steps,
		})
	}
	observability.NewPrinter(out).PrintPlan(steps)
	return nil
}
