package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/config"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/observability"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/orchestrator"
	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Research a company or person end-to-end and print the brief",
	Long: `Runs one research job in the foreground: plan -> collect -> resolve entity -> write
sections. The brief is written as markdown to stdout or to --out.

Configuration comes from the environment (.env is loaded), optionally overridden by
--config and then by flags. With DATABASE_URL set the job is also persisted.`,
	RunE: runResearchCmd,
}

var (
	runTarget     targetFlags
	runOut        string
	runJSON       bool
	runVerbose    bool
	runTimeout    int
	runMaxRetries int
	runLLM        string
	runModel      string
	runBrowser    bool
	runDatabase   string
)

func init() {
	runTarget.register(runCommand)
	runCommand.Flags().StringVarP(&runOut, "out", "o", "", "Write the brief markdown to this file instead of stdout")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the persisted brief document as JSON")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print plan, connector results, entity, costs and trace")
	runCommand.Flags().IntVar(&runTimeout, "timeout", 0, "Global job budget in seconds (default JOB_TIMEOUT_SECONDS)")
	runCommand.Flags().IntVar(&runMaxRetries, "max-retries", 0, "Draft attempts per section (default WRITER_MAX_RETRIES)")
	runCommand.Flags().StringVar(&runLLM, "llm", "", "LLM provider: openai or gemini (default LLM_PROVIDER)")
	runCommand.Flags().StringVar(&runModel, "model", "", "Model used for drafting (default LLM_MODEL)")
	runCommand.Flags().BoolVar(&runBrowser, "use-browser", false, "Render JS-heavy company sites with headless Chrome")
	runCommand.Flags().StringVar(&runDatabase, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	rootCmd.AddCommand(runCommand)
}

// applyRunFlags overrides cfg with the flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("timeout") {
		cfg.JobTimeoutSeconds = runTimeout
	}
	if cmd.Flags().Changed("max-retries") {
		cfg.WriterMaxRetries = runMaxRetries
	}
	if cmd.Flags().Changed("llm") {
		cfg.LLMProvider = runLLM
	}
	if cmd.Flags().Changed("model") {
		cfg.LLMModel = runModel
	}
	if cmd.Flags().Changed("use-browser") {
		cfg.SiteFetchUseBrowser = runBrowser
		cfg.SiteFetchEnabled = cfg.SiteFetchEnabled || runBrowser
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabase
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}
}

func runResearchCmd(cmd *cobra.Command, _ []string) error {
	target, err := runTarget.target()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)

	logger, closeLog := setupLogger(cfg)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout := cmd.OutOrStdout()
	a, err := newApp(ctx, cfg, logger, progressPrinter(stdout))
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.orch.Create(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "Job %s: researching %s\n", job.ID, target.Subject())

	result, runErr := a.orch.Run(ctx, job)
	if cfg.Verbose && result != nil {
		printVerbose(stdout, result)
	}
	if runErr != nil {
		return fmt.Errorf("research failed (%s): %w", orchestrator.Reason(runErr), runErr)
	}

	_, _ = fmt.Fprintf(stdout, "Job %s completed, cost $%.4f\n", job.ID, result.Job.CostUSD)
	return writeBrief(stdout, result, target)
}

// progressPrinter prints one line per pipeline stage.
func progressPrinter(out io.Writer) orchestrator.ProgressCallback {
	return func(ev orchestrator.ProgressEvent) {
		_, _ = fmt.Fprintf(out, "Step %d/%d: %s\n", ev.Stage, orchestrator.TotalStages, ev.Message)
	}
}

func printVerbose(out io.Writer, result *orchestrator.Result) {
	p := observability.NewPrinter(out)
	p.PrintPlan(result.Plan)
	p.PrintResults(result.Results)
	p.PrintGraph(result.Graph)
	p.PrintBriefSummary(result.Brief)
	p.PrintCosts(result.Costs)
	p.PrintTrace(result.Trace)
}

func writeBrief(stdout io.Writer, result *orchestrator.Result, target types.TargetInput) error {
	out := stdout
	if runOut != "" {
		f, err := os.Create(runOut)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Brief.Document()); err != nil {
			return fmt.Errorf("failed to encode brief: %w", err)
		}
	} else {
		title := target.Subject()
		if result.Graph != nil && result.Graph.Name() != "" {
			title = result.Graph.Name()
		}
		observability.WriteBriefMarkdown(out, title, result.Brief)
	}

	if runOut != "" {
		_, _ = fmt.Fprintf(stdout, "Brief written to %s\n", runOut)
	}
	return nil
}
